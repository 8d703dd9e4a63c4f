//go:build linux || windows

package ble

import (
	"context"
	"sync/atomic"

	"tinygo.org/x/bluetooth"
)

// notifyProperty is the GATT Notify bit in a characteristic's properties.
const notifyProperty = 0x10

// notifier is the notification half of bluetooth.DeviceCharacteristic.
type notifier interface {
	EnableNotifications(callback func(buf []byte)) error
}

// tinyGoCharacteristic registers one fixed relay with the stack and swaps
// the real handler behind it. The stack never sees a nil callback unless
// nil means unsubscribe there.
type tinyGoCharacteristic struct {
	char   bluetooth.DeviceCharacteristic
	notify notifier

	// nilStops is set where EnableNotifications(nil) clears the CCCD.
	nilStops bool
	handler  atomic.Pointer[func([]byte)]
}

func newTinyGoCharacteristic(char bluetooth.DeviceCharacteristic) *tinyGoCharacteristic {
	c := &tinyGoCharacteristic{char: char, nilStops: nilCallbackStopsNotify}
	c.notify = &c.char
	return c
}

// CanNotify reads the properties where the stack exposes them. BlueZ does
// not, and its StartNotify fails on characteristics that can't notify.
func (c *tinyGoCharacteristic) CanNotify() bool {
	if p, ok := any(c.char).(interface{ Properties() uint32 }); ok {
		return p.Properties()&notifyProperty != 0
	}
	return true
}

func (c *tinyGoCharacteristic) relay(buf []byte) {
	if h := c.handler.Load(); h != nil {
		(*h)(buf)
	}
}

func (c *tinyGoCharacteristic) EnableNotifications(ctx context.Context, handler func([]byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.handler.Store(&handler)
	if err := c.notify.EnableNotifications(c.relay); err != nil {
		// WinRT has already added the relay when the CCCD write fails.
		c.handler.Store(nil)
		return err
	}
	return nil
}

func (c *tinyGoCharacteristic) DisableNotifications(context.Context) error {
	c.handler.Store(nil)
	if !c.nilStops {
		// WinRT subscribes again on a nil callback. Its subscription ends
		// when Disconnect closes the device.
		return nil
	}
	return c.notify.EnableNotifications(nil)
}
