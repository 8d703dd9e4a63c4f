package ble

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidDeviceID is returned for a device id that is not a non-zero
// decimal 64-bit address.
var ErrInvalidDeviceID = errors.New("ble: invalid device id")

// ParseDeviceID parses the decimal form of a 48-bit Bluetooth address as
// produced by FormatDeviceID.
func ParseDeviceID(id string) (uint64, error) {
	addr, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidDeviceID, id, err)
	}
	if addr == 0 {
		return 0, fmt.Errorf("%w %q: zero address", ErrInvalidDeviceID, id)
	}
	return addr, nil
}

// FormatDeviceID returns the stable device id for an address.
func FormatDeviceID(addr uint64) string {
	return strconv.FormatUint(addr, 10)
}

// AddressFromMAC packs a MAC stored least significant byte first (the
// order tinygo and the HCI layer use) into a 64-bit address.
func AddressFromMAC(mac [6]byte) uint64 {
	var addr uint64
	for i := 5; i >= 0; i-- {
		addr = addr<<8 | uint64(mac[i])
	}
	return addr
}

// MACFromAddress is the inverse of AddressFromMAC.
func MACFromAddress(addr uint64) [6]byte {
	var mac [6]byte
	for i := 0; i < 6; i++ {
		mac[i] = byte(addr >> (8 * i))
	}
	return mac
}

// FormatMAC renders an address in the usual "AA:BB:CC:DD:EE:FF" form.
func FormatMAC(addr uint64) string {
	mac := MACFromAddress(addr)
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", mac[5], mac[4], mac[3], mac[2], mac[1], mac[0])
}

// ParseMAC parses "AA:BB:CC:DD:EE:FF" (case-insensitive, ':' or '-') into
// a 64-bit address.
func ParseMAC(s string) (uint64, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != 6 {
		return 0, fmt.Errorf("ble: invalid MAC %q", s)
	}
	var addr uint64
	for _, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("ble: invalid MAC %q: %w", s, err)
		}
		addr = addr<<8 | b
	}
	return addr, nil
}
