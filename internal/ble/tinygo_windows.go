package ble

import "tinygo.org/x/bluetooth"

// WinRT treats a nil notification callback as a fresh subscription.
const nilCallbackStopsNotify = false

// tinyGoRadio returns the system radio; WinRT has only one.
func tinyGoRadio(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
