package ble

import "tinygo.org/x/bluetooth"

// BlueZ turns a nil notification callback into StopNotify.
const nilCallbackStopsNotify = true

// tinyGoRadio returns the BlueZ adapter with the given id ("hci0").
func tinyGoRadio(adapterID string) *bluetooth.Adapter {
	if adapterID == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(adapterID)
}
