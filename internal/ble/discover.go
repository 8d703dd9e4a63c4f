package ble

import (
	"context"
	"time"
)

// ScanForDevices scans through m for timeout (or until ctx ends) and
// returns the heart rate devices seen, de-duplicated by id.
func ScanForDevices(ctx context.Context, m *Manager, timeout time.Duration) []DiscoveredDevice {
	set := NewDeviceSet()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.StartScan(func(d DiscoveredDevice) {
		if set.Add(d) {
			m.logger.Debug("[BLE] found device", "id", d.ID, "name", d.Name)
		}
	})
	<-ctx.Done()
	m.StopScan()

	return set.List()
}
