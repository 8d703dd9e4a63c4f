package ble

import "sync"

// DeviceSet accumulates scan results, one entry per device id. When a
// device is seen again with a longer name, the longer (usually more
// complete) name replaces the stored one. Safe for concurrent use.
type DeviceSet struct {
	mu      sync.Mutex
	index   map[string]int
	devices []DiscoveredDevice
}

// NewDeviceSet returns an empty set.
func NewDeviceSet() *DeviceSet {
	return &DeviceSet{index: make(map[string]int)}
}

// Add records d. It reports whether d was a new device.
func (s *DeviceSet) Add(d DiscoveredDevice) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[d.ID]; ok {
		if len(d.Name) > len(s.devices[i].Name) {
			s.devices[i].Name = d.Name
		}
		return false
	}
	s.index[d.ID] = len(s.devices)
	s.devices = append(s.devices, d)
	return true
}

// List returns the devices in first-seen order.
func (s *DeviceSet) List() []DiscoveredDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DiscoveredDevice, len(s.devices))
	copy(out, s.devices)
	return out
}

// Len returns the number of distinct devices.
func (s *DeviceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

// Reset forgets every device.
func (s *DeviceSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make(map[string]int)
	s.devices = nil
}
