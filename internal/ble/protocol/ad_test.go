// internal/ble/protocol/ad_test.go
package protocol

import (
	"bytes"
	"testing"
)

func TestParseAdvertisingData(t *testing.T) {
	payload := []byte{
		0x02, 0x01, 0x06, // flags
		0x03, 0x03, 0x0d, 0x18, // complete 16-bit UUIDs: 180d
		0x07, 0x09, 'M', 'i', 'B', 'a', 'n', 'd', // complete local name
	}
	sections := ParseAdvertisingData(payload)
	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3", len(sections))
	}
	if sections[0].Type != ADFlags || !bytes.Equal(sections[0].Data, []byte{0x06}) {
		t.Errorf("sections[0] = %+v, want flags 0x06", sections[0])
	}
	if sections[2].Type != ADCompleteLocalName || string(sections[2].Data) != "MiBand" {
		t.Errorf("sections[2] = %+v, want complete local name MiBand", sections[2])
	}
}

func TestParseAdvertisingDataStopsAtZeroLength(t *testing.T) {
	payload := []byte{0x02, 0x01, 0x06, 0x00, 0x00, 0x00}
	if got := len(ParseAdvertisingData(payload)); got != 1 {
		t.Errorf("got %d sections, want 1", got)
	}
}

func TestParseAdvertisingDataOverrun(t *testing.T) {
	// Second structure claims 9 bytes but only 2 remain.
	payload := []byte{0x02, 0x01, 0x06, 0x09, 0x09, 'M'}
	sections := ParseAdvertisingData(payload)
	if len(sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(sections))
	}
	if sections[0].Type != ADFlags {
		t.Errorf("sections[0].Type = %#x, want %#x", sections[0].Type, ADFlags)
	}
}

func TestServiceUUIDs(t *testing.T) {
	sections := []ADStructure{
		{Type: ADCompleteUUID16, Data: []byte{0x0d, 0x18, 0x0f, 0x18, 0xaa}},
		{Type: ADIncompleteUUID32, Data: []byte{0x0d, 0x18, 0x00, 0x00}},
		{Type: ADCompleteUUID128, Data: []byte{
			0xfb, 0x34, 0x9b, 0x5f, 0x80, 0x00, 0x00, 0x80,
			0x00, 0x10, 0x00, 0x00, 0xee, 0xfe, 0x00, 0x00,
		}},
		{Type: ADCompleteLocalName, Data: []byte("ignored")},
	}
	want := []string{
		"0000180d-0000-1000-8000-00805f9b34fb",
		"0000180f-0000-1000-8000-00805f9b34fb",
		"0000180d-0000-1000-8000-00805f9b34fb",
		"0000feee-0000-1000-8000-00805f9b34fb",
	}
	got := ServiceUUIDs(sections)
	if len(got) != len(want) {
		t.Fatalf("ServiceUUIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ServiceUUIDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"180d", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"0x180D", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"00002A37", "00002a37-0000-1000-8000-00805f9b34fb"},
		{"0000180D00001000800000805F9B34FB", "0000180d-0000-1000-8000-00805f9b34fb"},
		{"0000180D-0000-1000-8000-00805F9B34FB", "0000180d-0000-1000-8000-00805f9b34fb"},
	}
	for _, tt := range tests {
		if got := NormalizeUUID(tt.in); got != tt.want {
			t.Errorf("NormalizeUUID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
