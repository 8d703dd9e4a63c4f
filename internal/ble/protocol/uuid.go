// internal/ble/protocol/uuid.go
package protocol

import "strings"

// baseUUIDSuffix is the tail of the Bluetooth Base UUID that 16 and 32-bit
// SIG-assigned UUIDs are expanded onto.
const baseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID returns the lowercase, dashed 128-bit form of a UUID.
// Short forms ("180d", "0x180D", "0000180d") are expanded onto the
// Bluetooth Base UUID. Undashed 128-bit strings get their dashes back.
// Anything else is returned lowercased and trimmed.
func NormalizeUUID(s string) string {
	u := strings.ToLower(strings.TrimSpace(s))
	u = strings.TrimPrefix(u, "0x")
	switch len(u) {
	case 4:
		return "0000" + u + baseUUIDSuffix
	case 8:
		return u + baseUUIDSuffix
	case 32:
		return u[0:8] + "-" + u[8:12] + "-" + u[12:16] + "-" + u[16:20] + "-" + u[20:32]
	}
	return u
}
