// internal/ble/protocol/ad.go

// Package protocol decodes the Bluetooth LE payloads a heart rate client
// sees: advertising data, local names, UUIDs and Heart Rate Measurement
// notifications.
package protocol

import (
	"encoding/binary"
	"encoding/hex"
)

// ADType is the type byte of one advertising data structure.
type ADType uint8

// Advertising data types used by the heart rate client.
const (
	ADFlags              ADType = 0x01
	ADIncompleteUUID16   ADType = 0x02
	ADCompleteUUID16     ADType = 0x03
	ADIncompleteUUID32   ADType = 0x04
	ADCompleteUUID32     ADType = 0x05
	ADIncompleteUUID128  ADType = 0x06
	ADCompleteUUID128    ADType = 0x07
	ADShortenedLocalName ADType = 0x08
	ADCompleteLocalName  ADType = 0x09
	ADManufacturerData   ADType = 0xff
)

// ADStructure is one length-prefixed section of an advertisement payload.
type ADStructure struct {
	Type ADType
	Data []byte
}

// ParseAdvertisingData splits a raw advertisement (or scan response)
// payload into its structures.
//
//	| len (1) | type (1) | data (len-1) |
//
// A zero length byte marks the end of significant data. A structure that
// claims more bytes than remain ends parsing; structures before it are
// still returned.
func ParseAdvertisingData(payload []byte) []ADStructure {
	var sections []ADStructure
	for len(payload) > 0 {
		n := int(payload[0])
		if n == 0 || n+1 > len(payload) {
			break
		}
		data := make([]byte, n-1)
		copy(data, payload[2:n+1])
		sections = append(sections, ADStructure{Type: ADType(payload[1]), Data: data})
		payload = payload[n+1:]
	}
	return sections
}

// ServiceUUIDs collects the service UUIDs listed in the 16, 32 and 128-bit
// service class sections, normalised to 128-bit form. Trailing bytes that
// do not make up a whole UUID are ignored.
func ServiceUUIDs(sections []ADStructure) []string {
	var uuids []string
	for _, s := range sections {
		switch s.Type {
		case ADIncompleteUUID16, ADCompleteUUID16:
			for b := s.Data; len(b) >= 2; b = b[2:] {
				uuids = append(uuids, NormalizeUUID(hex.EncodeToString([]byte{b[1], b[0]})))
			}
		case ADIncompleteUUID32, ADCompleteUUID32:
			for b := s.Data; len(b) >= 4; b = b[4:] {
				var be [4]byte
				binary.BigEndian.PutUint32(be[:], binary.LittleEndian.Uint32(b))
				uuids = append(uuids, NormalizeUUID(hex.EncodeToString(be[:])))
			}
		case ADIncompleteUUID128, ADCompleteUUID128:
			for b := s.Data; len(b) >= 16; b = b[16:] {
				// On-air order is little-endian; flip to the textual order.
				var be [16]byte
				for i := 0; i < 16; i++ {
					be[i] = b[15-i]
				}
				uuids = append(uuids, NormalizeUUID(hex.EncodeToString(be[:])))
			}
		}
	}
	return uuids
}
