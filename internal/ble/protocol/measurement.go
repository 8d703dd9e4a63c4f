// internal/ble/protocol/measurement.go
package protocol

import (
	"encoding/binary"
	"errors"
	"time"
)

var (
	// ErrEmptyMeasurement is returned for a zero-length notification.
	ErrEmptyMeasurement = errors.New("protocol: empty heart rate measurement")
	// ErrTruncatedMeasurement is returned when the heart rate value field is
	// shorter than the width the flags declare.
	ErrTruncatedMeasurement = errors.New("protocol: truncated heart rate measurement")
)

// Heart Rate Measurement flag bits.
//
//	| 0x10 | 0x08 | 0x04 0x02 | 0x01 |
//	|  rr  | nrg  | scs  cnt  | fmt  |
const (
	flagValueUint16      = 0x01
	flagContactDetected  = 0x02
	flagContactSupported = 0x04
	flagEnergyExpended   = 0x08
	flagRRIntervals      = 0x10
)

// Measurement is one decoded Heart Rate Measurement (0x2A37) notification.
type Measurement struct {
	BPM              uint16
	Contact          bool
	ContactSupported bool
	Energy           int // kJ, -1 when not present
	RR               []time.Duration
}

// ParseMeasurement decodes a Heart Rate Measurement payload. All multi-byte
// fields are little-endian. Only the flags byte and the heart rate value
// are required; the optional energy and RR interval fields are read when
// they are complete and skipped otherwise.
func ParseMeasurement(b []byte) (Measurement, error) {
	if len(b) == 0 {
		return Measurement{}, ErrEmptyMeasurement
	}
	flags := b[0]
	b = b[1:]

	m := Measurement{
		Contact:          flags&flagContactDetected != 0,
		ContactSupported: flags&flagContactSupported != 0,
		Energy:           -1,
	}

	if flags&flagValueUint16 != 0 {
		if len(b) < 2 {
			return Measurement{}, ErrTruncatedMeasurement
		}
		m.BPM = binary.LittleEndian.Uint16(b)
		b = b[2:]
	} else {
		if len(b) < 1 {
			return Measurement{}, ErrTruncatedMeasurement
		}
		m.BPM = uint16(b[0])
		b = b[1:]
	}

	if flags&flagEnergyExpended != 0 {
		if len(b) < 2 {
			return m, nil
		}
		m.Energy = int(binary.LittleEndian.Uint16(b))
		b = b[2:]
	}

	if flags&flagRRIntervals != 0 {
		for ; len(b) >= 2; b = b[2:] {
			// RR intervals are in units of 1/1024 s.
			m.RR = append(m.RR, time.Duration(binary.LittleEndian.Uint16(b))*time.Second/1024)
		}
	}
	return m, nil
}
