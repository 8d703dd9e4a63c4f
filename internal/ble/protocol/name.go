// internal/ble/protocol/name.go
package protocol

import (
	"strings"

	"golang.org/x/text/encoding/simplifiedchinese"
)

// TrimPadding drops trailing 0x00 and 0xFF bytes, which some wearables use
// to pad the local name field to a fixed width.
func TrimPadding(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == 0x00 || b[len(b)-1] == 0xff) {
		b = b[:len(b)-1]
	}
	return b
}

// DecodeLocalName decodes the bytes of one local name section. Bytes that
// are shaped like UTF-8 are read as UTF-8; anything else is read as GBK
// (code page 936), which is what Chinese-market firmware tends to put on
// air. ok is false when there is no usable name.
func DecodeLocalName(raw []byte) (name string, ok bool) {
	b := TrimPadding(raw)
	if len(b) == 0 {
		return "", false
	}
	if utf8Shaped(b) {
		// Overlong and surrogate forms pass the shape check but are not
		// valid UTF-8.
		return strings.ToValidUTF8(string(b), "\uFFFD"), true
	}
	decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil || len(decoded) == 0 {
		return "", false
	}
	return string(decoded), true
}

// utf8Shaped reports whether every lead byte is followed by the number of
// continuation bytes it announces. Unlike utf8.Valid it does not reject
// overlong encodings, surrogates or code points above U+10FFFF.
func utf8Shaped(b []byte) bool {
	for i := 0; i < len(b); i++ {
		var n int
		switch c := b[i]; {
		case c&0x80 == 0:
			n = 0
		case c&0xE0 == 0xC0:
			n = 1
		case c&0xF0 == 0xE0:
			n = 2
		case c&0xF8 == 0xF0:
			n = 3
		default:
			return false
		}
		for ; n > 0; n-- {
			i++
			if i == len(b) || b[i]&0xC0 != 0x80 {
				return false
			}
		}
	}
	return true
}

// ResolveLocalName picks the display name out of an advertisement's
// sections. A decodable Complete Local Name always wins; a Shortened Local
// Name is only used while nothing else has been found.
func ResolveLocalName(sections []ADStructure) (string, bool) {
	var name string
	for _, s := range sections {
		if s.Type != ADCompleteLocalName && s.Type != ADShortenedLocalName {
			continue
		}
		decoded, ok := DecodeLocalName(s.Data)
		if !ok {
			continue
		}
		if name == "" || s.Type == ADCompleteLocalName {
			name = decoded
		}
	}
	return name, name != ""
}
