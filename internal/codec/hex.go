package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// ParseHex decodes a hex payload as typed by a person or copied from a
// network server console. Whitespace and "0x" prefixes are ignored.
func ParseHex(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.ReplaceAll(strings.ReplaceAll(s, "0x", ""), "0X", "")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of digits (%d)", ErrInvalidHex, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}
