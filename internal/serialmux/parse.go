package serialmux

import (
	"strconv"
	"strings"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
)

// LineKind tags a console line.
type LineKind string

const (
	LineUplink  LineKind = "uplink"
	LineComment LineKind = "comment"
	LineUnknown LineKind = "unknown"
)

// ClassifyLine reports whether line looks like "<port> <hex>" (or bare hex)
// uplink text, a blank or '#' comment line, or anything else the console
// prints.
func ClassifyLine(line string) LineKind {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return LineComment
	}
	fields := strings.Fields(line)
	hexField := fields[0]
	switch len(fields) {
	case 1:
	case 2:
		if n, err := strconv.ParseUint(fields[0], 10, 8); err != nil || n == 0 {
			return LineUnknown
		}
		hexField = fields[1]
	default:
		return LineUnknown
	}
	if b, err := codec.ParseHex(hexField); err != nil || len(b) == 0 {
		return LineUnknown
	}
	return LineUplink
}
