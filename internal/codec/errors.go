package codec

import (
	"errors"
	"fmt"
)

// Fatal decode errors. No record is produced when one of these is returned.
var (
	ErrUnsupportedPort = errors.New("unsupported port")
	ErrUnsupportedType = errors.New("unsupported packet type")
	ErrShortBuffer     = errors.New("payload too short")
	ErrOddLength       = errors.New("sample payload length must be even")
	ErrInvalidHex      = errors.New("invalid hex payload")
)

// Fatal encode errors. No bytes are produced when one of these is returned.
var (
	ErrMissingField = errors.New("missing required field")
	ErrUnknownEnum  = errors.New("unknown enum value")
	ErrInvalidAxis  = errors.New("invalid axis selection")
	ErrOutOfRange   = errors.New("value out of range")
)

// Warning is a non-fatal observation attached to an otherwise valid record.
type Warning string

func warnf(format string, args ...any) Warning {
	return Warning(fmt.Sprintf(format, args...))
}

func shortBuffer(what string, got, want int) error {
	return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortBuffer, what, want, got)
}
