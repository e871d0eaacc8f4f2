package serialmux

import (
	"go.bug.st/serial"
)

// NewRealSerialMux opens the console at path and wraps it.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	return NewSerialMux[serial.Port](port), nil
}

// ListPorts returns the serial ports present on this host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
