package framesource

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Port is the minimal interface needed from a serial port.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Opener opens a serial port at path with the given mode.
type Opener func(path string, mode *serial.Mode) (Port, error)

// SerialOpener opens real ports through go.bug.st/serial.
func SerialOpener(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// OpenSerial opens the capture device at path with opts using open.
// A nil open uses SerialOpener.
func OpenSerial(path string, opts PortOptions, open Opener) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("serial options for %s: %w", path, err)
	}
	if open == nil {
		open = SerialOpener
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// ListPorts returns the serial ports visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
