// internal/scanner/ports.go
package scanner

import (
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo is one entry of the host serial port list.
type PortInfo struct {
	Name         string
	Manufacturer string
	VID          string
	PID          string
}

// PortLister abstracts host port enumeration.
type PortLister interface {
	ListPorts() ([]PortInfo, error)
}

// PortListerFunc adapts a function to PortLister.
type PortListerFunc func() ([]PortInfo, error)

func (f PortListerFunc) ListPorts() ([]PortInfo, error) { return f() }

// SystemPorts lists the host's USB serial ports.
type SystemPorts struct{}

func (SystemPorts) ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if !d.IsUSB {
			continue
		}
		out = append(out, PortInfo{
			Name:         d.Name,
			Manufacturer: manufacturer(d.Product, d.VID),
			VID:          strings.ToLower(d.VID),
			PID:          strings.ToLower(d.PID),
		})
	}
	return out, nil
}

// usb vendor ids the enumerator does not name for us
var vendors = map[string]string{
	"2341": "Arduino",
	"2a03": "Arduino",
	"1a86": "WCH",
	"0403": "FTDI",
	"10c4": "Silicon Labs",
}

func manufacturer(product, vid string) string {
	name := vendors[strings.ToLower(vid)]
	switch {
	case name == "":
		return product
	case product == "":
		return name
	default:
		return name + " " + product
	}
}
