package link

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"

	"github.com/castrilha/castrilha"
)

// DefaultBaudRate matches the guide firmware's USB serial console.
const DefaultBaudRate = 115200

// serialPrefixes are port names that usually belong to USB serial adapters.
var serialPrefixes = []string{"/dev/ttyUSB", "/dev/ttyACM", "/dev/cu.usbserial", "/dev/cu.SLAB", "COM"}

// SerialTransport reaches the guide over a USB serial cable.
type SerialTransport struct {
	// Port is an explicit port name. When empty, the first port matching
	// the discovery filter (or a USB serial prefix) is used.
	Port     string
	BaudRate int

	list func() ([]string, error)
	open func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialTransport creates a serial transport.
func NewSerialTransport(port string, baudRate int) *SerialTransport {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &SerialTransport{
		Port:     port,
		BaudRate: baudRate,
		list:     serial.GetPortsList,
		open:     serial.Open,
	}
}

// Probe reports whether any serial port exists.
func (t *SerialTransport) Probe(ctx context.Context) error {
	ports, err := t.list()
	if err != nil {
		return fmt.Errorf("%w: %v", castrilha.ErrTransportUnsupported, err)
	}
	if len(ports) == 0 && t.Port == "" {
		return fmt.Errorf("%w: no serial ports", castrilha.ErrTransportUnsupported)
	}
	return nil
}

// Discover picks the port to open.
func (t *SerialTransport) Discover(ctx context.Context, f Filter) (Device, error) {
	if t.Port != "" {
		return Device{ID: t.Port, Name: t.Port}, nil
	}
	ports, err := t.list()
	if err != nil {
		return Device{}, fmt.Errorf("%w: %v", castrilha.ErrTransportUnsupported, err)
	}
	if name, ok := pickPort(ports, f); ok {
		return Device{ID: name, Name: name}, nil
	}
	return Device{}, fmt.Errorf("%w: no matching serial port among %v", castrilha.ErrDeviceNotFound, ports)
}

func pickPort(ports []string, f Filter) (string, bool) {
	for _, p := range ports {
		if (f.Name != "" && p == f.Name) || (f.NamePrefix != "" && strings.HasPrefix(p, f.NamePrefix)) {
			return p, true
		}
	}
	for _, p := range ports {
		for _, prefix := range serialPrefixes {
			if strings.HasPrefix(p, prefix) {
				return p, true
			}
		}
	}
	return "", false
}

// Connect opens the port.
func (t *SerialTransport) Connect(ctx context.Context, d Device) (Session, error) {
	port, err := t.open(d.ID, &serial.Mode{BaudRate: t.BaudRate})
	if err != nil {
		return nil, classifySerial(err)
	}
	return newStreamSession(port, port, port), nil
}

func classifySerial(err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound:
			return fmt.Errorf("%w: %v", castrilha.ErrDeviceNotFound, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %v", castrilha.ErrLinkPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", castrilha.ErrLinkConnectFailed, err)
}
