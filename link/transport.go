package link

import (
	"context"
	"strings"
)

// Default peripheral identifiers of the wearable guide.
const (
	DefaultDeviceName         = "ESP32_Navigation"
	DefaultNamePrefix         = "ESP32"
	DefaultServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	DefaultCharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// Target names the peripheral and the writable endpoint on it.
type Target struct {
	DeviceName         string `json:"device_name,omitempty"`
	NamePrefix         string `json:"name_prefix,omitempty"`
	ServiceUUID        string `json:"service_uuid,omitempty"`
	CharacteristicUUID string `json:"characteristic_uuid,omitempty"`
}

// DefaultTarget returns the identifiers of the stock guide firmware.
func DefaultTarget() Target {
	return Target{
		DeviceName:         DefaultDeviceName,
		NamePrefix:         DefaultNamePrefix,
		ServiceUUID:        DefaultServiceUUID,
		CharacteristicUUID: DefaultCharacteristicUUID,
	}
}

// WithDefaults fills empty fields from DefaultTarget.
func (t Target) WithDefaults() Target {
	d := DefaultTarget()
	if t.DeviceName == "" && t.NamePrefix == "" {
		t.DeviceName = d.DeviceName
		t.NamePrefix = d.NamePrefix
	}
	if t.ServiceUUID == "" {
		t.ServiceUUID = d.ServiceUUID
	}
	if t.CharacteristicUUID == "" {
		t.CharacteristicUUID = d.CharacteristicUUID
	}
	return t
}

// Filter selects a device during discovery.
type Filter struct {
	Name       string
	NamePrefix string
	Services   []string
}

// Filter returns the discovery filter for the target.
func (t Target) Filter() Filter {
	f := Filter{Name: t.DeviceName, NamePrefix: t.NamePrefix}
	if t.ServiceUUID != "" {
		f.Services = []string{t.ServiceUUID}
	}
	return f
}

// Match reports whether an advertised name satisfies the filter: exact name
// or name prefix. An empty filter matches any named device.
func (f Filter) Match(name string) bool {
	if name == "" {
		return false
	}
	if f.Name == "" && f.NamePrefix == "" {
		return true
	}
	if f.Name != "" && name == f.Name {
		return true
	}
	return f.NamePrefix != "" && strings.HasPrefix(name, f.NamePrefix)
}

// Device is a discovered peripheral. Handle is transport specific.
type Device struct {
	ID     string
	Name   string
	Handle any
}

// Transport is the host wireless stack.
type Transport interface {
	// Probe reports castrilha.ErrTransportUnsupported when the host lacks the transport.
	Probe(ctx context.Context) error
	Discover(ctx context.Context, f Filter) (Device, error)
	Connect(ctx context.Context, d Device) (Session, error)
}

// Session is a connection to one device.
type Session interface {
	Characteristic(ctx context.Context, serviceUUID, characteristicUUID string) (Characteristic, error)
	Close() error
}

// LossNotifier is implemented by sessions that can report an unrecoverable
// transport failure. The channel is closed when the connection is lost.
type LossNotifier interface {
	Lost() <-chan struct{}
}

// Characteristic is the writable endpoint on the device.
type Characteristic interface {
	Write(ctx context.Context, p []byte) error
	// Subscribe enables inbound notifications. It is optional; an error
	// leaves the characteristic usable for writes.
	Subscribe(fn func([]byte)) error
}
