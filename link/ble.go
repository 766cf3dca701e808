package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/castrilha/castrilha"
)

// BLE ATT sizing: the default MTU leaves MTU-3 bytes for a write payload.
const (
	DefaultMTU    = 23
	MTUHeaderSize = 3
)

// BLETransport reaches the guide over Bluetooth Low Energy GATT.
type BLETransport struct {
	adapter *bluetooth.Adapter
	mtu     int

	enableOnce sync.Once
	enableErr  error
}

// NewBLETransport uses the host's default adapter.
func NewBLETransport() *BLETransport {
	return &BLETransport{
		adapter: bluetooth.DefaultAdapter,
		mtu:     DefaultMTU,
	}
}

// Probe enables the adapter once. Failure means the host has no usable
// Bluetooth stack.
func (t *BLETransport) Probe(ctx context.Context) error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			if isPermissionError(err) {
				t.enableErr = fmt.Errorf("%w: %v", castrilha.ErrLinkPermissionDenied, err)
				return
			}
			t.enableErr = fmt.Errorf("%w: %v", castrilha.ErrTransportUnsupported, err)
		}
	})
	return t.enableErr
}

// Discover scans until a device matching f advertises or ctx expires.
func (t *BLETransport) Discover(ctx context.Context, f Filter) (Device, error) {
	if err := t.Probe(ctx); err != nil {
		return Device{}, err
	}

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- t.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			if !f.Match(r.LocalName()) {
				return
			}
			select {
			case found <- r:
			default:
			}
			a.StopScan()
		})
	}()

	select {
	case r := <-found:
		<-scanErr
		return Device{ID: r.Address.String(), Name: r.LocalName(), Handle: r.Address}, nil
	case err := <-scanErr:
		if err == nil {
			return Device{}, castrilha.ErrDeviceNotFound
		}
		if isPermissionError(err) {
			return Device{}, fmt.Errorf("%w: %v", castrilha.ErrLinkPermissionDenied, err)
		}
		return Device{}, fmt.Errorf("%w: scan: %v", castrilha.ErrDeviceNotFound, err)
	case <-ctx.Done():
		t.adapter.StopScan()
		<-scanErr
		// A match may have raced the deadline.
		select {
		case r := <-found:
			return Device{ID: r.Address.String(), Name: r.LocalName(), Handle: r.Address}, nil
		default:
		}
		return Device{}, fmt.Errorf("%w: %v", castrilha.ErrDeviceNotFound, ctx.Err())
	}
}

// Connect opens a GATT connection to d.
func (t *BLETransport) Connect(ctx context.Context, d Device) (Session, error) {
	addr, ok := d.Handle.(bluetooth.Address)
	if !ok {
		return nil, fmt.Errorf("%w: device %s was not discovered over BLE", castrilha.ErrLinkConnectFailed, d.ID)
	}
	dev, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: %v", castrilha.ErrLinkPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %v", castrilha.ErrLinkConnectFailed, err)
	}
	return &bleSession{device: dev, mtu: t.mtu}, nil
}

type bleSession struct {
	device bluetooth.Device
	mtu    int
}

func (s *bleSession) Characteristic(ctx context.Context, serviceUUID, characteristicUUID string) (Characteristic, error) {
	svcID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service uuid %q: %w", serviceUUID, err)
	}
	charID, err := bluetooth.ParseUUID(characteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic uuid %q: %w", characteristicUUID, err)
	}

	services, err := s.device.DiscoverServices([]bluetooth.UUID{svcID})
	if err != nil {
		return nil, fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("service %s not found", serviceUUID)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charID})
	if err != nil {
		return nil, fmt.Errorf("discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("characteristic %s not found", characteristicUUID)
	}
	return &bleCharacteristic{char: chars[0], chunk: s.mtu - MTUHeaderSize}, nil
}

func (s *bleSession) Close() error {
	return s.device.Disconnect()
}

type bleCharacteristic struct {
	char  bluetooth.DeviceCharacteristic
	chunk int
}

// Write sends p in MTU-sized chunks without response.
func (c *bleCharacteristic) Write(ctx context.Context, p []byte) error {
	for _, part := range chunk(p, c.chunk) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.char.WriteWithoutResponse(part); err != nil {
			return err
		}
	}
	return nil
}

func (c *bleCharacteristic) Subscribe(fn func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		fn(append([]byte(nil), buf...))
	})
}

// chunk splits p into pieces of at most size bytes.
func chunk(p []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultMTU - MTUHeaderSize
	}
	var out [][]byte
	for len(p) > size {
		out = append(out, p[:size])
		p = p[size:]
	}
	if len(p) > 0 {
		out = append(out, p)
	}
	return out
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, castrilha.ErrLinkPermissionDenied) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission") ||
		strings.Contains(msg, "not permitted") ||
		strings.Contains(msg, "notauthorized") ||
		strings.Contains(msg, "access denied")
}
