package link

import (
	"context"
	"io"
	"sync"
)

// ConsoleTransport writes frames to an io.Writer. It stands in for the
// device when running headless or in simulation.
type ConsoleTransport struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleTransport creates a console transport writing to w.
func NewConsoleTransport(w io.Writer) *ConsoleTransport {
	return &ConsoleTransport{w: w}
}

func (t *ConsoleTransport) Probe(ctx context.Context) error { return nil }

func (t *ConsoleTransport) Discover(ctx context.Context, f Filter) (Device, error) {
	name := f.Name
	if name == "" {
		name = "console"
	}
	return Device{ID: "console", Name: name}, nil
}

func (t *ConsoleTransport) Connect(ctx context.Context, d Device) (Session, error) {
	return newStreamSession(lockedWriter{mu: &t.mu, w: t.w}, nil, nil), nil
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
