package link

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// streamSession adapts a byte stream (serial port, console) to Session.
// The stream has a single endpoint, so service and characteristic are
// accepted as given.
type streamSession struct {
	w      io.Writer
	closer io.Closer

	mu      sync.Mutex
	handler func([]byte)

	lost     chan struct{}
	lostOnce sync.Once
}

func newStreamSession(w io.Writer, r io.Reader, closer io.Closer) *streamSession {
	s := &streamSession{
		w:      w,
		closer: closer,
		lost:   make(chan struct{}),
	}
	if r != nil {
		go s.readLoop(r)
	}
	return s
}

func (s *streamSession) Characteristic(ctx context.Context, serviceUUID, characteristicUUID string) (Characteristic, error) {
	return s, nil
}

func (s *streamSession) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := s.w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (s *streamSession) Subscribe(fn func([]byte)) error {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
	return nil
}

func (s *streamSession) Lost() <-chan struct{} {
	return s.lost
}

func (s *streamSession) Close() error {
	s.markLost()
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *streamSession) markLost() {
	s.lostOnce.Do(func() { close(s.lost) })
}

// readLoop delivers inbound lines as notifications. A read error means the
// device is gone.
func (s *streamSession) readLoop(r io.Reader) {
	defer s.markLost()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		s.mu.Lock()
		fn := s.handler
		s.mu.Unlock()
		if fn != nil {
			fn(line)
		}
	}
}
