package position

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/castrilha/castrilha"
)

// DefaultReplayInterval is the pause between replayed fixes.
const DefaultReplayInterval = time.Second

// ReplaySource plays back a recorded track of Fix frames, one JSON object
// per line, at a fixed interval. Recorded timestamps are ignored so replayed
// fixes are always fresh.
type ReplaySource struct {
	fixes    []castrilha.Position
	interval time.Duration
	loop     bool
}

// LoadReplay reads a track from path.
func LoadReplay(path string, interval time.Duration, loop bool) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	return NewReplay(f, interval, loop)
}

// NewReplay reads a track from r.
func NewReplay(r io.Reader, interval time.Duration, loop bool) (*ReplaySource, error) {
	if interval <= 0 {
		interval = DefaultReplayInterval
	}
	var fixes []castrilha.Position
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var f Fix
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("replay line %d: %w", n, err)
		}
		p, err := f.Position()
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", n, err)
		}
		p.Time = time.Time{}
		fixes = append(fixes, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	return NewReplayFixes(fixes, interval, loop), nil
}

// NewReplayFixes replays fixes already in memory.
func NewReplayFixes(fixes []castrilha.Position, interval time.Duration, loop bool) *ReplaySource {
	if interval <= 0 {
		interval = DefaultReplayInterval
	}
	return &ReplaySource{fixes: fixes, interval: interval, loop: loop}
}

// Len returns the number of fixes in the track.
func (s *ReplaySource) Len() int { return len(s.fixes) }

func (s *ReplaySource) Probe(ctx context.Context) error {
	if len(s.fixes) == 0 {
		return fmt.Errorf("%w: empty replay track", castrilha.ErrPositionUnavailable)
	}
	return nil
}

// Stream emits the first fix immediately and the rest one interval apart.
// Without looping it returns after the last fix.
func (s *ReplaySource) Stream(ctx context.Context, emit func(castrilha.Position), fail func(error)) error {
	if len(s.fixes) == 0 {
		return fmt.Errorf("%w: empty replay track", castrilha.ErrPositionUnavailable)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for sent := 0; ; sent++ {
		if sent == len(s.fixes) && !s.loop {
			return nil
		}
		if sent > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		emit(s.fixes[sent%len(s.fixes)])
	}
}
