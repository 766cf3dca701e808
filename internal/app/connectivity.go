package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/castrilha/castrilha"
)

// Monitor tracks network reachability by dialing a probe address.
type Monitor struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)

	online atomic.Bool
}

// NewMonitor creates a monitor. It reports online until the first check.
func NewMonitor(cfg ConnectivityConfig, logger *slog.Logger) *Monitor {
	d := &net.Dialer{}
	m := &Monitor{
		addr:     cfg.ProbeAddr,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   logger,
		dial:     d.DialContext,
	}
	m.online.Store(true)
	return m
}

// Online reports the last observed reachability.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Check dials the probe address once and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", m.addr)
	online := err == nil
	if conn != nil {
		conn.Close()
	}

	if prev := m.online.Swap(online); prev != online {
		if online {
			m.logger.Info("connectivity: online", slog.String("probe_addr", m.addr))
		} else {
			m.logger.Warn("connectivity: offline",
				slog.String("probe_addr", m.addr),
				slog.String("error", err.Error()))
		}
	}
	return online
}

// Probe reports whether the network is reachable right now.
func (m *Monitor) Probe(ctx context.Context) error {
	if m.Check(ctx) {
		return nil
	}
	return fmt.Errorf("%w: %s unreachable", castrilha.ErrOfflineFeatureUnavailable, m.addr)
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
