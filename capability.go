package castrilha

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Capability names one host capability.
type Capability string

const (
	CapabilityTransport Capability = "transport"
	CapabilityPosition  Capability = "position"
	CapabilityNetwork   Capability = "network"
)

// ProbeFunc checks one capability; nil means available.
type ProbeFunc func(ctx context.Context) error

// Probes lists the checks run by ProbeCapabilities. A nil probe marks the
// capability unavailable.
type Probes struct {
	Transport ProbeFunc
	Position  ProbeFunc
	Network   ProbeFunc
}

// Capabilities is the availability descriptor produced once at startup.
type Capabilities struct {
	Transport bool                  `json:"transport"`
	Position  bool                  `json:"position"`
	Network   bool                  `json:"network"`
	Errors    map[Capability]string `json:"errors,omitempty"`
	ProbedAt  time.Time             `json:"probed_at"`
}

// ProbeCapabilities runs each probe once.
func ProbeCapabilities(ctx context.Context, p Probes) Capabilities {
	caps := Capabilities{
		Errors:   make(map[Capability]string),
		ProbedAt: time.Now(),
	}
	caps.Transport = runProbe(ctx, p.Transport, CapabilityTransport, caps.Errors)
	caps.Position = runProbe(ctx, p.Position, CapabilityPosition, caps.Errors)
	caps.Network = runProbe(ctx, p.Network, CapabilityNetwork, caps.Errors)
	return caps
}

func runProbe(ctx context.Context, probe ProbeFunc, name Capability, errs map[Capability]string) bool {
	if probe == nil {
		errs[name] = "not configured"
		return false
	}
	if err := probe(ctx); err != nil {
		errs[name] = err.Error()
		return false
	}
	return true
}

// Require returns the taxonomy errors for every missing capability joined
// together, or nil when all are available.
func (c Capabilities) Require(needed ...Capability) error {
	var errs []error
	for _, n := range needed {
		switch n {
		case CapabilityTransport:
			if !c.Transport {
				errs = append(errs, c.wrap(ErrTransportUnsupported, n))
			}
		case CapabilityPosition:
			if !c.Position {
				errs = append(errs, c.wrap(ErrPositionUnavailable, n))
			}
		case CapabilityNetwork:
			if !c.Network {
				errs = append(errs, c.wrap(ErrOfflineFeatureUnavailable, n))
			}
		}
	}
	return errors.Join(errs...)
}

func (c Capabilities) wrap(sentinel error, n Capability) error {
	if msg := c.Errors[n]; msg != "" {
		return fmt.Errorf("%w: %s", sentinel, msg)
	}
	return sentinel
}
