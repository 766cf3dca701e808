package castrilha

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestUserMessageDistinct(t *testing.T) {
	kinds := []error{
		ErrPositionUnavailable,
		ErrPositionPermissionDenied,
		NewRouteError(RouteFailureNotFound, nil),
		NewRouteError(RouteFailureRateLimited, nil),
		NewRouteError(RouteFailureNetwork, nil),
		NewRouteError(RouteFailureRejected, nil),
		ErrTransportUnsupported,
		ErrDeviceNotFound,
		ErrLinkPermissionDenied,
		ErrLinkConnectFailed,
		ErrLinkWriteFailed,
		ErrOfflineFeatureUnavailable,
	}

	seen := make(map[string]error)
	for _, err := range kinds {
		msg := UserMessage(err)
		if msg == "" {
			t.Errorf("UserMessage(%v) is empty", err)
		}
		if prev, ok := seen[msg]; ok {
			t.Errorf("UserMessage(%v) duplicates message for %v", err, prev)
		}
		seen[msg] = err
	}
}

func TestUserMessageWrapped(t *testing.T) {
	wrapped := fmt.Errorf("link: scan: %w", ErrDeviceNotFound)
	if UserMessage(wrapped) != UserMessage(ErrDeviceNotFound) {
		t.Error("wrapped error should map to the same message")
	}
}

func TestUserMessagePortuguese(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrRouteNotFound, "Essa rota salva não existe."},
		{ErrNotNavigating, "A navegação não está ativa."},
		{fmt.Errorf("%w: disk full", ErrPersistFailed), "A rota foi mantida nesta sessão, mas não pôde ser gravada no armazenamento."},
		{NewRouteError(RouteFailureRateLimited, nil), "O serviço de rotas está ocupado. Aguarde um momento e tente de novo."},
	}
	for _, tt := range tests {
		if got := UserMessage(tt.err); got != tt.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrTransportUnsupported, false},
		{ErrPositionPermissionDenied, false},
		{ErrLinkPermissionDenied, false},
		{ErrOfflineFeatureUnavailable, false},
		{ErrDeviceNotFound, true},
		{ErrLinkConnectFailed, true},
		{ErrLinkWriteFailed, true},
		{ErrPositionUnavailable, true},
		{NewRouteError(RouteFailureNetwork, errors.New("timeout")), true},
		{NewRouteError(RouteFailureRateLimited, nil), true},
		{NewRouteError(RouteFailureNotFound, nil), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRouteErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := fmt.Errorf("plan: %w", NewRouteError(RouteFailureNetwork, cause))

	if !errors.Is(err, ErrRouteRequestFailed) {
		t.Error("RouteError should match ErrRouteRequestFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("RouteError should unwrap to its cause")
	}
	var routeErr *RouteError
	if !errors.As(err, &routeErr) || routeErr.Reason != RouteFailureNetwork {
		t.Errorf("errors.As() = %v, want network RouteError", routeErr)
	}
}

func TestProbeCapabilities(t *testing.T) {
	caps := ProbeCapabilities(context.Background(), Probes{
		Transport: func(context.Context) error { return errors.New("adapter disabled") },
		Position:  func(context.Context) error { return nil },
	})

	if caps.Transport || !caps.Position || caps.Network {
		t.Errorf("caps = %+v, want transport=false position=true network=false", caps)
	}
	if caps.Errors[CapabilityTransport] != "adapter disabled" {
		t.Errorf("transport error = %q", caps.Errors[CapabilityTransport])
	}

	err := caps.Require(CapabilityTransport, CapabilityPosition, CapabilityNetwork)
	if !errors.Is(err, ErrTransportUnsupported) {
		t.Errorf("Require() error = %v, want ErrTransportUnsupported", err)
	}
	if !errors.Is(err, ErrOfflineFeatureUnavailable) {
		t.Errorf("Require() error = %v, want ErrOfflineFeatureUnavailable", err)
	}
	if errors.Is(err, ErrPositionUnavailable) {
		t.Errorf("Require() error = %v, position is available", err)
	}
	if err := caps.Require(CapabilityPosition); err != nil {
		t.Errorf("Require(position) error = %v", err)
	}
}
