package castrilha

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every kind maps to a distinct message via UserMessage.
var (
	// ErrPositionUnavailable is returned when no position fix can be obtained.
	ErrPositionUnavailable = errors.New("castrilha: position unavailable")

	// ErrPositionPermissionDenied is returned when access to the position source is refused.
	ErrPositionPermissionDenied = errors.New("castrilha: position permission denied")

	// ErrRouteRequestFailed is matched by every *RouteError.
	ErrRouteRequestFailed = errors.New("castrilha: route request failed")

	// ErrTransportUnsupported is returned when the host lacks the wireless transport.
	ErrTransportUnsupported = errors.New("castrilha: transport unsupported")

	// ErrDeviceNotFound is returned when no peripheral matches the device filter.
	ErrDeviceNotFound = errors.New("castrilha: device not found")

	// ErrLinkPermissionDenied is returned when the transport refuses access to the device.
	ErrLinkPermissionDenied = errors.New("castrilha: link permission denied")

	// ErrLinkConnectFailed is returned when the device was found but the
	// session or characteristic could not be established.
	ErrLinkConnectFailed = errors.New("castrilha: link connect failed")

	// ErrLinkWriteFailed is returned when a write to a connected link fails.
	ErrLinkWriteFailed = errors.New("castrilha: link write failed")

	// ErrOfflineFeatureUnavailable is returned when an operation needs the network and none is present.
	ErrOfflineFeatureUnavailable = errors.New("castrilha: feature unavailable offline")
)

// Operational errors.
var (
	// ErrLinkNotConnected is returned when writing to a link that is not connected.
	ErrLinkNotConnected = errors.New("castrilha: link not connected")

	// ErrLinkBusy is returned when a connect attempt is already in flight.
	ErrLinkBusy = errors.New("castrilha: link connect already in progress")

	// ErrLinkAlreadyConnected is returned when connecting a link that is connected.
	ErrLinkAlreadyConnected = errors.New("castrilha: link already connected")

	// ErrNotNavigating is returned by operations that need an active session.
	ErrNotNavigating = errors.New("castrilha: navigation is not active")

	// ErrInvalidRoute is returned when a route cannot be navigated.
	ErrInvalidRoute = errors.New("castrilha: invalid route")

	// ErrRouteNotFound is returned when a saved route does not exist.
	ErrRouteNotFound = errors.New("castrilha: saved route not found")

	// ErrRouteExists is returned when saving over an existing name without confirmation.
	ErrRouteExists = errors.New("castrilha: saved route already exists")

	// ErrPersistFailed wraps durable store failures. The in-memory change is kept.
	ErrPersistFailed = errors.New("castrilha: failed to persist saved routes")

	// ErrPlanDiscarded is returned when navigation was stopped while a route request was pending.
	ErrPlanDiscarded = errors.New("castrilha: route discarded after stop")

	// ErrEngineClosed is returned when using a closed engine.
	ErrEngineClosed = errors.New("castrilha: engine closed")

	// ErrGeoIPDatabaseNotConfigured is returned when an IP lookup is attempted
	// without a GeoIP database.
	ErrGeoIPDatabaseNotConfigured = errors.New("castrilha: GeoIP database path not configured")

	// ErrGeoIPLookupFailed is returned when IP geolocation lookup fails.
	ErrGeoIPLookupFailed = errors.New("castrilha: GeoIP lookup failed")

	// ErrInvalidIP is returned when an invalid IP address is provided.
	ErrInvalidIP = errors.New("castrilha: invalid IP address")
)

// RouteFailure classifies a failed route request.
type RouteFailure string

const (
	RouteFailureNotFound    RouteFailure = "not_found"
	RouteFailureRateLimited RouteFailure = "rate_limited"
	RouteFailureNetwork     RouteFailure = "network"
	RouteFailureRejected    RouteFailure = "rejected"
)

// RouteError is returned by routing services.
type RouteError struct {
	Reason RouteFailure
	Err    error
}

func (e *RouteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("castrilha: route request failed (%s)", e.Reason)
	}
	return fmt.Sprintf("castrilha: route request failed (%s): %v", e.Reason, e.Err)
}

func (e *RouteError) Unwrap() error { return e.Err }

// Is makes every RouteError match ErrRouteRequestFailed.
func (e *RouteError) Is(target error) bool {
	return target == ErrRouteRequestFailed
}

// NewRouteError builds a RouteError.
func NewRouteError(reason RouteFailure, err error) *RouteError {
	return &RouteError{Reason: reason, Err: err}
}

// UserMessage returns an actionable message for the traveler, in Brazilian
// Portuguese like the device instructions.
func UserMessage(err error) string {
	var routeErr *RouteError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPositionPermissionDenied):
		return "O acesso à localização foi negado. Permita o acesso à localização neste aparelho e comece de novo."
	case errors.Is(err, ErrPositionUnavailable):
		return "Não foi possível determinar sua posição. A navegação parou; vá para um lugar aberto e comece de novo."
	case errors.As(err, &routeErr):
		switch routeErr.Reason {
		case RouteFailureNotFound:
			return "Nenhuma rota foi encontrada para esse destino. Confira o endereço e tente de novo."
		case RouteFailureRateLimited:
			return "O serviço de rotas está ocupado. Aguarde um momento e tente de novo."
		case RouteFailureRejected:
			return "O serviço de rotas recusou o pedido. Confira a configuração de rotas."
		default:
			return "Não foi possível falar com o serviço de rotas. Confira a conexão e tente de novo."
		}
	case errors.Is(err, ErrTransportUnsupported):
		return "Este aparelho não tem Bluetooth nem porta serial utilizável para o guia."
	case errors.Is(err, ErrDeviceNotFound):
		return "O guia não foi encontrado. Verifique se ele está ligado e por perto e conecte de novo."
	case errors.Is(err, ErrLinkPermissionDenied):
		return "A permissão para usar o Bluetooth foi negada. Conceda o acesso e conecte de novo."
	case errors.Is(err, ErrLinkConnectFailed):
		return "Não foi possível conectar ao guia. Conecte de novo."
	case errors.Is(err, ErrLinkNotConnected):
		return "O guia não está conectado. Conecte-o primeiro."
	case errors.Is(err, ErrLinkWriteFailed):
		return "Uma instrução não pôde ser enviada ao guia. Confira a conexão."
	case errors.Is(err, ErrLinkBusy):
		return "Já existe uma tentativa de conexão em andamento."
	case errors.Is(err, ErrOfflineFeatureUnavailable):
		return "Este recurso não funciona sem internet. Use uma rota salva."
	case errors.Is(err, ErrRouteNotFound):
		return "Essa rota salva não existe."
	case errors.Is(err, ErrRouteExists):
		return "Já existe uma rota salva com esse nome. Confirme para substituí-la."
	case errors.Is(err, ErrNotNavigating):
		return "A navegação não está ativa."
	case errors.Is(err, ErrPersistFailed):
		return "A rota foi mantida nesta sessão, mas não pôde ser gravada no armazenamento."
	default:
		return err.Error()
	}
}

// Retryable reports whether retrying the same action may succeed without the
// user changing anything first.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTransportUnsupported),
		errors.Is(err, ErrPositionPermissionDenied),
		errors.Is(err, ErrLinkPermissionDenied),
		errors.Is(err, ErrOfflineFeatureUnavailable),
		errors.Is(err, ErrInvalidRoute):
		return false
	}
	var routeErr *RouteError
	if errors.As(err, &routeErr) {
		return routeErr.Reason == RouteFailureNetwork || routeErr.Reason == RouteFailureRateLimited
	}
	return true
}
