package castrilha

import "time"

// Status is the lifecycle state of a navigation session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Snapshot is a point-in-time copy of the engine's session.
type Snapshot struct {
	SessionID   string    `json:"session_id,omitempty"`
	Status      Status    `json:"status"`
	Route       *Route    `json:"route,omitempty"`
	StepIndex   int       `json:"step_index"`
	TotalSteps  int       `json:"total_steps"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	LastFix     *Position `json:"last_fix,omitempty"`
	LastMessage string    `json:"last_message,omitempty"`
}

// NextStep returns the step that will be announced next.
func (s Snapshot) NextStep() (Step, bool) {
	if s.Route == nil || s.Status != StatusActive {
		return Step{}, false
	}
	steps := s.Route.Steps()
	if s.StepIndex >= len(steps) {
		return Step{}, false
	}
	return steps[s.StepIndex], true
}

// Remaining returns the number of steps not yet announced.
func (s Snapshot) Remaining() int {
	if s.TotalSteps <= s.StepIndex {
		return 0
	}
	return s.TotalSteps - s.StepIndex
}

// EventType names an engine event.
type EventType string

const (
	EventStarted        EventType = "started"
	EventInstruction    EventType = "instruction"
	EventArrived        EventType = "arrived"
	EventDispatchFailed EventType = "dispatch_failed"
	EventPositionLost   EventType = "position_lost"
	EventStopped        EventType = "stopped"
	EventPosition       EventType = "position"
)

// Event describes an engine transition. Observers must not block.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	StepIndex int       `json:"step_index"`
	Message   string    `json:"message,omitempty"`
	Position  *Position `json:"position,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// SavedRoute is a named cached route plan.
type SavedRoute struct {
	Name    string    `json:"name"`
	Route   *Route    `json:"route"`
	SavedAt time.Time `json:"savedAt,omitempty"`
}

// LocationInfo contains geographic location extracted from an IP address.
type LocationInfo struct {
	IP        string  `json:"ip"`
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LatLng returns the approximate coordinate of the location.
func (l LocationInfo) LatLng() LatLng {
	return LatLng{Lat: l.Latitude, Lng: l.Longitude}
}
