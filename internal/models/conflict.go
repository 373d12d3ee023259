package models

import "time"

// SyncPushConflict is a server rejection of a mutation due to a version mismatch
type SyncPushConflict struct {
	OpID          string     `json:"opId"`
	Entity        EntityType `json:"entity"`
	EntityID      string     `json:"entityId"`
	Reason        string     `json:"reason"`
	ServerVersion *int64     `json:"serverVersion"`
	ServerDoc     Doc        `json:"serverDoc"`
	DetectedAt    time.Time  `json:"detectedAt"`
}

// ServerHasRow reports whether the server still holds a row for the conflict
func (c *SyncPushConflict) ServerHasRow() bool {
	return c.ServerVersion != nil
}

// Conflict reason constants
const (
	ConflictReasonVersionMismatch = "version_mismatch"
)

// ConflictResolution is a user or automatic choice for a conflict
type ConflictResolution string

const (
	ResolutionKeepMine   ConflictResolution = "keepMine"
	ResolutionKeepServer ConflictResolution = "keepServer"
)

// ParseConflictResolution validates a resolution choice
func ParseConflictResolution(s string) (ConflictResolution, error) {
	switch ConflictResolution(s) {
	case ResolutionKeepMine, ResolutionKeepServer:
		return ConflictResolution(s), nil
	}
	return "", ErrInvalidResolution
}

// Telemetry event type constants
const (
	EventTypeKeepMine       = "keepMine"
	EventTypeKeepServer     = "keepServer"
	EventTypeAutoKeepMine   = "autoKeepMine"
	EventTypeAutoKeepServer = "autoKeepServer"
)

// SyncConflictTelemetryEvent is an append-only audit record of a resolution
type SyncConflictTelemetryEvent struct {
	EventType string     `json:"eventType" yaml:"eventType"`
	Entity    EntityType `json:"entity" yaml:"entity"`
	EntityID  string     `json:"entityId" yaml:"entityId"`
	Reason    string     `json:"reason" yaml:"reason"`
	OpID      string     `json:"opId,omitempty" yaml:"opId,omitempty"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
}

// NewTelemetryEvent builds an audit record for a resolved conflict
func NewTelemetryEvent(eventType string, c *SyncPushConflict) *SyncConflictTelemetryEvent {
	return &SyncConflictTelemetryEvent{
		EventType: eventType,
		Entity:    c.Entity,
		EntityID:  c.EntityID,
		Reason:    c.Reason,
		OpID:      c.OpID,
		Timestamp: time.Now().UTC(),
	}
}
