package models

import "time"

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// SyncStatusResponse for GET /api/sync/status
type SyncStatusResponse struct {
	IsSyncEnabled        bool       `json:"isSyncEnabled" yaml:"isSyncEnabled"`
	UserID               string     `json:"userId" yaml:"userId"`
	DeviceID             string     `json:"deviceId" yaml:"deviceId"`
	PendingCount         int        `json:"pendingCount" yaml:"pendingCount"`
	ConflictCount        int        `json:"conflictCount" yaml:"conflictCount"`
	LastSuccessfulSyncAt *time.Time `json:"lastSuccessfulSyncAt,omitempty" yaml:"lastSuccessfulSyncAt,omitempty"`
	LastCursor           *string    `json:"lastCursor,omitempty" yaml:"lastCursor,omitempty"`
	LastPushCursor       *string    `json:"lastPushCursor,omitempty" yaml:"lastPushCursor,omitempty"`
	ConsecutiveFailures  int        `json:"consecutiveFailures" yaml:"consecutiveFailures"`
	NextAttemptAt        *time.Time `json:"nextAttemptAt,omitempty" yaml:"nextAttemptAt,omitempty"`
	DidBootstrap         bool       `json:"didBootstrap" yaml:"didBootstrap"`
}

// SyncReport is returned after a sync cycle
type SyncReport struct {
	Bootstrapped bool       `json:"bootstrapped" yaml:"bootstrapped"`
	Push         PushResult `json:"push" yaml:"push"`
	Pull         PullResult `json:"pull" yaml:"pull"`
	AutoResolved int        `json:"autoResolved" yaml:"autoResolved"`
	StartedAt    time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt   time.Time  `json:"finishedAt" yaml:"finishedAt"`
}

// EnableSyncRequest for POST /api/sync/enable
type EnableSyncRequest struct {
	UserID string `json:"userId"`
}

// OutboxItem is a pending mutation in API responses
type OutboxItem struct {
	OpID            string    `json:"opId" yaml:"opId"`
	Entity          string    `json:"entity" yaml:"entity"`
	EntityID        string    `json:"entityId" yaml:"entityId"`
	MutationType    string    `json:"mutationType" yaml:"mutationType"`
	BaseVersion     int64     `json:"baseVersion" yaml:"baseVersion"`
	Attempts        int       `json:"attempts" yaml:"attempts"`
	UpdatedAtClient time.Time `json:"updatedAtClient" yaml:"updatedAtClient"`
	HasConflict     bool      `json:"hasConflict" yaml:"hasConflict"`
}

// MutationToOutboxItem converts a pending mutation for display
func MutationToOutboxItem(m *PendingMutation, hasConflict bool) OutboxItem {
	return OutboxItem{
		OpID:            m.OpID,
		Entity:          string(m.Entity),
		EntityID:        m.EntityID,
		MutationType:    string(m.MutationType),
		BaseVersion:     m.BaseVersion,
		Attempts:        m.Attempts,
		UpdatedAtClient: m.UpdatedAtClient,
		HasConflict:     hasConflict,
	}
}

// PreviewRow is a single key/value line of a conflict preview
type PreviewRow struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// ConflictView is a conflict as shown in the review list
type ConflictView struct {
	OpID          string             `json:"opId" yaml:"opId"`
	Entity        string             `json:"entity" yaml:"entity"`
	EntityID      string             `json:"entityId" yaml:"entityId"`
	Reason        string             `json:"reason" yaml:"reason"`
	MutationType  string             `json:"mutationType" yaml:"mutationType"`
	ServerVersion *int64             `json:"serverVersion" yaml:"serverVersion"`
	HighRisk      bool               `json:"highRisk" yaml:"highRisk"`
	ServerDeleted bool               `json:"serverDeleted" yaml:"serverDeleted"`
	Suggestion    ConflictResolution `json:"suggestion" yaml:"suggestion"`
	DetectedAt    time.Time          `json:"detectedAt" yaml:"detectedAt"`
}

// ConflictPreview is the detail view of a conflict
type ConflictPreview struct {
	ConflictView `yaml:",inline"`
	ServerRows   []PreviewRow `json:"serverRows" yaml:"serverRows"`
	LocalRows    []PreviewRow `json:"localRows" yaml:"localRows"`
	Diff         string       `json:"diff" yaml:"diff"`
}

// ResolveConflictRequest for POST /api/sync/conflicts/{opId}/keep-mine
type ResolveConflictRequest struct {
	ServerVersion *int64 `json:"serverVersion,omitempty"`
}

// ResolveAllRequest for POST /api/sync/conflicts/resolve-all
type ResolveAllRequest struct {
	Choice string `json:"choice"`
}

// ResolveResponse reports resolution outcomes
type ResolveResponse struct {
	Resolved int `json:"resolved" yaml:"resolved"`
	Skipped  int `json:"skipped" yaml:"skipped"`
}

// EnableSyncResponse for POST /api/sync/enable
type EnableSyncResponse struct {
	AccountSwitched bool                `json:"accountSwitched" yaml:"accountSwitched"`
	Status          *SyncStatusResponse `json:"status" yaml:"status"`
}

// AutoResolveResponse for POST /api/sync/conflicts/auto-resolve
type AutoResolveResponse struct {
	Resolved int `json:"resolved" yaml:"resolved"`
}

// ResolveOneResponse reports whether a single conflict was resolved
type ResolveOneResponse struct {
	OpID     string `json:"opId" yaml:"opId"`
	Resolved bool   `json:"resolved" yaml:"resolved"`
}
