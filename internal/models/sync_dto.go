package models

import (
	"fmt"
	"time"
)

// PushRequest is the body of POST /v1/sync/push
type PushRequest struct {
	Mutations []PushMutation `json:"mutations"`
}

// PushMutation is a pending mutation on the wire
type PushMutation struct {
	OpID            string   `json:"opId"`
	Entity          string   `json:"entity"`
	EntityID        string   `json:"entityId"`
	MutationType    string   `json:"mutationType"`
	BaseVersion     int64    `json:"baseVersion"`
	Payload         *Payload `json:"payload"`
	UpdatedAtClient string   `json:"updatedAtClient"`
}

// NewPushRequest serializes a batch of pending mutations
func NewPushRequest(batch []*PendingMutation) *PushRequest {
	req := &PushRequest{Mutations: make([]PushMutation, 0, len(batch))}
	for _, m := range batch {
		payload := m.Payload
		if m.IsDelete() || payload == nil {
			payload = NewPayload()
		}
		req.Mutations = append(req.Mutations, PushMutation{
			OpID:            NormalizeID(m.OpID),
			Entity:          string(m.Entity),
			EntityID:        NormalizeID(m.EntityID),
			MutationType:    string(m.MutationType),
			BaseVersion:     m.BaseVersion,
			Payload:         payload,
			UpdatedAtClient: FormatWireTime(m.UpdatedAtClient),
		})
	}
	return req
}

// PushResponse is the server verdict for a push batch
type PushResponse struct {
	AcknowledgedOpIDs []string       `json:"acknowledgedOpIds"`
	Conflicts         []PushConflict `json:"conflicts"`
	Failed            []PushFailure  `json:"failed"`
	NewCursor         *string        `json:"newCursor"`
}

// PushConflict is a single conflict entry of a push response
type PushConflict struct {
	OpID          string `json:"opId"`
	Entity        string `json:"entity"`
	EntityID      string `json:"entityId"`
	Reason        string `json:"reason"`
	ServerVersion *int64 `json:"serverVersion"`
	ServerDoc     Doc    `json:"serverDoc"`
}

// ToConflict converts the wire entry to a persisted conflict
func (c PushConflict) ToConflict() (*SyncPushConflict, error) {
	entity, err := ParseEntityType(c.Entity)
	if err != nil {
		return nil, err
	}
	reason := c.Reason
	if reason == "" {
		reason = ConflictReasonVersionMismatch
	}
	return &SyncPushConflict{
		OpID:          NormalizeID(c.OpID),
		Entity:        entity,
		EntityID:      NormalizeID(c.EntityID),
		Reason:        reason,
		ServerVersion: c.ServerVersion,
		ServerDoc:     c.ServerDoc,
		DetectedAt:    time.Now().UTC(),
	}, nil
}

// PushFailure is a per-mutation rejection
type PushFailure struct {
	OpID   string `json:"opId"`
	Reason string `json:"reason"`
}

// PushResult summarizes processing of a push response
type PushResult struct {
	Acknowledged int `json:"acknowledged"`
	Failures     int `json:"failures"`
	Conflicts    int `json:"conflicts"`
}

// Add accumulates another batch result
func (r *PushResult) Add(o PushResult) {
	r.Acknowledged += o.Acknowledged
	r.Failures += o.Failures
	r.Conflicts += o.Conflicts
}

// Change type constants
const (
	ChangeUpsert = "upsert"
	ChangeDelete = "delete"
)

// PullChange is one entry of the server change stream
type PullChange struct {
	Entity   string `json:"entity"`
	Type     string `json:"type"`
	EntityID string `json:"entityId"`
	Version  int64  `json:"version"`
	Doc      Doc    `json:"doc"`
}

// Validate checks the change type
func (c PullChange) Validate() error {
	if c.Type != ChangeUpsert && c.Type != ChangeDelete {
		return fmt.Errorf("%w: %q", ErrInvalidChangeType, c.Type)
	}
	return nil
}

// PullResponse is a page of the server change stream
type PullResponse struct {
	Changes    []PullChange `json:"changes"`
	NextCursor *string      `json:"nextCursor"`
	HasMore    bool         `json:"hasMore"`
}

// PullResult summarizes applied pull pages
type PullResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Pages   int `json:"pages"`
}
