package models

import "time"

// MutationType is the kind of write carried by a pending mutation
type MutationType string

const (
	MutationUpsert MutationType = "upsert"
	MutationDelete MutationType = "delete"
)

// PendingMutation is an outbox entry
type PendingMutation struct {
	OpID            string       `json:"opId"`
	Entity          EntityType   `json:"entity"`
	EntityID        string       `json:"entityId"`
	MutationType    MutationType `json:"mutationType"`
	BaseVersion     int64        `json:"baseVersion"`
	Payload         *Payload     `json:"payload"`
	UpdatedAtClient time.Time    `json:"updatedAtClient"`
	Attempts        int          `json:"attempts"`
	// Seq is the enqueue position used as the ordering tiebreak
	Seq int64 `json:"seq"`
	// Revision counts coalesced edits so an ack never drops a newer edit
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsDelete reports whether the mutation deletes its row
func (m *PendingMutation) IsDelete() bool {
	return m.MutationType == MutationDelete
}

// TieBreaker returns the "deviceId|opId" string used when timestamps tie
func (m *PendingMutation) TieBreaker(deviceID string) string {
	return deviceID + "|" + m.OpID
}

// EnqueueRequest describes a write to queue
type EnqueueRequest struct {
	Entity       EntityType
	EntityID     string
	MutationType MutationType
	BaseVersion  int64
	Payload      *Payload
	// UpdatedAtClient is optional; zero means "now" for a new entry and
	// "keep the stored value" when coalescing
	UpdatedAtClient time.Time
	// AllowResurrect lets an upsert replace a pending delete for the same row
	AllowResurrect bool
}
