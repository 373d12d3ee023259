package models

import "time"

// SyncState is the singleton sync binding of this device
type SyncState struct {
	UserID                    string     `json:"userId"`
	LastCursor                *string    `json:"lastCursor,omitempty"`
	LastPushCursor            *string    `json:"lastPushCursor,omitempty"`
	IsSyncEnabled             bool       `json:"isSyncEnabled"`
	DidBootstrapLocalSnapshot bool       `json:"didBootstrapLocalSnapshot"`
	LastSuccessfulSyncAt      *time.Time `json:"lastSuccessfulSyncAt,omitempty"`
	ConsecutiveFailures       int        `json:"consecutiveFailures"`
	NextAttemptAt             *time.Time `json:"nextAttemptAt,omitempty"`
	UpdatedAt                 time.Time  `json:"updatedAt"`
}

// NewSyncState creates the state for a first enable
func NewSyncState(userID string) *SyncState {
	return &SyncState{
		UserID:        userID,
		IsSyncEnabled: true,
		UpdatedAt:     time.Now().UTC(),
	}
}

// ResetForAccount rebinds the state to another account
func (s *SyncState) ResetForAccount(userID string) {
	s.UserID = userID
	s.LastCursor = nil
	s.LastPushCursor = nil
	s.DidBootstrapLocalSnapshot = false
	s.LastSuccessfulSyncAt = nil
	s.ConsecutiveFailures = 0
	s.NextAttemptAt = nil
}
