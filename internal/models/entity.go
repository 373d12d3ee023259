package models

import (
	"fmt"
	"time"
)

// EntityType names a syncable table
type EntityType string

const (
	EntityActivities                  EntityType = "activities"
	EntityPlans                       EntityType = "plans"
	EntityPlanDays                    EntityType = "plan_days"
	EntitySessions                    EntityType = "sessions"
	EntitySessionItems                EntityType = "session_items"
	EntityTimerTemplates              EntityType = "timer_templates"
	EntityTimerIntervals              EntityType = "timer_intervals"
	EntityTimerSessions               EntityType = "timer_sessions"
	EntityTimerLaps                   EntityType = "timer_laps"
	EntityClimbEntries                EntityType = "climb_entries"
	EntityClimbMedia                  EntityType = "climb_media"
	EntityBoulderCombinationExercises EntityType = "boulder_combination_exercises"
)

// EntityInfo describes how a syncable table relates to its parent
type EntityInfo struct {
	Type EntityType
	// ParentKey is the foreign-key column naming the parent row, if any
	ParentKey string
	// Rank orders tables so parents are snapshotted before children
	Rank int
}

var entityRegistry = []EntityInfo{
	{Type: EntityActivities, Rank: 0},
	{Type: EntityPlans, Rank: 0},
	{Type: EntityTimerTemplates, Rank: 0},
	{Type: EntityClimbEntries, Rank: 0},
	{Type: EntityPlanDays, ParentKey: "plan_id", Rank: 1},
	{Type: EntityTimerIntervals, ParentKey: "template_id", Rank: 1},
	{Type: EntityTimerSessions, ParentKey: "template_id", Rank: 1},
	{Type: EntityClimbMedia, ParentKey: "climb_entry_id", Rank: 1},
	{Type: EntityBoulderCombinationExercises, ParentKey: "combination_id", Rank: 1},
	{Type: EntitySessions, ParentKey: "plan_day_id", Rank: 2},
	{Type: EntityTimerLaps, ParentKey: "timer_session_id", Rank: 2},
	{Type: EntitySessionItems, ParentKey: "session_id", Rank: 3},
}

// SyncableEntities returns every syncable table, parents first
func SyncableEntities() []EntityInfo {
	out := make([]EntityInfo, len(entityRegistry))
	copy(out, entityRegistry)
	return out
}

// ParseEntityType validates an entity name
func ParseEntityType(name string) (EntityType, error) {
	for _, info := range entityRegistry {
		if string(info.Type) == name {
			return info.Type, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntity, name)
}

// Info returns the registry entry for e
func (e EntityType) Info() (EntityInfo, bool) {
	for _, info := range entityRegistry {
		if info.Type == e {
			return info, true
		}
	}
	return EntityInfo{}, false
}

// IsJunction reports whether rows of e are identified by a deterministic link id
func (e EntityType) IsJunction() bool {
	return e == EntityBoulderCombinationExercises
}

// RowStatus is the lifecycle state of a local synced row
type RowStatus string

const (
	RowActive     RowStatus = "active"
	RowTombstoned RowStatus = "tombstoned"
)

// Reserved wire columns that are stored outside the row doc
const (
	ColumnID              = "id"
	ColumnVersion         = "version"
	ColumnIsDeleted       = "is_deleted"
	ColumnUpdatedAtClient = "updated_at_client"
	ColumnCombinationID   = "combination_id"
	ColumnExerciseID      = "exercise_id"
)

// SyncedRow is a local row of any syncable table
type SyncedRow struct {
	Entity          EntityType `json:"entity" yaml:"entity"`
	ID              string     `json:"id" yaml:"id"`
	ParentID        *string    `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	SyncVersion     int64      `json:"syncVersion" yaml:"syncVersion"`
	UpdatedAtClient time.Time  `json:"updatedAtClient" yaml:"updatedAtClient"`
	Status          RowStatus  `json:"status" yaml:"status"`
	Fields          Doc        `json:"fields" yaml:"fields"`
}

// IsTombstoned reports whether the row is soft-deleted
func (r *SyncedRow) IsTombstoned() bool {
	return r.Status == RowTombstoned
}

// Payload renders the row as an upsert payload: id first, then fields in lexical order
func (r *SyncedRow) Payload() *Payload {
	p := NewPayload().Set(ColumnID, StringValue(r.ID))
	for _, k := range r.Fields.SortedKeys() {
		p.Set(k, r.Fields[k])
	}
	return p
}

// CombinationExerciseLink is a boulder-combination to exercise junction row
type CombinationExerciseLink struct {
	ID              string    `json:"id"`
	CombinationID   string    `json:"combinationId"`
	ExerciseID      string    `json:"exerciseId"`
	SyncVersion     int64     `json:"syncVersion"`
	UpdatedAtClient time.Time `json:"updatedAtClient"`
}

// Payload renders the link as an upsert payload
func (l *CombinationExerciseLink) Payload() *Payload {
	return NewPayload().
		Set(ColumnID, StringValue(l.ID)).
		Set(ColumnCombinationID, StringValue(l.CombinationID)).
		Set(ColumnExerciseID, StringValue(l.ExerciseID))
}
