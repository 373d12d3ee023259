package models

// Errors
type SyncError struct {
	Message string
}

func (e SyncError) Error() string {
	return e.Message
}

var (
	ErrSyncDisabled         = SyncError{"sync is not enabled"}
	ErrNoSyncState          = SyncError{"sync has never been enabled on this device"}
	ErrEmptyUserID          = SyncError{"user id cannot be empty"}
	ErrUnknownEntity        = SyncError{"unknown entity type"}
	ErrInvalidChangeType    = SyncError{"change type must be upsert or delete"}
	ErrValueType            = SyncError{"unexpected value type"}
	ErrMutationNotFound     = SyncError{"pending mutation not found"}
	ErrConflictNotFound     = SyncError{"conflict not found"}
	ErrInvalidResolution    = SyncError{"resolution must be keepMine or keepServer"}
	ErrMissingEntityID      = SyncError{"entity id cannot be empty"}
	ErrUnsupportedValueJSON = SyncError{"doc values must be strings, numbers, booleans or null"}
	ErrSyncInProgress       = SyncError{"a sync cycle is already running"}
	ErrRowNotFound          = SyncError{"row not found"}
	ErrJunctionEntity       = SyncError{"junction rows are edited through links"}
)
