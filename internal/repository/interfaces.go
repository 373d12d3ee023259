package repository

import (
	"context"

	"github.com/ascentlog/syncclient/internal/models"
)

// AuditLog defines the append-only conflict resolution log
type AuditLog interface {
	Append(ctx context.Context, event *models.SyncConflictTelemetryEvent) error
	List(ctx context.Context) ([]*models.SyncConflictTelemetryEvent, error)
}

var _ AuditLog = (*ConflictAuditRepository)(nil)
