package services

import (
	"context"
	"time"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
)

// maxPullPages bounds one pull run when the server keeps reporting more pages
const maxPullPages = 1000

// PullService applies the server change stream to local rows
type PullService struct {
	store     *repository.Store
	actor     *StoreActor
	transport SyncTransport
	applier   *rowApplier
	logger    *observability.Logger
	metrics   *observability.SyncMetrics
	pageSize  int
	now       func() time.Time
}

// NewPullService creates a new PullService
func NewPullService(
	store *repository.Store,
	actor *StoreActor,
	transport SyncTransport,
	logger *observability.Logger,
	metrics *observability.SyncMetrics,
	pageSize int,
) *PullService {
	logger = logger.WithField("component", "pull")
	now := func() time.Time { return time.Now().UTC() }
	return &PullService{
		store:     store,
		actor:     actor,
		transport: transport,
		applier:   &rowApplier{logger: logger, now: now},
		logger:    logger,
		metrics:   metrics,
		pageSize:  pageSize,
		now:       now,
	}
}

// ApplyPullResponse applies one page atomically together with its cursor
func (s *PullService) ApplyPullResponse(ctx context.Context, resp *models.PullResponse) (models.PullResult, error) {
	var result models.PullResult
	err := s.actor.Do(ctx, func() error {
		return s.store.InTx(ctx, func(tx *repository.Store) error {
			var err error
			result, err = s.applyTx(ctx, tx, resp)
			return err
		})
	})
	if err != nil {
		return models.PullResult{}, err
	}
	result.Pages = 1
	return result, nil
}

func (s *PullService) applyTx(ctx context.Context, tx *repository.Store, resp *models.PullResponse) (models.PullResult, error) {
	var result models.PullResult
	logger := s.logger.WithContext(ctx)

	for _, change := range resp.Changes {
		if err := change.Validate(); err != nil {
			logger.Warnf("Skipping change for %s/%s: %v", change.Entity, change.EntityID, err)
			result.Skipped++
			continue
		}
		entity, err := models.ParseEntityType(change.Entity)
		if err != nil {
			logger.Warnf("Skipping change for unknown entity %q", change.Entity)
			result.Skipped++
			continue
		}

		var applied bool
		if change.Type == models.ChangeDelete {
			version := change.Version
			applied, err = s.applier.delete(ctx, tx, entity, change.EntityID, &version)
		} else {
			applied, err = s.applier.upsert(ctx, tx, entity, change.EntityID, change.Version, change.Doc)
		}
		if err != nil {
			return result, persistenceError("apply pull", err)
		}
		if applied {
			result.Applied++
		} else {
			result.Skipped++
		}
	}

	if resp.NextCursor != nil {
		if err := tx.State.SetLastCursor(ctx, *resp.NextCursor, s.now()); err != nil {
			return result, persistenceError("store cursor", err)
		}
	}
	return result, nil
}

// PullAll fetches and applies pages from the stored cursor until the server
// reports no more changes
func (s *PullService) PullAll(ctx context.Context) (models.PullResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "pull", "pull_all")
	defer span.End()
	start := s.now()

	state, err := s.store.State.Get(ctx)
	if err != nil {
		return models.PullResult{}, persistenceError("load sync state", err)
	}
	if state == nil {
		return models.PullResult{}, models.ErrNoSyncState
	}
	cursor := state.LastCursor

	var total models.PullResult
	for total.Pages < maxPullPages {
		resp, err := s.transport.Pull(ctx, cursor, s.pageSize)
		if err != nil {
			observability.RecordError(span, err)
			return total, err
		}

		page, err := s.ApplyPullResponse(ctx, resp)
		if err != nil {
			observability.RecordError(span, err)
			return total, err
		}
		total.Applied += page.Applied
		total.Skipped += page.Skipped
		total.Pages++

		if !resp.HasMore || resp.NextCursor == nil {
			break
		}
		if cursor != nil && *cursor == *resp.NextCursor {
			s.logger.WithContext(ctx).Warnf("Server repeated cursor %s, stopping pull", *cursor)
			break
		}
		cursor = resp.NextCursor
	}

	s.metrics.RecordPull(ctx, total.Applied, s.now().Sub(start))
	observability.SetSuccess(span)
	return total, nil
}
