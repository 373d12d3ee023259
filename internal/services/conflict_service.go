package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
)

// LongTextThreshold is the rune count from which a text value counts as long-form
const LongTextThreshold = 200

// Server doc columns naming the writer of the stored version
const (
	ServerColumnDeviceID = "device_id"
	ServerColumnOpID     = "op_id"
	serverColumnUpdated  = "updated_at"
)

var notesLikeKeys = map[string]bool{
	"notes":       true,
	"note":        true,
	"comment":     true,
	"comments":    true,
	"description": true,
}

// IsLocalClearlyNewer reports whether the local edit is newer than the server
// edit by strictly more than threshold
func IsLocalClearlyNewer(localUpdatedAt, serverUpdatedAt time.Time, threshold time.Duration) bool {
	return localUpdatedAt.Sub(serverUpdatedAt) > threshold
}

// IsHighRiskConflict reports whether a conflict must wait for a human: every
// delete, and every upsert touching notes-like or long-form text on either side
func IsHighRiskConflict(m *models.PendingMutation, serverDoc models.Doc) bool {
	if m.IsDelete() {
		return true
	}
	if m.Payload == nil {
		return false
	}

	for _, key := range m.Payload.Keys() {
		if notesLikeKeys[strings.ToLower(key)] {
			return true
		}
		v, _ := m.Payload.Get(key)
		if isLongText(v) {
			return true
		}
		if sv, ok := serverDoc[key]; ok && isLongText(sv) {
			return true
		}
	}
	return false
}

func isLongText(v models.Value) bool {
	s, err := v.AsString()
	return err == nil && utf8.RuneCountInString(s) >= LongTextThreshold
}

// ShouldKeepMineLWW decides last-writer-wins at millisecond precision. A tie is
// broken by the lexicographically greater "deviceId|opId"; identical tie
// breakers keep the server.
func ShouldKeepMineLWW(localUpdatedAt, serverUpdatedAt time.Time, localTieBreaker, serverTieBreaker string) bool {
	local := localUpdatedAt.UTC().Truncate(time.Millisecond)
	server := serverUpdatedAt.UTC().Truncate(time.Millisecond)

	switch {
	case local.After(server):
		return true
	case server.After(local):
		return false
	}
	return localTieBreaker > serverTieBreaker
}

// ShouldPreferServerTombstone reports whether the server row is soft-deleted
func ShouldPreferServerTombstone(serverDoc models.Doc) bool {
	return serverDoc.Bool(models.ColumnIsDeleted)
}

// ServerUpdatedAt returns the edit time carried by a server doc
func ServerUpdatedAt(serverDoc models.Doc) (time.Time, bool) {
	if t, ok := serverDoc.Time(models.ColumnUpdatedAtClient); ok {
		return t, true
	}
	return serverDoc.Time(serverColumnUpdated)
}

// ServerTieBreaker returns "deviceId|opId" of the server's last writer
func ServerTieBreaker(serverDoc models.Doc) string {
	return serverDoc.String(ServerColumnDeviceID) + "|" + serverDoc.String(ServerColumnOpID)
}

func serverDeleted(c *models.SyncPushConflict) bool {
	return !c.ServerHasRow() || ShouldPreferServerTombstone(c.ServerDoc)
}

// SuggestResolution proposes a choice for the review screen
func SuggestResolution(m *models.PendingMutation, c *models.SyncPushConflict, threshold time.Duration) models.ConflictResolution {
	if m == nil || serverDeleted(c) {
		return models.ResolutionKeepServer
	}
	serverAt, ok := ServerUpdatedAt(c.ServerDoc)
	if ok && IsLocalClearlyNewer(m.UpdatedAtClient, serverAt, threshold) {
		return models.ResolutionKeepMine
	}
	return models.ResolutionKeepServer
}

// ConflictService lists, previews and resolves push conflicts
type ConflictService struct {
	store        *repository.Store
	actor        *StoreActor
	audit        repository.AuditLog
	applier      *rowApplier
	events       EventPublisher
	logger       *observability.Logger
	metrics      *observability.SyncMetrics
	deviceID     string
	clearlyNewer time.Duration
	now          func() time.Time
}

// NewConflictService creates a new ConflictService
func NewConflictService(
	store *repository.Store,
	actor *StoreActor,
	audit repository.AuditLog,
	events EventPublisher,
	logger *observability.Logger,
	metrics *observability.SyncMetrics,
	deviceID string,
	clearlyNewer time.Duration,
) *ConflictService {
	if events == nil {
		events = nopPublisher{}
	}
	logger = logger.WithField("component", "conflicts")
	now := func() time.Time { return time.Now().UTC() }
	return &ConflictService{
		store:        store,
		actor:        actor,
		audit:        audit,
		applier:      &rowApplier{logger: logger, now: now},
		events:       events,
		logger:       logger,
		metrics:      metrics,
		deviceID:     deviceID,
		clearlyNewer: clearlyNewer,
		now:          now,
	}
}

// List returns every open conflict with its classification
func (s *ConflictService) List(ctx context.Context) ([]models.ConflictView, error) {
	conflicts, err := s.store.Conflicts.List(ctx)
	if err != nil {
		return nil, persistenceError("list conflicts", err)
	}

	views := make([]models.ConflictView, 0, len(conflicts))
	for _, c := range conflicts {
		m, err := s.store.Outbox.GetByOpID(ctx, c.OpID)
		if err != nil {
			return nil, persistenceError("list conflicts", err)
		}
		views = append(views, s.view(c, m))
	}
	return views, nil
}

func (s *ConflictService) view(c *models.SyncPushConflict, m *models.PendingMutation) models.ConflictView {
	v := models.ConflictView{
		OpID:          c.OpID,
		Entity:        string(c.Entity),
		EntityID:      c.EntityID,
		Reason:        c.Reason,
		ServerVersion: c.ServerVersion,
		ServerDeleted: serverDeleted(c),
		Suggestion:    SuggestResolution(m, c, s.clearlyNewer),
		DetectedAt:    c.DetectedAt,
	}
	if m != nil {
		v.MutationType = string(m.MutationType)
		v.HighRisk = IsHighRiskConflict(m, c.ServerDoc)
	}
	return v
}

// Preview returns both sides of a conflict and a unified diff from the
// server row to the row as keep-mine would write it
func (s *ConflictService) Preview(ctx context.Context, opID string) (*models.ConflictPreview, error) {
	opID = models.NormalizeID(opID)
	c, err := s.store.Conflicts.Get(ctx, opID)
	if err != nil {
		return nil, persistenceError("preview conflict", err)
	}
	if c == nil {
		return nil, models.ErrConflictNotFound
	}
	m, err := s.store.Outbox.GetByOpID(ctx, opID)
	if err != nil {
		return nil, persistenceError("preview conflict", err)
	}

	preview := &models.ConflictPreview{
		ConflictView: s.view(c, m),
		ServerRows:   []models.PreviewRow{},
		LocalRows:    []models.PreviewRow{},
	}
	for _, k := range c.ServerDoc.SortedKeys() {
		preview.ServerRows = append(preview.ServerRows, models.PreviewRow{Key: k, Value: c.ServerDoc[k].String()})
	}

	mine := models.Doc{}
	if m != nil && !m.IsDelete() {
		for k, v := range c.ServerDoc {
			mine[k] = v
		}
		for _, k := range m.Payload.Keys() {
			v, _ := m.Payload.Get(k)
			mine[k] = v
			preview.LocalRows = append(preview.LocalRows, models.PreviewRow{Key: k, Value: v.String()})
		}
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        docLines(c.ServerDoc),
		B:        docLines(mine),
		FromFile: "server",
		ToFile:   "mine",
		Context:  3,
	})
	if err != nil {
		return nil, err
	}
	preview.Diff = diff
	return preview, nil
}

func docLines(d models.Doc) []string {
	lines := make([]string, 0, len(d))
	for _, k := range d.SortedKeys() {
		lines = append(lines, k+": "+d[k].String()+"\n")
	}
	return lines
}

// ResolveConflictKeepMine rebases the mutation onto serverVersion (zero when the
// server has no row) and clears the conflict so the next push retries it.
// It reports whether the mutation existed.
func (s *ConflictService) ResolveConflictKeepMine(ctx context.Context, opID string, serverVersion *int64) (bool, error) {
	return s.resolve(ctx, opID, models.ResolutionKeepMine, serverVersion, models.EventTypeKeepMine)
}

// ResolveConflictKeepServer discards the mutation, clears the conflict and
// writes the server's row state locally. It reports whether the mutation existed.
func (s *ConflictService) ResolveConflictKeepServer(ctx context.Context, opID string) (bool, error) {
	return s.resolve(ctx, opID, models.ResolutionKeepServer, nil, models.EventTypeKeepServer)
}

// ResolveAll applies one choice to every open conflict
func (s *ConflictService) ResolveAll(ctx context.Context, choice models.ConflictResolution) (models.ResolveResponse, error) {
	eventType := models.EventTypeKeepServer
	if choice == models.ResolutionKeepMine {
		eventType = models.EventTypeKeepMine
	}
	return s.resolveEach(ctx, func(m *models.PendingMutation, c *models.SyncPushConflict) (models.ConflictResolution, string, bool) {
		return choice, eventType, true
	})
}

// AutoResolveLowRisk settles every conflict that is not high-risk: a deleted
// server row wins, otherwise last writer wins. It returns how many were resolved.
func (s *ConflictService) AutoResolveLowRisk(ctx context.Context) (int, error) {
	resp, err := s.resolveEach(ctx, s.autoDecision)
	return resp.Resolved, err
}

func (s *ConflictService) autoDecision(m *models.PendingMutation, c *models.SyncPushConflict) (models.ConflictResolution, string, bool) {
	if m == nil || IsHighRiskConflict(m, c.ServerDoc) {
		return "", "", false
	}
	if serverDeleted(c) {
		return models.ResolutionKeepServer, models.EventTypeAutoKeepServer, true
	}

	serverAt, ok := ServerUpdatedAt(c.ServerDoc)
	if !ok {
		return "", "", false
	}
	if ShouldKeepMineLWW(m.UpdatedAtClient, serverAt, m.TieBreaker(s.deviceID), ServerTieBreaker(c.ServerDoc)) {
		return models.ResolutionKeepMine, models.EventTypeAutoKeepMine, true
	}
	return models.ResolutionKeepServer, models.EventTypeAutoKeepServer, true
}

type resolutionDecider func(m *models.PendingMutation, c *models.SyncPushConflict) (models.ConflictResolution, string, bool)

func (s *ConflictService) resolveEach(ctx context.Context, decide resolutionDecider) (models.ResolveResponse, error) {
	var resp models.ResolveResponse
	conflicts, err := s.store.Conflicts.List(ctx)
	if err != nil {
		return resp, persistenceError("list conflicts", err)
	}

	for _, c := range conflicts {
		m, err := s.store.Outbox.GetByOpID(ctx, c.OpID)
		if err != nil {
			return resp, persistenceError("list conflicts", err)
		}
		choice, eventType, ok := decide(m, c)
		if !ok {
			resp.Skipped++
			continue
		}
		resolved, err := s.resolve(ctx, c.OpID, choice, c.ServerVersion, eventType)
		if err != nil {
			return resp, err
		}
		if resolved {
			resp.Resolved++
		} else {
			resp.Skipped++
		}
	}
	return resp, nil
}

func (s *ConflictService) resolve(ctx context.Context, opID string, choice models.ConflictResolution, serverVersion *int64, eventType string) (bool, error) {
	opID = models.NormalizeID(opID)
	var event *models.SyncConflictTelemetryEvent
	err := s.actor.Do(ctx, func() error {
		return s.store.InTx(ctx, func(tx *repository.Store) error {
			var err error
			event, err = s.resolveTx(ctx, tx, opID, choice, serverVersion, eventType)
			return err
		})
	})
	if err != nil || event == nil {
		return false, err
	}

	s.record(ctx, event, choice)
	return true, nil
}

// resolveTx returns the audit event, or nil when no mutation existed
func (s *ConflictService) resolveTx(ctx context.Context, tx *repository.Store, opID string, choice models.ConflictResolution, serverVersion *int64, eventType string) (*models.SyncConflictTelemetryEvent, error) {
	m, err := tx.Outbox.GetByOpID(ctx, opID)
	if err != nil {
		return nil, persistenceError("resolve conflict", err)
	}
	c, err := tx.Conflicts.Get(ctx, opID)
	if err != nil {
		return nil, persistenceError("resolve conflict", err)
	}
	if c != nil {
		if _, err := tx.Conflicts.Delete(ctx, opID); err != nil {
			return nil, persistenceError("resolve conflict", err)
		}
	}

	switch choice {
	case models.ResolutionKeepMine:
		if m == nil {
			return nil, nil
		}
		var base int64
		if serverVersion != nil {
			base = *serverVersion
		}
		if _, err := tx.Outbox.Rebase(ctx, opID, base); err != nil {
			return nil, persistenceError("resolve conflict", err)
		}
	case models.ResolutionKeepServer:
		if m != nil {
			if _, err := tx.Outbox.Delete(ctx, opID); err != nil {
				return nil, persistenceError("resolve conflict", err)
			}
		}
		if c != nil {
			if err := s.applyServerSide(ctx, tx, c); err != nil {
				return nil, persistenceError("resolve conflict", err)
			}
		}
		if m == nil {
			return nil, nil
		}
	default:
		return nil, models.ErrInvalidResolution
	}

	if c == nil {
		c = &models.SyncPushConflict{OpID: m.OpID, Entity: m.Entity, EntityID: m.EntityID}
	}
	event := models.NewTelemetryEvent(eventType, c)
	event.Timestamp = s.now()
	return event, nil
}

func (s *ConflictService) applyServerSide(ctx context.Context, tx *repository.Store, c *models.SyncPushConflict) error {
	if !c.ServerHasRow() {
		_, err := s.applier.delete(ctx, tx, c.Entity, c.EntityID, nil)
		return err
	}
	if c.ServerDoc == nil {
		return nil
	}
	_, err := s.applier.upsert(ctx, tx, c.Entity, c.EntityID, *c.ServerVersion, c.ServerDoc)
	return err
}

func (s *ConflictService) record(ctx context.Context, event *models.SyncConflictTelemetryEvent, choice models.ConflictResolution) {
	if err := s.audit.Append(ctx, event); err != nil {
		s.logger.WithContext(ctx).Errorf("Failed to append conflict audit event for %s: %v", event.OpID, err)
	}
	s.metrics.RecordResolution(ctx, event.EventType)
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"op_id":      event.OpID,
		"entity":     event.Entity,
		"entity_id":  event.EntityID,
		"event_type": event.EventType,
	}).Info("Conflict resolved")
	s.events.Publish(TopicConflicts, WSTypeConflictResolved, ConflictEventPayload{
		OpID:       event.OpID,
		Entity:     string(event.Entity),
		EntityID:   event.EntityID,
		Reason:     event.Reason,
		Resolution: string(choice),
	})
}

// AuditLog returns every recorded resolution, oldest first
func (s *ConflictService) AuditLog(ctx context.Context) ([]*models.SyncConflictTelemetryEvent, error) {
	events, err := s.audit.List(ctx)
	return events, persistenceError("read audit log", err)
}
