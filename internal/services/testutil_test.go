package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
	"github.com/ascentlog/syncclient/internal/repository"
)

const testDeviceID = "device-a"

// fakeTransport acknowledges every push and serves an empty change stream
// unless a test overrides pushFn or pullFn
type fakeTransport struct {
	mu      sync.Mutex
	pushes  []*models.PushRequest
	cursors []*string
	pushFn  func(req *models.PushRequest) (*models.PushResponse, error)
	pullFn  func(cursor *string, limit int) (*models.PullResponse, error)
}

func (f *fakeTransport) Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error) {
	f.mu.Lock()
	f.pushes = append(f.pushes, req)
	fn := f.pushFn
	f.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	resp := &models.PushResponse{}
	for _, m := range req.Mutations {
		resp.AcknowledgedOpIDs = append(resp.AcknowledgedOpIDs, m.OpID)
	}
	return resp, nil
}

func (f *fakeTransport) Pull(ctx context.Context, cursor *string, limit int) (*models.PullResponse, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, cursor)
	fn := f.pullFn
	f.mu.Unlock()

	if fn != nil {
		return fn(cursor, limit)
	}
	return &models.PullResponse{}, nil
}

func (f *fakeTransport) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

type publishedEvent struct {
	topic   string
	msgType string
	payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(topic, msgType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{topic: topic, msgType: msgType, payload: payload})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.msgType)
	}
	return out
}

type testEnv struct {
	store       *repository.Store
	audit       *repository.ConflictAuditRepository
	transport   *fakeTransport
	events      *recordingPublisher
	outbox      *OutboxService
	push        *PushService
	pull        *PullService
	conflicts   *ConflictService
	bootstrap   *BootstrapService
	edits       *LocalEditService
	coordinator *SyncCoordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := repository.NewSQLiteDB(filepath.Join(dir, "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	kvDB, err := repository.NewKeyValueDB(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kvDB.Close() })

	logger := observability.NewNopLogger()
	store := repository.NewStore(db)
	audit := repository.NewConflictAuditRepository(repository.NewKeyValueRepository(kvDB))
	actor := NewStoreActor()
	transport := &fakeTransport{}
	events := &recordingPublisher{}

	env := &testEnv{
		store:     store,
		audit:     audit,
		transport: transport,
		events:    events,
	}
	env.outbox = NewOutboxService(store, actor, logger, nil)
	env.push = NewPushService(store, actor, transport, events, logger, nil, 3)
	env.pull = NewPullService(store, actor, transport, logger, nil, 100)
	env.conflicts = NewConflictService(store, actor, audit, events, logger, nil, testDeviceID, 5*time.Second)
	env.bootstrap = NewBootstrapService(store, actor, env.outbox, events, logger)
	env.edits = NewLocalEditService(store, actor, env.outbox, logger)
	env.coordinator = NewSyncCoordinator(store, actor, env.push, env.pull, env.bootstrap, env.conflicts, events, logger, SyncOptions{
		DeviceID:             testDeviceID,
		BatchSize:            10,
		MaxPushBatches:       5,
		MaxRetryDelaySeconds: 60,
		AutoResolveLowRisk:   true,
	})
	return env
}

func (e *testEnv) enableSync(t *testing.T, userID string) {
	t.Helper()
	_, err := e.bootstrap.SetSyncEnabled(context.Background(), true, userID)
	require.NoError(t, err)
}

func (e *testEnv) enqueue(t *testing.T, req models.EnqueueRequest) string {
	t.Helper()
	opID, err := e.outbox.EnqueueMutation(context.Background(), req)
	require.NoError(t, err)
	return opID
}

func (e *testEnv) pending(t *testing.T) []*models.PendingMutation {
	t.Helper()
	all, err := e.outbox.FetchPendingMutations(context.Background(), 1000)
	require.NoError(t, err)
	return all
}

func upsertReq(entity models.EntityType, id string, payload *models.Payload) models.EnqueueRequest {
	return models.EnqueueRequest{
		Entity:       entity,
		EntityID:     id,
		MutationType: models.MutationUpsert,
		Payload:      payload,
	}
}

func deleteReq(entity models.EntityType, id string) models.EnqueueRequest {
	return models.EnqueueRequest{
		Entity:       entity,
		EntityID:     id,
		MutationType: models.MutationDelete,
	}
}

func int64Ptr(v int64) *int64 {
	return &v
}

func stringPtr(s string) *string {
	return &s
}
