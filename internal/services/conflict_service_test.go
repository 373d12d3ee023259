package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/repository"
)

func TestShouldKeepMineLWW(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("newer side wins", func(t *testing.T) {
		assert.True(t, ShouldKeepMineLWW(t0.Add(time.Second), t0, "a", "b"))
		assert.False(t, ShouldKeepMineLWW(t0, t0.Add(time.Second), "b", "a"))
	})

	t.Run("compares at millisecond precision", func(t *testing.T) {
		assert.False(t, ShouldKeepMineLWW(t0.Add(400*time.Microsecond), t0, "a", "b"))
	})

	t.Run("tie breaker is symmetric", func(t *testing.T) {
		pairs := [][2]string{
			{"device-a|op-1", "device-b|op-1"},
			{"device-a|op-2", "device-a|op-1"},
			{"|", "x|y"},
		}
		for _, p := range pairs {
			assert.NotEqual(t, ShouldKeepMineLWW(t0, t0, p[0], p[1]), ShouldKeepMineLWW(t0, t0, p[1], p[0]))
		}
	})

	t.Run("identical tie breakers keep the server", func(t *testing.T) {
		assert.False(t, ShouldKeepMineLWW(t0, t0, "same", "same"))
	})
}

func TestIsHighRiskConflict(t *testing.T) {
	upsert := func(p *models.Payload) *models.PendingMutation {
		return &models.PendingMutation{MutationType: models.MutationUpsert, Payload: p}
	}

	tests := []struct {
		name      string
		mutation  *models.PendingMutation
		serverDoc models.Doc
		want      bool
	}{
		{
			name:     "delete is always high risk",
			mutation: &models.PendingMutation{MutationType: models.MutationDelete, Payload: models.NewPayload()},
			want:     true,
		},
		{
			name:     "long text in any field",
			mutation: upsert(models.NewPayload().Set("title", models.StringValue(strings.Repeat("x", 200)))),
			want:     true,
		},
		{
			name:     "just under the long text threshold",
			mutation: upsert(models.NewPayload().Set("title", models.StringValue(strings.Repeat("x", 199)))),
			want:     false,
		},
		{
			name:     "notes field",
			mutation: upsert(models.NewPayload().Set("notes", models.StringValue("short"))),
			want:     true,
		},
		{
			name:      "overwrites long server text",
			mutation:  upsert(models.NewPayload().Set("title", models.StringValue("short"))),
			serverDoc: models.Doc{"title": models.StringValue(strings.Repeat("é", 250))},
			want:      true,
		},
		{
			name:     "short plain fields",
			mutation: upsert(models.NewPayload().Set("name", models.StringValue("a")).Set("grade", models.IntValue(6))),
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHighRiskConflict(tt.mutation, tt.serverDoc))
		})
	}
}

func TestShouldPreferServerTombstone(t *testing.T) {
	assert.True(t, ShouldPreferServerTombstone(models.Doc{"is_deleted": models.BoolValue(true)}))
	assert.True(t, ShouldPreferServerTombstone(models.Doc{"is_deleted": models.IntValue(1)}))
	assert.False(t, ShouldPreferServerTombstone(models.Doc{"is_deleted": models.BoolValue(false)}))
	assert.False(t, ShouldPreferServerTombstone(models.Doc{}))
	assert.False(t, ShouldPreferServerTombstone(nil))
}

func TestIsLocalClearlyNewer(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, IsLocalClearlyNewer(t0.Add(10*time.Second), t0, 5*time.Second))
	assert.False(t, IsLocalClearlyNewer(t0.Add(5*time.Second), t0, 5*time.Second))
	assert.False(t, IsLocalClearlyNewer(t0, t0.Add(time.Minute), 0))
}

// seedConflict queues a mutation and records a conflict for it
func seedConflict(t *testing.T, env *testEnv, req models.EnqueueRequest, serverVersion *int64, serverDoc models.Doc) string {
	t.Helper()
	ctx := context.Background()
	opID := env.enqueue(t, req)
	_, _, err := env.store.Outbox.IncrementAttempts(ctx, opID)
	require.NoError(t, err)
	require.NoError(t, env.store.Conflicts.Save(ctx, &models.SyncPushConflict{
		OpID:          opID,
		Entity:        req.Entity,
		EntityID:      req.EntityID,
		Reason:        models.ConflictReasonVersionMismatch,
		ServerVersion: serverVersion,
		ServerDoc:     serverDoc,
		DetectedAt:    time.Now().UTC(),
	}))
	return opID
}

func TestConflictService_ResolveConflictKeepMine(t *testing.T) {
	ctx := context.Background()

	t.Run("rebases onto the server version", func(t *testing.T) {
		env := newTestEnv(t)
		opID := seedConflict(t, env, upsertReq(models.EntityPlans, "p1", models.NewPayload()), int64Ptr(9), models.Doc{})

		ok, err := env.conflicts.ResolveConflictKeepMine(ctx, opID, int64Ptr(9))
		require.NoError(t, err)
		assert.True(t, ok)

		m, err := env.store.Outbox.GetByOpID(ctx, opID)
		require.NoError(t, err)
		assert.Equal(t, int64(9), m.BaseVersion)
		assert.Zero(t, m.Attempts)

		c, err := env.store.Conflicts.Get(ctx, opID)
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("null server version rebases to zero", func(t *testing.T) {
		env := newTestEnv(t)
		req := upsertReq(models.EntityPlans, "p1", models.NewPayload())
		req.BaseVersion = 4
		opID := seedConflict(t, env, req, nil, nil)

		ok, err := env.conflicts.ResolveConflictKeepMine(ctx, opID, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		m, err := env.store.Outbox.GetByOpID(ctx, opID)
		require.NoError(t, err)
		assert.Zero(t, m.BaseVersion)
	})

	t.Run("missing mutation reports false", func(t *testing.T) {
		env := newTestEnv(t)
		ok, err := env.conflicts.ResolveConflictKeepMine(ctx, "nope", int64Ptr(1))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("appends an audit event", func(t *testing.T) {
		env := newTestEnv(t)
		opID := seedConflict(t, env, upsertReq(models.EntityPlans, "p1", models.NewPayload()), int64Ptr(2), models.Doc{})

		_, err := env.conflicts.ResolveConflictKeepMine(ctx, opID, int64Ptr(2))
		require.NoError(t, err)

		events, err := env.conflicts.AuditLog(ctx)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.EventTypeKeepMine, events[0].EventType)
		assert.Equal(t, opID, events[0].OpID)
		assert.Equal(t, models.EntityPlans, events[0].Entity)
		assert.Equal(t, models.ConflictReasonVersionMismatch, events[0].Reason)
	})
}

func TestConflictService_ResolveConflictKeepServer(t *testing.T) {
	ctx := context.Background()

	t.Run("discards the mutation and applies the server doc", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		_, err := env.edits.SaveRow(ctx, models.EntityPlans, "p1", models.NewPayload().Set("name", models.StringValue("mine")))
		require.NoError(t, err)
		opID := env.pending(t)[0].OpID
		require.NoError(t, env.store.Conflicts.Save(ctx, &models.SyncPushConflict{
			OpID:          opID,
			Entity:        models.EntityPlans,
			EntityID:      "p1",
			Reason:        models.ConflictReasonVersionMismatch,
			ServerVersion: int64Ptr(7),
			ServerDoc:     models.Doc{"id": models.StringValue("p1"), "name": models.StringValue("theirs")},
			DetectedAt:    time.Now().UTC(),
		}))

		ok, err := env.conflicts.ResolveConflictKeepServer(ctx, opID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, env.pending(t))

		row, err := env.edits.GetRow(ctx, models.EntityPlans, "p1")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, int64(7), row.SyncVersion)
		assert.Equal(t, "theirs", row.Fields.String("name"))
	})

	t.Run("tombstones the local row when the server has none", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		_, err := env.edits.SaveRow(ctx, models.EntityPlans, "p1", models.NewPayload().Set("name", models.StringValue("mine")))
		require.NoError(t, err)
		opID := env.pending(t)[0].OpID
		require.NoError(t, env.store.Conflicts.Save(ctx, &models.SyncPushConflict{
			OpID:       opID,
			Entity:     models.EntityPlans,
			EntityID:   "p1",
			Reason:     models.ConflictReasonVersionMismatch,
			DetectedAt: time.Now().UTC(),
		}))

		ok, err := env.conflicts.ResolveConflictKeepServer(ctx, opID)
		require.NoError(t, err)
		assert.True(t, ok)

		row, err := env.store.Entities.Get(ctx, repository.ScopeAll, models.EntityPlans, "p1")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.True(t, row.IsTombstoned())
	})
}

func TestConflictService_AutoResolveLowRisk(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	env := newTestEnv(t)

	newer := upsertReq(models.EntityPlans, "p1", models.NewPayload().Set("name", models.StringValue("mine")))
	newer.UpdatedAtClient = t0.Add(time.Minute)
	keepMine := seedConflict(t, env, newer, int64Ptr(3), models.Doc{
		"name":              models.StringValue("theirs"),
		"updated_at_client": models.StringValue("2024-05-01T10:00:00.000Z"),
	})

	older := upsertReq(models.EntityPlans, "p2", models.NewPayload().Set("name", models.StringValue("mine")))
	older.UpdatedAtClient = t0
	keepServer := seedConflict(t, env, older, int64Ptr(3), models.Doc{
		"name":              models.StringValue("theirs"),
		"updated_at_client": models.StringValue("2024-05-01T10:01:00.000Z"),
	})

	tombstoned := seedConflict(t, env, upsertReq(models.EntityPlans, "p3", models.NewPayload().Set("name", models.StringValue("x"))), int64Ptr(5), models.Doc{
		"is_deleted": models.BoolValue(true),
	})

	risky := seedConflict(t, env, upsertReq(models.EntityPlans, "p4", models.NewPayload().Set("notes", models.StringValue("x"))), int64Ptr(2), models.Doc{
		"updated_at_client": models.StringValue("2020-01-01T00:00:00.000Z"),
	})

	n, err := env.conflicts.AutoResolveLowRisk(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	m, err := env.store.Outbox.GetByOpID(ctx, keepMine)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(3), m.BaseVersion)

	for _, opID := range []string{keepServer, tombstoned} {
		m, err := env.store.Outbox.GetByOpID(ctx, opID)
		require.NoError(t, err)
		assert.Nil(t, m)
	}

	c, err := env.store.Conflicts.Get(ctx, risky)
	require.NoError(t, err)
	assert.NotNil(t, c)

	events, err := env.conflicts.AuditLog(ctx)
	require.NoError(t, err)
	types := map[string]int{}
	for _, e := range events {
		types[e.EventType]++
	}
	assert.Equal(t, map[string]int{models.EventTypeAutoKeepMine: 1, models.EventTypeAutoKeepServer: 2}, types)
}

func TestConflictService_ResolveAll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedConflict(t, env, deleteReq(models.EntityPlans, "p1"), int64Ptr(2), models.Doc{})
	seedConflict(t, env, upsertReq(models.EntityPlans, "p2", models.NewPayload()), nil, nil)

	resp, err := env.conflicts.ResolveAll(ctx, models.ResolutionKeepMine)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Resolved)

	n, err := env.store.Conflicts.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, env.pending(t), 2)
}

func TestConflictService_Preview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	opID := seedConflict(t, env,
		upsertReq(models.EntityPlans, "p1", models.NewPayload().Set("name", models.StringValue("mine"))),
		int64Ptr(3),
		models.Doc{"name": models.StringValue("theirs"), "grade": models.IntValue(5)},
	)

	preview, err := env.conflicts.Preview(ctx, opID)
	require.NoError(t, err)
	assert.Equal(t, []models.PreviewRow{{Key: "grade", Value: "5"}, {Key: "name", Value: "theirs"}}, preview.ServerRows)
	assert.Equal(t, []models.PreviewRow{{Key: "name", Value: "mine"}}, preview.LocalRows)
	assert.Contains(t, preview.Diff, "-name: theirs")
	assert.Contains(t, preview.Diff, "+name: mine")
	assert.False(t, preview.HighRisk)
	assert.Equal(t, "upsert", preview.MutationType)

	_, err = env.conflicts.Preview(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrConflictNotFound)

	views, err := env.conflicts.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, opID, views[0].OpID)
}
