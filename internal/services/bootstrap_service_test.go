package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/repository"
)

func TestBootstrapService_SetSyncEnabled(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, env *testEnv) {
		t.Helper()
		env.enableSync(t, "user-a")
		env.enqueue(t, upsertReq(models.EntityPlans, "p1", models.NewPayload()))
		require.NoError(t, env.store.State.SetLastCursor(ctx, "cursor-a", time.Now()))
	}

	t.Run("switching account clears cursor and outbox", func(t *testing.T) {
		env := newTestEnv(t)
		seed(t, env)
		require.NoError(t, env.store.Entities.Save(ctx, &models.SyncedRow{
			Entity:          models.EntityPlans,
			ID:              "p1",
			SyncVersion:     6,
			UpdatedAtClient: time.Now().UTC(),
			Status:          models.RowActive,
			Fields:          models.Doc{},
		}))

		switched, err := env.bootstrap.SetSyncEnabled(ctx, true, "user-b")
		require.NoError(t, err)
		assert.True(t, switched)

		state, err := env.store.State.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "user-b", state.UserID)
		assert.Nil(t, state.LastCursor)
		assert.False(t, state.DidBootstrapLocalSnapshot)
		assert.Empty(t, env.pending(t))

		row, err := env.edits.GetRow(ctx, models.EntityPlans, "p1")
		require.NoError(t, err)
		assert.Zero(t, row.SyncVersion)
		assert.Contains(t, env.events.types(), WSTypeAccountSwitched)
	})

	t.Run("re-enabling the same account keeps everything", func(t *testing.T) {
		env := newTestEnv(t)
		seed(t, env)

		switched, err := env.bootstrap.SetSyncEnabled(ctx, true, "user-a")
		require.NoError(t, err)
		assert.False(t, switched)

		state, err := env.store.State.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "cursor-a", *state.LastCursor)
		assert.Len(t, env.pending(t), 1)
	})

	t.Run("disable keeps the binding", func(t *testing.T) {
		env := newTestEnv(t)
		seed(t, env)

		_, err := env.bootstrap.SetSyncEnabled(ctx, false, "")
		require.NoError(t, err)

		state, err := env.store.State.Get(ctx)
		require.NoError(t, err)
		assert.False(t, state.IsSyncEnabled)
		assert.Equal(t, "user-a", state.UserID)
		assert.Len(t, env.pending(t), 1)
	})

	t.Run("rejects an empty user id", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.bootstrap.SetSyncEnabled(ctx, true, "  ")
		assert.ErrorIs(t, err, models.ErrEmptyUserID)
	})
}

func TestBootstrapService_EnqueueLocalSnapshotIfNeeded(t *testing.T) {
	ctx := context.Background()

	saveRow := func(t *testing.T, env *testEnv, entity models.EntityType, id string, status models.RowStatus, updatedAt time.Time, fields models.Doc) {
		t.Helper()
		require.NoError(t, env.store.Entities.Save(ctx, &models.SyncedRow{
			Entity:          entity,
			ID:              id,
			UpdatedAtClient: updatedAt,
			Status:          status,
			Fields:          fields,
		}))
	}

	t.Run("queues active rows as upserts and tombstones as deletes", func(t *testing.T) {
		env := newTestEnv(t)
		now := time.Now().UTC()
		saveRow(t, env, models.EntityActivities, "a1", models.RowActive, now, models.Doc{"name": models.StringValue("Hangboard")})
		saveRow(t, env, models.EntityPlans, "p1", models.RowTombstoned, now, models.Doc{})
		saveRow(t, env, models.EntityPlanDays, "d1", models.RowTombstoned, now, models.Doc{"plan_id": models.StringValue("p1")})
		saveRow(t, env, models.EntityPlanDays, "d2", models.RowTombstoned, now, models.Doc{"plan_id": models.StringValue("p1")})
		_, err := env.edits.LinkExercise(ctx, "combo-1", "ex-1")
		require.NoError(t, err)
		env.enableSync(t, "user-a")

		ran, err := env.bootstrap.EnqueueLocalSnapshotIfNeeded(ctx)
		require.NoError(t, err)
		assert.True(t, ran)

		byEntity := map[string]models.MutationType{}
		for _, m := range env.pending(t) {
			byEntity[string(m.Entity)+"/"+m.EntityID] = m.MutationType
		}
		linkID := models.BoulderCombinationExerciseLinkID("combo-1", "ex-1")
		assert.Equal(t, map[string]models.MutationType{
			"activities/a1": models.MutationUpsert,
			"plans/p1":      models.MutationDelete,
			"plan_days/d1":  models.MutationDelete,
			"plan_days/d2":  models.MutationDelete,
			"boulder_combination_exercises/" + linkID: models.MutationUpsert,
		}, byEntity)

		ran, err = env.bootstrap.EnqueueLocalSnapshotIfNeeded(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
	})

	t.Run("tombstones older than the sync watermark are not queued", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		watermark := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		state, err := env.store.State.Get(ctx)
		require.NoError(t, err)
		state.LastSuccessfulSyncAt = &watermark
		require.NoError(t, env.store.State.Save(ctx, state))

		saveRow(t, env, models.EntityPlans, "old", models.RowTombstoned, watermark.Add(-time.Hour), models.Doc{})
		saveRow(t, env, models.EntityPlans, "edge", models.RowTombstoned, watermark, models.Doc{})
		saveRow(t, env, models.EntityPlans, "new", models.RowTombstoned, watermark.Add(time.Hour), models.Doc{})

		_, err = env.bootstrap.EnqueueLocalSnapshotIfNeeded(ctx)
		require.NoError(t, err)

		pending := env.pending(t)
		require.Len(t, pending, 1)
		assert.Equal(t, "new", pending[0].EntityID)
		assert.True(t, pending[0].IsDelete())
	})

	t.Run("snapshot uses the row's sync version as base", func(t *testing.T) {
		env := newTestEnv(t)
		require.NoError(t, env.store.Entities.Save(ctx, &models.SyncedRow{
			Entity:          models.EntityPlans,
			ID:              "p1",
			SyncVersion:     3,
			UpdatedAtClient: time.Now().UTC(),
			Status:          models.RowActive,
			Fields:          models.Doc{"name": models.StringValue("x")},
		}))
		env.enableSync(t, "user-a")

		_, err := env.bootstrap.EnqueueLocalSnapshotIfNeeded(ctx)
		require.NoError(t, err)
		pending := env.pending(t)
		require.Len(t, pending, 1)
		assert.Equal(t, int64(3), pending[0].BaseVersion)
		assert.Equal(t, []string{"id", "name"}, pending[0].Payload.Keys())
	})

	t.Run("requires sync to be enabled", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.bootstrap.EnqueueLocalSnapshotIfNeeded(ctx)
		assert.ErrorIs(t, err, models.ErrSyncDisabled)

		rows, err := env.store.Entities.List(ctx, repository.ScopeAll, models.EntityPlans)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestLocalEditService(t *testing.T) {
	ctx := context.Background()

	t.Run("edits before sync is bound are not queued", func(t *testing.T) {
		env := newTestEnv(t)
		opID, err := env.edits.SaveRow(ctx, models.EntityPlans, "p1", models.NewPayload().Set("name", models.StringValue("a")))
		require.NoError(t, err)
		assert.Empty(t, opID)
		assert.Empty(t, env.pending(t))
	})

	t.Run("save then delete leaves a single delete", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		_, err := env.edits.SaveRow(ctx, models.EntityPlans, "p1", models.NewPayload().Set("name", models.StringValue("a")))
		require.NoError(t, err)
		_, err = env.edits.DeleteRow(ctx, models.EntityPlans, "p1")
		require.NoError(t, err)

		pending := env.pending(t)
		require.Len(t, pending, 1)
		assert.True(t, pending[0].IsDelete())
		assert.Zero(t, pending[0].BaseVersion)
	})

	t.Run("saving a deleted row brings it back", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		_, err := env.edits.SaveRow(ctx, models.EntityPlans, "p1", models.NewPayload())
		require.NoError(t, err)
		_, err = env.edits.DeleteRow(ctx, models.EntityPlans, "p1")
		require.NoError(t, err)
		_, err = env.edits.SaveRow(ctx, models.EntityPlans, "p1", models.NewPayload().Set("name", models.StringValue("b")))
		require.NoError(t, err)

		pending := env.pending(t)
		require.Len(t, pending, 1)
		assert.Equal(t, models.MutationUpsert, pending[0].MutationType)

		row, err := env.edits.GetRow(ctx, models.EntityPlans, "p1")
		require.NoError(t, err)
		require.NotNil(t, row)
	})

	t.Run("unlink queues a delete under the link id", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		id, err := env.edits.LinkExercise(ctx, "Combo-1", "EX-1")
		require.NoError(t, err)

		found, err := env.edits.UnlinkExercise(ctx, "combo-1", "ex-1")
		require.NoError(t, err)
		assert.True(t, found)

		pending := env.pending(t)
		require.Len(t, pending, 1)
		assert.Equal(t, id, pending[0].EntityID)
		assert.True(t, pending[0].IsDelete())
	})

	t.Run("rejects direct junction edits and missing rows", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.edits.SaveRow(ctx, models.EntityBoulderCombinationExercises, "x", models.NewPayload())
		assert.ErrorIs(t, err, models.ErrJunctionEntity)

		_, err = env.edits.DeleteRow(ctx, models.EntityPlans, "missing")
		assert.ErrorIs(t, err, models.ErrRowNotFound)
	})
}
