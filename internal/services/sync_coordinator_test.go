package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascentlog/syncclient/internal/models"
)

func TestSyncCoordinator_SyncNow(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip leaves the server version locally and an empty outbox", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		_, err := env.edits.SaveRow(ctx, models.EntityPlans, "p1", models.NewPayload().Set("name", models.StringValue("Base")))
		require.NoError(t, err)

		env.transport.pullFn = func(cursor *string, limit int) (*models.PullResponse, error) {
			return &models.PullResponse{
				Changes: []models.PullChange{upsertChange(models.EntityPlans, "p1", 1, models.Doc{
					"name": models.StringValue("Base"),
				})},
				NextCursor: stringPtr("c1"),
			}, nil
		}

		report, err := env.coordinator.SyncNow(ctx)
		require.NoError(t, err)
		assert.True(t, report.Bootstrapped)
		assert.Equal(t, 1, report.Push.Acknowledged)
		assert.Equal(t, 1, report.Pull.Applied)
		assert.Empty(t, env.pending(t))

		row, err := env.edits.GetRow(ctx, models.EntityPlans, "p1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), row.SyncVersion)
		assert.Equal(t, "Base", row.Fields.String("name"))

		status, err := env.coordinator.Status(ctx)
		require.NoError(t, err)
		assert.NotNil(t, status.LastSuccessfulSyncAt)
		assert.Zero(t, status.PendingCount)
		assert.Equal(t, "c1", *status.LastCursor)
		assert.Equal(t, testDeviceID, status.DeviceID)

		types := env.events.types()
		assert.Contains(t, types, WSTypeSyncStarted)
		assert.Contains(t, types, WSTypeSyncCompleted)
	})

	t.Run("transient failure schedules a retry", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		env.transport.pullFn = func(cursor *string, limit int) (*models.PullResponse, error) {
			return nil, &TransportError{Op: "pull", StatusCode: 503}
		}

		before := time.Now().UTC()
		_, err := env.coordinator.SyncNow(ctx)
		require.Error(t, err)

		status, err := env.coordinator.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, status.ConsecutiveFailures)
		require.NotNil(t, status.NextAttemptAt)
		assert.True(t, status.NextAttemptAt.After(before))
		assert.Contains(t, env.events.types(), WSTypeSyncFailed)

		report, ran, err := env.coordinator.SyncIfDue(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
		assert.Nil(t, report)
	})

	t.Run("permanent failure does not schedule a retry", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		env.transport.pullFn = func(cursor *string, limit int) (*models.PullResponse, error) {
			return nil, &TransportError{Op: "pull", StatusCode: 401}
		}

		_, err := env.coordinator.SyncNow(ctx)
		require.Error(t, err)

		status, err := env.coordinator.Status(ctx)
		require.NoError(t, err)
		assert.Zero(t, status.ConsecutiveFailures)
		assert.Nil(t, status.NextAttemptAt)
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		state, err := env.store.State.Get(ctx)
		require.NoError(t, err)
		past := time.Now().UTC().Add(-time.Minute)
		state.ConsecutiveFailures = 3
		state.NextAttemptAt = &past
		require.NoError(t, env.store.State.Save(ctx, state))

		_, ran, err := env.coordinator.SyncIfDue(ctx)
		require.NoError(t, err)
		assert.True(t, ran)

		status, err := env.coordinator.Status(ctx)
		require.NoError(t, err)
		assert.Zero(t, status.ConsecutiveFailures)
		assert.Nil(t, status.NextAttemptAt)
	})

	t.Run("auto-resolves low risk conflicts and pushes the rebased edit", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-a")
		_, err := env.edits.SaveRow(ctx, models.EntityPlans, "p1", models.NewPayload().Set("name", models.StringValue("mine")))
		require.NoError(t, err)

		calls := 0
		env.transport.pushFn = func(req *models.PushRequest) (*models.PushResponse, error) {
			calls++
			if calls == 1 {
				return &models.PushResponse{Conflicts: []models.PushConflict{{
					OpID:          req.Mutations[0].OpID,
					Entity:        "plans",
					EntityID:      "p1",
					ServerVersion: int64Ptr(2),
					ServerDoc: models.Doc{
						"name":              models.StringValue("theirs"),
						"updated_at_client": models.StringValue("2000-01-01T00:00:00.000Z"),
					},
				}}}, nil
			}
			assert.Equal(t, int64(2), req.Mutations[0].BaseVersion)
			return &models.PushResponse{AcknowledgedOpIDs: []string{req.Mutations[0].OpID}}, nil
		}

		report, err := env.coordinator.SyncNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.AutoResolved)
		assert.Equal(t, 1, report.Push.Conflicts)
		assert.Equal(t, 1, report.Push.Acknowledged)
		assert.Empty(t, env.pending(t))
	})

	t.Run("refuses when sync is disabled", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.coordinator.SyncNow(ctx)
		assert.ErrorIs(t, err, models.ErrNoSyncState)

		env.enableSync(t, "user-a")
		_, err = env.bootstrap.SetSyncEnabled(ctx, false, "")
		require.NoError(t, err)
		_, err = env.coordinator.SyncNow(ctx)
		assert.ErrorIs(t, err, models.ErrSyncDisabled)

		_, ran, err := env.coordinator.SyncIfDue(ctx)
		require.NoError(t, err)
		assert.False(t, ran)
	})
}
