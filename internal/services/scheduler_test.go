package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascentlog/syncclient/internal/models"
	"github.com/ascentlog/syncclient/internal/observability"
)

func TestSyncScheduler(t *testing.T) {
	ctx := context.Background()
	logger := observability.NewNopLogger()

	t.Run("empty schedule disables the runner", func(t *testing.T) {
		env := newTestEnv(t)
		s := NewSyncScheduler("", env.coordinator, logger)
		require.NoError(t, s.Start(ctx))
		s.Stop()
	})

	t.Run("invalid schedule is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		s := NewSyncScheduler("every now and then", env.coordinator, logger)
		assert.Error(t, s.Start(ctx))
	})

	t.Run("trigger runs a due cycle", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-1")
		env.enqueue(t, upsertReq(models.EntityPlans, "p1", models.NewPayload()))

		s := NewSyncScheduler("@every 1h", env.coordinator, logger)
		require.NoError(t, s.Start(ctx))
		s.trigger()
		s.Stop()

		assert.Equal(t, 1, env.transport.pushCount())
		assert.Empty(t, env.pending(t))
	})

	t.Run("trigger honors the retry schedule", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-1")
		env.enqueue(t, upsertReq(models.EntityPlans, "p1", models.NewPayload()))

		state, err := env.store.State.Get(ctx)
		require.NoError(t, err)
		next := time.Now().UTC().Add(time.Hour)
		state.NextAttemptAt = &next
		require.NoError(t, env.store.State.Save(ctx, state))

		s := NewSyncScheduler("@every 1h", env.coordinator, logger)
		require.NoError(t, s.Start(ctx))
		s.trigger()
		s.Stop()

		assert.Zero(t, env.transport.pushCount())
	})

	t.Run("trigger after stop does nothing", func(t *testing.T) {
		env := newTestEnv(t)
		env.enableSync(t, "user-1")
		env.enqueue(t, upsertReq(models.EntityPlans, "p1", models.NewPayload()))

		s := NewSyncScheduler("@every 1h", env.coordinator, logger)
		require.NoError(t, s.Start(ctx))
		s.Stop()
		s.trigger()

		assert.Zero(t, env.transport.pushCount())
	})
}
