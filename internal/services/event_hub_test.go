package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascentlog/syncclient/internal/observability"
)

func startHub(t *testing.T) *EventHub {
	t.Helper()
	hub := NewEventHub(observability.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func receive(t *testing.T, client *WSClient) WSMessage {
	t.Helper()
	select {
	case data, ok := <-client.Send:
		require.True(t, ok, "send channel closed")
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return WSMessage{}
	}
}

func TestEventHub(t *testing.T) {
	t.Run("publishes to topic subscribers only", func(t *testing.T) {
		hub := startHub(t)
		syncClient := hub.NewClient("sync", nil)
		otherClient := hub.NewClient("other", nil)
		hub.Register(syncClient)
		hub.Register(otherClient)
		hub.Subscribe(syncClient, TopicSync)
		hub.Subscribe(otherClient, TopicOutbox)
		assert.Equal(t, 2, hub.GetClientCount())

		hub.Publish(TopicSync, WSTypeSyncStarted, nil)
		msg := receive(t, syncClient)
		assert.Equal(t, WSTypeSyncStarted, msg.Type)
		assert.Equal(t, TopicSync, msg.Topic)
		assert.Empty(t, otherClient.Send)
	})

	t.Run("dropped client cannot resubscribe", func(t *testing.T) {
		hub := startHub(t)
		dropped := hub.NewClient("dropped", nil)
		hub.Register(dropped)
		hub.Unregister(dropped)
		require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

		hub.Subscribe(dropped, TopicSync)
		assert.Empty(t, dropped.Topics)
		assert.False(t, hub.Send(dropped, WSTypePong, nil))

		hub.Publish(TopicSync, WSTypeSyncStarted, nil)

		// The hub keeps serving after the publish
		live := hub.NewClient("live", nil)
		hub.Register(live)
		hub.Subscribe(live, TopicSync)
		hub.Publish(TopicSync, WSTypeSyncCompleted, nil)
		assert.Equal(t, WSTypeSyncCompleted, receive(t, live).Type)

		_, ok := <-dropped.Send
		assert.False(t, ok)
	})

	t.Run("send replies to one client", func(t *testing.T) {
		hub := startHub(t)
		client := hub.NewClient("c1", nil)
		hub.Register(client)

		require.True(t, hub.Send(client, WSTypePong, nil))
		assert.Equal(t, WSTypePong, receive(t, client).Type)
	})

	t.Run("register after stop closes the client", func(t *testing.T) {
		hub := NewEventHub(observability.NewNopLogger())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			hub.Run(ctx)
			close(done)
		}()
		cancel()
		<-done

		client := hub.NewClient("late", nil)
		hub.Register(client)
		_, ok := <-client.Send
		assert.False(t, ok)
		assert.Equal(t, 0, hub.GetClientCount())
	})
}
