package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/autoflow/pkg/channels/gochannel"
	"github.com/dukex/autoflow/pkg/eventbus"
	"github.com/dukex/autoflow/pkg/events"
	"github.com/dukex/autoflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	defer func() { _ = bus.Close() }()

	received := make(chan *events.NodeExecution, 1)

	require.NoError(t, bus.Handle(events.NodeExecutionFinishedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.NodeExecution)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	event := events.NewNodeExecution(models.NodeEvent{
		NodeID:       "tool",
		AutomationID: "a1",
		Status:       models.ExecutionStatusCompleted,
		Outputs:      map[string]any{"ok": true},
		Timestamp:    time.Now().UTC(),
	})

	require.NoError(t, bus.Publish(ctx, "a1", event))

	select {
	case got := <-received:
		assert.Equal(t, "tool", got.Node.NodeID)
		assert.Equal(t, "a1", got.AutomationID)
		assert.Equal(t, true, got.Node.Outputs["ok"])
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	defer func() { _ = bus.Close() }()

	completed := make(chan *events.AutomationExecutionCompleted, 1)

	require.NoError(t, bus.Handle(events.AutomationExecutionCompletedEvent, func(_ context.Context, event any) error {
		completed <- event.(*events.AutomationExecutionCompleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "a1", events.AutomationExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.AutomationExecutionStartedEvent, "a1"),
	}))
	require.NoError(t, bus.Publish(ctx, "a1", events.AutomationExecutionCompleted{
		BaseEvent:     events.NewBaseEvent(events.AutomationExecutionCompletedEvent, "a1"),
		ExecutedNodes: []string{"trigger"},
	}))

	select {
	case got := <-completed:
		assert.Equal(t, []string{"trigger"}, got.ExecutedNodes)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}
