package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitSyncDeliversToAllHandlers(t *testing.T) {
	eb := NewEventBus()
	var calls atomic.Int32

	for _, name := range []string{"a", "b", "c"} {
		eb.Subscribe(EventMatchCompleted, name, func(ctx context.Context, ev Event) error {
			calls.Add(1)
			return nil
		})
	}
	require.Equal(t, 3, eb.HandlerCount(EventMatchCompleted))

	err := eb.EmitSync(context.Background(), Event{Type: EventMatchCompleted, Source: "test"})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestEmitSyncReturnsFirstError(t *testing.T) {
	eb := NewEventBus()
	boom := errors.New("boom")
	eb.Subscribe(EventShutdown, "failing", func(ctx context.Context, ev Event) error {
		return boom
	})

	require.ErrorIs(t, eb.EmitSync(context.Background(), Event{Type: EventShutdown}), boom)
}

func TestEmitSurvivesPanickingHandler(t *testing.T) {
	eb := NewEventBus()
	eb.Subscribe(EventMatchStarted, "panicky", func(ctx context.Context, ev Event) error {
		panic("handler bug")
	})

	eb.Emit(context.Background(), Event{Type: EventMatchStarted})
	eb.Stop() // waits for the in-flight handler; must not propagate the panic
}

func TestUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	eb.Subscribe(EventQueueJoined, "x", func(ctx context.Context, ev Event) error { return nil })
	eb.Subscribe(EventQueueJoined, "y", func(ctx context.Context, ev Event) error { return nil })

	eb.Unsubscribe(EventQueueJoined, "x")
	require.Equal(t, 1, eb.HandlerCount(EventQueueJoined))
}

func TestEmitAfterStopIsNoOp(t *testing.T) {
	eb := NewEventBus()
	var calls atomic.Int32
	eb.Subscribe(EventPlayerLoggedIn, "h", func(ctx context.Context, ev Event) error {
		calls.Add(1)
		return nil
	})

	eb.Stop()
	eb.Emit(context.Background(), Event{Type: EventPlayerLoggedIn})
	require.Zero(t, calls.Load())
}
