package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/stores"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) subscriber() EventSubscriber {
	return func(e Event) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, e)
	}
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func TestSyncPublisherDeliversInOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	require.NoError(t, err)

	c := &collector{}
	ep.Subscribe(c.subscriber(), nil)

	for _, typ := range []string{EventTypeStepStarted, EventTypeStepDetail, EventTypeStepCompleted} {
		require.NoError(t, ep.Publish(Event{Type: typ, Level: EventLevelInfo}))
	}

	assert.Equal(t, []string{EventTypeStepStarted, EventTypeStepDetail, EventTypeStepCompleted}, c.types())
	assert.NotEmpty(t, c.events[0].ID)
	assert.False(t, c.events[0].Timestamp.IsZero())
}

func TestAsyncPublisherDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})
	require.NoError(t, err)

	c := &collector{}
	ep.Subscribe(c.subscriber(), FilterByLevel(EventLevelInfo))

	require.NoError(t, ep.Publish(Event{Type: "a", Level: EventLevelInfo}))
	require.NoError(t, ep.Publish(Event{Type: "b", Level: EventLevelDebug}))
	require.NoError(t, ep.Publish(Event{Type: "c", Level: EventLevelError}))
	require.NoError(t, ep.Shutdown(context.Background()))

	assert.Equal(t, []string{"a", "c"}, c.types())
	assert.Error(t, ep.Publish(Event{Type: "d"}))
}

func TestDisabledPublisherIgnoresEvents(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{})
	require.NoError(t, err)
	c := &collector{}
	ep.Subscribe(c.subscriber(), nil)

	require.NoError(t, ep.Publish(Event{Type: "a"}))
	require.NoError(t, ep.Shutdown(context.Background()))
	assert.Empty(t, c.types())
}

type fakeAppender struct {
	rows []*stores.Event
	err  error
}

func (f *fakeAppender) AppendEvent(_ context.Context, e *stores.Event) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, e)
	return nil
}

func TestPersistToConvertsEvents(t *testing.T) {
	store := &fakeAppender{}
	sub := PersistTo(store, zerolog.Nop())

	sub(Event{
		Type:        EventTypeStepFailed,
		Environment: "demo",
		Workflow:    "provision",
		RunID:       "run-1",
		Level:       EventLevelError,
		Message:     "timeout",
		Data:        map[string]any{"step": 3},
	})

	require.Len(t, store.rows, 1)
	row := store.rows[0]
	assert.Equal(t, stores.EventLevelError, row.Level)
	require.NotNil(t, row.RunID)
	assert.Equal(t, "run-1", *row.RunID)
	require.NotNil(t, row.Data)
	assert.JSONEq(t, `{"step":3}`, *row.Data)

	// Failures are swallowed.
	store.err = errors.New("disk full")
	sub(Event{Type: EventTypeStepDetail})
}
