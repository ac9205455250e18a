package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardvault/pkg/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) delivered() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestPublisher_SyncEmit(t *testing.T) {
	store := NewInMemoryStore()
	sink := &recordingSink{}
	pub := NewPublisher(store, WithSink(sink))
	defer pub.Close()

	err := pub.Emit(context.Background(), Event{
		Action:  ActionRecordCreated,
		TokenID: 1,
		Actor:   "0x00000000000000000000000000000000000000a1",
	})
	require.NoError(t, err)

	persisted, err := pub.ListByToken(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.NotEmpty(t, persisted[0].ID)
	assert.False(t, persisted[0].Timestamp.IsZero())
	assert.Equal(t, ActionRecordCreated, persisted[0].Action)

	require.Len(t, sink.delivered(), 1)
}

func TestPublisher_SinkFailureDoesNotSurface(t *testing.T) {
	store := NewInMemoryStore()
	sink := &recordingSink{err: errors.New("broker down")}
	pub := NewPublisher(store, WithSink(sink))
	defer pub.Close()

	err := pub.Emit(context.Background(), Event{Action: ActionListed, TokenID: 2})
	require.NoError(t, err)

	// The event is persisted even though the sink rejected it.
	persisted, err := pub.ListByToken(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(64))

	for i := 1; i <= 50; i++ {
		require.NoError(t, pub.Emit(context.Background(), Event{
			Action:  ActionPurchased,
			TokenID: domain.TokenID(3),
		}))
	}
	pub.Close()

	persisted, err := store.ListByToken(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, persisted, 50)
}

func TestPublisher_FullBufferFallsBackToSync(t *testing.T) {
	store := NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(0))
	defer pub.Close()

	// Capacity zero means every emit takes the synchronous path.
	require.NoError(t, pub.Emit(context.Background(), Event{Action: ActionGradeSet, TokenID: 4}))

	persisted, err := store.ListByToken(context.Background(), 4)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestInMemoryStore_ListByToken(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, Event{ID: "a", Action: ActionListed, TokenID: 1}))
	require.NoError(t, store.Append(ctx, Event{ID: "b", Action: ActionUnlisted, TokenID: 1}))
	require.NoError(t, store.Append(ctx, Event{ID: "c", Action: ActionListed, TokenID: 2}))

	forOne, err := store.ListByToken(ctx, 1)
	require.NoError(t, err)
	require.Len(t, forOne, 2)
	assert.Equal(t, "a", forOne[0].ID)
	assert.Equal(t, "b", forOne[1].ID)
}
