package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"coderoom/internal/services/rooms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedStore holds every room read until release is closed and fails reads
// whose context is already done.
type gatedStore struct {
	*memStore
	release chan struct{}
}

func (s *gatedStore) Get(ctx context.Context, id string) (*rooms.Room, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.memStore.Get(ctx, id)
}

func newGatedStore() *gatedStore {
	store := &gatedStore{memStore: newMemStore(), release: make(chan struct{})}
	store.put(openRoom())
	return store
}

func TestEnsureActiveSharesHydration(t *testing.T) {
	store := newGatedStore()
	reg := NewRegistry(store, func(string) Document { return NewTextDocument() })

	const callers = 8
	var wg sync.WaitGroup
	got := make([]*ActiveRoom, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ar, err := reg.EnsureActive(context.Background(), roomR, nil)
			assert.NoError(t, err)
			got[i] = ar
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	require.NotNil(t, got[0])
	for _, ar := range got {
		assert.Same(t, got[0], ar)
	}
	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, 1, store.gets)
	assert.Equal(t, "t1", got[0].teacher)
}

func TestEnsureActiveUnknownRoom(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil)
	_, err := reg.EnsureActive(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, rooms.ErrRoomNotFound)
	assert.Zero(t, reg.Count())
}

func TestEnsureActiveSurvivesCancelledCaller(t *testing.T) {
	store := newGatedStore()
	reg := NewRegistry(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := reg.EnsureActive(ctx, roomR, nil)
		first <- err
	}()
	waiter := make(chan *ActiveRoom, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		ar, err := reg.EnsureActive(context.Background(), roomR, nil)
		assert.NoError(t, err)
		waiter <- ar
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(store.release)

	require.NoError(t, <-first)
	assert.NotNil(t, <-waiter)
	assert.Equal(t, 1, reg.Count())
}
