package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMutex_SerializesSameKey(t *testing.T) {
	m := NewKeyMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "same-key")
			require.NoError(t, err)
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyMutex_DifferentKeysDoNotBlock(t *testing.T) {
	m := NewKeyMutex()

	releaseA, err := m.Acquire(context.Background(), "deadbeef:0")
	require.NoError(t, err)
	defer releaseA()

	// A key in a different shard must be acquirable while the first is held.
	done := make(chan struct{})
	go func() {
		releaseB, err := m.Acquire(context.Background(), "cafebabe:1")
		if err == nil {
			releaseB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire on unrelated key blocked")
	}
}

func TestKeyMutex_ContextCancellation(t *testing.T) {
	m := NewKeyMutex()

	release, err := m.Acquire(context.Background(), "held")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := m.Acquire(ctx, "held")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
