package broadcast

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := newQueue[string]()

	for _, v := range []string{"A", "B", "C"} {
		require.True(t, q.push(v))
	}

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.tryPop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.tryPop()
	assert.False(t, ok, "pop from empty queue should return false")
}

func TestQueue_PushAfterClose(t *testing.T) {
	q := newQueue[int]()
	q.close()
	q.close() // second close is a no-op

	assert.False(t, q.push(1))
	assert.Equal(t, 0, q.len())

	select {
	case _, ok := <-q.wait():
		assert.False(t, ok, "wait channel should be closed")
	default:
		t.Fatal("wait channel should be readable after close")
	}
}

func TestQueue_SignalCoalesces(t *testing.T) {
	q := newQueue[int]()
	q.push(1)
	q.push(2)

	<-q.wait()
	select {
	case <-q.wait():
		t.Fatal("multiple pushes should coalesce into one signal")
	default:
	}
	assert.Equal(t, 2, q.len())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := newQueue[int]()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.push(base*100 + j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, q.len())
}
