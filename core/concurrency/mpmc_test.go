package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFreeQueue_MPMC(t *testing.T) {
	q := NewLockFreeQueue[int](1024)
	producers := 10
	consumers := 10
	itemsPerProducer := 10000

	var wg sync.WaitGroup
	var sentSum int64
	var receivedSum int64

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				val := pid*itemsPerProducer + i + 1
				for !q.Enqueue(val) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sentSum, int64(val))
			}
		}(p)
	}

	var receivedCount int64
	totalItems := int64(producers * itemsPerProducer)

	consumerWg := sync.WaitGroup{}
	for c := 0; c < consumers; c++ {
		consumerWg.Add(1)
		go func() {
			defer consumerWg.Done()
			for {
				if val, ok := q.Dequeue(); ok {
					atomic.AddInt64(&receivedSum, int64(val))
					if atomic.AddInt64(&receivedCount, 1) == totalItems {
						return
					}
				} else {
					if atomic.LoadInt64(&receivedCount) >= totalItems {
						return
					}
					runtime.Gosched()
				}
			}
		}()
	}

	wg.Wait()

	done := make(chan struct{})
	go func() {
		consumerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, sentSum, receivedSum, "checksum mismatch")
	case <-time.After(5 * time.Second):
		t.Errorf("Timeout waiting for consumers. Received %d/%d", atomic.LoadInt64(&receivedCount), totalItems)
	}
}

// Items from one producer must come out in the order they went in when a
// single consumer drains the queue.
func TestLockFreeQueue_MPSCPerProducerOrder(t *testing.T) {
	q := NewLockFreeQueue[[2]int](256)
	producers := 4
	itemsPerProducer := 5000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				for !q.Enqueue([2]int{pid, i}) {
					runtime.Gosched()
				}
			}
		}(p)
	}

	next := make([]int, producers)
	received := 0
	deadline := time.Now().Add(5 * time.Second)
	for received < producers*itemsPerProducer {
		item, ok := q.Dequeue()
		if !ok {
			require.True(t, time.Now().Before(deadline), "timeout after %d items", received)
			runtime.Gosched()
			continue
		}
		require.Equal(t, next[item[0]], item[1], "producer %d out of order", item[0])
		next[item[0]]++
		received++
	}
	wg.Wait()
	assert.Equal(t, 0, q.Len())
}

func TestLockFreeQueue_Bounded(t *testing.T) {
	q := NewLockFreeQueue[int](3)
	require.Equal(t, 4, q.Cap())
	for i := 0; i < 4; i++ {
		require.True(t, q.Enqueue(i))
	}
	assert.False(t, q.Enqueue(99), "enqueue into full queue")
	assert.Equal(t, 4, q.Len())

	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, 0, v)
	assert.True(t, q.Enqueue(4))

	for want := 1; want <= 4; want++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok = q.Dequeue()
	assert.False(t, ok)
}
