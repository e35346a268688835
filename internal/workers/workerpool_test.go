package workers

import (
	"sync/atomic"
	"testing"
)

func TestWorkerPoolRunsJobs(t *testing.T) {
	wp := NewWorkerPool(4, 64)
	defer wp.Stop()

	var ran int64
	for i := 0; i < 32; i++ {
		if ok := wp.AddJob(func() { atomic.AddInt64(&ran, 1) }); !ok {
			t.Fatalf("job %d was dropped", i)
		}
	}
	wp.Wait()

	if got := atomic.LoadInt64(&ran); got != 32 {
		t.Fatalf("expected 32 jobs to run, got %d", got)
	}
}

func TestWorkerPoolDropsWhenFull(t *testing.T) {
	// A pool with no workers never drains its queue, so jobs beyond the
	// buffer must be rejected rather than block the caller.
	wp := &WorkerPool{jobCh: make(chan func(), 2)}

	if !wp.AddJob(func() {}) || !wp.AddJob(func() {}) {
		t.Fatal("buffered jobs should be accepted")
	}
	if wp.AddJob(func() {}) {
		t.Fatal("job should be dropped once the buffer is full")
	}
}

func TestWorkerPoolStopIsIdempotent(t *testing.T) {
	wp := NewWorkerPool(1, 1)
	wp.Stop()
	wp.Stop()
}
