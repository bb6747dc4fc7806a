package shutdown

import (
	"sync/atomic"
	"testing"
)

func TestHookRunsOnce(t *testing.T) {
	var calls atomic.Int32
	h := Watch(func() { calls.Add(1) })
	defer h.Stop()

	h.Run()
	h.Run()
	if got := calls.Load(); got != 1 {
		t.Errorf("cleanup ran %d times, want 1", got)
	}
}

func TestHookStopIdempotent(t *testing.T) {
	var calls atomic.Int32
	h := Watch(func() { calls.Add(1) })
	h.Stop()
	h.Stop()
	if got := calls.Load(); got != 0 {
		t.Errorf("cleanup ran %d times after Stop, want 0", got)
	}
}
