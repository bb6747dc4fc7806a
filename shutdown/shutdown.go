// Package shutdown turns termination signals into a single cleanup call.
package shutdown

import (
	"os"
	"os/signal"
	"sync"
)

// Notify relays the platform's termination signals to ch.
func Notify(ch chan os.Signal) {
	signal.Notify(ch, signals...)
}

// Hook runs a cleanup function at most once, either on a termination
// signal or when Run is called directly.
type Hook struct {
	once sync.Once
	fn   func()
	sig  chan os.Signal
	quit chan struct{}
}

// Watch calls fn on the first termination signal. Stop detaches the hook
// without running fn.
func Watch(fn func()) *Hook {
	h := &Hook{fn: fn, sig: make(chan os.Signal, 1), quit: make(chan struct{})}
	Notify(h.sig)
	go func() {
		select {
		case <-h.sig:
			h.Run()
		case <-h.quit:
		}
	}()
	return h
}

// Run executes the cleanup unless it already ran.
func (h *Hook) Run() {
	h.once.Do(h.fn)
}

func (h *Hook) Stop() {
	signal.Stop(h.sig)
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
}
