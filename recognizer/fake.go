package recognizer

import (
	"context"
	"sync"
	"time"

	"tunespot/audio"
)

// Fake answers every Identify with a fixed result after an optional delay.
type Fake struct {
	result Result
	err    error
	delay  time.Duration

	mu    sync.Mutex
	clips []audio.Clip
}

func NewFake(result Result, err error, delay time.Duration) *Fake {
	return &Fake{result: result, err: err, delay: delay}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Identify(ctx context.Context, clip audio.Clip, credential string) (Result, error) {
	if credential == "" {
		return Result{}, ErrMissingCredential
	}
	f.mu.Lock()
	f.clips = append(f.clips, clip)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{}, &FailedError{Cause: ctx.Err()}
		}
	}
	return f.result, f.err
}

// Calls reports how many clips reached the fake past the credential check.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clips)
}

func (f *Fake) Clips() []audio.Clip {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]audio.Clip, len(f.clips))
	copy(out, f.clips)
	return out
}
