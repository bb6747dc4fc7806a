// Package clipboard copies recognition results to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"time"

	cb "github.com/atotto/clipboard"
)

// Timeout bounds a clipboard call; the helper tools it shells out to can hang
// when no display server is reachable.
var Timeout = 3 * time.Second

var ErrTimeout = errors.New("clipboard timed out")

func Available() bool {
	return !cb.Unsupported
}

func Read() (string, error) {
	var out string
	err := withTimeout(func() error {
		var err error
		out, err = cb.ReadAll()
		return err
	})
	return out, err
}

func Copy(text string) error {
	return withTimeout(func() error { return cb.WriteAll(text) })
}

// Verify writes a probe string and reads it back.
func Verify() error {
	probe := fmt.Sprintf("tunespot-doctor-%d", time.Now().UnixNano())
	if err := Copy(probe); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	got, err := Read()
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if got != probe {
		return fmt.Errorf("mismatch: wrote %q, got %q", probe, got)
	}
	return nil
}

func withTimeout(fn func() error) error {
	if !Available() {
		return errors.New("no clipboard utility available")
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(Timeout):
		return ErrTimeout
	}
}
