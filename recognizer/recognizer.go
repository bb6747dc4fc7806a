// Package recognizer identifies songs from recorded clips through a remote
// recognition service.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tunespot/audio"
)

var (
	ErrMissingCredential = errors.New("API key is missing")
	ErrRecognitionFailed = errors.New("recognition failed")
)

// FailedError is a recognition attempt that did not yield a usable answer.
// Status is the HTTP status code, or 0 when no response arrived.
type FailedError struct {
	Status  int
	Cause   error
	Metrics *NetworkMetrics
}

func (e *FailedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("recognition failed: status %d: %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("recognition failed: %v", e.Cause)
}

func (e *FailedError) Unwrap() error { return e.Cause }

func (e *FailedError) Is(target error) bool { return target == ErrRecognitionFailed }

// Result describes an identified song. A zero Result means no match.
type Result struct {
	Matched  bool
	Title    string
	Subtitle string
	Image    string
	URL      string
	Metrics  *NetworkMetrics
}

// NoMatch is returned when the service answered but found no song.
var NoMatch = Result{}

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

type Recognizer interface {
	Name() string
	Identify(ctx context.Context, clip audio.Clip, credential string) (Result, error)
}

// MetricsOf returns the network timings carried by a result or a failure.
func MetricsOf(r Result, err error) *NetworkMetrics {
	var failed *FailedError
	if errors.As(err, &failed) {
		return failed.Metrics
	}
	return r.Metrics
}
