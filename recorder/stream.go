package recorder

import "sync"

// Stream is the live handle of a capture session. Taps attached to it see
// every fragment as decoded samples until the session is finalized.
type Stream struct {
	sampleRate int

	mu     sync.Mutex
	taps   map[int]func([]int16)
	nextID int
	closed bool
	done   chan struct{}
}

func newStream(sampleRate int) *Stream {
	return &Stream{
		sampleRate: sampleRate,
		taps:       make(map[int]func([]int16)),
		done:       make(chan struct{}),
	}
}

func (s *Stream) SampleRate() int { return s.sampleRate }

// Done is closed when the stream becomes invalid.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Attach registers fn for every subsequent fragment. The returned detach is
// idempotent. Attaching to a closed stream is a no-op.
func (s *Stream) Attach(fn func([]int16)) (detach func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.taps[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.taps, id)
			s.mu.Unlock()
		})
	}
}

// Taps reports how many taps are attached.
func (s *Stream) Taps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.taps)
}

func (s *Stream) publish(samples []int16) {
	s.mu.Lock()
	if s.closed || len(s.taps) == 0 {
		s.mu.Unlock()
		return
	}
	fns := make([]func([]int16), 0, len(s.taps))
	for _, fn := range s.taps {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(samples)
	}
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	clear(s.taps)
	close(s.done)
}
