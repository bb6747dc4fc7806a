// Package recorder owns the microphone lifecycle: it opens one capture
// session at a time, buffers its fragments and turns them into a single
// clip once capture stops.
package recorder

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tunespot/audio"
	"tunespot/encoder"
	"tunespot/log"
)

type Status int

const (
	Inactive Status = iota
	Capturing
	Finalizing
)

func (s Status) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Capturing:
		return "capturing"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

type Recorder struct {
	ctx    audio.Context
	device *audio.DeviceInfo
	format string

	mu      sync.Mutex
	current *Session
}

// New returns a recorder capturing from device (nil for the system default)
// and producing clips in the given encoder format.
func New(ctx audio.Context, device *audio.DeviceInfo, format string) (*Recorder, error) {
	if _, err := encoder.New(format); err != nil {
		return nil, err
	}
	return &Recorder{ctx: ctx, device: device, format: format}, nil
}

// Start opens a new capture session. While a session is capturing it is
// returned as is; a session that is still finalizing is waited for so the
// device is never held twice.
func (r *Recorder) Start() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur := r.current; cur != nil {
		switch cur.Status() {
		case Capturing:
			return cur, nil
		case Finalizing:
			<-cur.released
		}
	}

	capture, err := r.ctx.NewCapture(r.device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		return nil, audio.Classify(err)
	}

	sess := &Session{
		id:       uuid.NewString(),
		format:   r.format,
		capture:  capture,
		stream:   newStream(encoder.SampleRate),
		started:  time.Now(),
		status:   Capturing,
		ready:    make(chan audio.Clip, 1),
		released: make(chan struct{}),
	}
	capture.SetCallback(sess.onData)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		return nil, audio.Classify(err)
	}

	r.current = sess
	log.Capture(sess.id, "start", capture.DeviceName())
	return sess, nil
}

// Stop asks the current session to finalize and returns immediately. The clip
// arrives later on the session's Ready channel.
func (r *Recorder) Stop() {
	r.mu.Lock()
	sess := r.current
	r.mu.Unlock()

	if sess == nil || !sess.beginFinalize() {
		return
	}
	go sess.finalize()
}

func (r *Recorder) Status() Status {
	r.mu.Lock()
	sess := r.current
	r.mu.Unlock()
	if sess == nil {
		return Inactive
	}
	return sess.Status()
}

// Session returns the most recent session, or nil before the first Start.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close stops any capture and waits until the device is released.
func (r *Recorder) Close() {
	r.Stop()
	r.mu.Lock()
	sess := r.current
	r.mu.Unlock()
	if sess != nil {
		<-sess.released
	}
}

// Session is one microphone acquisition.
type Session struct {
	id      string
	format  string
	capture audio.CaptureDevice
	stream  *Stream
	started time.Time

	mu        sync.Mutex
	status    Status
	sealed    bool
	fragments [][]byte

	ready    chan audio.Clip
	released chan struct{}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Stream() *Stream      { return s.stream }
func (s *Session) StartedAt() time.Time { return s.started }

// Ready delivers the session's clip exactly once, after finalization.
func (s *Session) Ready() <-chan audio.Clip { return s.ready }

// Released is closed once the device has been given back.
func (s *Session) Released() <-chan struct{} { return s.released }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Fragments reports how many data fragments have been buffered so far.
func (s *Session) Fragments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments)
}

func (s *Session) onData(data []byte, _ uint32) {
	if len(data) == 0 {
		return
	}
	frag := make([]byte, len(data))
	copy(frag, data)

	s.mu.Lock()
	if s.sealed {
		s.mu.Unlock()
		return
	}
	s.fragments = append(s.fragments, frag)
	s.mu.Unlock()

	s.stream.publish(decodePCM(frag))
}

func (s *Session) beginFinalize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Capturing {
		return false
	}
	s.status = Finalizing
	return true
}

func (s *Session) finalize() {
	// Stopping the device flushes in-flight callbacks; nothing is appended
	// once the session is sealed.
	s.capture.Stop()
	s.capture.ClearCallback()

	s.mu.Lock()
	s.sealed = true
	frags := s.fragments
	s.fragments = nil
	s.mu.Unlock()

	var size int
	for _, f := range frags {
		size += len(f)
	}
	pcm := make([]byte, 0, size)
	for _, f := range frags {
		pcm = append(pcm, f...)
	}
	clip := s.encode(decodePCM(pcm))

	s.capture.Close()
	s.stream.close()

	s.mu.Lock()
	s.status = Inactive
	s.mu.Unlock()
	close(s.released)

	log.Capture(s.id, "finalized", fmt.Sprintf("%d fragments, %d bytes", len(frags), len(clip.Data)))
	s.ready <- clip
}

func (s *Session) encode(samples []int16) audio.Clip {
	clip := audio.Clip{
		MediaType:  encoder.MediaType(s.format),
		Filename:   encoder.Filename(s.format),
		Samples:    uint64(len(samples)),
		SampleRate: encoder.SampleRate,
	}
	enc, err := encoder.New(s.format)
	if err == nil {
		err = encoder.EncodeAll(enc, samples)
	}
	if err != nil {
		log.Warnf("encoding clip %s: %v", s.id, err)
		return clip
	}
	clip.Data = enc.Bytes()
	return clip
}

func decodePCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
