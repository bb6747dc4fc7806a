// Package controller runs the record / recognize cycle: a toggle starts and
// stops the microphone, a finished clip is submitted automatically and the
// outcome is published as a snapshot.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"tunespot/audio"
	"tunespot/log"
	"tunespot/recognizer"
	"tunespot/recorder"
)

const DefaultMaxDuration = 12 * time.Second

type State int

const (
	Idle State = iota
	Recording
	Recognizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Recognizing:
		return "recognizing"
	default:
		return "unknown"
	}
}

type NoticeKind int

const (
	NoticeNone NoticeKind = iota
	NoticeInfo
	NoticeError
)

// Notice is a transient message for the user.
type Notice struct {
	Kind NoticeKind
	Text string
}

// Snapshot is the observable state of the controller. Seq increases with
// every change so receivers can drop out-of-order deliveries. Failures counts
// every failed start or recognition so far; a repeated failure carries the
// same Err but a new count.
type Snapshot struct {
	Seq           uint64
	State         State
	Result        *recognizer.Result
	Err           error
	Failures      uint64
	Notice        Notice
	HasCredential bool
	Stream        *recorder.Stream
	StartedAt     time.Time
	Session       string
}

type EventSink interface {
	StateChanged(Snapshot)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Snapshot)

func (f SinkFunc) StateChanged(s Snapshot) { f(s) }

// Capturer is the part of the recorder the controller drives.
type Capturer interface {
	Start() (*recorder.Session, error)
	Stop()
}

type Config struct {
	// MaxDuration stops a recording automatically; 0 disables it.
	MaxDuration time.Duration
	Credential  string
}

type Controller struct {
	rec         Capturer
	recog       recognizer.Recognizer
	sink        EventSink
	maxDuration time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	seq        uint64
	state      State
	result     *recognizer.Result
	err        error
	failures   uint64
	notice     Notice
	credential string
	session    *recorder.Session
	startedAt  time.Time
	attempt    string
	autoStop   *time.Timer
	closed     bool
}

func New(rec Capturer, recog recognizer.Recognizer, sink EventSink, cfg Config) *Controller {
	if sink == nil {
		sink = SinkFunc(func(Snapshot) {})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		rec:         rec,
		recog:       recog,
		sink:        sink,
		maxDuration: cfg.MaxDuration,
		credential:  cfg.Credential,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Toggle starts a recording from Idle or Recognizing and stops it from
// Recording. A start that fails leaves the state as it was.
func (c *Controller) Toggle() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state == Recording {
		c.stopLocked("toggle")
	} else {
		c.startLocked()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.sink.StateChanged(snap)
}

func (c *Controller) startLocked() {
	prev := c.state
	c.result = nil
	c.err = nil
	c.notice = Notice{}

	sess, err := c.rec.Start()
	if err != nil {
		// A recognition in flight stays current: no newer recording exists.
		log.Errorf("capture start failed: %v", err)
		c.failLocked(err)
		return
	}

	// any recognition still in flight belongs to an older cycle now
	c.attempt = ""
	c.session = sess
	c.startedAt = sess.StartedAt()
	c.setStateLocked(Recording, sess.ID())
	if prev == Recognizing {
		log.Info("recognition superseded by new recording")
	}

	if c.maxDuration > 0 {
		id := sess.ID()
		c.autoStop = time.AfterFunc(c.maxDuration, func() { c.autoStopFired(id) })
	}

	c.wg.Add(1)
	go c.awaitClip(sess)
}

func (c *Controller) stopLocked(reason string) {
	if c.autoStop != nil {
		c.autoStop.Stop()
		c.autoStop = nil
	}
	c.rec.Stop()
	// Recognizing is entered once the clip is ready, not here.
	c.setStateLocked(Idle, c.sessionIDLocked())
	log.Infof("recording stopped (%s)", reason)
}

func (c *Controller) autoStopFired(id string) {
	c.mu.Lock()
	if c.closed || c.state != Recording || c.sessionIDLocked() != id {
		c.mu.Unlock()
		return
	}
	c.stopLocked("max duration")
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.sink.StateChanged(snap)
}

func (c *Controller) awaitClip(sess *recorder.Session) {
	defer c.wg.Done()
	select {
	case clip := <-sess.Ready():
		c.onClipReady(sess.ID(), clip)
	case <-c.ctx.Done():
	}
}

func (c *Controller) onClipReady(id string, clip audio.Clip) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state == Recording || c.sessionIDLocked() != id {
		log.Infof("ignoring clip from superseded session %s", id)
		c.mu.Unlock()
		return
	}
	c.attempt = id
	c.setStateLocked(Recognizing, id)
	credential := c.credential
	snap := c.snapshotLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.sink.StateChanged(snap)
	go c.recognize(id, clip, credential)
}

func (c *Controller) recognize(id string, clip audio.Clip, credential string) {
	defer c.wg.Done()
	res, err := c.recog.Identify(c.ctx, clip, credential)
	logRecognition(c.recog.Name(), clip, res, err)
	c.onRecognized(id, res, err)
}

func (c *Controller) onRecognized(id string, res recognizer.Result, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.attempt != id || c.state != Recognizing {
		log.Infof("discarding stale recognition for session %s", id)
		c.mu.Unlock()
		return
	}
	c.attempt = ""
	c.err = nil
	c.notice = Notice{}
	switch {
	case err != nil:
		log.Errorf("recognition failed: %v", err)
		c.failLocked(err)
	case !res.Matched:
		c.notice = Notice{Kind: NoticeInfo, Text: "No match found. Try again."}
	default:
		r := res
		c.result = &r
		log.Match(r.Title, r.Subtitle, r.URL)
	}
	c.setStateLocked(Idle, id)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.sink.StateChanged(snap)
}

// SetCredential replaces the key forwarded with every recognition.
func (c *Controller) SetCredential(credential string) {
	c.mu.Lock()
	c.credential = credential
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.sink.StateChanged(snap)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close stops any recording, abandons in-flight recognition and waits for
// background work to finish. The controller ignores all calls afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state == Recording {
		c.stopLocked("shutdown")
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller) failLocked(err error) {
	c.err = err
	c.failures++
	c.notice = Notice{Kind: NoticeError, Text: Describe(err)}
}

func (c *Controller) setStateLocked(s State, session string) {
	if c.state != s {
		log.StateChange(c.state.String(), s.String(), session)
	}
	c.state = s
}

func (c *Controller) sessionIDLocked() string {
	if c.session == nil {
		return ""
	}
	return c.session.ID()
}

func (c *Controller) snapshotLocked() Snapshot {
	c.seq++
	s := Snapshot{
		Seq:           c.seq,
		State:         c.state,
		Result:        c.result,
		Err:           c.err,
		Failures:      c.failures,
		Notice:        c.notice,
		HasCredential: c.credential != "",
		Session:       c.sessionIDLocked(),
	}
	if c.state == Recording && c.session != nil {
		s.Stream = c.session.Stream()
		s.StartedAt = c.startedAt
	}
	return s
}

// Describe turns an error into a message for the user.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access denied. Check your system privacy settings."
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No microphone available."
	case errors.Is(err, recognizer.ErrMissingCredential):
		return "API key is missing. Enter your RapidAPI key."
	case errors.Is(err, recognizer.ErrRecognitionFailed):
		return "Error identifying song. Check the API key or your network."
	default:
		return err.Error()
	}
}

func logRecognition(provider string, clip audio.Clip, res recognizer.Result, err error) {
	status := "match"
	switch {
	case err != nil:
		status = "error"
	case !res.Matched:
		status = "no_match"
	}
	m := recognizer.MetricsOf(res, err)
	if m == nil {
		m = &recognizer.NetworkMetrics{}
	}
	log.Recognition(log.Metrics{
		ClipS:       clip.Duration().Seconds(),
		ClipKB:      float64(len(clip.Data)) / 1024,
		DNSTimeMs:   float64(m.DNS.Microseconds()) / 1000,
		TLSTimeMs:   float64(m.TLS.Microseconds()) / 1000,
		TTFBMs:      float64(m.TTFB.Microseconds()) / 1000,
		TotalTimeMs: float64(m.Total.Microseconds()) / 1000,
	}, provider, clip.MediaType, status, m.ConnReused, m.TLSProtocol)
}
