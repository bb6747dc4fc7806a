package main

import (
	"errors"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"tunespot/beep"
	"tunespot/controller"
	"tunespot/log"
	"tunespot/spectrum"
)

// fanout delivers every snapshot to each sink in order.
type fanout []controller.EventSink

func (f fanout) StateChanged(s controller.Snapshot) {
	for _, sink := range f {
		sink.StateChanged(s)
	}
}

// ordered drops snapshots older than the last one it passed on. The
// controller publishes outside its lock, so deliveries can race.
type ordered struct {
	mu   sync.Mutex
	last uint64
	prev controller.Snapshot
	fn   func(prev, cur controller.Snapshot)
}

func newOrdered(fn func(prev, cur controller.Snapshot)) *ordered {
	return &ordered{fn: fn}
}

func (o *ordered) StateChanged(s controller.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s.Seq <= o.last {
		return
	}
	o.last = s.Seq
	prev := o.prev
	o.prev = s
	o.fn(prev, s)
}

// cue picks the beep for a transition.
func cue(prev, cur controller.Snapshot) (beep.Cue, bool) {
	switch {
	case cur.Failures != prev.Failures:
		return beep.Error, true
	case cur.State == controller.Recording && prev.State != controller.Recording:
		return beep.Start, true
	case prev.State == controller.Recording && cur.State != controller.Recording:
		return beep.End, true
	case prev.State == controller.Recognizing && cur.State == controller.Idle && cur.Result != nil:
		return beep.Match, true
	}
	return beep.Cue{}, false
}

func newCueSink() *ordered {
	return newOrdered(func(prev, cur controller.Snapshot) {
		if c, ok := cue(prev, cur); ok {
			beep.Play(c)
		}
	})
}

// newVisualizerSink keeps the spectrum attached to the live recording.
func newVisualizerSink(v *spectrum.Visualizer) *ordered {
	return newOrdered(func(_, cur controller.Snapshot) {
		var err error
		if cur.State == controller.Recording && cur.Stream != nil {
			err = v.Update(cur.Stream, true)
		} else {
			err = v.Update(nil, false)
		}
		if err != nil && !errors.Is(err, spectrum.ErrClosed) {
			log.Warnf("visualizer: %v", err)
		}
	})
}

// sessionStats counts recordings and matches for the session summary.
type sessionStats struct {
	mu         sync.Mutex
	recordings int
	matches    int
}

func (st *sessionStats) sink() *ordered {
	return newOrdered(func(prev, cur controller.Snapshot) {
		st.mu.Lock()
		defer st.mu.Unlock()
		if cur.State == controller.Recording && prev.State != controller.Recording {
			st.recordings++
		}
		if prev.State == controller.Recognizing && cur.Result != nil {
			st.matches++
		}
	})
}

func (st *sessionStats) counts() (recordings, matches int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.recordings, st.matches
}

// snapshotMsg carries a controller snapshot into the TUI.
type snapshotMsg controller.Snapshot

// frameMsg asks the TUI to repaint the spectrum canvas.
type frameMsg struct{}

// programSink forwards snapshots to the TUI once the program exists.
type programSink struct {
	p atomic.Pointer[tea.Program]
}

func (s *programSink) StateChanged(snap controller.Snapshot) {
	if p := s.p.Load(); p != nil {
		p.Send(snapshotMsg(snap))
	}
}
