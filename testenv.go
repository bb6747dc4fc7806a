package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tunespot/audio"
	"tunespot/beep"
	"tunespot/controller"
	"tunespot/log"
	"tunespot/recognizer"
	"tunespot/recorder"
)

// testReporter prints state changes and outcomes to out and signals each
// completed cycle on settled.
type testReporter struct {
	mu      sync.Mutex
	out     io.Writer
	settled chan struct{}
}

func newTestReporter(out io.Writer) *testReporter {
	return &testReporter{out: out, settled: make(chan struct{}, 16)}
}

func (r *testReporter) sink() *ordered {
	return newOrdered(func(prev, cur controller.Snapshot) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur.State != prev.State {
			fmt.Fprintf(r.out, "STATE %s\n", cur.State)
		}
		if line, ok := outcome(prev, cur); ok {
			fmt.Fprintln(r.out, line)
			select {
			case r.settled <- struct{}{}:
			default:
			}
		}
	})
}

// outcome reports the line for a finished cycle, if cur finishes one. A
// failed start finishes its own cycle even while an older recognition is
// still running.
func outcome(prev, cur controller.Snapshot) (string, bool) {
	if cur.Failures != prev.Failures {
		return "ERROR " + cur.Notice.Text, true
	}
	if cur.State != controller.Idle || prev.State != controller.Recognizing {
		return "", false
	}
	switch {
	case cur.Result != nil:
		r := cur.Result
		return fmt.Sprintf("MATCH %s\t%s\t%s", r.Title, r.Subtitle, r.URL), true
	case cur.Notice.Text != "":
		return "NOMATCH", true
	}
	return "", false
}

// runTestMode drives the controller headlessly from stdin commands against a
// WAV-backed microphone:
//
//	KEY <k>          set the RapidAPI key
//	TOGGLE           start or stop recording
//	WAIT             block until the current cycle settles
//	WAIT_AUDIO_DONE  block until the WAV has been fully delivered
//	SLEEP <ms>
//	QUIT
func runTestMode(opts options, wavPath, credential string) int {
	beep.Disable()

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	fakeCtx, err := audio.NewFakeContextFromWAV(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	rec, err := recorder.New(fakeCtx, nil, opts.format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rec.Close()

	recog := recognizer.NewShazam(opts.endpoint, opts.timeout)
	log.SessionStart(recog.Name(), opts.format, "fake")

	var stats sessionStats
	reporter := newTestReporter(os.Stdout)
	ctrl := controller.New(rec, recog, fanout{reporter.sink(), stats.sink()}, controller.Config{
		MaxDuration: opts.max,
		Credential:  credential,
	})
	defer func() {
		ctrl.Close()
		log.SessionEnd(stats.counts())
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "TOGGLE":
			ctrl.Toggle()
		case cmd == "WAIT":
			<-reporter.settled
		case cmd == "WAIT_AUDIO_DONE":
			if caps := fakeCtx.Captures(); len(caps) > 0 {
				<-caps[len(caps)-1].AudioDone()
			}
		case cmd == "QUIT":
			return 0
		case strings.HasPrefix(cmd, "KEY "):
			ctrl.SetCredential(strings.TrimSpace(cmd[4:]))
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(cmd[6:]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case cmd == "":
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		}
	}
	return 0
}
