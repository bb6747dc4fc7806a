package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext is a microphone that plays back a fixed PCM buffer. With
// realtime false the whole buffer is delivered synchronously inside Start,
// which keeps tests deterministic.
type FakeContext struct {
	pcm      []byte
	realtime bool

	// StartErr, when set, is returned by every capture's Start.
	StartErr error

	mu       sync.Mutex
	captures []*FakeCapture
}

func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

// NewFakeContextFromWAV decodes a 16-bit WAV file into the fake's PCM buffer.
// Multi-channel input is reduced to its first channel.
func NewFakeContextFromWAV(path string, realtime bool) (*FakeContext, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	pcm := make([]byte, frames*fakeBytesPerFrame)
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(buf.Data[i*channels])))
	}
	return NewFakeContext(pcm, realtime), nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	c := &FakeCapture{
		pcm:        f.pcm,
		realtime:   f.realtime,
		startErr:   f.StartErr,
		sampleRate: config.SampleRate,
		audioDone:  make(chan struct{}),
	}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

// Captures returns every capture device handed out so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeCapture, len(f.captures))
	copy(out, f.captures)
	return out
}

type FakeCapture struct {
	pcm        []byte
	realtime   bool
	startErr   error
	sampleRate uint32
	audioDone  chan struct{}
	doneOnce   sync.Once

	mu       sync.Mutex
	cb       DataCallback
	running  bool
	closed   bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the whole buffer has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Feed delivers one fragment as if the device had produced it. It is a no-op
// unless the capture is running.
func (f *FakeCapture) Feed(data []byte) {
	f.mu.Lock()
	cb := f.cb
	running := f.running
	f.mu.Unlock()
	if running && cb != nil {
		chunk := make([]byte, len(data))
		copy(chunk, data)
		cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	}
}

// Running reports whether the fake microphone is currently held.
func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Closed reports whether the device has been released.
func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		for pos := 0; pos < len(f.pcm); pos += chunkBytes {
			f.Feed(f.pcm[pos:min(pos+chunkBytes, len(f.pcm))])
		}
		f.doneOnce.Do(func() { close(f.audioDone) })
		close(f.feedDone)
		return nil
	}

	rate := f.sampleRate
	if rate == 0 {
		rate = 44100
	}
	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(rate)
	stopCh, feedDone := f.stopCh, f.feedDone
	go func() {
		defer close(feedDone)
		silence := make([]byte, chunkBytes)
		finished := false
		for pos := 0; ; {
			if pos < len(f.pcm) {
				end := min(pos+chunkBytes, len(f.pcm))
				f.Feed(f.pcm[pos:end])
				pos = end
			} else {
				if !finished {
					finished = true
					f.doneOnce.Do(func() { close(f.audioDone) })
				}
				f.Feed(silence)
			}
			select {
			case <-stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()

	close(stopCh)
	<-feedDone
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
