package encoder

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// seekBuffer is an in-memory io.WriteSeeker; the WAV writer seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if end := s.pos + len(p); end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	n := copy(s.buf[s.pos:], p)
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

type WavEncoder struct {
	mu          sync.Mutex
	out         *seekBuffer
	enc         *wav.Encoder
	format      *goaudio.Format
	totalFrames uint64
	encodeTime  time.Duration
	closed      bool
}

func NewWav() (*WavEncoder, error) {
	out := &seekBuffer{}
	return &WavEncoder{
		out:    out,
		enc:    wav.NewEncoder(out, SampleRate, BitsPerSample, Channels, 1),
		format: &goaudio.Format{NumChannels: Channels, SampleRate: SampleRate},
	}, nil
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	data := make([]int, len(block))
	for i, s := range block {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{Format: e.format, Data: data, SourceBitDepth: BitsPerSample}
	if err := e.enc.Write(buf); err != nil {
		return fmt.Errorf("writing wav samples: %w", err)
	}
	e.totalFrames += uint64(len(block))
	e.encodeTime += time.Since(start)
	return nil
}

func (e *WavEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.totalFrames == 0 {
		// the wav writer only emits its header alongside the first samples
		if err := e.enc.Write(&goaudio.IntBuffer{Format: e.format, Data: []int{}, SourceBitDepth: BitsPerSample}); err != nil {
			return fmt.Errorf("writing wav header: %w", err)
		}
	}
	return e.enc.Close()
}

func (e *WavEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out.buf
}

func (e *WavEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *WavEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
