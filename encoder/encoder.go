package encoder

import (
	"fmt"
	"time"
)

const (
	SampleRate    = 44100
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatFLAC = "flac"
	FormatWAV  = "wav"
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	EncodeTime() time.Duration
}

func New(format string) (Encoder, error) {
	switch format {
	case FormatFLAC:
		return NewFlac()
	case FormatWAV:
		return NewWav()
	default:
		return nil, fmt.Errorf("unknown format %q (use flac or wav)", format)
	}
}

// MediaType is the MIME type a clip of the given format is tagged with.
func MediaType(format string) string {
	switch format {
	case FormatWAV:
		return "audio/wav"
	default:
		return "audio/flac"
	}
}

// Filename is the suggested upload filename for a clip of the given format.
func Filename(format string) string {
	switch format {
	case FormatWAV:
		return "recording.wav"
	default:
		return "recording.flac"
	}
}

// EncodeAll runs samples through enc in BlockSize chunks and closes it.
func EncodeAll(enc Encoder, samples []int16) error {
	for i := 0; i < len(samples); i += BlockSize {
		if err := enc.EncodeBlock(samples[i:min(i+BlockSize, len(samples))]); err != nil {
			return err
		}
	}
	return enc.Close()
}
