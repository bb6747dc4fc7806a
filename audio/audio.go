package audio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const WAVHeaderSize = 44

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("microphone unavailable")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"jabra", "galaxy buds", "pixel buds",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name whether it is a headset mic.
// Headset profiles band-limit capture, which hurts recognition.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// Clip is a finalized recording ready for submission.
type Clip struct {
	Data       []byte
	MediaType  string
	Filename   string
	Samples    uint64
	SampleRate uint32
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Samples) * time.Second / time.Duration(c.SampleRate)
}

// Classify maps a backend error onto ErrPermissionDenied or
// ErrDeviceUnavailable, keeping the original error in the chain.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"denied", "permission", "not permitted", "access"} {
		if strings.Contains(msg, kw) {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

// unavailableContext stands in when the platform audio backend could not be
// reached, so every capture attempt fails the same way instead of crashing.
type unavailableContext struct {
	err error
}

func Unavailable(err error) Context {
	return &unavailableContext{err: Classify(err)}
}

func (u *unavailableContext) Devices() ([]DeviceInfo, error) { return nil, u.err }
func (u *unavailableContext) Close()                         {}

func (u *unavailableContext) NewCapture(*DeviceInfo, CaptureConfig) (CaptureDevice, error) {
	return nil, u.err
}
