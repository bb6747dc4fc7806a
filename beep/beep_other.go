//go:build !linux

package beep

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	initOnce sync.Once

	// read from the device callback
	playing atomic.Pointer[[]byte]
	playPos atomic.Uint32
	playMu  sync.Mutex
)

func Init() {
	initOnce.Do(initDevice)
}

func initDevice() {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return
	}
	if err := openDevice(ctx); err != nil {
		ctx.Uninit()
		return
	}
	malgoCtx = ctx
}

func openDevice(ctx *malgo.AllocatedContext) error {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = 1
	config.SampleRate = sampleRate

	d, err := malgo.InitDevice(ctx.Context, config, malgo.DeviceCallbacks{Data: fill})
	if err != nil {
		return err
	}
	device = d
	return nil
}

func fill(out, _ []byte, frameCount uint32) {
	want := frameCount * 2
	clear(out[:want])
	buf := playing.Load()
	if buf == nil {
		return
	}
	pos := playPos.Load()
	remaining := uint32(len(*buf)) - pos
	if remaining == 0 {
		playing.Store(nil)
		return
	}
	n := min(want, remaining)
	copy(out[:n], (*buf)[pos:pos+n])
	playPos.Store(pos + n)
}

func playSamples(samples []int16) {
	Init()
	if malgoCtx == nil || len(samples) == 0 {
		return
	}
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	playMu.Lock()
	defer playMu.Unlock()

	device.Stop()
	playPos.Store(0)
	playing.Store(&buf)
	if err := device.Start(); err == nil {
		return
	}
	// the device can go stale across sleep/wake; reopen once
	device.Uninit()
	if err := openDevice(malgoCtx); err != nil || device.Start() != nil {
		playing.Store(nil)
	}
}
