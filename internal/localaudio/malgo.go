// ABOUTME: Local sink driver playing the engine's fixed PCM format through miniaudio
// ABOUTME: Adapted from pkg/audio/output/malgo.go, pinned to the engine's 44100Hz/stereo/16-bit format
package localaudio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/resonatehub/playbackd/internal/engine"
)

// ringCapacitySamples sizes the device ring buffer to 500ms, matching
// the teacher's malgo output.
const ringCapacitySamples = (engine.SampleRate * 2 * 500) / 1000

// Driver plays the engine's 44100Hz/stereo/16-bit packets on the host's
// default output device via malgo/miniaudio. It implements
// engine.LocalSinkDriver.
type Driver struct {
	statusCB func(engine.LocalStatus)

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	ring     *ringBuffer

	volume  atomic.Int32
	framesPlayed atomic.Uint64
	firstRTP     atomic.Uint64
}

// New constructs a Driver at full volume. Init must be called before Open.
func New() *Driver {
	d := &Driver{}
	d.volume.Store(100)
	return d
}

func (d *Driver) Init(statusCB func(engine.LocalStatus)) error {
	d.statusCB = statusCB
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("localaudio: init malgo context: %w", err)
	}
	d.malgoCtx = ctx
	d.emit(engine.LocalClosed)
	return nil
}

func (d *Driver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		return nil
	}

	d.ring = newRingBuffer(ringCapacitySamples)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 2
	cfg.SampleRate = uint32(engine.SampleRate)
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			d.dataCallback(out, frameCount)
		},
	}

	device, err := malgo.InitDevice(d.malgoCtx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("localaudio: init device: %w", err)
	}
	d.device = device
	d.emit(engine.LocalOpen)
	return nil
}

func (d *Driver) Start(pos uint64, firstRTP uint64) error {
	d.mu.Lock()
	device := d.device
	d.mu.Unlock()
	if device == nil {
		return fmt.Errorf("localaudio: start before open")
	}
	d.framesPlayed.Store(pos)
	d.firstRTP.Store(firstRTP)
	if err := device.Start(); err != nil {
		d.emit(engine.LocalFailed)
		return fmt.Errorf("localaudio: start device: %w", err)
	}
	d.emit(engine.LocalRunning)
	return nil
}

func (d *Driver) Stop() error {
	d.mu.Lock()
	device := d.device
	d.mu.Unlock()
	if device == nil {
		return nil
	}
	d.emit(engine.LocalStopping)
	if err := device.Stop(); err != nil {
		return fmt.Errorf("localaudio: stop device: %w", err)
	}
	d.emit(engine.LocalOpen)
	return nil
}

func (d *Driver) Write(buf []byte, rtp uint64) error {
	d.mu.Lock()
	ring := d.ring
	d.mu.Unlock()
	if ring == nil {
		return fmt.Errorf("localaudio: write before open")
	}
	samples := bytesToInt16(buf)
	for written := 0; written < len(samples); {
		n := ring.Write(samples[written:])
		written += n
		if n == 0 {
			// Ring is full; the device callback drains it continuously,
			// so this only happens under sustained overrun.
			break
		}
	}
	return nil
}

// GetPos reports the sample position last handed to the output device's
// callback, in the same sample-domain the Clock and RTP timestamps use.
func (d *Driver) GetPos() (uint64, error) {
	return d.firstRTP.Load() + d.framesPlayed.Load(), nil
}

func (d *Driver) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	d.volume.Store(int32(volume))
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	if d.malgoCtx != nil {
		d.malgoCtx.Uninit()
		d.malgoCtx.Free()
		d.malgoCtx = nil
	}
	d.emit(engine.LocalClosed)
	return nil
}

func (d *Driver) emit(status engine.LocalStatus) {
	if d.statusCB != nil {
		d.statusCB(status)
	}
}

// dataCallback fills the device's output buffer from the ring buffer,
// applying volume, and advances the played-frame counter used by GetPos.
func (d *Driver) dataCallback(out []byte, frameCount uint32) {
	totalSamples := int(frameCount) * 2
	samples := make([]int16, totalSamples)
	d.ring.Read(samples)

	vol := float64(d.volume.Load()) / 100.0
	for i, s := range samples {
		scaled := int16(float64(s) * vol)
		out[i*2] = byte(uint16(scaled))
		out[i*2+1] = byte(uint16(scaled) >> 8)
	}
	d.framesPlayed.Add(uint64(frameCount))
}

func bytesToInt16(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
	}
	return out
}
