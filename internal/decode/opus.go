// ABOUTME: Opus decode context, for catalog entries stored as length-prefixed raw Opus packets
// ABOUTME: Adapted from pkg/audio/decode/opus.go; the catalog writes this framing itself (no Ogg container)
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"gopkg.in/hraban/opus.v2"

	"github.com/resonatehub/playbackd/internal/engine"
	"github.com/resonatehub/playbackd/pkg/audio"
	"github.com/resonatehub/playbackd/pkg/audio/resample"
)

// opusContext decodes a sequence of uint32-length-prefixed raw Opus
// packets — the catalog's own storage framing for tracks it has
// transcoded for compact storage (it has no need for Ogg's seek index,
// since playback_seek resolves positions by decode time, not byte
// offset).
type opusContext struct {
	file     *os.File
	dec      *opus.Decoder
	rate     int
	channels int

	resampler *resample.Resampler
	pending   []int16
	pcmScratch []int16
	eof       bool
}

const opusFrameSamples = 5760 // max Opus frame size per channel at 48kHz

func newOpusContext(path string) (*opusContext, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode: open opus %s: %w", path, err)
	}
	const rate, channels = 48000, 2
	dec, err := opus.NewDecoder(rate, channels)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode: opus decoder: %w", err)
	}
	c := &opusContext{file: f, dec: dec, rate: rate, channels: channels, pcmScratch: make([]int16, opusFrameSamples*channels)}
	if rate != engine.SampleRate {
		c.resampler = resample.New(rate, engine.SampleRate, 2)
	}
	return c, nil
}

func (c *opusContext) Decode(buf []byte) (int, error) {
	wantFrames := len(buf) / engine.BytesPerSample
	for len(c.pending) < wantFrames*2 && !c.eof {
		if err := c.decodeOnePacket(); err != nil {
			c.eof = true
		}
	}
	n := len(c.pending)
	if n > wantFrames*2 {
		n = wantFrames * 2
	}
	for i := 0; i < n; i++ {
		buf[i*2] = byte(uint16(c.pending[i]))
		buf[i*2+1] = byte(uint16(c.pending[i]) >> 8)
	}
	c.pending = c.pending[n:]
	return n * 2, nil
}

func (c *opusContext) decodeOnePacket() error {
	packet, err := c.readPacket()
	if err != nil {
		return err
	}
	n, err := c.dec.Decode(packet, c.pcmScratch)
	if err != nil {
		return fmt.Errorf("decode: opus packet: %w", err)
	}
	decoded := c.pcmScratch[:n*c.channels]

	if c.resampler == nil {
		c.pending = append(c.pending, decoded...)
		return nil
	}
	in := make([]int32, len(decoded))
	for i, s := range decoded {
		in[i] = audio.SampleFromInt16(s)
	}
	out := make([]int32, c.resampler.OutputSamplesNeeded(len(in))+4)
	outN := c.resampler.Resample(in, out)
	for i := 0; i < outN; i++ {
		c.pending = append(c.pending, audio.SampleToInt16(out[i]))
	}
	return nil
}

func (c *opusContext) readPacket() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.file, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	packet := make([]byte, size)
	if _, err := io.ReadFull(c.file, packet); err != nil {
		return nil, fmt.Errorf("decode: opus packet body: %w", err)
	}
	return packet, nil
}

// Seek has no cheap path for this catalog framing — packets decode to a
// variable number of samples, so the file must be replayed from the
// start, discarding packets until the target position.
func (c *opusContext) Seek(ms int64) (int64, error) {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("decode: opus seek rewind: %w", err)
	}
	c.pending, c.eof = nil, false
	dec, err := opus.NewDecoder(c.rate, c.channels)
	if err != nil {
		return 0, fmt.Errorf("decode: opus seek redecoder: %w", err)
	}
	c.dec = dec
	if c.rate != engine.SampleRate {
		c.resampler = resample.New(c.rate, engine.SampleRate, 2)
	} else {
		c.resampler = nil
	}

	// pending holds interleaved stereo samples already at engine.SampleRate.
	target := int(engine.MillisToSamples(ms)) * 2
	for len(c.pending) < target {
		if err := c.decodeOnePacket(); err != nil {
			break
		}
	}
	produced := len(c.pending)
	if produced > target {
		produced = target
	}
	c.pending = c.pending[produced:]
	return int64(engine.SamplesToMillis(uint64(produced / 2))), nil
}

func (c *opusContext) Close() error {
	return c.file.Close()
}
