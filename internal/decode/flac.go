// ABOUTME: FLAC decode context, frame-at-a-time with a pending-sample carryover buffer
// ABOUTME: Adapted from internal/server/audio_source.go's FLACSource and pkg/audio/decode/flac.go
package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
	flacframe "github.com/mewkiz/flac/frame"

	"github.com/resonatehub/playbackd/internal/engine"
	"github.com/resonatehub/playbackd/pkg/audio"
	"github.com/resonatehub/playbackd/pkg/audio/resample"
)

// flacContext decodes one FLAC file frame by frame. A FLAC frame's
// block size is usually much larger than one engine packet (1408
// bytes), so decoded-and-resampled samples that don't fit the caller's
// buf are held in pending for the next Decode call.
type flacContext struct {
	file       *os.File
	stream     *flac.Stream
	nativeRate int
	channels   int
	bitDepth   int

	resampler *resample.Resampler
	pending   []int16 // interleaved stereo, not yet handed to a caller
	eof       bool
}

func newFLACContext(path string) (*flacContext, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode: open flac %s: %w", path, err)
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode: flac %s: %w", path, err)
	}
	c := &flacContext{
		file:       f,
		stream:     stream,
		nativeRate: int(stream.Info.SampleRate),
		channels:   int(stream.Info.NChannels),
		bitDepth:   int(stream.Info.BitsPerSample),
	}
	if c.nativeRate != engine.SampleRate {
		c.resampler = resample.New(c.nativeRate, engine.SampleRate, 2)
	}
	return c, nil
}

func (c *flacContext) Decode(buf []byte) (int, error) {
	wantFrames := len(buf) / engine.BytesPerSample
	for len(c.pending) < wantFrames*2 && !c.eof {
		if err := c.decodeOneFrame(); err != nil {
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

// decodeOneFrame parses the next FLAC frame, downmixes/duplicates it to
// stereo, resamples if needed, and appends the result to pending.
func (c *flacContext) decodeOneFrame() error {
	frame, err := c.stream.ParseNext()
	if err != nil {
		return err
	}
	stereo := frameToStereoInt16(frame, c.channels, c.bitDepth)
	if c.resampler == nil {
		c.pending = append(c.pending, stereo...)
		return nil
	}

	in := make([]int32, len(stereo))
	for i, s := range stereo {
		in[i] = audio.SampleFromInt16(s)
	}
	out := make([]int32, c.resampler.OutputSamplesNeeded(len(in))+4)
	n := c.resampler.Resample(in, out)
	for i := 0; i < n; i++ {
		c.pending = append(c.pending, audio.SampleToInt16(out[i]))
	}
	return nil
}

func frameToStereoInt16(frame *flacframe.Frame, channels, bitDepth int) []int16 {
	n := int(frame.BlockSize)
	out := make([]int16, n*2)
	for i := 0; i < n; i++ {
		left := frame.Subframes[0].Samples[i]
		right := left
		if channels > 1 {
			right = frame.Subframes[1].Samples[i]
		}
		out[i*2] = scaleToInt16(left, bitDepth)
		out[i*2+1] = scaleToInt16(right, bitDepth)
	}
	return out
}

func scaleToInt16(sample int32, bitDepth int) int16 {
	shift := bitDepth - 16
	if shift > 0 {
		return int16(sample >> uint(shift))
	}
	if shift < 0 {
		return int16(sample << uint(-shift))
	}
	return int16(sample)
}

// Seek reopens the stream and decodes-and-discards frames until the
// target position, mirroring mp3Context.Seek — FLAC's frame index is
// not exposed for random access by this library.
func (c *flacContext) Seek(ms int64) (int64, error) {
	path := c.file.Name()
	if err := c.file.Close(); err != nil {
		return 0, fmt.Errorf("decode: flac seek close: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("decode: flac reopen %s: %w", path, err)
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("decode: flac restream %s: %w", path, err)
	}
	c.file, c.stream, c.pending, c.eof = f, stream, nil, false
	c.resampler = nil
	if c.nativeRate != engine.SampleRate {
		c.resampler = resample.New(c.nativeRate, engine.SampleRate, 2)
	}

	targetFrames := int((ms * int64(c.nativeRate)) / 1000)
	var discarded int
	for discarded < targetFrames {
		frame, err := c.stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("decode: flac seek scan: %w", err)
		}
		discarded += int(frame.BlockSize)
	}
	return (int64(discarded) * 1000) / int64(c.nativeRate), nil
}

func (c *flacContext) Close() error {
	return c.file.Close()
}
