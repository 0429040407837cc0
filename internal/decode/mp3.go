// ABOUTME: MP3 decode context, resampling to the engine's fixed 44100Hz stereo PCM
// ABOUTME: Adapted from internal/server/audio_source.go's MP3Source and pkg/audio/decode/mp3.go
package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/resonatehub/playbackd/internal/engine"
	"github.com/resonatehub/playbackd/pkg/audio"
	"github.com/resonatehub/playbackd/pkg/audio/resample"
)

// mp3Context decodes one MP3 file. go-mp3 always emits 16-bit stereo
// PCM at the stream's native sample rate; when that differs from
// engine.SampleRate, reads pass through resample.Resampler.
type mp3Context struct {
	file       *os.File
	dec        *mp3.Decoder
	nativeRate int

	resampler  *resample.Resampler
	nativeBuf  []byte
	int32In    []int32
	int32Out   []int32
}

func newMP3Context(path string) (*mp3Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode: open mp3 %s: %w", path, err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode: mp3 %s: %w", path, err)
	}
	c := &mp3Context{file: f, dec: dec, nativeRate: dec.SampleRate()}
	if c.nativeRate != engine.SampleRate {
		c.resampler = resample.New(c.nativeRate, engine.SampleRate, 2)
	}
	return c, nil
}

// Decode fills buf with 16-bit stereo PCM at engine.SampleRate.
func (c *mp3Context) Decode(buf []byte) (int, error) {
	if c.resampler == nil {
		n, err := io.ReadFull(c.dec, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return n, nil
		}
		return n, err
	}
	return c.decodeResampled(buf)
}

// decodeResampled decodes one native-rate chunk, converts it to the
// resampler's int32 domain, and resamples down into buf.
func (c *mp3Context) decodeResampled(buf []byte) (int, error) {
	wantOutFrames := len(buf) / engine.BytesPerSample
	wantInFrames := c.resampler.InputSamplesNeeded(wantOutFrames*2) / 2
	if wantInFrames < 1 {
		wantInFrames = 1
	}
	needBytes := wantInFrames * engine.BytesPerSample
	if cap(c.nativeBuf) < needBytes {
		c.nativeBuf = make([]byte, needBytes)
	}
	n, err := io.ReadFull(c.dec, c.nativeBuf[:needBytes])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, fmt.Errorf("decode: mp3 read: %w", err)
	}
	framesRead := n / engine.BytesPerSample
	if framesRead == 0 {
		return 0, nil
	}

	if cap(c.int32In) < framesRead*2 {
		c.int32In = make([]int32, framesRead*2)
	}
	in := c.int32In[:framesRead*2]
	for i := 0; i < framesRead*2; i++ {
		sample16 := int16(uint16(c.nativeBuf[i*2]) | uint16(c.nativeBuf[i*2+1])<<8)
		in[i] = audio.SampleFromInt16(sample16)
	}

	if cap(c.int32Out) < wantOutFrames*2 {
		c.int32Out = make([]int32, wantOutFrames*2)
	}
	out := c.int32Out[:wantOutFrames*2]
	outN := c.resampler.Resample(in, out)
	for i := 0; i < outN; i++ {
		s16 := audio.SampleToInt16(out[i])
		buf[i*2] = byte(s16)
		buf[i*2+1] = byte(s16 >> 8)
	}
	return outN * 2, nil
}

// Seek reopens the file and decodes-and-discards up to the target
// frame, since go-mp3 has no random-access seek table. The actual
// position reported back lands on whatever frame boundary decoding
// stopped at.
func (c *mp3Context) Seek(ms int64) (int64, error) {
	path := c.file.Name()
	if err := c.file.Close(); err != nil {
		return 0, fmt.Errorf("decode: mp3 seek close: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("decode: mp3 reopen %s: %w", path, err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("decode: mp3 redecode %s: %w", path, err)
	}
	c.file, c.dec = f, dec
	c.resampler = nil
	if c.nativeRate != engine.SampleRate {
		c.resampler = resample.New(c.nativeRate, engine.SampleRate, 2)
	}

	targetFrames := (ms * int64(c.nativeRate)) / 1000
	discard := make([]byte, 8192)
	var discarded int64
	for discarded < targetFrames {
		want := targetFrames - discarded
		n := int64(len(discard)) / 4
		if want < n {
			n = want
		}
		got, err := io.ReadFull(c.dec, discard[:n*4])
		discarded += int64(got) / 4
		if err != nil {
			break
		}
	}
	return (discarded * 1000) / int64(c.nativeRate), nil
}

func (c *mp3Context) Close() error {
	return c.file.Close()
}
