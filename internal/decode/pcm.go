// ABOUTME: Raw PCM / WAV decode context
// ABOUTME: Adapted from pkg/audio/decode/pcm.go's bit-depth conversion, plus a minimal WAV header reader
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/resonatehub/playbackd/internal/engine"
	"github.com/resonatehub/playbackd/pkg/audio"
	"github.com/resonatehub/playbackd/pkg/audio/resample"
)

// pcmContext streams a .wav (or headerless .pcm, assumed CD-quality) file,
// converting to 16-bit stereo and resampling if the source format demands it.
type pcmContext struct {
	file       *os.File
	dataStart  int64
	nativeRate int
	channels   int
	bitDepth   int

	resampler *resample.Resampler
	frameBuf  []byte
}

func newPCMContext(path string) (*pcmContext, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode: open pcm %s: %w", path, err)
	}
	rate, channels, bitDepth, dataStart, err := readWAVHeader(f)
	if err != nil {
		// Not a RIFF/WAVE file: treat as headerless CD-quality PCM.
		rate, channels, bitDepth, dataStart = engine.SampleRate, 2, 16, 0
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			f.Close()
			return nil, fmt.Errorf("decode: rewind pcm %s: %w", path, serr)
		}
	}
	c := &pcmContext{file: f, dataStart: dataStart, nativeRate: rate, channels: channels, bitDepth: bitDepth}
	if rate != engine.SampleRate || channels != 2 || bitDepth != 16 {
		c.resampler = resample.New(rate, engine.SampleRate, 2)
	}
	return c, nil
}

// readWAVHeader parses just enough of a RIFF/WAVE container to find the
// fmt and data chunks, returning the stream's position where PCM data
// begins.
func readWAVHeader(f *os.File) (rate, channels, bitDepth int, dataStart int64, err error) {
	var riff [12]byte
	if _, err = io.ReadFull(f, riff[:]); err != nil {
		return
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		err = fmt.Errorf("decode: not a WAVE file")
		return
	}

	var pos int64 = 12
	for {
		var hdr [8]byte
		if _, e := io.ReadFull(f, hdr[:]); e != nil {
			err = fmt.Errorf("decode: wav chunk scan: %w", e)
			return
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		pos += 8

		switch id {
		case "fmt ":
			var fmtBuf [16]byte
			if _, e := io.ReadFull(f, fmtBuf[:]); e != nil {
				err = fmt.Errorf("decode: wav fmt chunk: %w", e)
				return
			}
			channels = int(binary.LittleEndian.Uint16(fmtBuf[2:4]))
			rate = int(binary.LittleEndian.Uint32(fmtBuf[4:8]))
			bitDepth = int(binary.LittleEndian.Uint16(fmtBuf[14:16]))
			if size > 16 {
				if _, e := f.Seek(size-16, io.SeekCurrent); e != nil {
					err = e
					return
				}
			}
			pos += size
		case "data":
			dataStart = pos
			return
		default:
			if _, e := f.Seek(size, io.SeekCurrent); e != nil {
				err = fmt.Errorf("decode: wav chunk skip: %w", e)
				return
			}
			pos += size
		}
	}
}

func (c *pcmContext) Decode(buf []byte) (int, error) {
	if c.resampler == nil {
		n, err := io.ReadFull(c.file, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return n, nil
		}
		return n, err
	}
	return c.decodeResampled(buf)
}

func (c *pcmContext) decodeResampled(buf []byte) (int, error) {
	wantOutFrames := len(buf) / engine.BytesPerSample
	wantInFrames := c.resampler.InputSamplesNeeded(wantOutFrames*2)/c.channels + 1
	nativeFrameBytes := c.channels * (c.bitDepth / 8)
	needBytes := wantInFrames * nativeFrameBytes
	if cap(c.frameBuf) < needBytes {
		c.frameBuf = make([]byte, needBytes)
	}
	n, err := io.ReadFull(c.file, c.frameBuf[:needBytes])
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return 0, fmt.Errorf("decode: pcm read: %w", err)
	}
	framesRead := n / nativeFrameBytes
	if framesRead == 0 {
		return 0, nil
	}

	in := make([]int32, framesRead*2)
	for i := 0; i < framesRead; i++ {
		for ch := 0; ch < 2; ch++ {
			srcCh := ch
			if c.channels == 1 {
				srcCh = 0
			}
			in[i*2+ch] = readSample(c.frameBuf, i*nativeFrameBytes+srcCh*(c.bitDepth/8), c.bitDepth)
		}
	}

	out := make([]int32, wantOutFrames*2+4)
	outN := c.resampler.Resample(in, out)
	for i := 0; i < outN; i++ {
		s16 := audio.SampleToInt16(out[i])
		buf[i*2] = byte(uint16(s16))
		buf[i*2+1] = byte(uint16(s16) >> 8)
	}
	return outN * 2, nil
}

// readSample reads one sample of bitDepth bits at byte offset off in
// buf, returning it in the int32 "24-bit-positioned" domain pkg/audio
// uses for resampling headroom.
func readSample(buf []byte, off, bitDepth int) int32 {
	switch bitDepth {
	case 24:
		var b [3]byte
		copy(b[:], buf[off:off+3])
		return audio.SampleFrom24Bit(b)
	default: // 16-bit
		s16 := int16(binary.LittleEndian.Uint16(buf[off : off+2]))
		return audio.SampleFromInt16(s16)
	}
}

func (c *pcmContext) Seek(ms int64) (int64, error) {
	nativeFrameBytes := int64(c.channels * (c.bitDepth / 8))
	targetFrame := (ms * int64(c.nativeRate)) / 1000
	offset := c.dataStart + targetFrame*nativeFrameBytes
	actual, err := c.file.Seek(offset, io.SeekStart)
	if err != nil {
		return 0, fmt.Errorf("decode: pcm seek: %w", err)
	}
	actualFrame := (actual - c.dataStart) / nativeFrameBytes
	return (actualFrame * 1000) / int64(c.nativeRate), nil
}

func (c *pcmContext) Close() error {
	return c.file.Close()
}
