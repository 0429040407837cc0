// ABOUTME: Opus encoder wrapper for sinks that negotiate opus over the wire
// ABOUTME: Adapted from internal/server/opus_encoder.go, fixed to the engine's packet size
package remotesink

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/resonatehub/playbackd/internal/engine"
)

// opusEncoder wraps libopus, encoding one engine packet (PacketSamples
// frames per channel) at a time.
type opusEncoder struct {
	enc *opus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := opus.NewEncoder(engine.SampleRate, 2, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("remotesink: new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(128000); err != nil {
		return nil, fmt.Errorf("remotesink: set opus bitrate: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

func (e *opusEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, 4000)
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return nil, fmt.Errorf("remotesink: opus encode: %w", err)
	}
	return out[:n], nil
}
