// ABOUTME: Decoder collaborator (spec.md §1(b)): file extension -> format-specific opener
// ABOUTME: Adapted from pkg/audio/decode/* and internal/server/audio_source.go's per-format sources
package decode

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/resonatehub/playbackd/internal/engine"
)

// Decoder resolves a track's codec (explicit, or sniffed from its file
// extension) to a format-specific opener. It implements engine.Decoder.
type Decoder struct{}

// New constructs a Decoder. It holds no state of its own — every open
// file lives on the engine.DecoderContext Setup returns.
func New() *Decoder { return &Decoder{} }

// Setup opens meta.Path with the format-specific opener and returns a
// context that streams 16-bit stereo PCM at engine.SampleRate,
// resampling on the fly if the source's native rate differs.
func (d *Decoder) Setup(meta engine.TrackMeta) (engine.DecoderContext, error) {
	switch codecOf(meta) {
	case "mp3":
		return newMP3Context(meta.Path)
	case "flac":
		return newFLACContext(meta.Path)
	case "opus":
		return newOpusContext(meta.Path)
	case "pcm", "wav":
		return newPCMContext(meta.Path)
	default:
		return nil, fmt.Errorf("decode: unsupported codec %q for track %q", meta.Codec, meta.TrackID)
	}
}

// codecOf prefers the catalog's explicit codec tag, falling back to the
// file extension the way NewAudioSource's switch does.
func codecOf(meta engine.TrackMeta) string {
	if meta.Codec != "" {
		return strings.ToLower(meta.Codec)
	}
	switch strings.ToLower(filepath.Ext(meta.Path)) {
	case ".mp3":
		return "mp3"
	case ".flac":
		return "flac"
	case ".opus":
		return "opus"
	case ".wav", ".pcm":
		return "pcm"
	default:
		return ""
	}
}
