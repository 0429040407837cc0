// ABOUTME: Shared constants and enums for the playback engine
// ABOUTME: Sample-domain math, status/repeat enums, and error codes
package engine

import "fmt"

const (
	// SampleRate is the fixed PCM sample rate the engine operates in.
	SampleRate = 44100

	// BytesPerSample is 16-bit stereo: 2 channels * 2 bytes.
	BytesPerSample = 4

	// PacketSamples is the number of stereo frames per outgoing packet.
	PacketSamples = 352

	// PacketBytes is the size of one PCM packet in bytes.
	PacketBytes = PacketSamples * BytesPerSample

	// PreRollSamples is the two-second head start given to last_rtp
	// over the first audible sample, so slow-to-join sinks can buffer.
	PreRollSamples = 2 * SampleRate
)

// Status is the engine's global playback state.
type Status int

const (
	StatusStopped Status = iota
	StatusPaused
	StatusPlaying
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusPaused:
		return "paused"
	case StatusPlaying:
		return "playing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// RepeatMode controls end-of-track / end-of-queue behavior.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatSong
	RepeatAll
)

func (r RepeatMode) String() string {
	switch r {
	case RepeatOff:
		return "off"
	case RepeatSong:
		return "song"
	case RepeatAll:
		return "all"
	default:
		return fmt.Sprintf("repeat(%d)", int(r))
	}
}

// SyncSource names the clock currently providing ground truth.
type SyncSource int

const (
	SyncWallClock SyncSource = iota
	SyncLocalAudio
)

// Code is the caller-visible result of a command, per spec.md §7.
type Code int

const (
	CodeOK       Code = 0
	CodeError    Code = -1
	CodePassword Code = -2
)

// SamplesToMillis converts a sample count to milliseconds, truncating.
func SamplesToMillis(samples uint64) uint64 {
	return (samples * 1000) / SampleRate
}

// MillisToSamples converts milliseconds to a sample count, truncating.
func MillisToSamples(ms int64) int64 {
	return (ms * SampleRate) / 1000
}

// MicrosToSamples converts microseconds to a sample count, truncating.
func MicrosToSamples(us int64) int64 {
	return (us * SampleRate) / 1_000_000
}
