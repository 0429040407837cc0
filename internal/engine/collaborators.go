// ABOUTME: Interfaces the engine depends on but does not implement
// ABOUTME: Decoder, media catalog, remote/local sink drivers, discovery, notifier fd
package engine

import "time"

// TrackMeta is what the media database resolves a track id to.
type TrackMeta struct {
	TrackID  string
	Path     string
	Codec    string
	Disabled bool
	Title    string
	Artist   string
	Album    string
}

// Catalog resolves track identifiers to decodable file metadata. This
// is the media database collaborator (spec.md §1(a)).
type Catalog interface {
	Resolve(trackID string) (TrackMeta, error)
}

// DecoderContext is an open decode session for one track.
type DecoderContext interface {
	// Decode fills buf with PCM bytes (16-bit stereo), returning bytes written.
	Decode(buf []byte) (int, error)
	// Seek seeks to the given millisecond offset, returning the actual
	// position reached (decoders may only seek to frame boundaries).
	Seek(ms int64) (int64, error)
	// Close releases decoder resources.
	Close() error
}

// Decoder transforms a file into a linear PCM byte stream at
// SampleRate, with millisecond seeking (spec.md §1(b), §6).
type Decoder interface {
	Setup(meta TrackMeta) (DecoderContext, error)
}

// SinkStatus is the status a sink session callback reports.
type SinkStatus int

const (
	SinkOK SinkStatus = iota
	SinkStopped
	SinkFailed
	SinkPassword
)

// SinkCallback is how a remote sink driver reports asynchronous state
// back onto the player thread's event loop.
type SinkCallback func(sinkID uint64, session uint64, status SinkStatus)

// RemoteSinkDriver establishes network sessions, schedules timestamped
// packets, and reports asynchronous session state (spec.md §1(c), §6).
type RemoteSinkDriver interface {
	// Start begins a session for sinkID at firstRTP, invoking cb when
	// the session reaches a terminal or ready state. Returns a session
	// handle immediately; cb may fire later (async) or have already
	// fired by the time Start returns (sync failure).
	Start(sinkID uint64, firstRTP uint64, cb SinkCallback) (session uint64, async bool)
	// Probe validates a sink is reachable without attaching a session.
	Probe(sinkID uint64, cb SinkCallback) (async bool)
	// Stop tears down an active session.
	Stop(session uint64)
	// Flush asks the sink to discard buffered audio and resume at resumeRTP.
	Flush(session uint64, resumeRTP uint64, cb SinkCallback) (async bool)
	// SetVolume pushes a volume change to the sink.
	SetVolume(session uint64, volume int, cb SinkCallback) (async bool)
	// Write sends one timestamped PCM packet.
	Write(session uint64, buf []byte, rtp uint64) error
	// PlaybackStart kicks off the wall-clock-anchored transport timeline.
	PlaybackStart(firstRTP uint64, wallClock time.Time)
}

// LocalStatus mirrors the local sink driver's device lifecycle.
type LocalStatus int

const (
	LocalClosed LocalStatus = iota
	LocalOpen
	LocalRunning
	LocalStopping
	LocalFailed
)

// LocalSinkDriver plays PCM to the host's audio device and reports its
// own clock (spec.md §1(d), §6).
type LocalSinkDriver interface {
	Init(statusCB func(LocalStatus)) error
	Open() error
	Close() error
	Start(pos uint64, firstRTP uint64) error
	Stop() error
	Write(buf []byte, rtp uint64) error
	GetPos() (uint64, error)
	SetVolume(volume int)
}

// DiscoveryEvent is what the service-discovery agent reports for a
// remote sink advertisement or retraction (spec.md §1(e), §6).
type DiscoveryEvent struct {
	Name         string
	Address      string
	Port         int // < 0 means retraction
	HasPassword  bool
}

// Notifier is the caller-supplied fd abstraction for C8 (spec.md §4.8).
// Writes are best-effort and coalesce; a nil Notifier is a valid no-op.
type Notifier interface {
	Notify()
}

// VolumeStore persists the single `player:volume` integer across
// restarts (spec.md §6, "Persisted state").
type VolumeStore interface {
	LoadVolume() (int, error)
	SaveVolume(v int) error
}
