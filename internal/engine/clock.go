// ABOUTME: Clock component (C2): tracks playback position across two sources
// ABOUTME: Mirrors player.c's pos_xxx / laudio_status_cb sync-source handling
package engine

import (
	"sync"
	"time"
)

// Clock maintains (pos_samples, pos_timestamp): "at wall-clock time
// pos_timestamp, playback had emitted pos_samples samples at 44100Hz".
// Position is read from the active sync source; a switch away from
// local audio (STOPPING) commits the last local position into the pair,
// while the other source switches leave the pair as it is.
type Clock struct {
	mu sync.RWMutex

	posSamples   uint64
	posTimestamp time.Time
	source       SyncSource

	localPos func() (uint64, error)
}

func newClock() *Clock {
	return &Clock{posTimestamp: time.Now(), source: SyncWallClock}
}

// setLocalPosFunc wires the callback used to read the local sink's own
// sample position while source == SyncLocalAudio.
func (c *Clock) setLocalPosFunc(f func() (uint64, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localPos = f
}

// Now returns the current playback position in samples. When the
// active source is wall-clock, it extrapolates from the committed pair;
// when local-audio, it defers to the sink's reported position and
// silently keeps the last commit if the sink is unreadable (a
// recoverable-locally failure per the error-handling design: callers
// get a stale-but-safe answer rather than an error).
func (c *Clock) Now() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() uint64 {
	switch c.source {
	case SyncLocalAudio:
		if c.localPos != nil {
			if pos, err := c.localPos(); err == nil {
				return pos
			}
		}
		return c.posSamples
	default:
		elapsed := time.Since(c.posTimestamp)
		delta := uint64(elapsed.Seconds() * SampleRate)
		return c.posSamples + delta
	}
}

// Commit captures the current position into the pair, pinned to now.
func (c *Clock) Commit() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos := c.nowLocked()
	c.posSamples = pos
	c.posTimestamp = time.Now()
	return pos
}

// Seed forces the position pair to pos at the current wall-clock
// instant, establishing a shared absolute sample-domain origin between
// the Clock and the Mixer's last_rtp counter. playback_start uses this
// to back-date the clock by PreRollSamples so current_playing's
// promotion (source_check comparing Clock.Now() against output_start)
// naturally lands PreRollSamples of real time after the first packet
// goes out (spec.md §4.7 "establish pos = last_rtp + PACKET_SAMPLES -
// 2*44100").
func (c *Clock) Seed(pos uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posSamples = pos
	c.posTimestamp = time.Now()
	c.source = SyncWallClock
}

// SetSource switches the active sync source without touching the pair.
func (c *Clock) SetSource(s SyncSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = s
}

// Source reports the active sync source.
func (c *Clock) Source() SyncSource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// OnLocalStatus applies the sync-source transitions driven by the
// local sink's status callback. stopLocal/closeLocal/stopPlayback are
// the side effects the Orchestrator must additionally perform; Clock
// itself only owns the source/pair bookkeeping.
//
//   STOPPING -> capture local-audio position, commit it, switch to WALL_CLOCK.
//   RUNNING  -> switch to LOCAL_AUDIO.
//   FAILED   -> switch to WALL_CLOCK; caller closes the local sink and
//               stops playback if no remote sinks remain active.
func (c *Clock) OnLocalStatus(status LocalStatus) {
	switch status {
	case LocalStopping:
		c.mu.Lock()
		pos := c.nowLocked()
		c.posSamples = pos
		c.posTimestamp = time.Now()
		c.source = SyncWallClock
		c.mu.Unlock()
	case LocalRunning:
		c.SetSource(SyncLocalAudio)
	case LocalFailed:
		c.SetSource(SyncWallClock)
	}
}
