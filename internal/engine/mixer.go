// ABOUTME: Mixer / Packetizer (C5): one packet tick plus source_check reconciliation
// ABOUTME: Mirrors player.c's player_playback_cb and source_check
package engine

// Mixer owns the per-tick packet emission: it reconciles current vs.
// streaming entries, reads one packet of PCM, advances last_rtp, and
// fans the packet out to every active sink.
type Mixer struct {
	source *SourcePipeline
	sinks  *SinkRegistry
	clock  *Clock

	lastRTP uint64
	buf     [PacketBytes]byte

	currentStreaming *Entry
	currentPlaying   *Entry

	repeat  RepeatMode
	shuffle bool

	onPlaying func(*Entry)
	onStopped func()
}

func newMixer(source *SourcePipeline, sinks *SinkRegistry, clock *Clock) *Mixer {
	return &Mixer{source: source, sinks: sinks, clock: clock}
}

// Tick runs one packet cycle: source_check, then emit. Returns false if
// playback should stop (queue exhausted under REPEAT_OFF).
func (m *Mixer) Tick(queue *Queue) bool {
	if !m.sourceCheck() {
		return false
	}

	m.lastRTP += PacketSamples
	for i := range m.buf {
		m.buf[i] = 0
	}

	if m.currentStreaming != nil {
		advance := func(cur *Entry) *Entry {
			return m.advanceEntry(queue, cur)
		}
		nxt, _ := m.source.read(m.currentStreaming, m.buf[:], m.lastRTP, advance)
		m.currentStreaming = nxt
	}

	m.writeToSinks()
	return true
}

// sourceCheck reconciles current_playing against current_streaming
// before every packet.
//
//  1. current_playing nil and the clock has reached streaming's
//     output_start: promote streaming to playing.
//  2. the clock has crossed current_playing.end: hop along play_next,
//     possibly more than once if the Mixer ran ahead.
//  3. REPEAT_SONG restarts the same entry in place.
//  4. reaching the tail under REPEAT_OFF stops playback.
//
// The hop in (2) only ever follows play_next, the link source.read's
// decoder-exhaustion path already wired up (and already opened the far
// end of, via advanceEntry) the moment current_playing's decoder first
// ran dry — by the time the clock catches up to current_playing.End,
// that link is guaranteed to exist. Re-resolving it here would re-open
// (and leak) a decoder context that is already open and already
// partway decoded.
func (m *Mixer) sourceCheck() bool {
	if m.currentStreaming == nil && m.currentPlaying == nil {
		return true
	}
	now := m.clock.Now()

	if m.currentPlaying == nil && now >= m.currentStreaming.OutputStart {
		m.currentPlaying = m.currentStreaming
		if m.onPlaying != nil {
			m.onPlaying(m.currentPlaying)
		}
	}

	for m.currentPlaying != nil && m.currentPlaying.End > 0 && now >= m.currentPlaying.End {
		nxt := m.currentPlaying.playNext
		if nxt == nil {
			if m.onStopped != nil {
				m.onStopped()
			}
			return false
		}
		if nxt == m.currentPlaying {
			// REPEAT_SONG restarted this entry in place.
			break
		}
		m.currentPlaying = nxt
		m.currentStreaming = nxt
	}
	return true
}

// advanceEntry hops from cur to the next playable entry, wiring
// stream_start/output_start and releasing cur's decoder, or restarts
// cur in place under REPEAT_SONG. Returns nil if playback must stop.
func (m *Mixer) advanceEntry(queue *Queue, cur *Entry) *Entry {
	if m.repeat == RepeatSong {
		if _, err := m.source.seek(cur, m.lastRTP, 0); err == nil {
			return cur
		}
	}
	var nxt *Entry
	ok := false
	if m.repeat != RepeatOff || !queue.single() {
		// A lone entry under REPEAT_OFF is not reopened: it ends here, and
		// sourceCheck stops playback once the clock crosses its end.
		nxt, ok = queue.Next(cur, m.shuffle, m.repeat, false, m.source.open)
	}
	if cur.ctx != nil {
		cur.ctx.Close()
		cur.ctx = nil
	}
	if !ok {
		return nil
	}
	nxt.StreamStart = cur.End + 1
	nxt.OutputStart = nxt.StreamStart
	return nxt
}

// writeToSinks fans the current packet out to every active sink, local
// and remote.
func (m *Mixer) writeToSinks() {
	m.sinks.WriteLocal(m.buf[:], m.lastRTP)
	for _, s := range m.sinks.Snapshot() {
		m.sinks.driver.Write(s.Session, m.buf[:], m.lastRTP)
	}
}

// LastRTP returns the most recently emitted packet's timestamp.
func (m *Mixer) LastRTP() uint64 { return m.lastRTP }

// SetLastRTP seeds last_rtp, e.g. at init with a randomized 64-bit seed.
func (m *Mixer) SetLastRTP(v uint64) { m.lastRTP = v }

// CurrentStreaming returns current_streaming: the entry being decoded
// right now, possibly ahead of what the listener hears.
func (m *Mixer) CurrentStreaming() *Entry { return m.currentStreaming }

// CurrentPlaying returns current_playing: the entry the listener
// currently hears, or nil during pre-roll.
func (m *Mixer) CurrentPlaying() *Entry { return m.currentPlaying }

// SetRepeat updates the repeat mode sourceCheck/advanceEntry consult.
func (m *Mixer) SetRepeat(r RepeatMode) { m.repeat = r }

// SetShuffle updates the shuffle flag sourceCheck/advanceEntry consult.
func (m *Mixer) SetShuffle(b bool) { m.shuffle = b }

// Begin installs entry as both current_streaming and (pending pre-roll)
// current_playing=nil, the state playback_start leaves the Mixer in
// just before the timer is armed.
func (m *Mixer) Begin(entry *Entry) {
	m.currentStreaming = entry
	m.currentPlaying = nil
}

// Reset clears current_streaming/current_playing, e.g. on playback_stop.
func (m *Mixer) Reset() {
	m.currentStreaming = nil
	m.currentPlaying = nil
}
