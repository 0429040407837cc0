// ABOUTME: Test doubles for the engine's collaborator interfaces
// ABOUTME: Shared by queue/clock/sinks/mixer/bus/orchestrator tests
package engine

import (
	"fmt"
	"sync"
	"time"
)

// fakeCatalog resolves track ids from an in-memory map, honoring a
// disabled set for decoder-refusal tests.
type fakeCatalog struct {
	mu       sync.Mutex
	tracks   map[string]TrackMeta
	disabled map[string]bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{tracks: make(map[string]TrackMeta), disabled: make(map[string]bool)}
}

func (c *fakeCatalog) add(id string, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks[id] = TrackMeta{TrackID: id, Title: title}
}

func (c *fakeCatalog) setDisabled(id string, d bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled[id] = d
}

func (c *fakeCatalog) Resolve(id string) (TrackMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.tracks[id]
	if !ok {
		return TrackMeta{}, fmt.Errorf("fakeCatalog: unknown track %q", id)
	}
	meta.Disabled = c.disabled[id]
	return meta, nil
}

// fakeDecoderCtx emits silence for its remaining sample count, then
// reports end-of-track.
type fakeDecoderCtx struct {
	mu          sync.Mutex
	remaining   int64 // samples
	seekRound   func(ms int64) int64
	refuseSetup bool
}

func (d *fakeDecoderCtx) Decode(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remaining <= 0 {
		return 0, nil
	}
	wantSamples := int64(len(buf) / BytesPerSample)
	n := wantSamples
	if n > d.remaining {
		n = d.remaining
	}
	d.remaining -= n
	for i := 0; i < int(n)*BytesPerSample; i++ {
		buf[i] = 0
	}
	return int(n) * BytesPerSample, nil
}

func (d *fakeDecoderCtx) Seek(ms int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	actual := ms
	if d.seekRound != nil {
		actual = d.seekRound(ms)
	}
	// Recompute remaining duration as if total track length were fixed
	// at whatever remaining+elapsed was when this mock was built; for
	// test purposes we just reset to a long remaining count so reads
	// after a seek don't immediately hit end-of-track.
	d.remaining = 10 * SampleRate
	return actual, nil
}

func (d *fakeDecoderCtx) Close() error { return nil }

// fakeDecoder builds a fakeDecoderCtx sized in seconds per track id.
type fakeDecoder struct {
	mu        sync.Mutex
	durations map[string]float64 // seconds
	refuse    map[string]bool
	seekRound func(ms int64) int64
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{durations: make(map[string]float64), refuse: make(map[string]bool)}
}

func (d *fakeDecoder) setDuration(id string, seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.durations[id] = seconds
}

func (d *fakeDecoder) setRefuse(id string, refuse bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse[id] = refuse
}

func (d *fakeDecoder) Setup(meta TrackMeta) (DecoderContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse[meta.TrackID] {
		return nil, fmt.Errorf("fakeDecoder: refused %q", meta.TrackID)
	}
	seconds := d.durations[meta.TrackID]
	return &fakeDecoderCtx{remaining: int64(seconds * SampleRate), seekRound: d.seekRound}, nil
}

// fakeRemoteSink is one fake remote sink's call log.
type fakeRemoteSink struct {
	writes    int
	lastRTP   uint64
	requirePW bool
	async     bool
}

// fakeRemoteSinkDriver is an in-memory RemoteSinkDriver. By default all
// operations complete synchronously with SinkOK; tests flip async to
// exercise the pending_sinks drain path.
type fakeRemoteSinkDriver struct {
	mu          sync.Mutex
	sinks       map[uint64]*fakeRemoteSink
	bySession   map[uint64]*fakeRemoteSink
	nextSession uint64
	playbackAt  uint64
	playbackTS  bool
}

func newFakeRemoteSinkDriver() *fakeRemoteSinkDriver {
	return &fakeRemoteSinkDriver{
		sinks:     make(map[uint64]*fakeRemoteSink),
		bySession: make(map[uint64]*fakeRemoteSink),
	}
}

func (d *fakeRemoteSinkDriver) register(id uint64, requirePW, async bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[id] = &fakeRemoteSink{requirePW: requirePW, async: async}
}

func (d *fakeRemoteSinkDriver) Start(sinkID uint64, firstRTP uint64, cb SinkCallback) (uint64, bool) {
	d.mu.Lock()
	s := d.sinks[sinkID]
	if s == nil {
		d.mu.Unlock()
		cb(sinkID, 0, SinkFailed)
		return 0, false
	}
	if s.requirePW {
		async := s.async
		d.mu.Unlock()
		if async {
			go cb(sinkID, 0, SinkPassword)
			return 0, true
		}
		cb(sinkID, 0, SinkPassword)
		return 0, false
	}
	d.nextSession++
	session := d.nextSession
	d.bySession[session] = s
	async := s.async
	d.mu.Unlock()
	if async {
		go cb(sinkID, session, SinkOK)
		return 0, true
	}
	// Matches the production driver (internal/remotesink.Driver.Start):
	// the synchronous-success path still invokes cb inline, before
	// returning, rather than relying on the caller to use the returned
	// session directly.
	cb(sinkID, session, SinkOK)
	return session, false
}

func (d *fakeRemoteSinkDriver) Probe(sinkID uint64, cb SinkCallback) bool {
	d.mu.Lock()
	s := d.sinks[sinkID]
	if s == nil {
		d.mu.Unlock()
		cb(sinkID, 0, SinkFailed)
		return false
	}
	if s.requirePW {
		async := s.async
		d.mu.Unlock()
		if async {
			go cb(sinkID, 0, SinkPassword)
			return true
		}
		cb(sinkID, 0, SinkPassword)
		return false
	}
	async := s.async
	d.mu.Unlock()
	if async {
		go cb(sinkID, 0, SinkOK)
		return true
	}
	cb(sinkID, 0, SinkOK)
	return false
}

func (d *fakeRemoteSinkDriver) Stop(session uint64) {}

// commandAsync reports whether the sink Start registered under session
// opted into async completion, so Flush/SetVolume below can honor the
// same per-sink async flag Start/Probe do.
func (d *fakeRemoteSinkDriver) commandAsync(session uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.bySession[session]
	return ok && s.async
}

// Flush matches the production driver (internal/remotesink.Driver.Flush):
// synchronous by default, cb invoked inline before returning, unless
// the sink behind session opted into async for this test.
func (d *fakeRemoteSinkDriver) Flush(session uint64, resumeRTP uint64, cb SinkCallback) bool {
	if d.commandAsync(session) {
		go cb(0, session, SinkOK)
		return true
	}
	cb(0, session, SinkOK)
	return false
}

// SetVolume matches the production driver the same way Flush does.
func (d *fakeRemoteSinkDriver) SetVolume(session uint64, volume int, cb SinkCallback) bool {
	if d.commandAsync(session) {
		go cb(0, session, SinkOK)
		return true
	}
	cb(0, session, SinkOK)
	return false
}

func (d *fakeRemoteSinkDriver) Write(session uint64, buf []byte, rtp uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sinks {
		s.writes++
		s.lastRTP = rtp
	}
	return nil
}

func (d *fakeRemoteSinkDriver) PlaybackStart(firstRTP uint64, wallClock time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playbackAt = firstRTP
	d.playbackTS = true
}

// fakeLocalSink is an in-memory LocalSinkDriver.
type fakeLocalSink struct {
	mu      sync.Mutex
	running bool
	pos     uint64
	volume  int
	status  func(LocalStatus)
}

func (l *fakeLocalSink) Init(cb func(LocalStatus)) error { l.status = cb; return nil }
func (l *fakeLocalSink) Open() error                     { return nil }
func (l *fakeLocalSink) Close() error                    { return nil }
func (l *fakeLocalSink) Start(pos, firstRTP uint64) error {
	l.mu.Lock()
	l.running = true
	l.pos = pos
	l.mu.Unlock()
	return nil
}
func (l *fakeLocalSink) Stop() error {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	return nil
}
func (l *fakeLocalSink) Write(buf []byte, rtp uint64) error { return nil }
func (l *fakeLocalSink) GetPos() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos, nil
}
func (l *fakeLocalSink) SetVolume(v int) {
	l.mu.Lock()
	l.volume = v
	l.mu.Unlock()
}

// fakeVolumeStore is an in-memory VolumeStore.
type fakeVolumeStore struct {
	mu sync.Mutex
	v  int
}

func (s *fakeVolumeStore) LoadVolume() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, nil
}

func (s *fakeVolumeStore) SaveVolume(v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	return nil
}
