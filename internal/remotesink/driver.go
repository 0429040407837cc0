// ABOUTME: engine.RemoteSinkDriver implementation: one outbound websocket session per sink
// ABOUTME: Inverted from internal/server/server.go's Client bookkeeping (this dials out, the teacher accepted)
package remotesink

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/resonatehub/playbackd/internal/engine"
)

// SinkAddress resolves a sink id (as assigned by the engine's discovery
// handling) to the dial target learned from its discovery advertisement.
type SinkAddress interface {
	AddressFor(sinkID uint64) (string, bool)
}

// Driver implements engine.RemoteSinkDriver, dialing each sink's
// address on demand and holding one websocket session per active
// playback or probe.
type Driver struct {
	addrs    SinkAddress
	serverID string
	name     string

	nextSession atomic.Uint64

	mu       sync.Mutex
	sessions map[uint64]*session
}

// New constructs a Driver identifying itself to every sink with a
// freshly generated client id, matching the teacher's use of
// github.com/google/uuid for connection identity throughout
// internal/server/server.go.
func New(addrs SinkAddress, name string) *Driver {
	return &Driver{addrs: addrs, serverID: uuid.NewString(), name: name, sessions: map[uint64]*session{}}
}

// Start dials sinkID, performs the handshake and stream/start exchange,
// and begins a session. Runs synchronously on the player thread; since
// dialing blocks, callers should expect dispatchActivation to stall for up
// to connectTimeout — matching the teacher's own synchronous
// device_activate_cb path for sinks that answer immediately, with cb
// invoked inline for the fast path and reserved for genuinely async
// failures reported later by the read loop.
func (d *Driver) Start(sinkID uint64, firstRTP uint64, cb engine.SinkCallback) (uint64, bool) {
	address, ok := d.addrs.AddressFor(sinkID)
	if !ok {
		cb(sinkID, 0, engine.SinkFailed)
		return 0, false
	}

	conn, err := dial(address)
	if err != nil {
		cb(sinkID, 0, engine.SinkFailed)
		return 0, false
	}
	codec, err := handshake(conn, d.serverID, d.name)
	if err != nil {
		conn.Close()
		cb(sinkID, 0, engine.SinkFailed)
		return 0, false
	}

	sessID := d.nextSession.Add(1)
	s := &session{id: sessID, sinkID: sinkID, conn: conn, cb: cb, codec: codec}
	if codec == "opus" {
		enc, err := newOpusEncoder()
		if err != nil {
			conn.Close()
			cb(sinkID, 0, engine.SinkFailed)
			return 0, false
		}
		s.encoder = enc
	}
	if err := s.sendStreamStart(); err != nil {
		conn.Close()
		cb(sinkID, 0, engine.SinkFailed)
		return 0, false
	}

	d.mu.Lock()
	d.sessions[sessID] = s
	d.mu.Unlock()

	go s.readLoop()
	cb(sinkID, sessID, engine.SinkOK)
	return sessID, false
}

// Probe dials and handshakes without starting a streaming session,
// closing the connection immediately after — used for speaker_set's
// reachability check on a paused sink (spec.md §6).
func (d *Driver) Probe(sinkID uint64, cb engine.SinkCallback) bool {
	address, ok := d.addrs.AddressFor(sinkID)
	if !ok {
		cb(sinkID, 0, engine.SinkFailed)
		return false
	}
	conn, err := dial(address)
	if err != nil {
		cb(sinkID, 0, engine.SinkFailed)
		return false
	}
	if _, err := handshake(conn, d.serverID, d.name); err != nil {
		conn.Close()
		cb(sinkID, 0, engine.SinkFailed)
		return false
	}
	conn.Close()
	cb(sinkID, 0, engine.SinkOK)
	return false
}

func (d *Driver) Stop(sess uint64) {
	d.mu.Lock()
	s, ok := d.sessions[sess]
	delete(d.sessions, sess)
	d.mu.Unlock()
	if !ok {
		return
	}
	s.close()
}

func (d *Driver) Flush(sess uint64, resumeRTP uint64, cb engine.SinkCallback) bool {
	d.mu.Lock()
	s, ok := d.sessions[sess]
	d.mu.Unlock()
	if !ok {
		cb(0, sess, engine.SinkFailed)
		return false
	}
	err := s.sendCommand("flush", map[string]any{"resume_rtp": resumeRTP})
	if err != nil {
		cb(s.sinkID, sess, engine.SinkFailed)
		return false
	}
	cb(s.sinkID, sess, engine.SinkOK)
	return false
}

func (d *Driver) SetVolume(sess uint64, volume int, cb engine.SinkCallback) bool {
	d.mu.Lock()
	s, ok := d.sessions[sess]
	d.mu.Unlock()
	if !ok {
		cb(0, sess, engine.SinkFailed)
		return false
	}
	err := s.sendCommand("volume", map[string]any{"volume": volume})
	if err != nil {
		cb(s.sinkID, sess, engine.SinkFailed)
		return false
	}
	cb(s.sinkID, sess, engine.SinkOK)
	return false
}

func (d *Driver) Write(sess uint64, buf []byte, rtp uint64) error {
	d.mu.Lock()
	s, ok := d.sessions[sess]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("remotesink: write to unknown session %d", sess)
	}
	return s.writeAudio(buf, rtp)
}

// PlaybackStart is a transport-timeline hint; this driver's per-packet
// writes already carry an RTP timestamp, so there is nothing further
// to anchor and this method does nothing.
func (d *Driver) PlaybackStart(firstRTP uint64, wallClock time.Time) {}
