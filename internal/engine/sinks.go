// ABOUTME: Sink Registry (C6): remote/local sink bookkeeping and session callbacks
// ABOUTME: Mirrors player.c's speaker_set, raop_device, and device_*_cb family
package engine

import (
	"sync"
	"time"
)

// Sink is one remote playback target. The local sink is tracked
// separately on SinkRegistry (id 0 is reserved for it in the external
// API, per spec.md §6's speaker_set convention).
type Sink struct {
	ID          uint64
	Name        string
	Address     string
	Advertised  bool
	HasPassword bool
	Selected    bool
	Session     uint64
	Active      bool // has an attached, streaming session
}

// pendingCommand tracks the in-flight sink-fanout command's completion
// state: the bottom half to run once pending_sinks drains to zero, and
// whether any requested sink failed for lack of a password.
type pendingCommand struct {
	funcBH       func()
	anyPassword  bool
	anyFailed    bool
}

// SinkRegistry holds the sink list, local-sink status, and the
// outstanding-operation bookkeeping for async sink commands. Guarded by
// its own mutex because sink driver callbacks reach it from their own
// goroutines concurrently with player-thread reads (spec.md §5).
type SinkRegistry struct {
	mu    sync.Mutex
	sinks map[uint64]*Sink
	order []uint64 // discovery order, for stable speaker_enumerate

	localSelected bool
	localStatus   LocalStatus

	activeSessions int
	pendingSinks   int
	pending        *pendingCommand

	driver RemoteSinkDriver
	local  LocalSinkDriver

	lastRTP func() uint64
}

func newSinkRegistry(driver RemoteSinkDriver, local LocalSinkDriver, lastRTP func() uint64) *SinkRegistry {
	return &SinkRegistry{
		sinks:   make(map[uint64]*Sink),
		driver:  driver,
		local:   local,
		lastRTP: lastRTP,
	}
}

// OnDiscovery applies an advertisement add/retraction, reaping the sink
// immediately if it is retracted and idle.
func (r *SinkRegistry) OnDiscovery(id uint64, ev DiscoveryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Port < 0 {
		if s, ok := r.sinks[id]; ok {
			s.Advertised = false
			r.reapLocked(s)
		}
		return
	}
	s, ok := r.sinks[id]
	if !ok {
		s = &Sink{ID: id}
		r.sinks[id] = s
		r.order = append(r.order, id)
	}
	s.Name = ev.Name
	s.Address = ev.Address
	s.HasPassword = ev.HasPassword
	s.Advertised = true
}

// reapLocked deletes s if the reaping predicate holds: unadvertised and
// no active session. Caller holds r.mu.
func (r *SinkRegistry) reapLocked(s *Sink) {
	if !s.Advertised && s.Session == 0 {
		delete(r.sinks, s.ID)
		for i, id := range r.order {
			if id == s.ID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
}

// Enumerate calls cb for the local sink (id 0) and then every sink still
// in the registry (advertised, or retracted but still holding a
// session), in discovery order, per the speaker_enumerate contract.
func (r *SinkRegistry) Enumerate(cb func(id uint64, name string, selected, hasPassword bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb(0, "Local audio", r.localSelected, false)
	for _, id := range r.order {
		s := r.sinks[id]
		cb(s.ID, s.Name, s.Selected, s.HasPassword)
	}
}

// SpeakerSet computes the should-be-active and should-be-inactive sets
// from ids (0 means local), activates/deactivates as needed, and
// returns the caller-visible code. funcBH runs once every async
// activation this call issued has drained (immediately if none did).
func (r *SinkRegistry) SpeakerSet(ids []uint64, playing bool, funcBH func()) (Code, bool) {
	r.mu.Lock()

	want := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	pc := &pendingCommand{funcBH: funcBH}
	r.pending = pc

	if want[0] && !r.localSelected {
		r.localSelected = true
	} else if !want[0] && r.localSelected {
		r.localSelected = false
		if playing && r.local != nil {
			r.local.Stop()
		}
	}

	var toActivate []*Sink
	for _, id := range r.order {
		s := r.sinks[id]
		shouldSelect := want[id]
		if shouldSelect && !s.Selected {
			if r.beginActivationLocked(s, pc) {
				toActivate = append(toActivate, s)
			}
		} else if !shouldSelect && s.Selected {
			s.Selected = false
			if s.Session != 0 {
				r.driver.Stop(s.Session)
				s.Session = 0
				s.Active = false
				r.activeSessions--
			}
			r.reapLocked(s)
		}
	}

	dispatched := len(toActivate)
	r.mu.Unlock()

	for _, s := range toActivate {
		r.dispatchActivation(s, playing, pc)
	}

	r.mu.Lock()
	pending := r.pendingSinks
	anyPassword := pc.anyPassword
	r.mu.Unlock()

	if dispatched == 0 {
		funcBH()
		if anyPassword {
			return CodePassword, false
		}
		return CodeOK, false
	}
	if pending == 0 {
		if anyPassword {
			return CodePassword, false
		}
		return CodeOK, false
	}
	if anyPassword {
		return CodePassword, true
	}
	return CodeOK, true
}

// beginActivationLocked is the locked half of activating one sink:
// either it fails immediately for lack of a password, or it is marked
// selected and its driver call is reserved a pending-count slot. The
// slot is reserved here, before the driver is ever called, because the
// production driver invokes its callback inline — the reservation must
// already exist by the time that callback (on this same goroutine)
// tries to drain it. Caller holds r.mu. Returns whether the sink still
// needs dispatchActivation called for it.
func (r *SinkRegistry) beginActivationLocked(s *Sink, pc *pendingCommand) bool {
	if s.HasPassword {
		// We never hold sink passwords (spec Non-goal: authentication
		// UX); any password-protected sink fails immediately.
		pc.anyPassword = true
		return false
	}
	s.Selected = true
	r.pendingSinks++
	return true
}

// dispatchActivation issues the driver call for a sink queued by
// beginActivationLocked. Must run with r.mu NOT held: the production
// RemoteSinkDriver (internal/remotesink) always invokes cb inline,
// before Start/Probe returns, and cb (onActivateResult) re-acquires
// r.mu to record the outcome. Holding the lock across this call would
// have cb deadlock against the very lock its caller is still holding.
func (r *SinkRegistry) dispatchActivation(s *Sink, playing bool, pc *pendingCommand) {
	cb := func(sinkID uint64, session uint64, status SinkStatus) {
		r.onActivateResult(sinkID, session, status, pc)
	}
	if playing {
		r.driver.Start(s.ID, r.lastRTP()+PacketSamples, cb)
	} else {
		r.driver.Probe(s.ID, cb)
	}
}

// attachSessionLocked records a newly attached session and kicks off
// the remote transport if this is the first active session.
func (r *SinkRegistry) attachSessionLocked(s *Sink, session uint64) {
	s.Session = session
	s.Active = true
	r.activeSessions++
	if r.activeSessions == 1 {
		r.driver.PlaybackStart(r.lastRTP()+PacketSamples, time.Now())
	}
}

// onActivateResult is the activate_cb / probe_cb / restart_cb contract:
// on success attach (if a session was actually offered), PASSWORD
// collapses to FAILED, all paths decrement pending_sinks — including a
// sink that discovery reaped out from under us while its driver call
// was in flight, since we already reserved its pending-count slot in
// beginActivationLocked and nothing else will ever drain it.
func (r *SinkRegistry) onActivateResult(sinkID, session uint64, status SinkStatus, pc *pendingCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sinks[sinkID]
	if ok {
		switch status {
		case SinkOK:
			if session != 0 {
				r.attachSessionLocked(s, session)
			}
		case SinkPassword:
			pc.anyPassword = true
			pc.anyFailed = true
			s.Selected = false
		case SinkFailed, SinkStopped:
			pc.anyFailed = true
			s.Selected = false
			r.reapLocked(s)
		}
	}
	r.decrementPendingLocked(pc)
}

// decrementPendingLocked drains one unit of pending_sinks and, on the
// final decrement, runs the command's bottom half. Caller holds r.mu.
func (r *SinkRegistry) decrementPendingLocked(pc *pendingCommand) {
	r.pendingSinks--
	if r.pendingSinks == 0 && pc.funcBH != nil {
		bh := pc.funcBH
		r.mu.Unlock()
		bh()
		r.mu.Lock()
	}
}

// StreamingCB reports mid-play session state: FAILED or STOPPED
// deselects the sink and decrements the active-session count; the sink
// is reaped if it is no longer advertised.
func (r *SinkRegistry) StreamingCB(sinkID uint64, status SinkStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sinks[sinkID]
	if !ok {
		return
	}
	switch status {
	case SinkFailed, SinkStopped:
		if s.Active {
			r.activeSessions--
			s.Active = false
		}
		s.Session = 0
		s.Selected = false
		r.reapLocked(s)
	}
}

// CommandCB reports completion of a pause/volume flush issued against
// an already-active session.
func (r *SinkRegistry) CommandCB(sinkID, session uint64, status SinkStatus, pc *pendingCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decrementPendingLocked(pc)
}

// ShutdownCB detaches a deselected sink's session and reaps it if
// discovery has already retracted it.
func (r *SinkRegistry) ShutdownCB(sinkID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sinks[sinkID]
	if !ok {
		return
	}
	if s.Active {
		r.activeSessions--
		s.Active = false
	}
	s.Session = 0
	r.reapLocked(s)
}

// ActiveCount reports the number of sinks (remote, plus local if
// running) currently emitting audio.
func (r *SinkRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.activeSessions
	if r.localSelected && r.localStatus == LocalRunning {
		n++
	}
	return n
}

// LocalSelected reports whether the local sink is currently selected.
func (r *SinkRegistry) LocalSelected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localSelected
}

// SetLocalStatus records the local sink's lifecycle status.
func (r *SinkRegistry) SetLocalStatus(s LocalStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localStatus = s
}

// RestartSelected activates every already-selected sink that lacks a
// live session — the "request remote-sink restart" step of
// playback_start, distinct from SpeakerSet because selection survives
// a stop/start cycle while sessions do not.
func (r *SinkRegistry) RestartSelected(playing bool, funcBH func()) (Code, bool) {
	r.mu.Lock()
	pc := &pendingCommand{funcBH: funcBH}
	r.pending = pc

	var toActivate []*Sink
	for _, id := range r.order {
		s := r.sinks[id]
		if s.Selected && s.Session == 0 {
			if r.beginActivationLocked(s, pc) {
				toActivate = append(toActivate, s)
			}
		}
	}
	dispatched := len(toActivate)
	r.mu.Unlock()

	for _, s := range toActivate {
		r.dispatchActivation(s, playing, pc)
	}

	r.mu.Lock()
	pending := r.pendingSinks
	anyPassword := pc.anyPassword
	r.mu.Unlock()

	if dispatched == 0 {
		funcBH()
		if anyPassword {
			return CodePassword, false
		}
		return CodeOK, false
	}
	if pending == 0 {
		if anyPassword {
			return CodePassword, false
		}
		return CodeOK, false
	}
	if anyPassword {
		return CodePassword, true
	}
	return CodeOK, true
}

// StartLocal starts the local sink driver if the local sink is
// currently selected.
func (r *SinkRegistry) StartLocal(pos, firstRTP uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.localSelected || r.local == nil {
		return nil
	}
	return r.local.Start(pos, firstRTP)
}

// StopLocal stops the local sink driver, if present.
func (r *SinkRegistry) StopLocal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local == nil {
		return nil
	}
	return r.local.Stop()
}

// SetLocalVolume pushes a volume change to the local sink driver.
func (r *SinkRegistry) SetLocalVolume(v int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local != nil {
		r.local.SetVolume(v)
	}
}

// WriteLocal writes one packet to the local sink driver, if selected
// and running.
func (r *SinkRegistry) WriteLocal(buf []byte, rtp uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.localSelected && r.local != nil && r.localStatus == LocalRunning {
		r.local.Write(buf, rtp)
	}
}

// SelectedRemoteIDs returns the ids of every currently selected remote
// sink, for speaker_enumerate-adjacent bookkeeping.
func (r *SinkRegistry) SelectedRemoteIDs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for _, id := range r.order {
		if r.sinks[id].Selected {
			ids = append(ids, id)
		}
	}
	return ids
}

// FlushActive asks every active remote sink to discard buffered audio
// and resume at resumeRTP (spec.md §4.7 playback_pause's top half).
// funcBH runs once every flush this call issued has drained.
//
// The dispatch loop runs with r.mu released: the production driver's
// Flush invokes cb inline, and cb (CommandCB) re-acquires r.mu — held
// across the call, it would deadlock the same way activation's
// Start/Probe calls would.
func (r *SinkRegistry) FlushActive(resumeRTP uint64, funcBH func()) (Code, bool) {
	r.mu.Lock()
	pc := &pendingCommand{funcBH: funcBH}
	r.pending = pc
	var sessions []uint64
	for _, id := range r.order {
		s := r.sinks[id]
		if !s.Active || s.Session == 0 {
			continue
		}
		sessions = append(sessions, s.Session)
		r.pendingSinks++
	}
	dispatched := len(sessions)
	r.mu.Unlock()

	for _, session := range sessions {
		cb := func(sinkID, _ uint64, status SinkStatus) {
			r.CommandCB(sinkID, session, status, pc)
		}
		r.driver.Flush(session, resumeRTP, cb)
	}

	if dispatched == 0 {
		funcBH()
		return CodeOK, false
	}
	r.mu.Lock()
	pending := r.pendingSinks
	r.mu.Unlock()
	if pending == 0 {
		return CodeOK, false
	}
	return CodeOK, true
}

// SetVolumeAll pushes a volume change to every active remote sink and
// to the local sink driver. funcBH runs once every push this call
// issued has drained. See FlushActive's comment: dispatch runs
// unlocked for the same reentrancy reason.
func (r *SinkRegistry) SetVolumeAll(v int, funcBH func()) (Code, bool) {
	r.mu.Lock()
	if r.local != nil {
		r.local.SetVolume(v)
	}
	pc := &pendingCommand{funcBH: funcBH}
	r.pending = pc
	var sessions []uint64
	for _, id := range r.order {
		s := r.sinks[id]
		if !s.Active || s.Session == 0 {
			continue
		}
		sessions = append(sessions, s.Session)
		r.pendingSinks++
	}
	dispatched := len(sessions)
	r.mu.Unlock()

	for _, session := range sessions {
		cb := func(sinkID, _ uint64, status SinkStatus) {
			r.CommandCB(sinkID, session, status, pc)
		}
		r.driver.SetVolume(session, v, cb)
	}

	if dispatched == 0 {
		funcBH()
		return CodeOK, false
	}
	r.mu.Lock()
	pending := r.pendingSinks
	r.mu.Unlock()
	if pending == 0 {
		return CodeOK, false
	}
	return CodeOK, true
}

// StopAllActive tears down every active remote session (playback_stop).
func (r *SinkRegistry) StopAllActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		s := r.sinks[id]
		if s.Session != 0 {
			r.driver.Stop(s.Session)
			s.Session = 0
			s.Active = false
		}
	}
	r.activeSessions = 0
}

// Snapshot copies the active sink sessions for the Mixer's write fanout.
func (r *SinkRegistry) Snapshot() []Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sink, 0, len(r.order))
	for _, id := range r.order {
		s := r.sinks[id]
		if s.Active {
			out = append(out, *s)
		}
	}
	return out
}
