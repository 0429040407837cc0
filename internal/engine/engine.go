// ABOUTME: Lifecycle (C9): construction, the player thread's event loop, teardown
// ABOUTME: Mirrors player.c's player_init/player_deinit and the single-threaded tick loop
package engine

import (
	"crypto/rand"
	"encoding/binary"
	"log"
	"time"
)

// packetPeriod is the wall-clock duration one packet's audio occupies.
const packetPeriod = time.Second * PacketSamples / SampleRate

// Engine is the playback engine's single owning object. All fields
// below this point in the struct are player-thread-local and must only
// be touched from inside run — external callers only ever reach the
// engine through Bus.Execute (see orchestrator.go), matching the
// single-threaded cooperative model of spec.md §5.
type Engine struct {
	bus      *Bus
	notifier *notifierAdapter
	volumes  VolumeStore
	discover <-chan DiscoveryEvent

	exit    chan struct{}
	done    chan struct{}
	asyncBH chan func()

	// player-thread-local state
	queue  *Queue
	source *SourcePipeline
	clock  *Clock
	sinks  *SinkRegistry
	mixer  *Mixer

	status  Status
	repeat  RepeatMode
	shuffle bool
	volume  int

	sinkIDs    map[string]uint64
	nextSinkID uint64

	timer           *time.Timer
	timerBase       time.Time
	timerTick       int
	volumeSaveTimer *time.Timer
}

// Config bundles the collaborators an Engine needs at construction.
type Config struct {
	Catalog     Catalog
	Decoder     Decoder
	RemoteSinks RemoteSinkDriver
	LocalSink   LocalSinkDriver
	Discovery   <-chan DiscoveryEvent
	Volumes     VolumeStore
	Notifier    Notifier
}

// New constructs an Engine, seeds last_rtp with 2^32 plus a random
// 32-bit value (matching player.c's `(1<<32) | rand32`, which makes wraparound
// testing tractable and mimics RTP's own randomized initial sequence),
// and loads the persisted volume. It does not start the player thread;
// call Run for that.
func New(cfg Config) (*Engine, error) {
	e := &Engine{
		bus:      newBus(),
		notifier: &notifierAdapter{signal: newStatusSignal(), extern: cfg.Notifier},
		volumes:  cfg.Volumes,
		discover: cfg.Discovery,
		exit:     make(chan struct{}),
		done:     make(chan struct{}),
		asyncBH:  make(chan func(), 16),
		sinkIDs:  make(map[string]uint64),
	}

	e.queue = newQueue()
	e.source = newSourcePipeline(cfg.Catalog, cfg.Decoder)
	e.clock = newClock()
	e.sinks = newSinkRegistry(cfg.RemoteSinks, cfg.LocalSink, func() uint64 { return e.mixer.LastRTP() })
	e.mixer = newMixer(e.source, e.sinks, e.clock)
	e.mixer.onPlaying = func(*Entry) { e.notifier.notify() }
	e.mixer.onStopped = func() { e.setStatus(StatusStopped) }

	e.mixer.SetLastRTP(randRTPSeed())

	if cfg.Volumes != nil {
		if v, err := cfg.Volumes.LoadVolume(); err == nil {
			e.volume = v
		} else {
			e.volume = 50
		}
	} else {
		e.volume = 50
	}

	if cfg.LocalSink != nil {
		if err := cfg.LocalSink.Init(func(s LocalStatus) { e.dispatch(func() { e.onLocalStatus(s) }) }); err != nil {
			log.Printf("engine: local sink init failed: %v", err)
		}
	}

	return e, nil
}

// randRTPSeed produces `(1<<32) | rand32`.
func randRTPSeed() uint64 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(1) << 32
	}
	return (uint64(1) << 32) | uint64(binary.BigEndian.Uint32(b[:]))
}

// Run starts the player thread's event loop. It blocks until Shutdown
// is called, so the caller should invoke it in its own goroutine.
func (e *Engine) Run() {
	defer close(e.done)
	for {
		select {
		case <-e.exit:
			e.teardown()
			return
		case cmd, ok := <-e.bus.commands:
			if !ok {
				e.teardown()
				return
			}
			cmd.run()
		case ev, ok := <-e.discover:
			if !ok {
				e.discover = nil
				continue
			}
			e.sinks.OnDiscovery(e.sinkID(ev.Name), ev)
		case fn := <-e.asyncBH:
			fn()
		case <-e.tickC():
			e.onTick()
		}
	}
}

// tickC returns the timer's channel, or a nil channel (which blocks
// forever in a select) when no timer is armed.
func (e *Engine) tickC() <-chan time.Time {
	if e.timer == nil {
		return nil
	}
	return e.timer.C
}

// armTimer arms an absolute-deadline one-shot timer for the next tick,
// re-armed every tick against a fixed base to stay drift-free (spec.md
// §4.7 "Timer", §9 "Platform timer").
func (e *Engine) armTimer(base time.Time, k int) {
	deadline := base.Add(packetPeriod * time.Duration(k))
	e.timerBase, e.timerTick = base, k
	e.timer = time.NewTimer(time.Until(deadline))
}

func (e *Engine) disarmTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// onTick runs one Mixer tick and re-arms the timer for the next one.
func (e *Engine) onTick() {
	if !e.mixer.Tick(e.queue) {
		e.disarmTimer()
		return
	}
	e.armTimer(e.timerBase, e.timerTick+1)
}

// sinkID assigns a stable id to a discovered sink name, allocating one
// on first sight.
func (e *Engine) sinkID(name string) uint64 {
	if id, ok := e.sinkIDs[name]; ok {
		return id
	}
	e.nextSinkID++
	e.sinkIDs[name] = e.nextSinkID
	return e.nextSinkID
}

func (e *Engine) setStatus(s Status) {
	e.status = s
	e.notifier.notify()
}

// onLocalStatus applies the Clock's sync-source transitions and the
// Orchestrator-level side effects spec.md §4.2 assigns to the local
// sink's status callback.
func (e *Engine) onLocalStatus(s LocalStatus) {
	e.clock.OnLocalStatus(s)
	e.sinks.SetLocalStatus(s)
	if s == LocalFailed {
		if e.sinks.local != nil {
			_ = e.sinks.local.Close()
		}
		if e.sinks.ActiveCount() == 0 {
			e.stopLocked()
		}
	}
}

// dispatch marshals fn onto the player thread's event loop. Sink driver
// callbacks arrive on arbitrary goroutines (spec.md §5); any bottom
// half that touches player-thread-local state must cross back through
// this channel rather than mutating Engine fields inline. asyncBH is
// buffered so a command handler can call dispatch from within its own
// synchronous execution (when a sink operation completes inline) and
// the closure still runs as soon as Run's loop comes back around,
// without either side having to special-case "did this resolve
// synchronously or not" (orchestrator.go relies on this uniformity).
func (e *Engine) dispatch(fn func()) {
	e.asyncBH <- fn
}

// Shutdown signals the exit fd, joins the player thread, clears the
// queue, and tears down sinks — player.c's player_deinit.
func (e *Engine) Shutdown() {
	close(e.exit)
	<-e.done
}

func (e *Engine) teardown() {
	e.stopLocked()
	e.disarmTimer()
	e.queue.Clear()
}
