// ABOUTME: Orchestrator (C7): the player_* API and the state machine of spec.md §4.7
// ABOUTME: Mirrors player.c's playback_start/stop/pause/seek/next/prev
package engine

import "time"

// volumeSaveDebounce coalesces persisted-volume writes to at most once
// per this long of quiescence (SPEC_FULL.md "Supplemented features").
const volumeSaveDebounce = 250 * time.Millisecond

// StatusSnapshot is what GetStatus reports to a caller thread.
type StatusSnapshot struct {
	Status     Status
	Repeat     RepeatMode
	Shuffle    bool
	Volume     int
	PositionMs uint64
	NowPlaying uint64 // 0 if nothing queued/streaming
}

// GetStatus returns a consistent snapshot of the engine's global
// playback state (spec.md §6 `get_status`).
func (e *Engine) GetStatus() StatusSnapshot {
	var snap StatusSnapshot
	e.bus.Execute(func(resolve resolveFunc) {
		snap = StatusSnapshot{
			Status:     e.status,
			Repeat:     e.repeat,
			Shuffle:    e.shuffle,
			Volume:     e.volume,
			PositionMs: SamplesToMillis(e.clock.Now()),
		}
		if cur := e.mixer.CurrentStreaming(); cur != nil {
			snap.NowPlaying = cur.ID
		}
		resolve(CodeOK)
	})
	return snap
}

// NowPlaying returns the id of the track the caller should report as
// "now playing", or (0, CodeError) if nothing is queued. Per
// SPEC_FULL.md's original_source/ supplement this reports the
// *streaming* entry, not current_playing, so a caller already sees
// what is about to become audible during pre-roll.
func (e *Engine) NowPlaying() (uint64, Code) {
	var id uint64
	var code Code
	e.bus.Execute(func(resolve resolveFunc) {
		if cur := e.mixer.CurrentStreaming(); cur != nil {
			id = cur.ID
			code = CodeOK
		} else {
			code = CodeError
		}
		resolve(CodeOK)
	})
	return id, code
}

// PlaybackStart implements spec.md §6 `playback_start`. idx is 1-based;
// 0 means "resume the current/streaming entry, or the queue head if
// nothing has ever played" (the overload spec.md §9's third Open
// Question asks reimplementers to preserve). Returns the id of the
// entry that was (or will be) playing.
func (e *Engine) PlaybackStart(idx int) (chosenID uint64, code Code) {
	code = e.bus.Execute(func(resolve resolveFunc) {
		if e.status == StatusPlaying && idx == 0 {
			if cur := e.mixer.CurrentStreaming(); cur != nil {
				chosenID = cur.ID
			}
			resolve(CodeOK)
			return
		}
		coldStart := e.status == StatusStopped
		if e.status == StatusPlaying {
			// Explicit jump while playing: flush sinks, then restart at
			// the new target (spec.md §4.7's shared pause-top-half).
			e.pauseTopHalf(func() {
				e.dispatch(func() {
					e.doStart(idx, false, resolve, &chosenID)
				})
			})
			return
		}
		e.doStart(idx, coldStart, resolve, &chosenID)
	})
	return
}

// doStart resolves/opens the target entry, anchors its timeline (with
// a fresh two-second pre-roll only on a true cold start), (re)starts
// every selected sink, and arms the timer once they're ready. Always
// ends by calling resolve, whether synchronously or via a dispatched
// sink-completion closure.
func (e *Engine) doStart(idx int, coldStart bool, resolve resolveFunc, chosenID *uint64) {
	target := e.openStartTarget(idx)
	if target == nil {
		resolve(CodeError)
		return
	}
	*chosenID = target.ID

	rtp := e.mixer.LastRTP() + PacketSamples
	if coldStart {
		e.clock.Seed(saturatingSub(rtp, PreRollSamples))
	}
	target.StreamStart = rtp
	target.OutputStart = rtp
	e.mixer.Begin(target)

	_ = e.sinks.StartLocal(e.clock.Now(), rtp)

	var code Code
	code, _ = e.sinks.RestartSelected(true, func() {
		e.dispatch(func() {
			e.finishStart(resolve, code)
		})
	})
}

// openStartTarget resolves which entry to (re)open for idx (1-based
// jump, or 0 = resume current/head), running the open-or-exhaust loop
// in playlist order when the current entry is absent or fails to open.
func (e *Engine) openStartTarget(idx int) *Entry {
	if idx > 0 {
		start := e.queue.AtIndex(idx)
		if start == nil {
			return nil
		}
		if cur := e.mixer.CurrentStreaming(); cur != nil {
			e.source.stop(cur)
			e.mixer.Reset()
		}
		return e.openOrExhaust(start)
	}

	if cur := e.mixer.CurrentStreaming(); cur != nil {
		return cur
	}
	head := e.queue.Head(e.shuffle)
	if head == nil {
		return nil
	}
	return e.openOrExhaust(head)
}

// openOrExhaust tries start, then walks the playlist forward until
// wrapping back to start, per spec.md §4.3's open-or-exhaust loop.
func (e *Engine) openOrExhaust(start *Entry) *Entry {
	if e.source.open(start) {
		return start
	}
	for cand := start.plNext; cand != start; cand = cand.plNext {
		if e.source.open(cand) {
			return cand
		}
	}
	return nil
}

// finishStart arms the packet timer and transitions to PLAYING. This
// is the Orchestrator's bottom half for every path that ends in
// PLAYING; code is CodePassword if any requested sink lacked a
// password we hold, CodeOK otherwise.
func (e *Engine) finishStart(resolve resolveFunc, code Code) {
	e.armTimer(time.Now(), 1)
	e.setStatus(StatusPlaying)
	resolve(code)
}

// PlaybackStop implements spec.md §6 `playback_stop`: idempotent from
// STOPPED, tears down sinks and the opened-ahead chain otherwise.
func (e *Engine) PlaybackStop() Code {
	return e.bus.Execute(func(resolve resolveFunc) {
		e.stopLocked()
		resolve(CodeOK)
	})
}

// PlaybackPause implements spec.md §6 `playback_pause`. Returns
// CodeError if paused from STOPPED (no active playback to pause);
// the "clock lost" failure spec.md §6 also names is unreachable here
// since Clock.Now() never errors.
func (e *Engine) PlaybackPause() Code {
	return e.bus.Execute(func(resolve resolveFunc) {
		switch e.status {
		case StatusStopped:
			resolve(CodeError)
		case StatusPaused:
			resolve(CodeOK)
		default: // PLAYING
			e.pauseTopHalf(func() {
				e.dispatch(func() {
					e.pauseBottomHalf()
					resolve(CodeOK)
				})
			})
		}
	})
}

// pauseTopHalf is the shared top half of pause/seek/next/prev (spec.md
// §4.7): it stamps the current entry's end at the clock's committed
// position, stops local audio and the timer, transitions to PAUSED,
// and flushes every active remote sink. after runs once every flush
// this call issued has drained — synchronously if none did,
// asynchronously (dispatched back onto the player thread) otherwise.
func (e *Engine) pauseTopHalf(after func()) {
	if cur := e.mixer.CurrentPlaying(); cur != nil {
		cur.End = e.clock.Commit()
	} else {
		e.clock.Commit()
	}
	e.disarmTimer()
	e.sinks.StopLocal()
	e.setStatus(StatusPaused)
	e.sinks.FlushActive(e.mixer.LastRTP()+PacketSamples, after)
}

// pauseBottomHalf (pause_bh): seeks the current entry back to its
// just-stamped end and stays paused.
func (e *Engine) pauseBottomHalf() {
	cur := e.mixer.CurrentPlaying()
	if cur == nil {
		cur = e.mixer.CurrentStreaming()
	}
	if cur == nil {
		return
	}
	rtp := e.mixer.LastRTP() + PacketSamples
	ms := int64(SamplesToMillis(saturatingSub(cur.End, cur.StreamStart)))
	_, _ = e.source.seek(cur, rtp, ms)
}

// PlaybackSeek implements spec.md §6 `playback_seek`: flush (if
// playing), seek the current entry to ms, resume playing if we were.
func (e *Engine) PlaybackSeek(ms int64) Code {
	return e.bus.Execute(func(resolve resolveFunc) {
		if e.status == StatusStopped {
			resolve(CodeError)
			return
		}
		wasPlaying := e.status == StatusPlaying
		seekAndMaybeResume := func() {
			e.dispatch(func() {
				cur := e.mixer.CurrentPlaying()
				if cur == nil {
					cur = e.mixer.CurrentStreaming()
				}
				if cur != nil {
					rtp := e.mixer.LastRTP() + PacketSamples
					e.source.seek(cur, rtp, ms)
				}
				if wasPlaying {
					e.finishStart(resolve, CodeOK)
				} else {
					resolve(CodeOK)
				}
			})
		}
		if wasPlaying {
			e.pauseTopHalf(seekAndMaybeResume)
		} else {
			seekAndMaybeResume()
		}
	})
}

// PlaybackNext implements spec.md §6 `playback_next`: force=true, so
// REPEAT_SONG demotes to REPEAT_ALL per spec.md §4.3.
func (e *Engine) PlaybackNext() Code { return e.playbackStep(true) }

// PlaybackPrev implements spec.md §6 `playback_prev`.
func (e *Engine) PlaybackPrev() Code { return e.playbackStep(false) }

// playbackStep is next_bh/prev_bh's shared bottom half under the pause
// top half: advance (or retreat) one hop in the active order, wiring
// the new head's stream_start/output_start, and resume if we were
// playing (spec.md §4.7, §4.3).
func (e *Engine) playbackStep(forward bool) Code {
	return e.bus.Execute(func(resolve resolveFunc) {
		if e.status == StatusStopped {
			resolve(CodeError)
			return
		}
		wasPlaying := e.status == StatusPlaying
		step := func() {
			e.dispatch(func() {
				cur := e.mixer.CurrentStreaming()
				var nxt *Entry
				var ok bool
				if forward {
					nxt, ok = e.queue.Next(cur, e.shuffle, e.repeat, true, e.source.open)
				} else {
					nxt, ok = e.queue.Prev(cur, e.shuffle, e.source.open)
				}
				if cur != nil {
					e.source.stop(cur)
				}
				if !ok {
					e.mixer.Reset()
					e.setStatus(StatusStopped)
					resolve(CodeError)
					return
				}
				nxt.StreamStart = e.mixer.LastRTP() + PacketSamples
				nxt.OutputStart = nxt.StreamStart
				e.mixer.Begin(nxt)
				if wasPlaying {
					e.finishStart(resolve, CodeOK)
				} else {
					resolve(CodeOK)
				}
			})
		}
		if wasPlaying {
			e.pauseTopHalf(step)
		} else {
			step()
		}
	})
}

// SpeakerEnumerate implements spec.md §6 `speaker_enumerate`.
func (e *Engine) SpeakerEnumerate(cb func(id uint64, name string, selected, hasPassword bool)) {
	e.bus.Execute(func(resolve resolveFunc) {
		e.sinks.Enumerate(cb)
		resolve(CodeOK)
	})
}

// SpeakerSet implements spec.md §6 `speaker_set`. An id of 0 anywhere in
// ids selects the local sink; an empty slice deselects everything.
func (e *Engine) SpeakerSet(ids []uint64) Code {
	return e.bus.Execute(func(resolve resolveFunc) {
		playing := e.status == StatusPlaying
		var code Code
		code, _ = e.sinks.SpeakerSet(ids, playing, func() {
			e.dispatch(func() {
				if playing && e.sinks.ActiveCount() == 0 && !e.sinks.LocalSelected() {
					e.stopLocked()
				}
				resolve(code)
			})
		})
	})
}

// VolumeSet implements spec.md §6 `volume_set`: clamps to [0,100],
// pushes to every active sink and the local sink, and debounces the
// persisted write (SPEC_FULL.md "Supplemented features").
func (e *Engine) VolumeSet(v int) Code {
	return e.bus.Execute(func(resolve resolveFunc) {
		if v < 0 {
			v = 0
		} else if v > 100 {
			v = 100
		}
		e.volume = v
		e.scheduleVolumeSave(v)
		e.sinks.SetVolumeAll(v, func() {
			e.dispatch(func() { resolve(CodeOK) })
		})
	})
}

// RepeatSet implements spec.md §6 `repeat_set`.
func (e *Engine) RepeatSet(mode RepeatMode) Code {
	return e.bus.Execute(func(resolve resolveFunc) {
		if mode != RepeatOff && mode != RepeatSong && mode != RepeatAll {
			resolve(CodeError)
			return
		}
		e.repeat = mode
		e.mixer.SetRepeat(mode)
		resolve(CodeOK)
	})
}

// ShuffleSet implements spec.md §6 `shuffle_set`: reshuffles on a 0->1
// transition.
func (e *Engine) ShuffleSet(on bool) Code {
	return e.bus.Execute(func(resolve resolveFunc) {
		turningOn := on && !e.shuffle
		e.shuffle = on
		e.mixer.SetShuffle(on)
		if turningOn {
			e.queue.Reshuffle()
		}
		resolve(CodeOK)
	})
}

// QueueAdd implements spec.md §6 `queue_add`: splices a non-empty chain
// of fresh entries for tracks into the playlist and shuffle cycles.
func (e *Engine) QueueAdd(tracks []TrackMeta) Code {
	return e.bus.Execute(func(resolve resolveFunc) {
		entries := e.queue.NewEntries(tracks)
		e.queue.Add(entries)
		resolve(CodeOK)
	})
}

// QueueClear implements spec.md §6 `queue_clear`: stops playback first
// if anything is running, since the opened-ahead chain holds decoder
// contexts into entries the Queue is about to free.
func (e *Engine) QueueClear() {
	e.bus.Execute(func(resolve resolveFunc) {
		e.stopLocked()
		e.queue.Clear()
		resolve(CodeOK)
	})
}

// SetNotifier implements spec.md §6 `set_updatefd`. Non-blocking, per
// the Engine API table: it swaps the external Notifier without routing
// through the Command Bus, since nothing but notify() ever reads it.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier.extern = n
}

// stopLocked is the player-thread-local stop path shared by
// PlaybackStop, QueueClear, and sink/local-audio failure handling
// (spec.md §7 "Fatal (to this playback session)"). Idempotent from
// STOPPED.
func (e *Engine) stopLocked() {
	if e.status == StatusStopped {
		return
	}
	e.disarmTimer()
	e.sinks.StopAllActive()
	e.sinks.StopLocal()
	if cur := e.mixer.CurrentStreaming(); cur != nil {
		e.source.stop(cur)
	}
	e.mixer.Reset()
	e.setStatus(StatusStopped)
}

// scheduleVolumeSave debounces the persisted-volume write to at most
// once per 250ms of quiescence. The save itself runs on its own timer
// goroutine since VolumeStore I/O must never block the player thread
// (spec.md §5's "Command handlers must not block on I/O").
func (e *Engine) scheduleVolumeSave(v int) {
	if e.volumes == nil {
		return
	}
	if e.volumeSaveTimer != nil {
		e.volumeSaveTimer.Stop()
	}
	e.volumeSaveTimer = time.AfterFunc(volumeSaveDebounce, func() {
		_ = e.volumes.SaveVolume(v)
	})
}

// saturatingSub returns a-b, clamped to 0 instead of wrapping, matching
// spec.md §5's "saturating subtraction on unsigned types" note for
// time arithmetic.
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
