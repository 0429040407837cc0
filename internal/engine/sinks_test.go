package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(driver *fakeRemoteSinkDriver, local LocalSinkDriver) *SinkRegistry {
	var lastRTP uint64 = 100
	return newSinkRegistry(driver, local, func() uint64 { return lastRTP })
}

func TestSinkRegistryDiscoveryAddAndRetract(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	r := newTestRegistry(driver, nil)

	r.OnDiscovery(1, DiscoveryEvent{Name: "Kitchen", Port: 9000})
	var seen []uint64
	r.Enumerate(func(id uint64, name string, selected, hasPW bool) { seen = append(seen, id) })
	require.Contains(t, seen, uint64(1))

	r.OnDiscovery(1, DiscoveryEvent{Port: -1})
	seen = nil
	r.Enumerate(func(id uint64, name string, selected, hasPW bool) { seen = append(seen, id) })
	require.NotContains(t, seen, uint64(1), "retracted + sessionless sink is reaped")
}

func TestSinkRegistryDiscoveryRetractKeepsActiveSession(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "Kitchen", Port: 9000})

	code, async := r.SpeakerSet([]uint64{1}, true, func() {})
	require.False(t, async)
	require.Equal(t, CodeOK, code)

	r.OnDiscovery(1, DiscoveryEvent{Port: -1})
	var seen []uint64
	r.Enumerate(func(id uint64, name string, selected, hasPW bool) { seen = append(seen, id) })
	require.Contains(t, seen, uint64(1), "active session survives retraction until it ends")
}

func TestSpeakerSetRoundTripReportsSelection(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	driver.register(2, false, false)
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})
	r.OnDiscovery(2, DiscoveryEvent{Name: "B", Port: 1})

	code, async := r.SpeakerSet([]uint64{1}, false, func() {})
	require.Equal(t, CodeOK, code)
	require.False(t, async)

	selected := map[uint64]bool{}
	r.Enumerate(func(id uint64, name string, sel, hasPW bool) { selected[id] = sel })
	require.True(t, selected[1])
	require.False(t, selected[2])
}

func TestSpeakerSetPasswordFailsThatSinkOnly(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	driver.register(2, true, false) // requires password
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})
	r.OnDiscovery(2, DiscoveryEvent{Name: "Z", Port: 1, HasPassword: true})

	code, async := r.SpeakerSet([]uint64{1, 2}, true, func() {})
	require.False(t, async)
	require.Equal(t, CodePassword, code)

	selected := map[uint64]bool{}
	r.Enumerate(func(id uint64, name string, sel, hasPW bool) { selected[id] = sel })
	require.True(t, selected[1], "other sinks still applied")
	require.False(t, selected[2])
}

func TestSpeakerSetEmptyDeselectsAll(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})
	r.SpeakerSet([]uint64{1}, true, func() {})

	r.SpeakerSet([]uint64{}, true, func() {})
	require.Equal(t, 0, r.ActiveCount())
}

func TestSpeakerSetAsyncDrainsPendingSinks(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, true) // async
	driver.register(2, false, true)
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})
	r.OnDiscovery(2, DiscoveryEvent{Name: "B", Port: 1})

	done := make(chan struct{})
	code, async := r.SpeakerSet([]uint64{1, 2}, true, func() { close(done) })
	require.True(t, async)
	require.Equal(t, CodeOK, code)
	<-done
	require.Equal(t, 2, r.ActiveCount())
}

func TestSinkHotPlugMidPlayDoesNotRestartTransport(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	driver.register(2, false, false)
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "X", Port: 1})
	r.OnDiscovery(2, DiscoveryEvent{Name: "Y", Port: 1})

	r.SpeakerSet([]uint64{1}, true, func() {})
	require.True(t, driver.playbackTS, "first active session kicks off the transport")
	driver.playbackTS = false

	r.SpeakerSet([]uint64{1, 2}, true, func() {})
	require.False(t, driver.playbackTS, "transport is not re-kicked once already running")
	require.Equal(t, 2, r.ActiveCount())
}

// TestSpeakerSetSyncCallbackDoesNotDeadlock pins down the contract the
// production RemoteSinkDriver actually has: Start/Probe invoke cb
// inline, synchronously, before returning, on the same goroutine that
// called SpeakerSet. If SpeakerSet ever again held r.mu across that
// call, this test would hang rather than fail cleanly.
func TestSpeakerSetSyncCallbackDoesNotDeadlock(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false) // sync: cb fires inline from Start
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})

	called := false
	code, async := r.SpeakerSet([]uint64{1}, true, func() { called = true })
	require.False(t, async, "sync cb means the fan-out already completed")
	require.Equal(t, CodeOK, code)
	require.True(t, called, "funcBH runs even though it never saw pendingSinks go async")
	require.Equal(t, 1, r.ActiveCount())
}

func TestRestartSelectedSyncCallbackDoesNotDeadlock(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})

	r.SpeakerSet([]uint64{1}, false, func() {})
	r.StopAllActive() // selection survives, session does not

	called := false
	code, async := r.RestartSelected(true, func() { called = true })
	require.False(t, async)
	require.Equal(t, CodeOK, code)
	require.True(t, called)
	require.Equal(t, 1, r.ActiveCount())
}

func TestFlushActiveSyncCallbackDoesNotDeadlock(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})
	r.SpeakerSet([]uint64{1}, true, func() {})

	called := false
	code, async := r.FlushActive(500, func() { called = true })
	require.False(t, async)
	require.Equal(t, CodeOK, code)
	require.True(t, called)
}

func TestFlushActiveAsyncDrainsPendingSinks(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, true) // async
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})
	attached := make(chan struct{})
	r.SpeakerSet([]uint64{1}, true, func() { close(attached) })
	<-attached // the async activation must attach a session before there is anything to flush

	done := make(chan struct{})
	code, async := r.FlushActive(500, func() { close(done) })
	require.True(t, async)
	require.Equal(t, CodeOK, code)
	<-done
}

func TestSetVolumeAllSyncCallbackDoesNotDeadlock(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	local := &fakeLocalSink{}
	r := newTestRegistry(driver, local)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})
	r.SpeakerSet([]uint64{0, 1}, true, func() {})

	called := false
	code, async := r.SetVolumeAll(42, func() { called = true })
	require.False(t, async)
	require.Equal(t, CodeOK, code)
	require.True(t, called)
	require.Equal(t, 42, local.volume)
}

func TestReapingPredicate(t *testing.T) {
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)
	r := newTestRegistry(driver, nil)
	r.OnDiscovery(1, DiscoveryEvent{Name: "A", Port: 1})
	r.SpeakerSet([]uint64{1}, true, func() {})

	// A non-terminal status report leaves the session and the sink in place.
	r.StreamingCB(1, SinkOK)
	var seen []uint64
	r.Enumerate(func(id uint64, name string, sel, hasPW bool) { seen = append(seen, id) })
	require.Contains(t, seen, uint64(1))

	r.OnDiscovery(1, DiscoveryEvent{Port: -1})
	r.StreamingCB(1, SinkStopped)
	seen = nil
	r.Enumerate(func(id uint64, name string, sel, hasPW bool) { seen = append(seen, id) })
	require.NotContains(t, seen, uint64(1), "unadvertised + sessionless reaps")
}
