package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestEngine wires an Engine with fake collaborators and starts its
// player thread, returning the engine and a teardown func.
func newTestEngine(t *testing.T, catalog *fakeCatalog, decoder *fakeDecoder, driver *fakeRemoteSinkDriver, discover chan DiscoveryEvent) *Engine {
	t.Helper()
	var discoverCh <-chan DiscoveryEvent
	if discover != nil {
		discoverCh = discover
	}
	e, err := New(Config{
		Catalog:     catalog,
		Decoder:     decoder,
		RemoteSinks: driver,
		LocalSink:   nil,
		Discovery:   discoverCh,
		Volumes:     &fakeVolumeStore{},
	})
	require.NoError(t, err)
	go e.Run()
	t.Cleanup(e.Shutdown)
	return e
}

func TestOrchestratorPlayThenNext(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("a", "A")
	catalog.add("b", "B")
	decoder := newFakeDecoder()
	decoder.setDuration("a", 5.0)
	decoder.setDuration("b", 5.0)
	driver := newFakeRemoteSinkDriver()

	e := newTestEngine(t, catalog, decoder, driver, nil)

	require.Equal(t, CodeOK, e.QueueAdd(tracksOf("a", "b")))

	firstID, code := e.PlaybackStart(1)
	require.Equal(t, CodeOK, code)
	require.NotZero(t, firstID)
	require.Equal(t, StatusPlaying, e.GetStatus().Status)

	require.Equal(t, CodeOK, e.PlaybackNext())
	snap := e.GetStatus()
	require.Equal(t, StatusPlaying, snap.Status, "next resumes playing on the far side of the pause top-half")
	require.NotEqual(t, firstID, snap.NowPlaying, "next lands on the second track")
}

func TestOrchestratorPauseRoundTrip(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("a", "A")
	decoder := newFakeDecoder()
	decoder.setDuration("a", 5.0)
	driver := newFakeRemoteSinkDriver()

	e := newTestEngine(t, catalog, decoder, driver, nil)
	require.Equal(t, CodeOK, e.QueueAdd(tracksOf("a")))

	id, code := e.PlaybackStart(0)
	require.Equal(t, CodeOK, code)
	require.Equal(t, StatusPlaying, e.GetStatus().Status)

	require.Equal(t, CodeOK, e.PlaybackPause())
	require.Equal(t, StatusPaused, e.GetStatus().Status)

	// Pausing twice is idempotent.
	require.Equal(t, CodeOK, e.PlaybackPause())

	resumedID, code := e.PlaybackStart(0)
	require.Equal(t, CodeOK, code)
	require.Equal(t, id, resumedID, "idx=0 resume lands on the same entry that was paused")
	require.Equal(t, StatusPlaying, e.GetStatus().Status)
}

func TestOrchestratorPauseFromStoppedErrors(t *testing.T) {
	catalog := newFakeCatalog()
	decoder := newFakeDecoder()
	driver := newFakeRemoteSinkDriver()
	e := newTestEngine(t, catalog, decoder, driver, nil)

	require.Equal(t, CodeError, e.PlaybackPause())
}

func TestOrchestratorSeekWhilePlayingResumes(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("a", "A")
	decoder := newFakeDecoder()
	decoder.setDuration("a", 10.0)
	driver := newFakeRemoteSinkDriver()

	e := newTestEngine(t, catalog, decoder, driver, nil)
	require.Equal(t, CodeOK, e.QueueAdd(tracksOf("a")))
	_, code := e.PlaybackStart(0)
	require.Equal(t, CodeOK, code)

	require.Equal(t, CodeOK, e.PlaybackSeek(3000))
	require.Equal(t, StatusPlaying, e.GetStatus().Status, "seek while playing resumes playback")
}

func TestOrchestratorSeekFromStoppedErrors(t *testing.T) {
	catalog := newFakeCatalog()
	decoder := newFakeDecoder()
	driver := newFakeRemoteSinkDriver()
	e := newTestEngine(t, catalog, decoder, driver, nil)

	require.Equal(t, CodeError, e.PlaybackSeek(1000))
}

func TestOrchestratorShuffleSetOnReshuffles(t *testing.T) {
	catalog := newFakeCatalog()
	decoder := newFakeDecoder()
	driver := newFakeRemoteSinkDriver()
	e := newTestEngine(t, catalog, decoder, driver, nil)
	require.Equal(t, CodeOK, e.QueueAdd(tracksOf("a", "b", "c", "d", "e", "f", "g", "h")))
	before := shuffleOrderIDs(e.queue)

	require.Equal(t, CodeOK, e.ShuffleSet(true))
	require.True(t, e.GetStatus().Shuffle)
	require.NotEqual(t, before, shuffleOrderIDs(e.queue), "turning shuffle on reshuffles the queue")
	require.Equal(t, CodeOK, e.ShuffleSet(false))
	require.False(t, e.GetStatus().Shuffle)
}

func TestOrchestratorSinkHotPlugMidPlay(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("a", "A")
	decoder := newFakeDecoder()
	decoder.setDuration("a", 10.0)
	driver := newFakeRemoteSinkDriver()
	driver.register(1, false, false)

	discover := make(chan DiscoveryEvent, 4)
	e := newTestEngine(t, catalog, decoder, driver, discover)
	require.Equal(t, CodeOK, e.QueueAdd(tracksOf("a")))
	_, code := e.PlaybackStart(0)
	require.Equal(t, CodeOK, code)

	discover <- DiscoveryEvent{Name: "Kitchen", Address: "10.0.0.1", Port: 9000}
	require.Eventually(t, func() bool {
		found := false
		e.SpeakerEnumerate(func(id uint64, name string, selected, hasPW bool) {
			if name == "Kitchen" {
				found = true
			}
		})
		return found
	}, time.Second, time.Millisecond, "discovery event reaches the registry through the player thread")

	var kitchenID uint64
	e.SpeakerEnumerate(func(id uint64, name string, selected, hasPW bool) {
		if name == "Kitchen" {
			kitchenID = id
		}
	})
	require.NotZero(t, kitchenID)

	require.Equal(t, CodeOK, e.SpeakerSet([]uint64{kitchenID}))
	require.Equal(t, StatusPlaying, e.GetStatus().Status, "selecting a sink mid-play does not interrupt playback")
}

func TestOrchestratorSpeakerSetPasswordFails(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("a", "A")
	decoder := newFakeDecoder()
	decoder.setDuration("a", 10.0)
	driver := newFakeRemoteSinkDriver()
	driver.register(1, true, false)

	discover := make(chan DiscoveryEvent, 4)
	e := newTestEngine(t, catalog, decoder, driver, discover)
	discover <- DiscoveryEvent{Name: "Locked", Address: "10.0.0.2", Port: 9000, HasPassword: true}

	require.Eventually(t, func() bool {
		found := false
		e.SpeakerEnumerate(func(id uint64, name string, selected, hasPW bool) {
			if name == "Locked" {
				found = true
			}
		})
		return found
	}, time.Second, time.Millisecond)

	var lockedID uint64
	e.SpeakerEnumerate(func(id uint64, name string, selected, hasPW bool) {
		if name == "Locked" {
			lockedID = id
		}
	})

	require.Equal(t, CodePassword, e.SpeakerSet([]uint64{lockedID}))
}

func TestOrchestratorVolumeSetClampsAndPersists(t *testing.T) {
	catalog := newFakeCatalog()
	decoder := newFakeDecoder()
	driver := newFakeRemoteSinkDriver()
	store := &fakeVolumeStore{}
	e, err := New(Config{Catalog: catalog, Decoder: decoder, RemoteSinks: driver, Volumes: store})
	require.NoError(t, err)
	go e.Run()
	t.Cleanup(e.Shutdown)

	require.Equal(t, CodeOK, e.VolumeSet(150))
	require.Equal(t, 100, e.GetStatus().Volume)
	require.Eventually(t, func() bool {
		v, _ := store.LoadVolume()
		return v == 100
	}, time.Second, 10*time.Millisecond, "clamped volume is persisted after the debounce")

	require.Equal(t, CodeOK, e.VolumeSet(-10))
	require.Equal(t, 0, e.GetStatus().Volume)
	require.Eventually(t, func() bool {
		v, _ := store.LoadVolume()
		return v == 0
	}, time.Second, 10*time.Millisecond, "clamped volume is persisted after the debounce")
}

func TestOrchestratorQueueClearStopsPlayback(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.add("a", "A")
	decoder := newFakeDecoder()
	decoder.setDuration("a", 10.0)
	driver := newFakeRemoteSinkDriver()

	e := newTestEngine(t, catalog, decoder, driver, nil)
	require.Equal(t, CodeOK, e.QueueAdd(tracksOf("a")))
	_, code := e.PlaybackStart(0)
	require.Equal(t, CodeOK, code)

	e.QueueClear()
	require.Equal(t, StatusStopped, e.GetStatus().Status)
}
