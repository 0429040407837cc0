// ABOUTME: Property-based invariant checks over queue cycles and sample-domain arithmetic
// ABOUTME: Grounded on doismellburning-samoyed's use of pgregory.net/rapid for its own invariant checks
package engine

import (
	"testing"

	"pgregory.net/rapid"
)

// TestSaturatingSubNeverWraps checks the invariant spec.md §5 calls for:
// unsigned subtraction on RTP timestamps clamps at zero instead of
// wrapping around 2^64.
func TestSaturatingSubNeverWraps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Uint64().Draw(t, "a")
		b := rapid.Uint64().Draw(t, "b")

		got := saturatingSub(a, b)
		if b > a {
			if got != 0 {
				t.Fatalf("saturatingSub(%d, %d) = %d, want 0", a, b, got)
			}
			return
		}
		if got != a-b {
			t.Fatalf("saturatingSub(%d, %d) = %d, want %d", a, b, got, a-b)
		}
		if got > a {
			t.Fatalf("saturatingSub(%d, %d) = %d exceeds minuend", a, b, got)
		}
	})
}

// TestSampleMillisRoundTripIsBoundedByTruncation checks that converting
// a millisecond count to samples and back never drifts by more than one
// millisecond's worth of truncation error in either conversion.
func TestSampleMillisRoundTripIsBoundedByTruncation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ms := rapid.Int64Range(0, 1<<40).Draw(t, "ms")

		samples := MillisToSamples(ms)
		if samples < 0 {
			t.Fatalf("MillisToSamples(%d) = %d, want non-negative for non-negative input", ms, samples)
		}
		back := SamplesToMillis(uint64(samples))
		if back > uint64(ms) {
			t.Fatalf("SamplesToMillis(MillisToSamples(%d)) = %d exceeds original", ms, back)
		}
		if uint64(ms)-back >= 1 && samples != 0 {
			// One direction of truncation is expected; the drift must
			// never exceed what a single sample period can account for.
			driftMs := uint64(ms) - back
			if driftMs > 1 {
				t.Fatalf("round trip drifted %dms for input %dms", driftMs, ms)
			}
		}
	})
}

// TestQueueAddAlwaysProducesMatchingPlaylistAndShuffleSizes checks that
// queue_add's simultaneous playlist splice and shuffle-copy splice
// (spec.md §4.3) never desync in cycle length, for any sequence of
// batch sizes.
func TestQueueAddAlwaysProducesMatchingPlaylistAndShuffleSizes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		batches := rapid.SliceOfN(rapid.IntRange(1, 5), 1, 6).Draw(t, "batches")

		q := newQueue()
		want := 0
		for _, n := range batches {
			ids := make([]string, n)
			for j := range ids {
				ids[j] = rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "id")
			}
			q.Add(q.NewEntries(tracksOf(ids...)))
			want += n
		}

		if got := cycleLen(q.PlaylistHead(), plNextFn); got != want {
			t.Fatalf("playlist cycle length = %d, want %d", got, want)
		}
		if got := cycleLen(q.ShuffleHead(), shNextFn); got != want {
			t.Fatalf("shuffle cycle length = %d, want %d", got, want)
		}
	})
}

// TestQueueAtIndexMatchesManualWalk checks AtIndex's 1-based addressing
// against an independent manual walk of the playlist cycle, for any
// queue size and any in-range index.
func TestQueueAtIndexMatchesManualWalk(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		ids := make([]string, n)
		for i := range ids {
			ids[i] = rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "id")
		}
		q := newQueue()
		q.Add(q.NewEntries(tracksOf(ids...)))

		idx := rapid.IntRange(1, n).Draw(t, "idx")
		want := q.PlaylistHead()
		for i := 1; i < idx; i++ {
			want = want.plNext
		}

		if got := q.AtIndex(idx); got != want {
			t.Fatalf("AtIndex(%d) = %v, want %v", idx, got, want)
		}
	})
}

func cycleLen(head *Entry, next func(*Entry) *Entry) int {
	if head == nil {
		return 0
	}
	n := 1
	for e := next(head); e != head; e = next(e) {
		n++
	}
	return n
}
