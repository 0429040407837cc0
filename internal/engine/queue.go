// ABOUTME: Queue component (C3): cyclic playlist/shuffle orders and navigation
// ABOUTME: Mirrors player.c's source_next/source_prev/source_reshuffle/queue_add
package engine

import "math/rand"

// Entry is one track in the queue. Playlist order and shuffle order are
// two independent cyclic doubly-linked lists over the same set of
// entries; playNext threads the opened-ahead chain rooted at the
// currently playing entry. Go's GC makes pointer-based cycles safe, so
// we use them directly rather than the arena-of-indices spec.md §9
// suggests for non-GC languages (see DESIGN.md).
type Entry struct {
	ID    uint64
	Track TrackMeta
	ctx   DecoderContext

	StreamStart uint64
	OutputStart uint64
	End         uint64 // 0 means "not yet known"

	plNext, plPrev *Entry
	shNext, shPrev *Entry
	playNext       *Entry
}

// IsOpen reports whether this entry's decoder context is live.
func (e *Entry) IsOpen() bool { return e.ctx != nil }

// Queue owns the playlist and shuffle cycles.
type Queue struct {
	playlistHead *Entry
	shuffleHead  *Entry
	rng          *rand.Rand
	nextID       uint64
}

func newQueue() *Queue {
	return &Queue{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// NewEntries allocates fresh, unlinked entries for the given tracks.
// This stands in for the spec's "queue builder" collaborator, which
// produces a ready-made cycle from track metadata.
func (q *Queue) NewEntries(tracks []TrackMeta) []*Entry {
	entries := make([]*Entry, len(tracks))
	for i, t := range tracks {
		q.nextID++
		entries[i] = &Entry{ID: q.nextID, Track: t}
	}
	return entries
}

// linkCycle wires a slice of entries into a self-contained cycle using
// the given next/prev setters, returning the cycle's head.
func linkCycle(entries []*Entry, setNext, setPrev func(e, n *Entry)) *Entry {
	n := len(entries)
	for i, e := range entries {
		setNext(e, entries[(i+1)%n])
		setPrev(e, entries[(i-1+n)%n])
	}
	return entries[0]
}

func plSetNext(e, n *Entry) { e.plNext = n }
func plSetPrev(e, p *Entry) { e.plPrev = p }
func shSetNext(e, n *Entry) { e.shNext = n }
func shSetPrev(e, p *Entry) { e.shPrev = p }

// spliceCycle splices cycle b (head bHead) into cycle a (head aHead),
// inserting it just before aHead (i.e. at the tail). If aHead is nil,
// b becomes the whole cycle. Returns the resulting head (always aHead,
// or bHead if a was empty).
func spliceCycle(aHead, bHead *Entry, next, prev func(*Entry) *Entry, setNext, setPrev func(e, n *Entry)) *Entry {
	if bHead == nil {
		return aHead
	}
	if aHead == nil {
		return bHead
	}
	aTail := prev(aHead)
	bTail := prev(bHead)
	setNext(aTail, bHead)
	setPrev(bHead, aTail)
	setNext(bTail, aHead)
	setPrev(aHead, bTail)
	return aHead
}

func plNextFn(e *Entry) *Entry { return e.plNext }
func plPrevFn(e *Entry) *Entry { return e.plPrev }
func shNextFn(e *Entry) *Entry { return e.shNext }
func shPrevFn(e *Entry) *Entry { return e.shPrev }

// shuffleCopy produces a fresh permutation of entries (by identity),
// linked into their own shuffle sub-cycle, using the queue's RNG. The
// playlist order is never touched.
func (q *Queue) shuffleCopy(entries []*Entry) *Entry {
	perm := make([]*Entry, len(entries))
	copy(perm, entries)
	q.rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return linkCycle(perm, shSetNext, shSetPrev)
}

// Add splices a non-empty chain of fresh entries into the queue,
// simultaneously producing and splicing a freshly shuffled copy into
// the shuffle cycle (spec.md §4.3 queue_add).
func (q *Queue) Add(entries []*Entry) {
	if len(entries) == 0 {
		return
	}
	plHead := linkCycle(entries, plSetNext, plSetPrev)
	q.playlistHead = spliceCycle(q.playlistHead, plHead, plNextFn, plPrevFn, plSetNext, plSetPrev)

	shHead := q.shuffleCopy(entries)
	q.shuffleHead = spliceCycle(q.shuffleHead, shHead, shNextFn, shPrevFn, shSetNext, shSetPrev)
}

// Clear breaks both cycles and releases every entry's decoder context.
func (q *Queue) Clear() {
	for e := q.playlistHead; e != nil; {
		next := e.plNext
		if e.ctx != nil {
			e.ctx.Close()
			e.ctx = nil
		}
		e.plNext, e.plPrev, e.shNext, e.shPrev, e.playNext = nil, nil, nil, nil, nil
		if next == q.playlistHead {
			break
		}
		e = next
	}
	q.playlistHead = nil
	q.shuffleHead = nil
}

// Empty reports whether the queue has no entries.
func (q *Queue) Empty() bool { return q.playlistHead == nil }

// Reshuffle produces a fresh permutation of the whole playlist's entry
// set and replaces the shuffle cycle and its head (the new epoch
// anchor). Used both on shuffle-enable and at end-of-round wraparound.
func (q *Queue) Reshuffle() {
	if q.playlistHead == nil {
		return
	}
	var all []*Entry
	for e := q.playlistHead; ; {
		all = append(all, e)
		e = e.plNext
		if e == q.playlistHead {
			break
		}
	}
	q.shuffleHead = q.shuffleCopy(all)
}

// PlaylistHead returns the playlist cycle's sentinel, or nil if empty.
func (q *Queue) PlaylistHead() *Entry { return q.playlistHead }

// ShuffleHead returns the shuffle cycle's anchor, or nil if empty.
func (q *Queue) ShuffleHead() *Entry { return q.shuffleHead }

// Head returns the active order's head for the given shuffle mode.
func (q *Queue) Head(shuffle bool) *Entry {
	_, _, head := q.order(shuffle)
	return head
}

// AtIndex walks the playlist order to the 1-based idx'th entry,
// independent of shuffle mode (playback_start's explicit jump-to-index
// always addresses playlist position, per spec.md §4.7/§6). Returns nil
// if idx is out of range or the queue is empty.
func (q *Queue) AtIndex(idx int) *Entry {
	if q.playlistHead == nil || idx < 1 {
		return nil
	}
	e := q.playlistHead
	for i := 1; i < idx; i++ {
		e = e.plNext
		if e == q.playlistHead {
			return nil
		}
	}
	return e
}

// order returns the next/prev functions for the active order.
func (q *Queue) order(shuffle bool) (next, prev func(*Entry) *Entry, head *Entry) {
	if shuffle {
		return shNextFn, shPrevFn, q.shuffleHead
	}
	return plNextFn, plPrevFn, q.playlistHead
}

// single reports whether the playlist cycle has exactly one entry.
func (q *Queue) single() bool {
	return q.playlistHead != nil && q.playlistHead.plNext == q.playlistHead
}

// Next implements source_next(force): advance from current in the
// active order, skipping entries tryOpen rejects (the open-or-exhaust
// loop), honoring repeat mode. tryOpen is the Source Pipeline's
// source_open, called back in so Queue never imports decoder concerns.
// Returns (entry, true) on success, (nil, false) if playback should
// stop (REPEAT_OFF exhausted, or an empty queue).
func (q *Queue) Next(current *Entry, shuffle bool, repeat RepeatMode, force bool, tryOpen func(*Entry) bool) (*Entry, bool) {
	if q.playlistHead == nil {
		return nil, false
	}
	if force && repeat == RepeatSong {
		repeat = RepeatAll
	}
	if q.single() {
		if repeat == RepeatAll {
			repeat = RepeatSong
		} else if repeat == RepeatOff && !force {
			repeat = RepeatSong
		}
	}
	if repeat == RepeatSong && current != nil {
		if tryOpen(current) {
			return current, true
		}
		// Falls through: even the current entry won't open, so there is
		// nothing left to play.
		return nil, false
	}

	next, _, head := q.order(shuffle)
	start := current
	if start == nil {
		start = head
		if tryOpen(start) {
			return start, true
		}
	}
	for e := next(start); e != start; e = next(e) {
		if shuffle && e == q.shuffleHead && repeat == RepeatAll {
			q.Reshuffle()
			_, _, head = q.order(shuffle)
			e = head
		}
		if e == head && repeat != RepeatAll {
			break
		}
		if tryOpen(e) {
			return e, true
		}
	}
	if repeat == RepeatAll {
		if shuffle {
			q.Reshuffle()
		}
		_, _, head = q.order(shuffle)
		if head != start && tryOpen(head) {
			return head, true
		}
	}
	return nil, false
}

// Prev implements source_prev(): walk backward one step in the active
// order, skipping rejects the same way Next does. Stops at the head.
func (q *Queue) Prev(current *Entry, shuffle bool, tryOpen func(*Entry) bool) (*Entry, bool) {
	if q.playlistHead == nil || current == nil {
		return nil, false
	}
	_, prev, head := q.order(shuffle)
	if current == head {
		return nil, false
	}
	for e := prev(current); ; e = prev(e) {
		if tryOpen(e) {
			return e, true
		}
		if e == head {
			return nil, false
		}
	}
}
