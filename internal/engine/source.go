// ABOUTME: Source Pipeline (C4): opens/reads/tears down decoder-backed entries
// ABOUTME: Mirrors player.c's source_open/source_stop/source_read
package engine

import "fmt"

// SourcePipeline opens entries against the media catalog and decoder,
// and reads PCM across track boundaries for the Mixer.
type SourcePipeline struct {
	catalog Catalog
	decoder Decoder
}

func newSourcePipeline(catalog Catalog, decoder Decoder) *SourcePipeline {
	return &SourcePipeline{catalog: catalog, decoder: decoder}
}

// open zeros the three anchors and play_next, resolves the entry's
// track, refuses disabled tracks, and asks the decoder for a context.
// Reports success/failure only — the open-or-exhaust loop in Queue
// decides what to do next.
func (p *SourcePipeline) open(e *Entry) bool {
	e.StreamStart, e.OutputStart, e.End = 0, 0, 0
	e.playNext = nil

	meta, err := p.catalog.Resolve(e.Track.TrackID)
	if err != nil {
		return false
	}
	if meta.Disabled {
		return false
	}
	e.Track = meta

	ctx, err := p.decoder.Setup(meta)
	if err != nil || ctx == nil {
		return false
	}
	e.ctx = ctx
	return true
}

// stop walks and tears down the play_next chain rooted at e, releasing
// every decoder context along the way.
func (p *SourcePipeline) stop(e *Entry) {
	for cur := e; cur != nil; {
		next := cur.playNext
		if cur.ctx != nil {
			cur.ctx.Close()
			cur.ctx = nil
		}
		cur.playNext = nil
		cur = next
	}
}

// seek asks the entry's decoder to seek to ms, updating StreamStart to
// match the actual position reached (decoders may only land on frame
// boundaries), anchored so the sample emitted next equals the decoder's
// actual position.
func (p *SourcePipeline) seek(e *Entry, rtp uint64, ms int64) (int64, error) {
	if e.ctx == nil {
		return 0, fmt.Errorf("engine: seek on closed entry %d", e.ID)
	}
	actualMs, err := e.ctx.Seek(ms)
	if err != nil {
		return 0, fmt.Errorf("engine: seek entry %d: %w", e.ID, err)
	}
	e.StreamStart = rtp - uint64(MillisToSamples(actualMs))
	e.OutputStart = e.StreamStart
	return actualMs, nil
}

// read is the Mixer's pull interface: it concatenates PCM bytes across
// track boundaries by chasing play_next, and marks the first track's
// end the instant it runs dry. advance is called to fetch the next
// playable entry when one track's decoder is exhausted; it must return
// nil if none is available (end of queue).
func (p *SourcePipeline) read(head *Entry, buf []byte, rtp uint64, advance func(cur *Entry) *Entry) (*Entry, int) {
	cur := head
	n := 0
	for n < len(buf) && cur != nil {
		if cur.ctx == nil {
			break
		}
		want := len(buf) - n
		got, err := cur.ctx.Decode(buf[n : n+want])
		n += got
		if got < want || err != nil {
			// First byte past the end of this track: fix its end.
			cur.End = rtp + uint64(n)/BytesPerSample - 1
			nxt := advance(cur)
			cur.playNext = nxt
			cur = nxt
		}
	}
	return cur, n
}
