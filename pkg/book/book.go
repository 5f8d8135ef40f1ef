// Package book reconstructs per-instrument order books from snapshot and
// incremental delta messages.
//
// A Book is owned by exactly one session and mutated only from that
// session's event loop, so no internal locking is performed. Levels are
// keyed by price; a size of zero removes the level and is never stored.
// When the exchange numbers its deltas, a sequence gap invalidates the book
// until a fresh snapshot arrives.
package book

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrSequenceGap is returned by ApplyDelta when a delta does not follow the
// last applied sequence number. The book is invalid from that point on and
// the caller must obtain a new snapshot.
var ErrSequenceGap = errors.New("order book sequence gap")

// ErrStale is returned by ApplyDelta after a gap, until a snapshot resets
// the book.
var ErrStale = errors.New("order book stale, awaiting snapshot")

// Level is one (price, size) entry on a book side.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Delta is one batch of incremental level changes. When HasSequence is set,
// FirstSequence/LastSequence describe the exchange's numbering for the
// batch and are checked for continuity against the previous batch.
type Delta struct {
	Bids []Level
	Asks []Level

	HasSequence   bool
	FirstSequence uint64
	LastSequence  uint64
}

// side holds one half of the book. Levels live in a map keyed by the
// canonical price string; ordering is produced on demand.
type side struct {
	levels map[string]Level
	// descending for bids, ascending for asks
	descending bool
}

func newSide(descending bool) *side {
	return &side{levels: make(map[string]Level), descending: descending}
}

func (s *side) replace(levels []Level) {
	s.levels = make(map[string]Level, len(levels))
	s.apply(levels)
}

// apply inserts, updates, or removes levels. Later entries for the same
// price win, which matches the "last in batch wins" tie-break.
func (s *side) apply(levels []Level) {
	for _, lv := range levels {
		key := lv.Price.String()
		if lv.Size.IsZero() {
			delete(s.levels, key)
			continue
		}
		s.levels[key] = lv
	}
}

func (s *side) sorted() []Level {
	out := make([]Level, 0, len(s.levels))
	for _, lv := range s.levels {
		out = append(out, lv)
	}
	sort.Slice(out, func(i, j int) bool {
		if s.descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

func (s *side) best() (Level, bool) {
	var best Level
	found := false
	for _, lv := range s.levels {
		if !found {
			best = lv
			found = true
			continue
		}
		if s.descending && lv.Price.GreaterThan(best.Price) {
			best = lv
		} else if !s.descending && lv.Price.LessThan(best.Price) {
			best = lv
		}
	}
	return best, found
}

// Book reconciles one instrument's bid and ask ladders.
type Book struct {
	symbol string
	bids   *side
	asks   *side

	lastSequence uint64
	sequenced    bool
	stale        bool
	snapshotted  bool
}

// New creates an empty book for a symbol. The book is stale until the
// first snapshot is applied.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   newSide(true),
		asks:   newSide(false),
		stale:  true,
	}
}

// Symbol returns the instrument this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// ApplySnapshot replaces both sides wholesale and clears any stale state.
// sequence is the snapshot's sequence number when the exchange provides
// one, otherwise zero.
func (b *Book) ApplySnapshot(bids, asks []Level, sequence uint64) {
	b.bids.replace(bids)
	b.asks.replace(asks)
	b.lastSequence = sequence
	b.sequenced = sequence != 0
	b.stale = false
	b.snapshotted = true
}

// ApplyDelta applies one batch of incremental changes. A delta whose
// sequence range does not follow the last applied sequence marks the book
// stale and returns ErrSequenceGap; the caller must request a snapshot.
// Deltas arriving while the book is stale return ErrStale and are dropped.
func (b *Book) ApplyDelta(d Delta) error {
	if b.stale {
		return ErrStale
	}
	if d.HasSequence && b.sequenced {
		// Deltas at or before the snapshot sequence replay known state.
		if d.LastSequence <= b.lastSequence {
			return nil
		}
		if d.FirstSequence > b.lastSequence+1 {
			b.stale = true
			return ErrSequenceGap
		}
	}
	b.bids.apply(d.Bids)
	b.asks.apply(d.Asks)
	if d.HasSequence {
		b.lastSequence = d.LastSequence
		b.sequenced = true
	}
	return nil
}

// Stale reports whether the book is awaiting a snapshot.
func (b *Book) Stale() bool { return b.stale }

// BestBidAsk returns the highest bid and lowest ask. A side with no levels
// reports ok=false; callers must treat that as "no quote available", never
// as a zero price.
func (b *Book) BestBidAsk() (bid Level, bidOK bool, ask Level, askOK bool) {
	bid, bidOK = b.bids.best()
	ask, askOK = b.asks.best()
	return bid, bidOK, ask, askOK
}

// Bids returns the bid ladder sorted descending by price.
func (b *Book) Bids() []Level { return b.bids.sorted() }

// Asks returns the ask ladder sorted ascending by price.
func (b *Book) Asks() []Level { return b.asks.sorted() }
