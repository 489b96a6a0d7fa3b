package runner

import (
	"cmp"
	"math"
	"slices"

	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/record"
)

// pendingItem is one record between dispatch and leaving the pipeline.
type pendingItem struct {
	record kafka.ConsumerRecord
	offset int64
	input  *record.UntypedRecord

	// result is the transform output, nil when the record was filtered.
	result *record.UntypedRecord
}

// slotSet is a set of pending items with a fixed capacity. Sizes stay small
// (bounded by MaxOutstanding) so lookups are linear scans.
type slotSet struct {
	items []*pendingItem
}

func newSlotSet(capacity int) slotSet {
	return slotSet{items: make([]*pendingItem, 0, capacity)}
}

func (s *slotSet) Add(it *pendingItem) error {
	if len(s.items) == cap(s.items) {
		return ErrCapacityExceeded
	}

	s.items = append(s.items, it)
	return nil
}

func (s *slotSet) Remove(it *pendingItem) bool {
	for i, existing := range s.items {
		if existing == it {
			last := len(s.items) - 1
			s.items[i] = s.items[last]
			s.items[last] = nil
			s.items = s.items[:last]
			return true
		}
	}
	return false
}

func (s *slotSet) Len() int {
	return len(s.items)
}

// Min returns the lowest offset in the set.
func (s *slotSet) Min() (int64, bool) {
	if it := s.lowest(); it != nil {
		return it.offset, true
	}
	return 0, false
}

func (s *slotSet) lowest() *pendingItem {
	var lowest *pendingItem
	for _, it := range s.items {
		if lowest == nil || it.offset < lowest.offset {
			lowest = it
		}
	}
	return lowest
}

// TakeBelow removes every item with an offset below bound and returns them
// in ascending offset order.
func (s *slotSet) TakeBelow(bound int64) []*pendingItem {
	var taken []*pendingItem
	kept := s.items[:0]
	for _, it := range s.items {
		if it.offset < bound {
			taken = append(taken, it)
		} else {
			kept = append(kept, it)
		}
	}

	clear(s.items[len(kept):])
	s.items = kept

	slices.SortFunc(
		taken, func(a, b *pendingItem) int {
			return cmp.Compare(a.offset, b.offset)
		},
	)
	return taken
}

// ledger tracks one partition's offsets. It is not safe for concurrent use;
// the owning coordinator serialises access.
type ledger struct {
	executing slotSet
	waiting   slotSet

	// lastSeen is the highest offset dispatched or skipped, -1 before any.
	lastSeen  int64
	lastEpoch int32

	// resume is the next offset to consume on restart, -1 until first set.
	// Every offset below it has left the pipeline. It never decreases.
	resume int64
	// resumeEpoch is the leader epoch recorded with resume.
	resumeEpoch int32
}

func newLedger(capacity int) *ledger {
	return &ledger{
		executing:   newSlotSet(capacity),
		waiting:     newSlotSet(capacity),
		lastSeen:    -1,
		lastEpoch:   -1,
		resume:      -1,
		resumeEpoch: -1,
	}
}

// Begin registers a dispatched item as executing.
func (l *ledger) Begin(it *pendingItem) error {
	if err := l.executing.Add(it); err != nil {
		return err
	}

	l.see(it.offset, it.record.LeaderEpoch)
	return nil
}

// Skip records an offset that never entered the pipeline.
func (l *ledger) Skip(offset int64, epoch int32) {
	l.see(offset, epoch)
}

func (l *ledger) see(offset int64, epoch int32) {
	if offset > l.lastSeen {
		l.lastSeen = offset
		l.lastEpoch = epoch
	}
}

func (l *ledger) Finish(it *pendingItem) bool {
	return l.executing.Remove(it)
}

// MinExecuting returns the lowest executing offset, or math.MaxInt64 when
// nothing is executing.
func (l *ledger) MinExecuting() int64 {
	if lowest, ok := l.executing.Min(); ok {
		return lowest
	}
	return math.MaxInt64
}

// Advance recomputes the resume offset and reports whether it moved. The
// resume epoch is the epoch of the record at the resume offset, or of the
// last seen record once everything seen has left the pipeline.
func (l *ledger) Advance() (int64, bool) {
	if l.lastSeen < 0 {
		return l.resume, false
	}

	candidate, epoch := l.lastSeen+1, l.lastEpoch
	for _, set := range []*slotSet{&l.executing, &l.waiting} {
		if it := set.lowest(); it != nil && it.offset < candidate {
			candidate, epoch = it.offset, it.record.LeaderEpoch
		}
	}

	if candidate <= l.resume {
		return l.resume, false
	}

	l.resume, l.resumeEpoch = candidate, epoch
	return l.resume, true
}

// Outstanding returns the number of items in the pipeline.
func (l *ledger) Outstanding() int {
	return l.executing.Len() + l.waiting.Len()
}
