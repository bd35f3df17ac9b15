package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/thinksystem/sleet/fingerprint"
	"github.com/thinksystem/sleet/value"
)

// shard is one tenant's bounded intent queue: a fixed-capacity ring buffer
// plus a coalescing index keyed by payload hash, so a burst of identical
// writes (e.g. a hot loop checkpointing the same counter every iteration)
// collapses into one queued intent instead of flooding the writer.
type shard struct {
	buf      []Intent
	head     int
	size     int
	capacity int

	coalesceWindow time.Duration
	coalesceIndex  map[fingerprint.Hash]int // payload hash -> buf slot, only while within window

	mu        sync.Mutex
	spaceCond *sync.Cond
}

func newShard(capacity int, coalesceWindow time.Duration) *shard {
	s := &shard{
		buf:            make([]Intent, capacity),
		capacity:       capacity,
		coalesceWindow: coalesceWindow,
		coalesceIndex:  make(map[fingerprint.Hash]int),
	}
	s.spaceCond = sync.NewCond(&s.mu)
	return s
}

func (s *shard) full() bool { return s.size == s.capacity }

// tryCoalesce merges in into an existing queued intent with the same
// payload hash, if one is still within the coalescing window. Before
// merging it runs a secondary structural-equality check (value.Value.Equal)
// against the existing payload: a matching hash with a differing payload
// is a CoalesceCollision (spec §7), and the later intent is rejected
// rather than silently overwriting the queued one. Retains every
// correlation id seen for the group, so both originators of a coalesced
// pair can later be handed equal CommitReceipts (spec §8.4). Returns
// whether a merge happened.
func (s *shard) tryCoalesce(in Intent, now time.Time) (bool, error) {
	slot, ok := s.coalesceIndex[in.PayloadHash]
	if !ok {
		return false, nil
	}
	existing := &s.buf[slot]
	if now.Sub(existing.CreatedAt) > s.coalesceWindow {
		delete(s.coalesceIndex, in.PayloadHash)
		return false, nil
	}
	if !existing.Payload.Equal(in.Payload) {
		return false, &CoalesceCollisionError{Tenant: in.Tenant, Hash: in.PayloadHash.String()}
	}
	existing.CoalescedCount++
	existing.CorrelationIDs = append(existing.CorrelationIDs, in.CorrelationIDs...)
	if in.Priority > existing.Priority {
		existing.Priority = in.Priority
	}
	return true, nil
}

// push enqueues in, evicting per policy if full. Returns an error only for
// OverflowReject (or OverflowDropOldestLowPriority with nothing evictable).
func (s *shard) push(in Intent, policy OverflowPolicy) error {
	if s.full() {
		switch policy {
		case OverflowDropOldestLowPriority:
			if !s.evictOldestLowPriority() {
				return &QueueFullError{Tenant: in.Tenant, Capacity: s.capacity}
			}
		default:
			return &QueueFullError{Tenant: in.Tenant, Capacity: s.capacity}
		}
	}
	slot := (s.head + s.size) % s.capacity
	s.buf[slot] = in
	s.size++
	s.coalesceIndex[in.PayloadHash] = slot
	return nil
}

// evictOldestLowPriority drops the oldest Low-priority entry to make room,
// preferring it over any Normal/High entry regardless of age.
func (s *shard) evictOldestLowPriority() bool {
	bestOffset := -1
	for i := 0; i < s.size; i++ {
		slot := (s.head + i) % s.capacity
		if s.buf[slot].Priority == PriorityLow {
			bestOffset = i
			break
		}
	}
	if bestOffset < 0 {
		return false
	}
	s.removeAt(bestOffset)
	return true
}

// removeAt drops the entry at logical offset i (0 = oldest), shifting
// everything after it back by one slot.
func (s *shard) removeAt(i int) {
	victimSlot := (s.head + i) % s.capacity
	delete(s.coalesceIndex, s.buf[victimSlot].PayloadHash)
	for j := i; j < s.size-1; j++ {
		from := (s.head + j + 1) % s.capacity
		to := (s.head + j) % s.capacity
		s.buf[to] = s.buf[from]
		s.coalesceIndex[s.buf[to].PayloadHash] = to
	}
	s.size--
}

// drain removes and returns up to n oldest intents, in FIFO order.
func (s *shard) drain(n int) []Intent {
	if n > s.size {
		n = s.size
	}
	out := make([]Intent, n)
	for i := 0; i < n; i++ {
		slot := (s.head + i) % s.capacity
		out[i] = s.buf[slot]
		delete(s.coalesceIndex, s.buf[slot].PayloadHash)
	}
	s.head = (s.head + n) % s.capacity
	s.size -= n
	if n > 0 {
		s.spaceCond.Broadcast()
	}
	return out
}

// drainPriorityFIFO removes and returns up to n queued intents in
// priority-then-FIFO order (spec §4.8: the Policy Gate "pulls intents in
// priority-then-FIFO order"): higher Priority first, ties broken by queue
// position (oldest first). Unlike drain, the result order does not match
// buffer order, so after sorting the chosen entries are removed in
// descending offset order, which keeps the offsets still to be removed
// valid across removeAt's shift-down.
func (s *shard) drainPriorityFIFO(n int) []Intent {
	if n > s.size {
		n = s.size
	}
	if n == 0 {
		return nil
	}
	type ranked struct {
		offset int
		intent Intent
	}
	candidates := make([]ranked, s.size)
	for i := 0; i < s.size; i++ {
		slot := (s.head + i) % s.capacity
		candidates[i] = ranked{offset: i, intent: s.buf[slot]}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].intent.Priority != candidates[j].intent.Priority {
			return candidates[i].intent.Priority > candidates[j].intent.Priority
		}
		return candidates[i].offset < candidates[j].offset
	})

	chosen := candidates[:n]
	out := make([]Intent, n)
	offsets := make([]int, n)
	for i, c := range chosen {
		out[i] = c.intent
		offsets[i] = c.offset
	}
	sort.Sort(sort.Reverse(sort.IntSlice(offsets)))
	for _, off := range offsets {
		s.removeAt(off)
	}
	s.spaceCond.Broadcast()
	return out
}
