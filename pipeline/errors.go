package pipeline

import "strconv"

// QueueFullError is returned by Submit when a tenant's shard is at
// capacity and the configured OverflowPolicy is OverflowReject (or
// OverflowDropOldestLowPriority finds nothing evictable).
type QueueFullError struct {
	Tenant   string
	Capacity int
}

func (e *QueueFullError) Error() string {
	return "pipeline: tenant " + e.Tenant + " queue is full (capacity " + strconv.Itoa(e.Capacity) + ")"
}

// RejectedError is returned by Submit when the backpressure gate denies
// admission for an intent's priority at the current Level.
type RejectedError struct {
	Tenant string
	Level  string
	Reason string
}

func (e *RejectedError) Error() string {
	return "pipeline: intent for tenant " + e.Tenant + " rejected at backpressure level " + e.Level + ": " + e.Reason
}

// CoalesceCollisionError is returned by Submit when an intent's payload
// hash matches an already-queued intent's, but the payloads themselves
// differ in structure (spec §7's CoalesceCollision: "payload hash
// collision with differing semantics — detected by a secondary check;
// the later intent is rejected").
type CoalesceCollisionError struct {
	Tenant string
	Hash   string
}

func (e *CoalesceCollisionError) Error() string {
	return "pipeline: tenant " + e.Tenant + " payload hash " + e.Hash + " collides with a queued intent of differing structure"
}
