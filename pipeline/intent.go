// Package pipeline implements the Persistence-Intent Pipeline (spec §4.8):
// a bounded, per-tenant queue of durability requests emitted by flow blocks
// (StateCheckpoint, and the orchestrator's own checkpoint/commit path),
// coalesced by payload hash within a time window and optionally mirrored to
// a shared Redis stream so a second instance can pick up in-flight intents
// after a failover.
//
// The ring-buffer-plus-shards shape is new (no file in the pack queues
// work this way); the Redis mirroring is grounded on
// stake-plus-govcomms/src/api/data/redis.go's client-construction and
// XAdd-stream pattern, the closest example of a Go service using
// redis/go-redis/v9 for a durable event log in the retrieval pack.
package pipeline

import (
	"time"

	"github.com/thinksystem/sleet/fingerprint"
	"github.com/thinksystem/sleet/value"
)

// Priority orders intents for overflow eviction and backpressure shedding.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Intent is one durability request (spec §3's PersistenceIntent): `{ id,
// tenant, payload, payload_hash, size, priority, causal_links, created_at
// }`. CorrelationIDs starts as [ID] and gathers every submission ID
// coalesced into this entry, so a later CommitReceipt can be delivered
// identically to every originator (spec §8 invariant 4 / scenario S6).
type Intent struct {
	ID             string
	Tenant         string
	Payload        value.Value
	PayloadHash    fingerprint.Hash
	Size           int
	Priority       Priority
	CausalLinks    []string
	CreatedAt      time.Time
	CoalescedCount int
	CorrelationIDs []string
}

// SubmitAck is returned immediately by Pipeline.Submit: the intent has been
// admitted into the queue (or merged into an already-queued coalesced
// group), but no policy decision has been made yet. Spec §4.8: "the call
// returns immediately with a correlation id; the session continues
// optimistically" — the actual decision arrives later as a CommitReceipt,
// once the Policy Gate consumes the queue.
type SubmitAck struct {
	CorrelationID string
	IntentHash    fingerprint.Hash
	Coalesced     bool
	CommittedAt   time.Time
}

// Decision is the Policy Gate's verdict on a validated intent (spec §3's
// CommitReceipt.decision).
type Decision uint8

const (
	DecisionAccepted Decision = iota
	DecisionRejected
	DecisionQuarantined
)

func (d Decision) String() string {
	switch d {
	case DecisionAccepted:
		return "accepted"
	case DecisionRejected:
		return "rejected"
	case DecisionQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// CommitReceipt is the Policy Gate's decision on one validated intent (or
// coalesced group sharing a payload hash) — spec §3's CommitReceipt{
// intent_hash, policy_version, decision, rules_fired[], validated_at,
// signer_ids[] }. Unlike SubmitAck, this is never returned by Submit: it is
// produced only by Pipeline.Consume, which is this runtime's wiring of the
// Policy Gate's "pull intents, emit a CommitReceipt" consumption step
// (spec §4.8).
type CommitReceipt struct {
	IntentHash     fingerprint.Hash
	Tenant         string
	PolicyVersion  int
	Decision       Decision
	RulesFired     []string
	ValidatedAt    time.Time
	SignerIDs      []string
	CorrelationIDs []string
}

// OverflowPolicy governs what happens when a tenant's shard is at capacity
// and a new, non-coalescing intent arrives.
type OverflowPolicy uint8

const (
	OverflowReject OverflowPolicy = iota
	OverflowDropOldestLowPriority
	OverflowBlock
)
