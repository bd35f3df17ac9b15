package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thinksystem/sleet/fingerprint"
	"github.com/thinksystem/sleet/policygate"
)

// Mirror ships an accepted intent to a cross-instance log, so a second
// orchestrator instance can recover in-flight intents after a failover.
// Mirroring is best-effort: a Mirror error is counted in MirrorFail, never
// rolled back against the local commit (spec §4.8: the local queue is the
// source of truth, the mirror a recovery aid).
type Mirror interface {
	Mirror(ctx context.Context, in Intent) error
}

// Metrics is a point-in-time counter snapshot (spec §4.8's observability
// requirement for the pipeline).
type Metrics struct {
	Submitted  uint64
	Coalesced  uint64
	Evicted    uint64
	Rejected   uint64
	MirrorFail uint64
	Drained    uint64
	Consumed   uint64
}

// Config bundles the tunables a config package loads from TOML.
type Config struct {
	CapacityPerTenant int
	CoalesceWindow    time.Duration
	Overflow          OverflowPolicy
}

// Pipeline is the Persistence-Intent Pipeline: one bounded shard per
// tenant, optional backpressure consultation, and optional cross-instance
// mirroring.
type Pipeline struct {
	cfg Config

	mu     sync.Mutex
	shards map[string]*shard

	gate   *policygate.Gate
	mirror Mirror

	submitted, coalescedCount, evicted, rejected, mirrorFail, drained, consumed atomic.Uint64

	now func() time.Time
}

// New constructs a Pipeline. gate and mirror may be nil (no backpressure
// consultation / no cross-instance mirroring, respectively).
func New(cfg Config, gate *policygate.Gate, mirror Mirror) *Pipeline {
	if cfg.CapacityPerTenant <= 0 {
		cfg.CapacityPerTenant = 1024
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = 2 * time.Second
	}
	return &Pipeline{
		cfg:    cfg,
		shards: make(map[string]*shard),
		gate:   gate,
		mirror: mirror,
		now:    time.Now,
	}
}

func (p *Pipeline) shardFor(tenant string) *shard {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.shards[tenant]
	if !ok {
		s = newShard(p.cfg.CapacityPerTenant, p.cfg.CoalesceWindow)
		p.shards[tenant] = s
	}
	return s
}

// Submit enqueues in (computing its PayloadHash if unset), coalescing
// against an existing queued intent with the same hash when one is still
// within the coalescing window, and applying the configured OverflowPolicy
// when the tenant's shard is full. If a Gate is configured, Red-level
// pressure rejects Low/Normal priority intents outright (spec §4.9's S5:
// "red rejects new intent-heavy session starts").
func (p *Pipeline) Submit(ctx context.Context, in Intent) (SubmitAck, error) {
	if in.PayloadHash.IsZero() {
		encoded, err := in.Payload.MarshalCBOR()
		if err != nil {
			return SubmitAck{}, fmt.Errorf("pipeline: encoding payload: %w", err)
		}
		in.PayloadHash = fingerprint.Payload(encoded)
		in.Size = len(encoded)
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = p.now()
	}
	if len(in.CorrelationIDs) == 0 {
		in.CorrelationIDs = []string{in.ID}
	}

	if p.gate != nil {
		sig := p.gate.Snapshot()
		if sig.Level == policygate.LevelRed && in.Priority != PriorityHigh {
			p.rejected.Add(1)
			return SubmitAck{}, &RejectedError{Tenant: in.Tenant, Level: sig.Level.String(), Reason: "queue depth/latency/error composite above red threshold"}
		}
	}

	s := p.shardFor(in.Tenant)
	s.mu.Lock()
	now := p.now()
	switch coalesced, err := s.tryCoalesce(in, now); {
	case err != nil:
		s.mu.Unlock()
		p.rejected.Add(1)
		return SubmitAck{}, err
	case coalesced:
		s.mu.Unlock()
		p.submitted.Add(1)
		p.coalescedCount.Add(1)
		return SubmitAck{CorrelationID: in.ID, IntentHash: in.PayloadHash, Coalesced: true, CommittedAt: now}, nil
	}

	policy := p.cfg.Overflow
	for s.full() && policy == OverflowBlock {
		s.spaceCond.Wait()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return SubmitAck{}, ctx.Err()
		}
	}
	wasFull := s.full()
	if err := s.push(in, policy); err != nil {
		s.mu.Unlock()
		p.rejected.Add(1)
		return SubmitAck{}, err
	}
	if wasFull && policy == OverflowDropOldestLowPriority {
		p.evicted.Add(1)
	}
	s.mu.Unlock()

	p.submitted.Add(1)
	if p.mirror != nil {
		go func() {
			if err := p.mirror.Mirror(context.Background(), in); err != nil {
				p.mirrorFail.Add(1)
			}
		}()
	}

	return SubmitAck{CorrelationID: in.ID, IntentHash: in.PayloadHash, CommittedAt: now}, nil
}

// Drain removes up to n oldest intents from tenant's shard, for the
// storage package's writer loop to persist.
func (p *Pipeline) Drain(tenant string, n int) []Intent {
	s := p.shardFor(tenant)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.drain(n)
	p.drained.Add(uint64(len(out)))
	return out
}

// Consume drains up to perTenant queued intents (or coalesced groups) from
// every tenant's shard in priority-then-FIFO order and validates each one
// against gate, returning one CommitReceipt per intent/group (spec §4.8's
// "Consumption": the gate "pulls intents in priority-then-FIFO order and
// emits a CommitReceipt per intent (or per coalesced group)"). A nil gate
// validates nothing and accepts everything with PolicyVersion 0, so a
// pipeline constructed without a gate still drains.
func (p *Pipeline) Consume(gate *policygate.Gate, perTenant int) []CommitReceipt {
	var receipts []CommitReceipt
	for _, tenant := range p.Tenants() {
		s := p.shardFor(tenant)
		s.mu.Lock()
		batch := s.drainPriorityFIFO(perTenant)
		s.mu.Unlock()

		for _, in := range batch {
			var eval policygate.Evaluation
			if gate != nil {
				eval = gate.Evaluate(policygate.RuleInput{
					Tenant:      in.Tenant,
					PayloadSize: in.Size,
					Priority:    int(in.Priority),
					SubmittedAt: in.CreatedAt,
				})
			} else {
				eval = policygate.Evaluation{Outcome: policygate.OutcomeAccepted, ValidatedAt: p.now()}
			}
			receipts = append(receipts, CommitReceipt{
				IntentHash:     in.PayloadHash,
				Tenant:         in.Tenant,
				PolicyVersion:  eval.PolicyVersion,
				Decision:       decisionFromOutcome(eval.Outcome),
				RulesFired:     eval.RulesFired,
				ValidatedAt:    eval.ValidatedAt,
				SignerIDs:      eval.SignerIDs,
				CorrelationIDs: in.CorrelationIDs,
			})
		}
		p.consumed.Add(uint64(len(batch)))
	}
	return receipts
}

func decisionFromOutcome(o policygate.Outcome) Decision {
	switch o {
	case policygate.OutcomeRejected:
		return DecisionRejected
	case policygate.OutcomeQuarantined:
		return DecisionQuarantined
	default:
		return DecisionAccepted
	}
}

// Tenants lists every tenant with a shard, for a writer loop that round-
// robins across them.
func (p *Pipeline) Tenants() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.shards))
	for t := range p.shards {
		out = append(out, t)
	}
	return out
}

// Snapshot returns the current counters.
func (p *Pipeline) Snapshot() Metrics {
	return Metrics{
		Submitted:  p.submitted.Load(),
		Coalesced:  p.coalescedCount.Load(),
		Evicted:    p.evicted.Load(),
		Rejected:   p.rejected.Load(),
		MirrorFail: p.mirrorFail.Load(),
		Drained:    p.drained.Load(),
		Consumed:   p.consumed.Load(),
	}
}
