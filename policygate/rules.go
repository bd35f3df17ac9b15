package policygate

import "time"

// Outcome is the Policy Gate's verdict on one validated intent (spec §3's
// CommitReceipt.decision).
type Outcome uint8

const (
	OutcomeAccepted Outcome = iota
	OutcomeRejected
	OutcomeQuarantined
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// RuleInput is what a Rule needs to validate one intent or coalesced
// group, kept independent of the pipeline package's own Intent type: the
// pipeline package already imports policygate for backpressure
// consultation, so policygate cannot import pipeline back without a
// cycle — the caller (pipeline.Consume) adapts its own Intent into this.
type RuleInput struct {
	Tenant      string
	PayloadSize int
	Priority    int
	SubmittedAt time.Time
}

// Effect mirrors engine.rs's Policy.effect string ("allow"/"deny"): a
// matching deny rule blocks outright, a matching allow rule clears the
// intent, and — engine.rs's authorise() has no third outcome, but a
// persistence intent does — no matching rule at all quarantines rather
// than implicitly denying, since an unrecognised intent shape is a
// candidate for operator review, not a silent drop.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule is one named policy check, parallel to engine.rs's ParsedPolicy
// but with its condition list collapsed into a single Go predicate
// instead of a parsed expression AST: these checks are fixed structural
// properties of an intent (size, age, level), not arbitrary user-authored
// boolean expressions, so the extra parser/AST layer engine.rs needs for
// role/resource policies has no counterpart here.
type Rule struct {
	Name   string
	Effect Effect
	Check  func(RuleInput, Level) bool
}

// DefaultRules builds the bundle's rule set: a payload-size cap, a
// red-backpressure deny for anything below High priority (named
// "red-backpressure-quarantine", but like every deny rule it yields
// OutcomeRejected), and a queue-age staleness reject measuring age
// against now. Grounded on engine.rs's deny-before-allow
// evaluation order (PolicyEngine.authorise checks every deny policy
// first, then every allow policy), reproduced in Gate.Evaluate below.
func DefaultRules(bundle PolicyBundle, now time.Time) []Rule {
	rules := []Rule{
		{
			Name:   "stale-intent",
			Effect: EffectDeny,
			Check: func(in RuleInput, _ Level) bool {
				if bundle.MaxQueueAgeSec <= 0 || in.SubmittedAt.IsZero() {
					return false
				}
				return now.Sub(in.SubmittedAt).Seconds() > bundle.MaxQueueAgeSec
			},
		},
		{
			Name:   "payload-size-limit",
			Effect: EffectDeny,
			Check: func(in RuleInput, _ Level) bool {
				return bundle.MaxPayloadBytes > 0 && in.PayloadSize > bundle.MaxPayloadBytes
			},
		},
		{
			Name:   "red-backpressure-quarantine",
			Effect: EffectDeny,
			Check: func(in RuleInput, lvl Level) bool {
				return lvl == LevelRed && in.Priority < highPriorityOrdinal
			},
		},
		{
			Name:   "within-bounds",
			Effect: EffectAllow,
			Check: func(RuleInput, Level) bool { return true },
		},
	}
	return rules
}

// highPriorityOrdinal mirrors pipeline.PriorityHigh's ordinal without
// importing the pipeline package; the two constants must be kept in step
// (both are 2 — "High" is the top of a three-value Low/Normal/High scale
// in both packages).
const highPriorityOrdinal = 2

// Evaluation is the Gate's decision for one intent, carrying every field
// spec §3's CommitReceipt needs apart from intent_hash and correlation
// ids, which belong to the caller's own Intent/CommitReceipt types.
type Evaluation struct {
	Outcome       Outcome
	RulesFired    []string
	PolicyVersion int
	ValidatedAt   time.Time
	SignerIDs     []string
}

// evaluateRules applies rules to in in deny-then-allow order (engine.rs's
// authorise: every deny rule is checked before any allow rule, so an
// explicit deny always wins over a later allow). Returns the outcome and
// the names of every rule that fired, in evaluation order.
func evaluateRules(rules []Rule, in RuleInput, lvl Level) (Outcome, []string) {
	var fired []string
	for _, r := range rules {
		if r.Effect == EffectDeny && r.Check(in, lvl) {
			fired = append(fired, r.Name)
			return OutcomeRejected, fired
		}
	}
	for _, r := range rules {
		if r.Effect == EffectAllow && r.Check(in, lvl) {
			fired = append(fired, r.Name)
			return OutcomeAccepted, fired
		}
	}
	return OutcomeQuarantined, fired
}

// Evaluate validates in against the Gate's Active bundle (or its
// construction-time default bundle if no BundleStore is wired), and — if
// any bundle is currently in StageShadow — evaluates it too purely to
// record whether its outcome diverges from the Active decision (spec
// §4.9: Shadow evaluation "does not affect decisions").
func (g *Gate) Evaluate(in RuleInput) Evaluation {
	g.mu.Lock()
	bundle := g.bundle
	shadows := []PolicyBundle(nil)
	if g.bundleStore != nil {
		if active, ok := g.bundleStore.Active(); ok {
			bundle = *active
		}
		for _, sb := range g.bundleStore.ShadowBundles() {
			shadows = append(shadows, *sb)
		}
	}
	level := g.lastLevel
	signerIDs := append([]string(nil), g.signerIDs...)
	now := g.now()
	g.mu.Unlock()

	outcome, fired := evaluateRules(DefaultRules(bundle, now), in, level)

	for _, sb := range shadows {
		shadowOutcome, _ := evaluateRules(DefaultRules(sb, now), in, level)
		g.shadowEvaluations.Add(1)
		if shadowOutcome != outcome {
			g.shadowDivergences.Add(1)
		}
	}

	return Evaluation{
		Outcome:       outcome,
		RulesFired:    fired,
		PolicyVersion: bundle.Version,
		ValidatedAt:   now,
		SignerIDs:     signerIDs,
	}
}

// ShadowMetrics reports how many Shadow-bundle evaluations have run
// alongside the Active decision, and how many of those disagreed with it
// (spec §4.9's "differential metrics").
func (g *Gate) ShadowMetrics() (evaluated, diverged uint64) {
	return g.shadowEvaluations.Load(), g.shadowDivergences.Load()
}
