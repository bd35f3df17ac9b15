package policygate

import "time"

// Stage is a policy bundle's position in its rollout lifecycle (spec §4.9:
// "Draft -> Staging -> Shadow -> Active -> Retired"). Loosely grounded on
// manifest/resolver.go's resolve-then-lock flow, which also carries a
// dependency through ordered stages before it is trusted — no file in the
// pack models a five-stage lifecycle directly, so the state machine below
// is original, built in the teacher's idiom (small struct, explicit
// transition table, error on an illegal move).
type Stage string

const (
	StageDraft   Stage = "Draft"
	StageStaging Stage = "Staging"
	StageShadow  Stage = "Shadow"
	StageActive  Stage = "Active"
	StageRetired Stage = "Retired"
)

var validTransitions = map[Stage]map[Stage]bool{
	StageDraft:   {StageStaging: true},
	StageStaging: {StageShadow: true, StageDraft: true},
	StageShadow:  {StageActive: true, StageDraft: true},
	StageActive:  {StageRetired: true},
	StageRetired: {},
}

// PolicyBundle holds one named, versioned set of Gate tunables. Defaults
// mirror backpressure.rs's STELE_BP_* environment-variable defaults,
// reexpressed as struct fields a config package can populate from TOML
// instead of process environment (spec §6 calls for file-based
// configuration, not env vars).
type PolicyBundle struct {
	ID      string
	Version int
	Stage   Stage

	WeightDepth   float64
	WeightLatency float64
	WeightError   float64

	HalflifeLongSec  float64
	HalflifeShortSec float64
	WarmupSamples    uint64

	TokensMax         float64
	TokensRefillPerSec float64

	HysteresisPct  float64
	AmberAdaptSecs float64

	// MaxPayloadBytes and MaxQueueAgeSec parameterise the intent-validation
	// rules DefaultRules builds from this bundle (spec §4.8/§4.9); zero
	// means "no limit" for either.
	MaxPayloadBytes int
	MaxQueueAgeSec  float64

	// QuorumSignerIDs is populated by BundleStore.PromoteActive, recording
	// who authorised this bundle's move to Active (spec §4.9: "Activation
	// requires a quorum signature").
	QuorumSignerIDs []string

	CreatedAt time.Time
}

// DefaultBundle returns a Draft-stage bundle with backpressure.rs's default
// weights (0.6/0.3/0.1, §4.9's "original_source takes precedence over
// spec.md's suggested 0.5/0.3/0.2 default").
func DefaultBundle(id string) PolicyBundle {
	return PolicyBundle{
		ID:                 id,
		Version:            1,
		Stage:              StageDraft,
		WeightDepth:        0.6,
		WeightLatency:      0.3,
		WeightError:        0.1,
		HalflifeLongSec:    8.0,
		HalflifeShortSec:   2.0,
		WarmupSamples:      30,
		TokensMax:          100.0,
		TokensRefillPerSec: 50.0,
		HysteresisPct:      0.1,
		AmberAdaptSecs:     10.0,
		MaxPayloadBytes:    1 << 20,
		MaxQueueAgeSec:     300.0,
	}
}

// BundleStore tracks every registered bundle and which one, if any, is
// Active. Only one bundle may be Active at a time; promoting a new one to
// Active retires the previous incumbent.
type BundleStore struct {
	bundles map[string]*PolicyBundle
	active  string
}

func NewBundleStore() *BundleStore {
	return &BundleStore{bundles: make(map[string]*PolicyBundle)}
}

// IllegalTransitionError reports a rollout move the lifecycle forbids.
type IllegalTransitionError struct {
	ID   string
	From Stage
	To   Stage
}

func (e *IllegalTransitionError) Error() string {
	return "policygate: bundle " + e.ID + " cannot move from " + string(e.From) + " to " + string(e.To)
}

// Register adds a new bundle, which must start life in StageDraft.
func (s *BundleStore) Register(b PolicyBundle) error {
	if b.Stage != StageDraft {
		return &IllegalTransitionError{ID: b.ID, From: "<new>", To: b.Stage}
	}
	cp := b
	s.bundles[b.ID] = &cp
	return nil
}

// Transition moves a bundle to a new stage, validating against the
// lifecycle's transition table. Promoting a bundle to StageActive retires
// whichever bundle previously held that slot.
func (s *BundleStore) Transition(id string, to Stage) error {
	b, ok := s.bundles[id]
	if !ok {
		return &IllegalTransitionError{ID: id, From: "<unknown>", To: to}
	}
	if !validTransitions[b.Stage][to] {
		return &IllegalTransitionError{ID: id, From: b.Stage, To: to}
	}
	b.Stage = to
	if to == StageActive {
		if s.active != "" && s.active != id {
			if prev, ok := s.bundles[s.active]; ok {
				prev.Stage = StageRetired
			}
		}
		s.active = id
	}
	return nil
}

// QuorumSizeError reports PromoteActive called without enough signers.
type QuorumSizeError struct {
	ID       string
	Got      int
	Required int
}

func (e *QuorumSizeError) Error() string {
	return "policygate: bundle " + e.ID + " activation needs a quorum signature"
}

// PromoteActive moves a Shadow-stage bundle to Active, requiring at least
// one quorum signer (spec §4.9: "Activation requires a quorum signature
// and a time-lock grace window"; the grace window itself is a scheduling
// concern left to the caller, which controls when it invokes this).
func (s *BundleStore) PromoteActive(id string, signerIDs []string) error {
	if len(signerIDs) == 0 {
		return &QuorumSizeError{ID: id, Got: 0, Required: 1}
	}
	if err := s.Transition(id, StageActive); err != nil {
		return err
	}
	s.bundles[id].QuorumSignerIDs = append([]string(nil), signerIDs...)
	return nil
}

// Active returns the currently Active bundle, if any.
func (s *BundleStore) Active() (*PolicyBundle, bool) {
	if s.active == "" {
		return nil, false
	}
	b, ok := s.bundles[s.active]
	return b, ok
}

// ShadowBundles returns every bundle currently in StageShadow, for the
// Gate's differential evaluation pass (spec §4.9: Shadow bundles "evaluate
// in parallel with Active and record differential metrics").
func (s *BundleStore) ShadowBundles() []*PolicyBundle {
	var out []*PolicyBundle
	for _, b := range s.bundles {
		if b.Stage == StageShadow {
			out = append(out, b)
		}
	}
	return out
}

// Get returns a bundle by id regardless of stage.
func (s *BundleStore) Get(id string) (*PolicyBundle, bool) {
	b, ok := s.bundles[id]
	return b, ok
}
