package orchestrator

import (
	"sync"

	"github.com/thinksystem/sleet/policygate"
)

// Scheduler gates new session admission by a global concurrency cap, a
// per-tenant quota, and the current backpressure Level (spec §4.9's S5:
// Red rejects new intent-heavy — here, any — session starts; Amber
// shrinks effective capacity rather than rejecting outright).
type Scheduler struct {
	mu sync.Mutex

	maxConcurrent   int
	tenantQuota     map[string]int
	runningTotal    int
	runningByTenant map[string]int

	level policygate.Level
}

// NewScheduler builds a Scheduler with the given global and per-tenant
// caps. tenantQuota may be nil (no per-tenant limit beyond maxConcurrent).
func NewScheduler(maxConcurrent int, tenantQuota map[string]int) *Scheduler {
	return &Scheduler{
		maxConcurrent:   maxConcurrent,
		tenantQuota:     tenantQuota,
		runningByTenant: make(map[string]int),
	}
}

// OnSignal is registered with a policygate.Gate via Subscribe, so the
// Scheduler's admitted capacity reacts to live backpressure.
func (s *Scheduler) OnSignal(sig policygate.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = sig.Level
}

func (s *Scheduler) effectiveCapacity() int {
	switch s.level {
	case policygate.LevelAmber:
		return s.maxConcurrent * 6 / 10
	case policygate.LevelRed:
		return s.maxConcurrent / 4
	default:
		return s.maxConcurrent
	}
}

// Admit reserves a running slot for tenant, or returns an error if the
// global cap, the tenant's quota, or Red-level backpressure refuses it.
// Release must be called exactly once for every successful Admit.
func (s *Scheduler) Admit(tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.level == policygate.LevelRed {
		return &SessionError{Kind: KindBackpressureRejection, Message: "backpressure at red: new session starts are rejected"}
	}
	capacity := s.effectiveCapacity()
	if capacity <= 0 {
		capacity = 1
	}
	if s.runningTotal >= capacity {
		return &SessionError{Kind: KindBackpressureRejection, Message: "at effective concurrency capacity"}
	}
	if quota, ok := s.tenantQuota[tenant]; ok && s.runningByTenant[tenant] >= quota {
		return &SessionError{Kind: KindBackpressureRejection, Message: "tenant quota exhausted"}
	}

	s.runningTotal++
	s.runningByTenant[tenant]++
	return nil
}

// Release frees the slot tenant was holding.
func (s *Scheduler) Release(tenant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningTotal > 0 {
		s.runningTotal--
	}
	if s.runningByTenant[tenant] > 0 {
		s.runningByTenant[tenant]--
	}
}
