// Package profiler implements the execution profiler (spec §4.4): per-
// fingerprint invocation counters and hot-path detection feeding the JIT
// compiler. The atomic-counter-in-a-sync.Map pattern and the OnHot
// callback hook follow the teacher's vm/profiler.go, retargeted from
// per-method/per-block keys to the shared fingerprint.Hash key space so
// the profiler, the JIT cache, and the persistence pipeline all address
// the same code by the same content hash.
package profiler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/thinksystem/sleet/fingerprint"
)

// Status is the lifecycle state of a fingerprint's JIT candidacy.
type Status uint8

const (
	StatusCold Status = iota
	StatusHot
	StatusQueued
	StatusCompiled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCold:
		return "Cold"
	case StatusHot:
		return "Hot"
	case StatusQueued:
		return "Queued"
	case StatusCompiled:
		return "Compiled"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Record is one fingerprint's mutable profiling state.
type Record struct {
	ExecutionCount uint64 // atomic
	totalDuration  int64  // atomic, nanoseconds
	lastObserved   int64  // atomic, unix nanoseconds
	status         atomicStatus
}

type atomicStatus struct {
	v atomic.Uint32
}

func (a *atomicStatus) Load() Status      { return Status(a.v.Load()) }
func (a *atomicStatus) Store(s Status)    { a.v.Store(uint32(s)) }
func (a *atomicStatus) CAS(old, new Status) bool {
	return a.v.CompareAndSwap(uint32(old), uint32(new))
}

// AvgDuration returns the mean observed duration per invocation.
func (r *Record) AvgDuration() time.Duration {
	count := atomic.LoadUint64(&r.ExecutionCount)
	if count == 0 {
		return 0
	}
	total := atomic.LoadInt64(&r.totalDuration)
	return time.Duration(total / int64(count))
}

// Status returns the fingerprint's current JIT-candidacy status.
func (r *Record) Status() Status { return r.status.Load() }

// Policy configures hot-path detection and decay.
type Policy struct {
	HotThreshold    uint64
	MinAvgDuration  time.Duration
	DecayWindow     time.Duration
}

// DefaultPolicy matches SPEC_FULL.md §4.4: execution_count>=100 AND
// avg_duration>=10µs, with a 60s decay window.
func DefaultPolicy() Policy {
	return Policy{HotThreshold: 100, MinAvgDuration: 10 * time.Microsecond, DecayWindow: 60 * time.Second}
}

// Profiler tracks per-fingerprint invocation counters and surfaces
// newly-hot fingerprints via OnHot.
type Profiler struct {
	records sync.Map // fingerprint.Hash -> *Record
	policy  Policy

	// OnHot is invoked at most once per fingerprint per hot transition,
	// when RecordInvocation causes it to cross the hot threshold.
	OnHot func(fp fingerprint.Hash, record *Record)

	now func() time.Time
}

// NewProfiler creates a profiler with the given policy. now defaults to
// time.Now; tests may override it to make decay deterministic.
func NewProfiler(policy Policy) *Profiler {
	return &Profiler{policy: policy, now: time.Now}
}

func (p *Profiler) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *Profiler) recordFor(fp fingerprint.Hash) *Record {
	val, _ := p.records.LoadOrStore(fp, &Record{})
	return val.(*Record)
}

// RecordInvocation registers one execution of fp lasting dur. Returns true
// the instant the fingerprint crosses from cold/decayed to hot.
func (p *Profiler) RecordInvocation(fp fingerprint.Hash, dur time.Duration) bool {
	r := p.recordFor(fp)
	atomic.AddUint64(&r.ExecutionCount, 1)
	atomic.AddInt64(&r.totalDuration, int64(dur))
	atomic.StoreInt64(&r.lastObserved, p.clock().UnixNano())

	count := atomic.LoadUint64(&r.ExecutionCount)
	if count < p.policy.HotThreshold || r.AvgDuration() < p.policy.MinAvgDuration {
		return false
	}
	if r.status.CAS(StatusCold, StatusHot) {
		if p.OnHot != nil {
			p.OnHot(fp, r)
		}
		return true
	}
	return false
}

// MarkQueued transitions fp into Queued, a no-op if it is already Queued
// or Compiled (spec §4.4 "enqueue-for-JIT coalescing: no-op while
// Queued/Compiled").
func (p *Profiler) MarkQueued(fp fingerprint.Hash) bool {
	r := p.recordFor(fp)
	status := r.status.Load()
	if status == StatusQueued || status == StatusCompiled {
		return false
	}
	r.status.Store(StatusQueued)
	return true
}

// MarkCompiled transitions fp to Compiled.
func (p *Profiler) MarkCompiled(fp fingerprint.Hash) {
	p.recordFor(fp).status.Store(StatusCompiled)
}

// MarkFailed transitions fp to Failed, permanently — compilation is never
// retried for a fingerprint once it has failed (spec §4.5).
func (p *Profiler) MarkFailed(fp fingerprint.Hash) {
	p.recordFor(fp).status.Store(StatusFailed)
}

// Get returns the record for fp, or nil if it has never been observed.
func (p *Profiler) Get(fp fingerprint.Hash) *Record {
	val, ok := p.records.Load(fp)
	if !ok {
		return nil
	}
	return val.(*Record)
}

// DecaySweep halves the execution count of every fingerprint not observed
// within the policy's decay window, and demotes any Hot fingerprint whose
// halved count drops back below threshold to Cold so it can re-accumulate
// (and re-trigger OnHot) from scratch.
func (p *Profiler) DecaySweep() {
	cutoff := p.clock().Add(-p.policy.DecayWindow).UnixNano()
	p.records.Range(func(key, val interface{}) bool {
		r := val.(*Record)
		if atomic.LoadInt64(&r.lastObserved) >= cutoff {
			return true
		}
		for {
			old := atomic.LoadUint64(&r.ExecutionCount)
			if old == 0 {
				break
			}
			if atomic.CompareAndSwapUint64(&r.ExecutionCount, old, old/2) {
				break
			}
		}
		if r.status.Load() == StatusHot && atomic.LoadUint64(&r.ExecutionCount) < p.policy.HotThreshold {
			r.status.CAS(StatusHot, StatusCold)
		}
		return true
	})
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.records = sync.Map{}
}
