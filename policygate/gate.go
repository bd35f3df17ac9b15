package policygate

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is one sample of raw load observations, fed to Gate.Update. Field
// names follow backpressure.rs's update_metrics(queue_depth, queue_capacity,
// p95_latency_ms, p95_sla_ms, validation_failures, processed).
type Metrics struct {
	QueueDepth          float64
	QueueCapacity       float64
	P95LatencyMs        float64
	P95SLAMs            float64
	ValidationFailures  uint64
	Processed           uint64
}

// Signal is the Gate's output after an Update or Snapshot call: the
// composite pressure value, its level, and the recommended admission
// action, per backpressure.rs's BackpressureSnapshot.
type Signal struct {
	Level             Level
	Smoothed          float64
	Instant           float64
	Short             float64
	Long              float64
	Derivative        float64
	AmberThreshold    float64
	RedThreshold      float64
	Tokens            float64
	RecommendedAction string
	EmittedAt         time.Time
}

// Gate is one running instance of the backpressure window described by
// backpressure.rs's Window struct, addressed directly instead of through a
// package-level OnceCell<Mutex<Window>> singleton.
type Gate struct {
	mu sync.Mutex
	now func() time.Time

	bundle PolicyBundle

	depthRatio, latencyRatio, errorRatio       float64
	lastRawDepth, lastRawLatency, lastRawError float64
	lastUpdate                                 time.Time

	shortB, longB float64

	meanB, m2B float64
	countB     uint64

	amberThreshold, redThreshold float64
	lastLevel                    Level

	tokens     float64
	lastRefill time.Time

	amberSince time.Time

	wDepth, wLatency, wError float64

	subscribers []func(Signal)

	// bundleStore and signerIDs support Evaluate's intent-validation path
	// (rules.go): bundleStore supplies the live Active/Shadow bundles,
	// signerIDs are stamped onto every CommitReceipt this Gate produces.
	bundleStore *BundleStore
	signerIDs   []string

	shadowEvaluations, shadowDivergences atomic.Uint64
}

// NewGate constructs a Gate from a policy bundle's tunables (normally the
// BundleStore's current Active bundle).
func NewGate(bundle PolicyBundle) *Gate {
	return &Gate{
		now:     time.Now,
		bundle:  bundle,
		wDepth:  bundle.WeightDepth,
		wLatency: bundle.WeightLatency,
		wError:  bundle.WeightError,
	}
}

// WithBundleStore wires store so Evaluate validates against its live
// Active bundle (falling back to the bundle NewGate was constructed with
// when store has none) and runs any Shadow-stage bundle alongside it for
// differential metrics. Returns g for chaining off NewGate.
func (g *Gate) WithBundleStore(store *BundleStore) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bundleStore = store
	return g
}

// WithSigners sets the signer ids stamped onto every CommitReceipt this
// Gate produces (spec §3's CommitReceipt.signer_ids). Returns g for
// chaining off NewGate.
func (g *Gate) WithSigners(ids []string) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.signerIDs = append([]string(nil), ids...)
	return g
}

// Subscribe registers fn to be called with every Signal an Update produces.
// The orchestrator's Scheduler and the persistence pipeline's admission
// check both subscribe, per spec §4.9's "Subscribers ... update
// token-bucket capacities and refill rates."
func (g *Gate) Subscribe(fn func(Signal)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribers = append(g.subscribers, fn)
}

// Update folds one Metrics sample into the window and returns the resulting
// Signal. This is a direct port of backpressure.rs's update_metrics: dual
// half-life EMA smoothing of depth/latency/error ratios, a short/long
// composite blend, Welford's online mean/variance over the long composite,
// warmup-gated adaptive thresholds, token bucket refill, and hysteresis
// level derivation.
func (g *Gate) Update(m Metrics) Signal {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var dtS float64
	if !g.lastUpdate.IsZero() {
		dtS = now.Sub(g.lastUpdate).Seconds()
	}
	if dtS < 0 {
		dtS = 0
	}

	alphaLong := alphaFor(g.bundle.HalflifeLongSec, dtS)
	alphaShort := alphaFor(g.bundle.HalflifeShortSec, dtS)

	depth := clamp(ratio(m.QueueDepth, m.QueueCapacity), 0, 10)
	lat := clamp(ratio(m.P95LatencyMs, m.P95SLAMs), 0, 10)
	var errRatio float64
	if m.Processed > 0 {
		errRatio = clamp(float64(m.ValidationFailures)/float64(m.Processed), 0, 1)
	}

	g.depthRatio = g.depthRatio*(1-alphaLong) + depth*alphaLong
	g.latencyRatio = g.latencyRatio*(1-alphaLong) + lat*alphaLong
	g.errorRatio = g.errorRatio*(1-alphaLong) + errRatio*alphaLong

	g.lastRawDepth, g.lastRawLatency, g.lastRawError = depth, lat, errRatio
	g.lastUpdate = now

	instantB := g.combinedPressure(true)
	if g.shortB == 0 && g.longB == 0 {
		g.shortB, g.longB = instantB, instantB
	} else {
		g.shortB = g.shortB*(1-alphaShort) + instantB*alphaShort
		g.longB = g.longB*(1-alphaLong) + instantB*alphaLong
	}

	g.countB++
	delta := g.longB - g.meanB
	g.meanB += delta / float64(g.countB)
	g.m2B += delta * (g.longB - g.meanB)
	var stdB float64
	if g.countB > 2 {
		stdB = math.Sqrt(g.m2B / (float64(g.countB) - 1))
	}

	if g.countB > g.bundle.WarmupSamples {
		amber := math.Max(g.meanB+0.5*stdB, 0.6)
		red := math.Max(g.meanB+1.2*stdB, 1.0)
		g.amberThreshold = math.Min(amber, red*0.95)
		g.redThreshold = math.Max(red, g.amberThreshold+0.05)
	} else {
		g.amberThreshold = 0.8
		g.redThreshold = 1.2
	}

	g.refillTokens(now)
	if g.longB > g.redThreshold {
		g.tokens *= 0.9
	}

	level := g.deriveLevel(g.shortB, g.longB)
	if level == LevelAmber {
		if g.amberSince.IsZero() {
			g.amberSince = now
		}
		if now.Sub(g.amberSince) > time.Duration(g.bundle.AmberAdaptSecs*float64(time.Second)) {
			g.wLatency = math.Min(g.wLatency+0.05, 0.5)
			g.wDepth = math.Max(1-g.wLatency-g.wError, 0.3)
		}
	} else {
		g.amberSince = time.Time{}
		g.wDepth = g.wDepth*0.95 + g.bundle.WeightDepth*0.05
		g.wLatency = g.wLatency*0.95 + g.bundle.WeightLatency*0.05
		g.wError = g.wError*0.95 + g.bundle.WeightError*0.05
	}
	g.lastLevel = level

	sig := g.signalLocked(level)
	for _, fn := range g.subscribers {
		fn(sig)
	}
	return sig
}

func (g *Gate) refillTokens(now time.Time) {
	if g.lastRefill.IsZero() {
		g.lastRefill = now
	}
	since := now.Sub(g.lastRefill).Seconds()
	g.tokens = math.Min(g.tokens+since*g.bundle.TokensRefillPerSec, g.bundle.TokensMax)
	g.lastRefill = now
}

// TryReserve attempts to spend n tokens from the bucket, returning whether
// the reservation succeeded (backpressure.rs's try_reserve).
func (g *Gate) TryReserve(n float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tokens >= n {
		g.tokens -= n
		return true
	}
	return false
}

// Snapshot returns the current Signal without folding in a new sample
// (backpressure.rs's snapshot).
func (g *Gate) Snapshot() Signal {
	g.mu.Lock()
	defer g.mu.Unlock()
	level := g.deriveLevel(g.shortB, g.longB)
	return g.signalLocked(level)
}

func (g *Gate) signalLocked(level Level) Signal {
	derivative := g.shortB - g.longB
	return Signal{
		Level:             level,
		Smoothed:          g.combinedPressure(false),
		Instant:           g.combinedPressure(true),
		Short:             g.shortB,
		Long:              g.longB,
		Derivative:        derivative,
		AmberThreshold:    g.amberThreshold,
		RedThreshold:      g.redThreshold,
		Tokens:            g.tokens,
		RecommendedAction: recommendAction(level, g.tokens, derivative),
		EmittedAt:         g.now(),
	}
}

func (g *Gate) combinedPressure(instant bool) float64 {
	if instant {
		return g.wDepth*g.lastRawDepth + g.wLatency*g.lastRawLatency + g.wError*g.lastRawError
	}
	return g.wDepth*g.depthRatio + g.wLatency*g.latencyRatio + g.wError*g.errorRatio
}

// deriveLevel ports backpressure.rs's derive_level hysteresis state
// machine: the level only drops a band once the composite has fallen
// (1-hysteresis) below the band's own threshold, so transient dips near a
// boundary don't flap the signal back and forth every sample.
func (g *Gate) deriveLevel(shortB, longB float64) Level {
	amber := g.amberThreshold
	if amber <= 0 {
		amber = 0.8
	}
	red := g.redThreshold
	if red <= 0 {
		red = 1.2
	}
	b := math.Max(shortB, longB)
	hyst := g.bundle.HysteresisPct
	if hyst == 0 {
		hyst = 0.1
	}

	switch g.lastLevel {
	case LevelRed:
		if b < red*(1-hyst) {
			if b < amber {
				return LevelGreen
			}
			return LevelAmber
		}
		return LevelRed
	case LevelAmber:
		if b >= red {
			return LevelRed
		}
		if b < amber*(1-hyst) {
			return LevelGreen
		}
		return LevelAmber
	default: // LevelGreen
		if b >= red {
			return LevelRed
		}
		if b >= amber {
			return LevelAmber
		}
		return LevelGreen
	}
}

// recommendAction ports backpressure.rs's recommend_action_internal.
func recommendAction(level Level, tokens, derivative float64) string {
	switch level {
	case LevelRed:
		if tokens < 1.0 {
			return "shed_low_priority"
		}
		return "throttle_new"
	case LevelAmber:
		if derivative > 0.05 {
			return "preemptive_throttle"
		}
		return "throttle"
	default:
		if derivative < -0.1 {
			return "relax"
		}
		return "normal"
	}
}

func alphaFor(halflifeSec, dtS float64) float64 {
	if halflifeSec <= 0 {
		return 1.0
	}
	return 1.0 - math.Exp(-math.Ln2*dtS/halflifeSec)
}

func ratio(n, d float64) float64 {
	if d <= 0 {
		return 0
	}
	return n / d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
