package config

import (
	"fmt"
	"time"

	"github.com/thinksystem/sleet/orchestrator"
	"github.com/thinksystem/sleet/pipeline"
	"github.com/thinksystem/sleet/policygate"
)

// OrchestratorConfig builds an orchestrator.Config from c.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		WorkerPoolSize:   c.Orchestrator.WorkerPoolSize,
		DefaultGasBudget: c.Orchestrator.DefaultGasBudget,
		MaxConcurrent:    c.Orchestrator.MaxConcurrent,
		TenantQuota:      c.Orchestrator.TenantQuota,
		MaxBlocksPerStep: c.Orchestrator.MaxBlocksPerStep,
	}
}

// PolicyBundle builds the instance's initial Active policygate.PolicyBundle
// from c, seeded from policygate.DefaultBundle and overridden field-by-field.
func (c *Config) PolicyBundle(id string) policygate.PolicyBundle {
	b := policygate.DefaultBundle(id)
	b.WeightDepth = c.PolicyGate.WeightDepth
	b.WeightLatency = c.PolicyGate.WeightLatency
	b.WeightError = c.PolicyGate.WeightError
	b.HalflifeLongSec = c.PolicyGate.HalflifeLongSec
	b.HalflifeShortSec = c.PolicyGate.HalflifeShortSec
	b.WarmupSamples = uint64(c.PolicyGate.WarmupSamples)
	b.TokensMax = c.PolicyGate.TokensMax
	b.TokensRefillPerSec = c.PolicyGate.RefillPerSec
	b.HysteresisPct = c.PolicyGate.HysteresisPct
	b.AmberAdaptSecs = c.PolicyGate.AmberAdaptSecs
	b.MaxPayloadBytes = c.PolicyGate.MaxPayloadBytes
	b.MaxQueueAgeSec = c.PolicyGate.MaxQueueAgeSec
	return b
}

// PipelineConfig builds a pipeline.Config from c.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	policy, err := c.overflowPolicy()
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		CapacityPerTenant: c.Pipeline.ShardCapacity,
		CoalesceWindow:    time.Duration(c.Pipeline.CoalesceWindowMs) * time.Millisecond,
		Overflow:          policy,
	}, nil
}

func (c *Config) overflowPolicy() (pipeline.OverflowPolicy, error) {
	switch c.Pipeline.OverflowPolicy {
	case "reject":
		return pipeline.OverflowReject, nil
	case "drop-oldest-low-priority":
		return pipeline.OverflowDropOldestLowPriority, nil
	case "block":
		return pipeline.OverflowBlock, nil
	default:
		return 0, fmt.Errorf("config: unknown pipeline.overflow-policy %q", c.Pipeline.OverflowPolicy)
	}
}
