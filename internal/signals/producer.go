// Package signals turns raw access telemetry into the typed context the risk
// evaluators consume.
package signals

import (
	"context"
	"math"
	"slices"

	"github.com/danielpatrickdp/adaptive-authz/internal/risk"
)

// #region producer
// Producer computes access contexts from observations.
type Producer struct {
	sampler LoadSampler
	config  ProducerConfig
}

// NewProducer creates a Producer. sampler may be nil (load comes from the
// observation).
func NewProducer(sampler LoadSampler, config ProducerConfig) *Producer {
	if config.ActivitySaturation <= 0 {
		config.ActivitySaturation = DefaultProducerConfig().ActivitySaturation
	}
	return &Producer{sampler: sampler, config: config}
}

// #endregion producer

// #region produce
// Produce computes every context field from obs. Values are clamped onto
// the variable domains, so the result always evaluates.
func (p *Producer) Produce(ctx context.Context, obs Observation) risk.AccessContext {
	return risk.AccessContext{
		Activity:       p.activity(obs),
		TimeOfDay:      p.timeOfDay(obs),
		Location:       p.location(obs),
		FailedAttempts: clamp(float64(obs.FailedAttempts), 0, 10),
		ResourceLoad:   p.resourceLoad(ctx, obs),
	}
}

// #endregion produce

// #region fields
func (p *Producer) activity(obs Observation) float64 {
	return clamp(100*float64(obs.RecentEvents)/float64(p.config.ActivitySaturation), 0, 100)
}

// timeOfDay is the fractional hour in the configured zone, in [0, 24).
func (p *Producer) timeOfDay(obs Observation) float64 {
	at := obs.At
	if p.config.Timezone != nil {
		at = at.In(p.config.Timezone)
	} else {
		at = at.UTC()
	}
	return float64(at.Hour()) + float64(at.Minute())/60 + float64(at.Second())/3600
}

func (p *Producer) location(obs Observation) float64 {
	switch {
	case slices.Contains(p.config.TrustedSites, obs.Site):
		return 0
	case slices.Contains(p.config.FamiliarSites, obs.Site):
		return clamp(p.config.FamiliarScore, 0, 100)
	default:
		return 100
	}
}

// resourceLoad is the higher of CPU and memory pressure. A failing sampler
// degrades to the observation's own readings.
func (p *Producer) resourceLoad(ctx context.Context, obs Observation) float64 {
	cpu, mem := obs.CPUPercent, obs.MemPercent
	if p.sampler != nil {
		if c, m, err := p.sampler.Sample(ctx); err == nil {
			cpu, mem = c, m
		}
	}
	return clamp(math.Max(cpu, mem), 0, 100)
}

// #endregion fields

// #region helpers
// clamp restricts v to [lo, hi]; NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion helpers
