package signals

import (
	"context"
	"time"
)

// #region load-sampler-interface
// LoadSampler abstracts host CPU/memory sampling so Producer can be tested
// without touching the OS.
type LoadSampler interface {
	Sample(ctx context.Context) (cpuPercent, memPercent float64, err error)
}

// #endregion load-sampler-interface

// #region config
// ProducerConfig holds tuning knobs for context computation.
type ProducerConfig struct {
	ActivitySaturation int      // recent events that map to activity 100
	TrustedSites       []string // locations scored 0
	FamiliarSites      []string // locations scored FamiliarScore
	FamiliarScore      float64
	Timezone           *time.Location // hour of day is taken in this zone; nil = UTC
}

// DefaultProducerConfig returns sensible defaults.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		ActivitySaturation: 50,
		FamiliarScore:      50,
	}
}

// #endregion config

// #region observation
// Observation is the raw telemetry available for one access attempt.
type Observation struct {
	At             time.Time
	Site           string  // location identifier reported by the reader
	FailedAttempts int     // failures in the recent window
	RecentEvents   int     // access events in the recent window
	CPUPercent     float64 // used when no LoadSampler is configured
	MemPercent     float64
}

// #endregion observation
