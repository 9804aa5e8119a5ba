// Package monitoring summarizes recent resolutions for the stats endpoint.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/locallens/resolve-cli/internal/cache"
	"github.com/locallens/resolve-cli/internal/eventlog"
)

// lowConfidenceThreshold marks resolutions that finished below a usable
// fused confidence even after self-healing.
const lowConfidenceThreshold = 0.5

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Resolution metrics over the sampled window.
	Total             int     `json:"total"`
	Anomalous         int     `json:"anomalous"`
	Healed            int     `json:"healed"`
	Degraded          int     `json:"degraded"`
	AnomalyRate       float64 `json:"anomaly_rate"`
	HealRate          float64 `json:"heal_rate"`
	LowConfidenceRate float64 `json:"low_confidence_rate"`
	AvgFused          float64 `json:"avg_fused"`
	AvgIntegrity      float64 `json:"avg_integrity"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`

	// Severity breakdown of anomalous resolutions.
	SeverityCounts map[string]int `json:"severity_counts,omitempty"`

	// Cache state at collection time.
	Cache cache.Stats `json:"cache"`

	// Metadata.
	SampleSize  int       `json:"sample_size"`
	CollectedAt time.Time `json:"collected_at"`
}

// EventQuerier abstracts the event log methods needed by the collector.
type EventQuerier interface {
	Recent(ctx context.Context, limit int) ([]eventlog.Event, error)
}

// Collector gathers metrics from the event log and the result cache.
type Collector struct {
	events EventQuerier
	cache  *cache.ResultCache
}

// NewCollector creates a new metrics collector.
func NewCollector(events EventQuerier, c *cache.ResultCache) *Collector {
	return &Collector{events: events, cache: c}
}

// Collect summarizes up to sampleSize of the newest resolutions.
func (c *Collector) Collect(ctx context.Context, sampleSize int) (*MetricsSnapshot, error) {
	if sampleSize <= 0 {
		sampleSize = 500
	}

	snap := &MetricsSnapshot{
		SampleSize:  sampleSize,
		CollectedAt: time.Now().UTC(),
	}
	if c.cache != nil {
		snap.Cache = c.cache.Stats()
	}

	events, err := c.events.Recent(ctx, sampleSize)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list recent events")
	}

	snap.Total = len(events)
	if snap.Total == 0 {
		return snap, nil
	}

	var fusedSum, integritySum float64
	var latencySum int64
	var lowConfidence int
	severities := make(map[string]int)

	for _, e := range events {
		fusedSum += e.Fused
		integritySum += float64(e.Integrity)
		latencySum += e.LatencyMs
		if e.Anomalous {
			snap.Anomalous++
			if e.Severity != "" {
				severities[e.Severity]++
			}
		}
		if e.Healed {
			snap.Healed++
		}
		if e.Degraded {
			snap.Degraded++
		}
		if e.Fused < lowConfidenceThreshold {
			lowConfidence++
		}
	}

	n := float64(snap.Total)
	snap.AnomalyRate = float64(snap.Anomalous) / n
	snap.LowConfidenceRate = float64(lowConfidence) / n
	snap.AvgFused = fusedSum / n
	snap.AvgIntegrity = integritySum / n
	snap.AvgLatencyMs = float64(latencySum) / n
	if snap.Anomalous > 0 {
		snap.HealRate = float64(snap.Healed) / float64(snap.Anomalous)
	}
	if len(severities) > 0 {
		snap.SeverityCounts = severities
	}

	return snap, nil
}
