package pipeline

import (
	"sort"
	"strings"

	"github.com/locallens/resolve-cli/internal/model"
)

// Known add-on names. Unknown names in a request are dropped silently.
const (
	AddonDeliverability = "deliverability"
	AddonSafety         = "safety"
)

// DeliverabilityReport estimates how easy an address is to deliver to.
type DeliverabilityReport struct {
	Score  int      `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// SafetyReport bands the operational risk of acting on a resolution.
type SafetyReport struct {
	Score   int      `json:"score"`
	Band    string   `json:"band"`
	Factors []string `json:"factors,omitempty"`
}

// NormalizeAddons lowercases, dedupes, and sorts the requested addon names,
// dropping unknown ones. The normalized form feeds the cache key so addon
// order never splits cache entries.
func NormalizeAddons(names []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != AddonDeliverability && n != AddonSafety {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ComputeAddons evaluates the requested add-ons against a finished resolution.
// Every add-on is a pure function of the result, so the same result always
// yields the same payload.
func ComputeAddons(names []string, r *model.PipelineResult) map[string]any {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]any, len(names))
	for _, n := range names {
		switch n {
		case AddonDeliverability:
			out[n] = deliverability(r)
		case AddonSafety:
			out[n] = safety(r)
		}
	}
	return out
}

// Deliverability weights. Per-km mismatch penalty caps at 15 km.
const (
	delivFusedWeight     = 0.45
	delivIntegrityWeight = 0.25
	delivExternalWeight  = 0.20
	delivPostalWeight    = 0.10
	delivPenaltyPerKm    = 1.5
	delivPenaltyMaxKm    = 15.0
)

func deliverability(r *model.PipelineResult) DeliverabilityReport {
	var externalConf float64
	if r.External != nil {
		externalConf = r.External.Confidence
	}

	// Unknown postal consistency scores half credit.
	postal := 50.0
	if r.Validation.PostalMatch != nil {
		if *r.Validation.PostalMatch {
			postal = 100
		} else {
			postal = 0
		}
	}

	score := delivFusedWeight*r.Fused*100 +
		delivIntegrityWeight*float64(r.Integrity.Score) +
		delivExternalWeight*externalConf*100 +
		delivPostalWeight*postal

	var issues []string
	if r.Validation.DistanceKm != nil {
		km := *r.Validation.DistanceKm
		if km > delivPenaltyMaxKm {
			km = delivPenaltyMaxKm
		}
		score -= km * delivPenaltyPerKm
		if *r.Validation.DistanceKm > 5 {
			issues = append(issues, "large disagreement between geocoding sources")
		}
	}
	if r.Validation.PostalMatch != nil && !*r.Validation.PostalMatch {
		issues = append(issues, "coordinates inconsistent with postal code")
	}
	if r.External != nil && externalConf < 0.4 {
		issues = append(issues, "low external geocoder confidence")
	}
	if r.External == nil {
		issues = append(issues, "external geocoder unavailable")
	}

	return DeliverabilityReport{Score: clampScore(score), Issues: issues}
}

// Safety banding: base 90, reduced by the anomaly severity and a boundary
// violation.
const safetyBase = 90.0

func safety(r *model.PipelineResult) SafetyReport {
	score := safetyBase
	var factors []string

	switch r.Anomaly.Severity {
	case model.SeverityCritical:
		score -= 40
		factors = append(factors, "critical anomaly detected")
	case model.SeverityHigh:
		score -= 25
		factors = append(factors, "high-severity anomaly detected")
	case model.SeverityMedium:
		score -= 15
		factors = append(factors, "medium-severity anomaly detected")
	case model.SeverityLow:
		score -= 8
		factors = append(factors, "low-severity anomaly detected")
	}

	if r.Validation.BoundaryContained != nil && !*r.Validation.BoundaryContained {
		score -= 12
		factors = append(factors, "coordinates outside city boundary")
	}
	if r.SelfHeal != nil && r.SelfHeal.Healed {
		score += 10
		factors = append(factors, "result recovered by self-healing")
	}

	final := clampScore(score)
	return SafetyReport{Score: final, Band: safetyBand(final), Factors: factors}
}

func safetyBand(score int) string {
	switch {
	case score >= 75:
		return "low_risk"
	case score >= 50:
		return "moderate"
	case score >= 25:
		return "elevated"
	default:
		return "high_risk"
	}
}

func clampScore(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v + 0.5)
}
