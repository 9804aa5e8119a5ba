// Package model defines the shared types flowing through the resolution pipeline.
package model

import "time"

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// AddressComponents holds the structured fields extracted from an address.
type AddressComponents struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	District   string `json:"district,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// CleanResult is the output of the text-cleaning collaborator.
type CleanResult struct {
	CleanedText string            `json:"cleaned_text"`
	Components  AddressComponents `json:"components"`
	Confidence  float64           `json:"confidence"`
	Source      string            `json:"source"` // "llm" or "rules"
}

// IntegrityResult is the 0-100 quality score for a cleaned address.
type IntegrityResult struct {
	Score  int      `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// CandidateSource identifies which geocoder produced a candidate.
type CandidateSource string

const (
	SourceVector   CandidateSource = "vector"
	SourceExternal CandidateSource = "external"
)

// GeocodeCandidate is a single geocoder output. Confidence is always in [0,1].
type GeocodeCandidate struct {
	Source     CandidateSource   `json:"source"`
	Lat        float64           `json:"lat"`
	Lon        float64           `json:"lon"`
	Confidence float64           `json:"confidence"`
	Components AddressComponents `json:"components"`
}

// MatchResult is the vector matcher output: the top candidate plus alternates.
type MatchResult struct {
	Top        *GeocodeCandidate  `json:"top,omitempty"`
	Candidates []GeocodeCandidate `json:"candidates,omitempty"`
	Confidence float64            `json:"confidence"`
}

// ValidationResult holds the cross-source geospatial checks. BoundaryContained
// is nil when no boundary polygon exists for the city (unknown, not false).
type ValidationResult struct {
	DistanceKm        *float64 `json:"distance_km,omitempty"`
	CityMatch         bool     `json:"city_match"`
	PostalMatch       *bool    `json:"postal_match,omitempty"`
	BoundaryContained *bool    `json:"boundary_contained,omitempty"`
}

// FusionInput gathers the signals combined by the confidence fusion engine.
// Absent sources are represented as zero contributions.
type FusionInput struct {
	VectorSimilarity   float64  `json:"vector_similarity"`
	ExternalConfidence float64  `json:"external_confidence"`
	IntegrityScore     int      `json:"integrity_score"`
	MismatchKm         *float64 `json:"mismatch_km,omitempty"`
}

// Severity classifies an anomaly reason.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AnomalyReason is a single triggered rule.
type AnomalyReason struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
}

// AnomalyReport aggregates all triggered rules. Detected is true iff Reasons
// is non-empty.
type AnomalyReport struct {
	Detected bool            `json:"detected"`
	Reasons  []AnomalyReason `json:"reasons,omitempty"`
	Severity Severity        `json:"severity,omitempty"`
}

// HealAction records one self-heal strategy attempt.
type HealAction struct {
	Strategy string `json:"strategy"`
	Success  bool   `json:"success"`
	Note     string `json:"note,omitempty"`
}

// SelfHealOutcome is the result of running the self-healing engine.
type SelfHealOutcome struct {
	Healed           bool              `json:"healed"`
	ActionsAttempted []HealAction      `json:"actions_attempted,omitempty"`
	FinalCandidate   *GeocodeCandidate `json:"final_candidate,omitempty"`
	FinalConfidence  float64           `json:"final_confidence,omitempty"`
}

// StageTiming records per-stage wall clock for one request.
type StageTiming struct {
	CleanMs    int64 `json:"clean_ms"`
	GeocodeMs  int64 `json:"geocode_ms"`
	ValidateMs int64 `json:"validate_ms"`
	HealMs     int64 `json:"heal_ms,omitempty"`
	TotalMs    int64 `json:"total_ms"`
}

// PipelineResult is the full record produced by one resolution. It is owned by
// the request until stored in the cache, after which it is read-only.
type PipelineResult struct {
	RequestID  string    `json:"request_id"`
	Timestamp  time.Time `json:"timestamp"`
	RawAddress string    `json:"raw_address"`

	Clean     CleanResult     `json:"clean"`
	Integrity IntegrityResult `json:"integrity"`

	Vector   *MatchResult      `json:"vector,omitempty"`
	External *GeocodeCandidate `json:"external,omitempty"`

	// Sources that missed their deadline or failed; the pipeline continued
	// without them.
	UnavailableSources []CandidateSource `json:"unavailable_sources,omitempty"`
	Degraded           bool              `json:"degraded,omitempty"`

	Validation ValidationResult `json:"validation"`
	Fused      float64          `json:"fused_confidence"`
	Anomaly    AnomalyReport    `json:"anomaly"`
	SelfHeal   *SelfHealOutcome `json:"self_heal,omitempty"`

	Addons map[string]any `json:"addons,omitempty"`

	FromCache bool        `json:"from_cache,omitempty"`
	Timing    StageTiming `json:"timing"`
}

// BestCandidate returns the highest-confidence coordinate available, preferring
// a healed candidate over the raw geocoder outputs.
func (r *PipelineResult) BestCandidate() *GeocodeCandidate {
	if r.SelfHeal != nil && r.SelfHeal.Healed && r.SelfHeal.FinalCandidate != nil {
		return r.SelfHeal.FinalCandidate
	}
	var best *GeocodeCandidate
	if r.Vector != nil && r.Vector.Top != nil {
		best = r.Vector.Top
	}
	if r.External != nil && (best == nil || r.External.Confidence > best.Confidence) {
		best = r.External
	}
	return best
}
