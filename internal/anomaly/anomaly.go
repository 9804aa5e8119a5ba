// Package anomaly flags suspicious resolutions. Every rule is evaluated on
// every call; detection never short-circuits.
package anomaly

import (
	"go.uber.org/zap"

	"github.com/locallens/resolve-cli/internal/model"
)

// State is the read-only snapshot a rule evaluates. Pointer fields are nil
// when the underlying signal is absent.
type State struct {
	Fused              float64
	IntegrityScore     int
	MismatchKm         *float64
	ExternalConfidence *float64
	PostalMatch        *bool
	LatencyMs          int64
}

// Rule is one detection check.
type Rule interface {
	Code() string
	Severity() model.Severity
	Evaluate(s State) bool
}

// Thresholds are the tunable rule limits.
type Thresholds struct {
	LowFusedConf    float64
	LowIntegrity    int
	MismatchKm      float64
	LowExternalConf float64
	HighLatencyMs   int64
}

// DefaultThresholds returns the standard limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowFusedConf:    0.5,
		LowIntegrity:    40,
		MismatchKm:      3.0,
		LowExternalConf: 0.4,
		HighLatencyMs:   1500,
	}
}

// Detector holds the ordered rule list.
type Detector struct {
	rules []Rule
	log   *zap.Logger
}

// New creates a Detector with the six standard rules in their fixed order.
func New(th Thresholds) *Detector {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	return &Detector{
		rules: []Rule{
			thresholdRule{"low_fused_conf", model.SeverityHigh, func(s State) bool {
				return s.Fused < th.LowFusedConf
			}},
			thresholdRule{"low_integrity", model.SeverityCritical, func(s State) bool {
				return s.IntegrityScore < th.LowIntegrity
			}},
			thresholdRule{"ml_here_mismatch", model.SeverityMedium, func(s State) bool {
				return s.MismatchKm != nil && *s.MismatchKm > th.MismatchKm
			}},
			thresholdRule{"low_here_conf", model.SeverityHigh, func(s State) bool {
				return s.ExternalConfidence != nil && *s.ExternalConfidence < th.LowExternalConf
			}},
			thresholdRule{"postal_mismatch", model.SeverityCritical, func(s State) bool {
				return s.PostalMatch != nil && !*s.PostalMatch
			}},
			thresholdRule{"high_latency", model.SeverityLow, func(s State) bool {
				return s.LatencyMs > th.HighLatencyMs
			}},
		},
		log: zap.L().With(zap.String("component", "anomaly")),
	}
}

// Rules returns the rule codes in evaluation order.
func (d *Detector) Rules() []string {
	codes := make([]string, len(d.rules))
	for i, r := range d.rules {
		codes[i] = r.Code()
	}
	return codes
}

// Detect evaluates every rule and aggregates the triggered ones. The report
// severity is the worst triggered severity.
func (d *Detector) Detect(s State) model.AnomalyReport {
	var report model.AnomalyReport
	for _, r := range d.rules {
		if !r.Evaluate(s) {
			continue
		}
		report.Reasons = append(report.Reasons, model.AnomalyReason{
			Rule:     r.Code(),
			Severity: r.Severity(),
		})
		if severityRank(r.Severity()) > severityRank(report.Severity) {
			report.Severity = r.Severity()
		}
	}

	report.Detected = len(report.Reasons) > 0
	if report.Detected {
		d.log.Debug("anomaly detected",
			zap.Int("rules_triggered", len(report.Reasons)),
			zap.String("severity", string(report.Severity)),
		)
	}
	return report
}

type thresholdRule struct {
	code     string
	severity model.Severity
	eval     func(State) bool
}

func (r thresholdRule) Code() string             { return r.code }
func (r thresholdRule) Severity() model.Severity { return r.severity }
func (r thresholdRule) Evaluate(s State) bool    { return r.eval(s) }

func severityRank(s model.Severity) int {
	switch s {
	case model.SeverityCritical:
		return 4
	case model.SeverityHigh:
		return 3
	case model.SeverityMedium:
		return 2
	case model.SeverityLow:
		return 1
	default:
		return 0
	}
}
