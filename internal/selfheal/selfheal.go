// Package selfheal re-resolves anomalous results with an ordered list of
// recovery strategies, stopping at the first one that works.
package selfheal

import (
	"context"

	"go.uber.org/zap"

	"github.com/locallens/resolve-cli/internal/model"
)

// minFusedGain is how much a re-scored result must improve before a strategy
// counts as successful on score alone.
const minFusedGain = 0.1

// State is the snapshot of a finished-but-anomalous resolution.
type State struct {
	Raw        string
	Clean      model.CleanResult
	Integrity  model.IntegrityResult
	Vector     *model.MatchResult
	External   *model.GeocodeCandidate
	Validation model.ValidationResult
	Fused      float64
	Anomaly    model.AnomalyReport
}

// BestCandidate returns the strongest coordinate in the state.
func (s State) BestCandidate() *model.GeocodeCandidate {
	var best *model.GeocodeCandidate
	if s.Vector != nil && s.Vector.Top != nil {
		best = s.Vector.Top
	}
	if s.External != nil && (best == nil || s.External.Confidence > best.Confidence) {
		best = s.External
	}
	return best
}

// Result is a successful strategy outcome.
type Result struct {
	Candidate *model.GeocodeCandidate
	Fused     float64
	Note      string
}

// Strategy is one recovery attempt. Applies filters on the triggered anomaly
// rules; Attempt returns nil when the strategy ran but did not help.
type Strategy interface {
	Name() string
	Applies(reasons []model.AnomalyReason) bool
	Attempt(ctx context.Context, s State) (*Result, error)
}

// Engine runs strategies in their fixed order.
type Engine struct {
	strategies []Strategy
	log        *zap.Logger
}

// New creates an Engine with the given strategy order.
func New(strategies ...Strategy) *Engine {
	return &Engine{
		strategies: strategies,
		log:        zap.L().With(zap.String("component", "selfheal")),
	}
}

// Heal tries each applicable strategy in order and stops at the first
// success. Every attempt is recorded whether it helped or not.
func (e *Engine) Heal(ctx context.Context, s State) *model.SelfHealOutcome {
	outcome := &model.SelfHealOutcome{}

	for _, strat := range e.strategies {
		if !strat.Applies(s.Anomaly.Reasons) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		res, err := strat.Attempt(ctx, s)
		action := model.HealAction{Strategy: strat.Name()}
		switch {
		case err != nil:
			action.Note = err.Error()
		case res == nil:
			action.Note = "no improvement"
		default:
			action.Success = true
			action.Note = res.Note
		}
		outcome.ActionsAttempted = append(outcome.ActionsAttempted, action)

		if action.Success {
			outcome.Healed = true
			outcome.FinalCandidate = res.Candidate
			outcome.FinalConfidence = res.Fused
			e.log.Info("self-heal succeeded",
				zap.String("strategy", strat.Name()),
				zap.Float64("fused_before", s.Fused),
				zap.Float64("fused_after", res.Fused),
			)
			return outcome
		}

		e.log.Debug("self-heal strategy did not help",
			zap.String("strategy", strat.Name()),
			zap.Error(err),
		)
	}

	return outcome
}

func hasRule(reasons []model.AnomalyReason, codes ...string) bool {
	for _, r := range reasons {
		for _, c := range codes {
			if r.Rule == c {
				return true
			}
		}
	}
	return false
}
