package matcher

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/model"
)

// Matcher searches the embedded corpus for the closest reference addresses.
// The corpus is immutable, so a single Matcher serves unlimited concurrent
// callers.
type Matcher struct {
	bundle *index.Bundle
	topK   int
	log    *zap.Logger
}

// New creates a Matcher over the loaded bundle. topK <= 0 falls back to 5.
func New(bundle *index.Bundle, topK int) *Matcher {
	if topK <= 0 {
		topK = 5
	}
	return &Matcher{
		bundle: bundle,
		topK:   topK,
		log:    zap.L().With(zap.String("component", "matcher")),
	}
}

type scored struct {
	idx int
	sim float64
}

// Match embeds the cleaned address and returns the top-K corpus candidates by
// cosine similarity. Blank input is an *model.InvalidInputError. The context
// is checked between scan chunks so an expired deadline stops the scan.
func (m *Matcher) Match(ctx context.Context, cleaned string) (*model.MatchResult, error) {
	if strings.TrimSpace(cleaned) == "" {
		return nil, &model.InvalidInputError{Reason: "empty address text"}
	}

	query := Embed(cleaned)
	corpus := m.bundle.Corpus()

	scores := make([]scored, 0, len(corpus))
	for i, entry := range corpus {
		if i%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		scores = append(scores, scored{idx: i, sim: Cosine(query, entry.Vector)})
	}

	// Ties break toward entries whose postal code appears in the query text,
	// then toward the lower corpus index.
	queryLower := strings.ToLower(cleaned)
	sort.SliceStable(scores, func(a, b int) bool {
		if scores[a].sim != scores[b].sim {
			return scores[a].sim > scores[b].sim
		}
		pa := postalInText(corpus[scores[a].idx].PostalCode, queryLower)
		pb := postalInText(corpus[scores[b].idx].PostalCode, queryLower)
		if pa != pb {
			return pa
		}
		return scores[a].idx < scores[b].idx
	})

	k := m.topK
	if k > len(scores) {
		k = len(scores)
	}

	result := &model.MatchResult{}
	for _, s := range scores[:k] {
		entry := corpus[s.idx]
		result.Candidates = append(result.Candidates, model.GeocodeCandidate{
			Source:     model.SourceVector,
			Lat:        entry.Lat,
			Lon:        entry.Lon,
			Confidence: clamp01(s.sim),
			Components: model.AddressComponents{
				City:       entry.City,
				PostalCode: entry.PostalCode,
			},
		})
	}

	if len(result.Candidates) > 0 {
		result.Top = &result.Candidates[0]
		result.Confidence = result.Top.Confidence
	}

	m.log.Debug("match complete",
		zap.Int("candidates", len(result.Candidates)),
		zap.Float64("top_similarity", result.Confidence),
	)
	return result, nil
}

func postalInText(postal, textLower string) bool {
	return postal != "" && strings.Contains(textLower, strings.ToLower(postal))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
