package selfheal

import (
	"context"
	"fmt"
	"strings"

	"github.com/locallens/resolve-cli/internal/cleaner"
	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/model"
	"github.com/locallens/resolve-cli/pkg/geocode"
)

// reverseSimilarityThreshold is the minimum token overlap between the
// reverse-geocoded label and the cleaned address for the reverse lookup to
// vouch for a candidate.
const reverseSimilarityThreshold = 0.7

// Rescore re-runs the scoring stages for a new cleaned form. The pipeline
// supplies it so strategies stay decoupled from the orchestrator.
type Rescore func(ctx context.Context, clean model.CleanResult) (*Result, error)

// StrictReclean re-cleans the raw address in strict mode and re-scores. It
// succeeds when the fused confidence improves by the minimum gain.
type StrictReclean struct {
	Cleaner cleaner.Cleaner
	Score   Rescore
}

func (s *StrictReclean) Name() string { return "strict_reclean" }

func (s *StrictReclean) Applies(reasons []model.AnomalyReason) bool {
	return hasRule(reasons, "low_integrity", "low_fused_conf")
}

func (s *StrictReclean) Attempt(ctx context.Context, st State) (*Result, error) {
	clean, err := s.Cleaner.Clean(ctx, st.Raw, true)
	if err != nil {
		return nil, err
	}
	if clean.CleanedText == st.Clean.CleanedText {
		return nil, nil
	}

	res, err := s.Score(ctx, *clean)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Fused < st.Fused+minFusedGain {
		return nil, nil
	}

	res.Note = fmt.Sprintf("strict re-clean raised fused confidence %.2f -> %.2f", st.Fused, res.Fused)
	return res, nil
}

// ReverseLookup reverse-geocodes the best candidate and vouches for it when
// the returned label closely matches the cleaned address.
type ReverseLookup struct {
	Geocoder geocode.Client
}

func (s *ReverseLookup) Name() string { return "reverse_lookup" }

func (s *ReverseLookup) Applies(reasons []model.AnomalyReason) bool {
	return hasRule(reasons, "ml_here_mismatch", "low_here_conf")
}

func (s *ReverseLookup) Attempt(ctx context.Context, st State) (*Result, error) {
	cand := st.BestCandidate()
	if cand == nil {
		return nil, nil
	}

	rev, err := s.Geocoder.ReverseGeocode(ctx, cand.Lat, cand.Lon)
	if err != nil {
		return nil, err
	}
	if rev == nil {
		return nil, nil
	}

	sim := tokenOverlap(rev.Label+" "+rev.City+" "+rev.PostalCode, st.Clean.CleanedText)
	if sim < reverseSimilarityThreshold {
		return nil, nil
	}

	confirmed := *cand
	if confirmed.Confidence < 0.75 {
		confirmed.Confidence = 0.75
	}
	if confirmed.Components.City == "" {
		confirmed.Components.City = rev.City
	}
	if confirmed.Components.PostalCode == "" {
		confirmed.Components.PostalCode = rev.PostalCode
	}

	fused := st.Fused
	if fused < confirmed.Confidence {
		fused = confirmed.Confidence
	}

	return &Result{
		Candidate: &confirmed,
		Fused:     fused,
		Note:      fmt.Sprintf("reverse lookup confirmed candidate (similarity %.2f)", sim),
	}, nil
}

// PostalFallback anchors the result to the detected postal code's centroid.
// The last resort: coarse but consistent with the strongest component.
type PostalFallback struct {
	Bundle *index.Bundle
}

func (s *PostalFallback) Name() string { return "postal_fallback" }

func (s *PostalFallback) Applies(reasons []model.AnomalyReason) bool {
	return len(reasons) > 0
}

func (s *PostalFallback) Attempt(_ context.Context, st State) (*Result, error) {
	code := st.Clean.Components.PostalCode
	if code == "" {
		return nil, nil
	}
	entry, ok := s.Bundle.Postal(code)
	if !ok {
		return nil, nil
	}

	cand := &model.GeocodeCandidate{
		Source:     model.SourceVector,
		Lat:        entry.Lat,
		Lon:        entry.Lon,
		Confidence: 0.7,
		Components: model.AddressComponents{
			City:       entry.City,
			District:   entry.District,
			State:      entry.State,
			PostalCode: entry.Code,
		},
	}

	fused := st.Fused
	if fused < 0.7 {
		fused = 0.7
	}

	return &Result{
		Candidate: cand,
		Fused:     fused,
		Note:      "anchored to postal centroid " + entry.Code,
	}, nil
}

// DefaultStrategies returns the standard ordered list.
func DefaultStrategies(cl cleaner.Cleaner, score Rescore, geocoder geocode.Client, bundle *index.Bundle) []Strategy {
	return []Strategy{
		&StrictReclean{Cleaner: cl, Score: score},
		&ReverseLookup{Geocoder: geocoder},
		&PostalFallback{Bundle: bundle},
	}
}

func tokenOverlap(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}

	small, large := as, bs
	if len(bs) < len(as) {
		small, large = bs, as
	}
	var shared int
	for tok := range small {
		if _, ok := large[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}
