// Package integrity scores cleaned addresses for completeness and precision
// on a 0-100 scale.
package integrity

import (
	"strings"

	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/model"
)

const (
	baseScore       = 50
	postalBonus     = 15
	knownCityBonus  = 10
	noCityPenalty   = 20
	vaguePenalty    = 10
	tooShortPenalty = 15
	minLength       = 15
)

// vagueTokens mark landmark-relative addresses that geocoders place poorly.
var vagueTokens = []string{
	"near", "opposite", "opp", "behind", "beside", "next to", "landmark", "above", "in front of",
}

// Scorer computes integrity scores against the known-locality registry.
type Scorer struct {
	bundle *index.Bundle
}

// New creates a Scorer. A nil bundle disables the known-city bonus.
func New(bundle *index.Bundle) *Scorer {
	return &Scorer{bundle: bundle}
}

// Score rates a cleaned address. Deterministic, no I/O.
func (s *Scorer) Score(clean model.CleanResult) model.IntegrityResult {
	score := baseScore
	var issues []string

	if clean.Components.PostalCode != "" {
		score += postalBonus
	} else {
		issues = append(issues, "no postal code")
	}

	switch {
	case clean.Components.City == "":
		score -= noCityPenalty
		issues = append(issues, "no city")
	case s.bundle != nil && s.bundle.KnownCity(clean.Components.City):
		score += knownCityBonus
	default:
		issues = append(issues, "unrecognized city")
	}

	if hasVagueTokens(clean.CleanedText) {
		score -= vaguePenalty
		issues = append(issues, "vague location tokens")
	}

	if len(strings.TrimSpace(clean.CleanedText)) < minLength {
		score -= tooShortPenalty
		issues = append(issues, "address too short")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return model.IntegrityResult{Score: score, Issues: issues}
}

func hasVagueTokens(text string) bool {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	padded := " " + strings.Join(strings.Fields(b.String()), " ") + " "

	for _, tok := range vagueTokens {
		if strings.Contains(padded, " "+tok+" ") {
			return true
		}
	}
	return false
}
