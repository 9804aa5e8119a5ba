// Package cleaner normalizes raw address text and extracts structured
// components before geocoding.
package cleaner

import (
	"context"
	"regexp"
	"strings"

	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/model"
)

// Cleaner normalizes a raw address. Strict mode additionally drops vague
// landmark-relative fragments; the self-healing engine uses it for re-cleans.
type Cleaner interface {
	Clean(ctx context.Context, raw string, strict bool) (*model.CleanResult, error)
}

var (
	postalRe     = regexp.MustCompile(`\b\d{6}\b`)
	multiCommaRe = regexp.MustCompile(`\s*,[\s,]*`)
)

// abbreviations expanded at token level, case-insensitive.
var abbreviations = map[string]string{
	"rd":   "Road",
	"st":   "Street",
	"ave":  "Avenue",
	"apt":  "Apartment",
	"flr":  "Floor",
	"bldg": "Building",
	"opp":  "opposite",
	"nr":   "near",
}

// vagueMarkers introduce fragments that strict mode removes.
var vagueMarkers = []string{"near", "opposite", "behind", "beside", "landmark"}

// RuleCleaner is the deterministic cleaner. It never fails on well-formed
// input and serves as the fallback when the LLM path is unavailable.
type RuleCleaner struct {
	bundle *index.Bundle
}

// NewRuleCleaner creates a RuleCleaner. The bundle supplies the known-city
// registry; nil disables component enrichment from the postal table.
func NewRuleCleaner(bundle *index.Bundle) *RuleCleaner {
	return &RuleCleaner{bundle: bundle}
}

// Clean applies the deterministic normalization rules.
func (c *RuleCleaner) Clean(_ context.Context, raw string, strict bool) (*model.CleanResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &model.InvalidInputError{Reason: "empty address"}
	}

	text := normalizeWhitespace(raw)
	text = expandAbbreviations(text)
	if strict {
		text = dropVagueFragments(text)
	}
	text = normalizeWhitespace(text)

	comp := c.extractComponents(text)

	confidence := 0.6
	if comp.PostalCode != "" {
		confidence += 0.15
	}
	if comp.City != "" {
		confidence += 0.15
	}

	return &model.CleanResult{
		CleanedText: text,
		Components:  comp,
		Confidence:  confidence,
		Source:      "rules",
	}, nil
}

func (c *RuleCleaner) extractComponents(text string) model.AddressComponents {
	var comp model.AddressComponents

	comp.PostalCode = postalRe.FindString(text)

	if c.bundle != nil {
		textNorm := index.NormalizeName(text)
		for _, city := range c.bundle.Cities() {
			if strings.Contains(textNorm, index.NormalizeName(city.Name)) {
				comp.City = city.Name
				break
			}
		}

		if comp.PostalCode != "" {
			if entry, ok := c.bundle.Postal(comp.PostalCode); ok {
				if comp.City == "" {
					comp.City = entry.City
				}
				comp.District = entry.District
				comp.State = entry.State
			}
		}
		if comp.City != "" {
			comp.City = c.bundle.CanonicalCity(comp.City)
		}
	}

	return comp
}

func normalizeWhitespace(s string) string {
	s = multiCommaRe.ReplaceAllString(s, ", ")
	s = strings.Trim(strings.Join(strings.Fields(s), " "), " ,")
	return s
}

func expandAbbreviations(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		trimmed := strings.Trim(strings.ToLower(w), ".,")
		if full, ok := abbreviations[trimmed]; ok {
			suffix := ""
			if strings.HasSuffix(w, ",") {
				suffix = ","
			}
			words[i] = full + suffix
		}
	}
	return strings.Join(words, " ")
}

// dropVagueFragments removes comma-separated segments that start with a vague
// marker. "MG Road, near the temple, 560001" keeps only the usable segments.
func dropVagueFragments(s string) string {
	segments := strings.Split(s, ",")
	var kept []string
	for _, seg := range segments {
		trimmed := strings.TrimSpace(seg)
		if trimmed == "" {
			continue
		}
		first := strings.ToLower(strings.Fields(trimmed)[0])
		vague := false
		for _, m := range vagueMarkers {
			if first == m {
				vague = true
				break
			}
		}
		if !vague {
			kept = append(kept, trimmed)
		}
	}
	if len(kept) == 0 {
		return s
	}
	return strings.Join(kept, ", ")
}
