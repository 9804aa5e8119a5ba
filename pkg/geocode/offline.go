package geocode

import (
	"context"
	"regexp"
	"strings"

	"github.com/locallens/resolve-cli/internal/index"
)

var postalCodeRe = regexp.MustCompile(`\b\d{6}\b`)

// OfflineClient serves the Client contract from the loaded index bundle. It
// is used when no HERE API key is configured and in mock mode. The confidence
// ladder is fixed: exact postal centroid 0.9, city match 0.85, fallback 0.75.
type OfflineClient struct {
	bundle     *index.Bundle
	defaultLat float64
	defaultLon float64
}

// NewOfflineClient creates an offline Client over the bundle.
func NewOfflineClient(bundle *index.Bundle) *OfflineClient {
	var lat, lon float64
	entries := bundle.PostalEntries()
	for _, e := range entries {
		lat += e.Lat
		lon += e.Lon
	}
	n := float64(len(entries))
	return &OfflineClient{
		bundle:     bundle,
		defaultLat: lat / n,
		defaultLon: lon / n,
	}
}

// Geocode resolves text against the postal and city tables.
func (c *OfflineClient) Geocode(ctx context.Context, text string) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if code := postalCodeRe.FindString(text); code != "" {
		if entry, ok := c.bundle.Postal(code); ok {
			return &Candidate{
				Lat:        entry.Lat,
				Lon:        entry.Lon,
				Confidence: 0.9,
				Label:      entry.City + " " + entry.Code,
				City:       entry.City,
				District:   entry.District,
				State:      entry.State,
				PostalCode: entry.Code,
			}, nil
		}
	}

	textNorm := index.NormalizeName(text)
	for _, cityEntry := range c.bundle.Cities() {
		if strings.Contains(textNorm, index.NormalizeName(cityEntry.Name)) {
			return &Candidate{
				Lat:        cityEntry.Lat,
				Lon:        cityEntry.Lon,
				Confidence: 0.85,
				Label:      cityEntry.Name,
				City:       cityEntry.Name,
			}, nil
		}
	}

	return &Candidate{
		Lat:        c.defaultLat,
		Lon:        c.defaultLon,
		Confidence: 0.75,
		Label:      "region centroid",
	}, nil
}

// ReverseGeocode returns the nearest postal entry.
func (c *OfflineClient) ReverseGeocode(ctx context.Context, lat, lon float64) (*ReverseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, _ := c.bundle.NearestPostal(lat, lon)
	return &ReverseResult{
		Label:      entry.City + " " + entry.Code,
		City:       entry.City,
		District:   entry.District,
		State:      entry.State,
		PostalCode: entry.Code,
		Lat:        entry.Lat,
		Lon:        entry.Lon,
	}, nil
}
