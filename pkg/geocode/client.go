// Package geocode provides forward and reverse geocoding via the HERE
// Geocoding & Search API, with an offline index-backed substitute for
// keyless and test environments.
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client geocodes free-text addresses and reverse-geocodes coordinates.
type Client interface {
	// Geocode resolves a single-line address to its best candidate.
	// A well-formed query with no results returns (nil, nil).
	Geocode(ctx context.Context, text string) (*Candidate, error)

	// ReverseGeocode resolves coordinates to the nearest known address.
	ReverseGeocode(ctx context.Context, lat, lon float64) (*ReverseResult, error)
}

// Candidate is one geocoding result. Confidence is always in [0,1].
type Candidate struct {
	Lat        float64
	Lon        float64
	Confidence float64
	Label      string
	Street     string
	City       string
	District   string
	State      string
	PostalCode string
	Country    string
}

// ReverseResult is the nearest known address for a coordinate pair.
type ReverseResult struct {
	Label      string
	City       string
	District   string
	State      string
	PostalCode string
	Lat        float64
	Lon        float64
}

// Option configures the HERE client.
type Option func(*HereClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HereClient) {
		c.httpClient = hc
	}
}

// WithBaseURLs overrides the forward and reverse endpoint roots.
func WithBaseURLs(geocodeURL, reverseURL string) Option {
	return func(c *HereClient) {
		if geocodeURL != "" {
			c.baseURL = geocodeURL
		}
		if reverseURL != "" {
			c.reverseBaseURL = reverseURL
		}
	}
}

// WithRateLimit sets the client-side requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *HereClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithRetries sets the retry count after the first attempt.
func WithRetries(retries int) Option {
	return func(c *HereClient) {
		c.retries = retries
	}
}

// WithAttemptTimeout bounds each individual HTTP attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *HereClient) {
		c.attemptTimeout = d
	}
}
