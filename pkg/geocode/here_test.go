package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hereItemJSON = `{
	"items": [{
		"title": "12 MG Road, Bengaluru",
		"resultType": "houseNumber",
		"position": {"lat": 12.975, "lng": 77.605},
		"address": {
			"label": "12 MG Road, Bengaluru 560001, India",
			"street": "MG Road",
			"city": "Bengaluru",
			"district": "Shivaji Nagar",
			"state": "Karnataka",
			"postalCode": "560001",
			"countryName": "India"
		},
		"scoring": {"queryScore": 0.93}
	}]
}`

func newTestClient(serverURL string, opts ...Option) *HereClient {
	base := []Option{
		WithBaseURLs(serverURL, serverURL),
		WithRateLimit(1000),
		WithAttemptTimeout(2 * time.Second),
	}
	return NewHereClient("test-key", append(base, opts...)...)
}

func TestHereGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode", r.URL.Path)
		assert.Equal(t, "12 MG Road Bengaluru", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apiKey"))
		fmt.Fprint(w, hereItemJSON)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	cand, err := c.Geocode(context.Background(), "12 MG Road Bengaluru")
	require.NoError(t, err)
	require.NotNil(t, cand)

	assert.InDelta(t, 12.975, cand.Lat, 0.0001)
	assert.InDelta(t, 77.605, cand.Lon, 0.0001)
	assert.InDelta(t, 0.93, cand.Confidence, 0.0001)
	assert.Equal(t, "Bengaluru", cand.City)
	assert.Equal(t, "560001", cand.PostalCode)
	assert.Equal(t, "India", cand.Country)
}

func TestHereGeocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"items": []}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	cand, err := c.Geocode(context.Background(), "nowhere at all")
	require.NoError(t, err)
	assert.Nil(t, cand)
}

func TestHereGeocode_EmptyQuery(t *testing.T) {
	c := newTestClient("http://unused")
	_, err := c.Geocode(context.Background(), "  ")
	assert.Error(t, err)
}

func TestHereGeocode_RetriesOn503(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, hereItemJSON)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithRetries(2))
	cand, err := c.Geocode(context.Background(), "12 MG Road")
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHereGeocode_NoRetryOn400(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithRetries(2))
	_, err := c.Geocode(context.Background(), "12 MG Road")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHereGeocode_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithRetries(1))
	_, err := c.Geocode(context.Background(), "12 MG Road")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHereReverseGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/revgeocode", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("at"))
		fmt.Fprint(w, hereItemJSON)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.ReverseGeocode(context.Background(), 12.975, 77.605)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Bengaluru", res.City)
	assert.Equal(t, "560001", res.PostalCode)
}

func TestItemConfidence_ResultTypeFallback(t *testing.T) {
	cases := []struct {
		resultType string
		want       float64
	}{
		{"houseNumber", 0.9},
		{"street", 0.8},
		{"locality", 0.7},
		{"", 0.7},
	}
	for _, tc := range cases {
		var item hereItem
		item.ResultType = tc.resultType
		assert.InDelta(t, tc.want, itemConfidence(item), 0.0001, tc.resultType)
	}
}

func TestItemConfidence_QueryScoreClamped(t *testing.T) {
	var item hereItem
	item.Scoring.QueryScore = 1.7
	assert.InDelta(t, 1.0, itemConfidence(item), 0.0001)

	item.Scoring.QueryScore = 0.42
	assert.InDelta(t, 0.42, itemConfidence(item), 0.0001)
}
