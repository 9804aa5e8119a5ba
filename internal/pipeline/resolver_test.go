package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallens/resolve-cli/internal/cache"
	"github.com/locallens/resolve-cli/internal/cleaner"
	"github.com/locallens/resolve-cli/internal/config"
	"github.com/locallens/resolve-cli/internal/eventlog"
	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/matcher"
	"github.com/locallens/resolve-cli/internal/model"
	"github.com/locallens/resolve-cli/pkg/geocode"
)

func testBundle(t *testing.T) *index.Bundle {
	t.Helper()
	dir := t.TempDir()

	postal := "postal_code,lat,lon,city,district,state\n" +
		"560001,12.975,77.605,Bengaluru,Bengaluru Urban,Karnataka\n" +
		"600001,13.085,80.275,Chennai,Chennai,Tamil Nadu\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "postal_index.csv"), []byte(postal), 0644))

	cities := `[
		{"name": "Bengaluru", "lat": 12.9716, "lon": 77.5946},
		{"name": "Chennai", "lat": 13.0827, "lon": 80.2707}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "city_index.json"), []byte(cities), 0644))

	localities := "cities:\n  - name: Bengaluru\n    state: Karnataka\n  - name: Chennai\n    state: Tamil Nadu\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "localities.yaml"), []byte(localities), 0644))

	corpus := []index.CorpusEntry{
		{Text: "12 MG Road Bengaluru 560001", PostalCode: "560001", City: "Bengaluru", Lat: 12.9752, Lon: 77.6058},
		{Text: "1 Anna Salai Chennai 600001", PostalCode: "600001", City: "Chennai", Lat: 13.0846, Lon: 80.2745},
	}
	for i := range corpus {
		corpus[i].Vector = matcher.Embed(corpus[i].Text)
	}
	data, err := json.Marshal(corpus)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corpus.json"), data, 0644))

	b, err := index.Load(dir)
	require.NoError(t, err)
	return b
}

type stubGeocoder struct {
	candidate *geocode.Candidate
	reverse   *geocode.ReverseResult
	err       error
	calls     int
}

func (g *stubGeocoder) Geocode(context.Context, string) (*geocode.Candidate, error) {
	g.calls++
	return g.candidate, g.err
}

func (g *stubGeocoder) ReverseGeocode(context.Context, float64, float64) (*geocode.ReverseResult, error) {
	if g.reverse == nil {
		return nil, errors.New("reverse unavailable")
	}
	return g.reverse, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Index: config.IndexConfig{TopK: 3},
		Pipeline: config.PipelineConfig{
			VectorTimeoutSecs:  2,
			OverallTimeoutSecs: 10,
			BatchConcurrency:   2,
		},
	}
}

func newTestResolver(t *testing.T, geocoder geocode.Client) *Resolver {
	t.Helper()
	bundle := testBundle(t)
	return New(
		testConfig(),
		bundle,
		cleaner.NewRuleCleaner(bundle),
		geocoder,
		cache.New(100, time.Minute),
		eventlog.NopSink{},
	)
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t, &stubGeocoder{candidate: &geocode.Candidate{
		Lat: 12.9755, Lon: 77.606, Confidence: 0.9,
		City: "Bengaluru", PostalCode: "560001",
	}})

	res, err := r.Resolve(context.Background(), "12 MG Road, Bengaluru 560001", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, "12 MG Road, Bengaluru 560001", res.RawAddress)
	require.NotNil(t, res.Vector)
	require.NotNil(t, res.Vector.Top)
	assert.Equal(t, "560001", res.Vector.Top.Components.PostalCode)
	require.NotNil(t, res.External)
	assert.InDelta(t, 0.9, res.External.Confidence, 0.0001)

	require.NotNil(t, res.Validation.PostalMatch)
	assert.True(t, *res.Validation.PostalMatch)
	assert.True(t, res.Validation.CityMatch)

	assert.Greater(t, res.Fused, 0.5)
	assert.False(t, res.Anomaly.Detected)
	assert.Nil(t, res.SelfHeal)
	assert.False(t, res.Degraded)
	assert.False(t, res.FromCache)
}

func TestResolve_EmptyInput(t *testing.T) {
	r := newTestResolver(t, &stubGeocoder{})

	_, err := r.Resolve(context.Background(), "   ", nil)
	var invalid *model.InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestResolve_CacheHit(t *testing.T) {
	g := &stubGeocoder{candidate: &geocode.Candidate{
		Lat: 12.9755, Lon: 77.606, Confidence: 0.9, City: "Bengaluru", PostalCode: "560001",
	}}
	r := newTestResolver(t, g)

	first, err := r.Resolve(context.Background(), "12 MG Road, Bengaluru 560001", nil)
	require.NoError(t, err)

	second, err := r.Resolve(context.Background(), "12 MG Road, Bengaluru 560001", nil)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.False(t, first.FromCache)
	assert.Equal(t, first.RequestID, second.RequestID)
	assert.Equal(t, 1, g.calls)
}

func TestResolve_DegradedWhenGeocoderFails(t *testing.T) {
	r := newTestResolver(t, &stubGeocoder{err: errors.New("here down")})

	res, err := r.Resolve(context.Background(), "12 MG Road, Bengaluru 560001", nil)
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Contains(t, res.UnavailableSources, model.SourceExternal)
	assert.Nil(t, res.External)
	require.NotNil(t, res.Vector)
}

func TestResolve_AnomalyTriggersSelfHeal(t *testing.T) {
	// External source far from the postal centroid with low confidence.
	r := newTestResolver(t, &stubGeocoder{candidate: &geocode.Candidate{
		Lat: 19.076, Lon: 72.877, Confidence: 0.2, City: "Mumbai",
	}})

	res, err := r.Resolve(context.Background(), "12 MG Road, Bengaluru 560001", nil)
	require.NoError(t, err)

	assert.True(t, res.Anomaly.Detected)
	require.NotNil(t, res.SelfHeal)
	assert.NotEmpty(t, res.SelfHeal.ActionsAttempted)

	// Postal fallback anchors to the 560001 centroid.
	assert.True(t, res.SelfHeal.Healed)
	require.NotNil(t, res.SelfHeal.FinalCandidate)
	assert.InDelta(t, 12.975, res.SelfHeal.FinalCandidate.Lat, 0.0001)
	assert.GreaterOrEqual(t, res.Fused, 0.7)
}

func TestResolve_AddonsComputed(t *testing.T) {
	r := newTestResolver(t, &stubGeocoder{candidate: &geocode.Candidate{
		Lat: 12.9755, Lon: 77.606, Confidence: 0.9, City: "Bengaluru", PostalCode: "560001",
	}})

	res, err := r.Resolve(context.Background(), "12 MG Road, Bengaluru 560001",
		[]string{"deliverability", "safety", "bogus"})
	require.NoError(t, err)

	require.Len(t, res.Addons, 2)
	assert.Contains(t, res.Addons, "deliverability")
	assert.Contains(t, res.Addons, "safety")
}

func TestResolveBatch(t *testing.T) {
	r := newTestResolver(t, &stubGeocoder{candidate: &geocode.Candidate{
		Lat: 12.9755, Lon: 77.606, Confidence: 0.9, City: "Bengaluru", PostalCode: "560001",
	}})

	items := r.ResolveBatch(context.Background(), []string{
		"12 MG Road, Bengaluru 560001",
		"",
		"1 Anna Salai, Chennai 600001",
	}, nil)

	require.Len(t, items, 3)
	assert.NotNil(t, items[0].Result)
	assert.Empty(t, items[0].Err)
	assert.Nil(t, items[1].Result)
	assert.NotEmpty(t, items[1].Err)
	assert.NotNil(t, items[2].Result)
	assert.Equal(t, "1 Anna Salai, Chennai 600001", items[2].Address)
}

func TestResolve_EventLogged(t *testing.T) {
	sink, err := eventlog.NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer sink.Close() //nolint:errcheck

	bundle := testBundle(t)
	r := New(
		testConfig(),
		bundle,
		cleaner.NewRuleCleaner(bundle),
		&stubGeocoder{candidate: &geocode.Candidate{
			Lat: 12.9755, Lon: 77.606, Confidence: 0.9, City: "Bengaluru", PostalCode: "560001",
		}},
		cache.New(100, time.Minute),
		sink,
	)

	res, err := r.Resolve(context.Background(), "12 MG Road, Bengaluru 560001", nil)
	require.NoError(t, err)

	events, err := sink.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.RequestID, events[0].RequestID)
}
