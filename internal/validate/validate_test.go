package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/model"
)

func testBundle(t *testing.T) *index.Bundle {
	t.Helper()
	dir := t.TempDir()

	postal := `postal_code,lat,lon,city,district,state
560001,12.975000,77.605000,Bengaluru,Bengaluru Urban,Karnataka
600001,13.082700,80.270700,Chennai,Chennai,Tamil Nadu
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "postal_index.csv"), []byte(postal), 0644))

	cities := `[
  {"name": "Bengaluru", "lat": 12.9716, "lon": 77.5946,
   "boundary": [[77.45, 12.80], [77.80, 12.80], [77.80, 13.15], [77.45, 13.15]]},
  {"name": "Chennai", "lat": 13.0827, "lon": 80.2707}
]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "city_index.json"), []byte(cities), 0644))

	localities := `cities:
  - name: Bengaluru
    state: Karnataka
    aliases: [Bangalore]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "localities.yaml"), []byte(localities), 0644))

	corpus := `[{"text": "x", "vector": [1], "lat": 12.97, "lon": 77.6}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corpus.json"), []byte(corpus), 0644))

	b, err := index.Load(dir)
	require.NoError(t, err)
	return b
}

func cand(lat, lon float64, city string) *model.GeocodeCandidate {
	return &model.GeocodeCandidate{
		Lat: lat, Lon: lon,
		Components: model.AddressComponents{City: city},
	}
}

func TestValidate_DistanceBetweenSources(t *testing.T) {
	v := New(testBundle(t))

	res := v.Validate(cand(12.975, 77.605, "Bengaluru"), cand(12.9698, 77.75, "Bengaluru"), model.AddressComponents{City: "Bengaluru"})
	require.NotNil(t, res.DistanceKm)
	assert.InDelta(t, 15.7, *res.DistanceKm, 2.0)
}

func TestValidate_NoDistanceWithSingleSource(t *testing.T) {
	v := New(testBundle(t))

	res := v.Validate(nil, cand(12.975, 77.605, "Bengaluru"), model.AddressComponents{City: "Bengaluru"})
	assert.Nil(t, res.DistanceKm)
	assert.True(t, res.CityMatch)
}

func TestValidate_CityMatchThroughAlias(t *testing.T) {
	v := New(testBundle(t))

	res := v.Validate(nil, cand(12.975, 77.605, "Bengaluru"), model.AddressComponents{City: "Bangalore"})
	assert.True(t, res.CityMatch)
}

func TestValidate_CityMismatch(t *testing.T) {
	v := New(testBundle(t))

	res := v.Validate(nil, cand(13.0827, 80.2707, "Chennai"), model.AddressComponents{City: "Bengaluru"})
	assert.False(t, res.CityMatch)
}

func TestValidate_PostalMatchWithinTolerance(t *testing.T) {
	v := New(testBundle(t))

	res := v.Validate(nil, cand(12.98, 77.61, "Bengaluru"), model.AddressComponents{City: "Bengaluru", PostalCode: "560001"})
	require.NotNil(t, res.PostalMatch)
	assert.True(t, *res.PostalMatch)
}

func TestValidate_PostalMismatchFarAway(t *testing.T) {
	v := New(testBundle(t))

	// Chennai point claimed as a Bengaluru postal code.
	res := v.Validate(nil, cand(13.0827, 80.2707, "Chennai"), model.AddressComponents{City: "Chennai", PostalCode: "560001"})
	require.NotNil(t, res.PostalMatch)
	assert.False(t, *res.PostalMatch)
}

func TestValidate_PostalUnknownCode(t *testing.T) {
	v := New(testBundle(t))

	res := v.Validate(nil, cand(12.98, 77.61, "Bengaluru"), model.AddressComponents{City: "Bengaluru", PostalCode: "999999"})
	assert.Nil(t, res.PostalMatch)
}

func TestValidate_PostalNoCodeDetected(t *testing.T) {
	v := New(testBundle(t))

	res := v.Validate(nil, cand(12.98, 77.61, "Bengaluru"), model.AddressComponents{City: "Bengaluru"})
	assert.Nil(t, res.PostalMatch)
}

func TestValidate_BoundaryContained(t *testing.T) {
	v := New(testBundle(t))

	res := v.Validate(nil, cand(12.97, 77.60, "Bengaluru"), model.AddressComponents{City: "Bengaluru"})
	require.NotNil(t, res.BoundaryContained)
	assert.True(t, *res.BoundaryContained)
}

func TestValidate_BoundaryOutside(t *testing.T) {
	v := New(testBundle(t))

	// Chennai coordinates claimed to be in Bengaluru.
	res := v.Validate(nil, cand(13.0827, 80.2707, "Bengaluru"), model.AddressComponents{City: "Bengaluru"})
	require.NotNil(t, res.BoundaryContained)
	assert.False(t, *res.BoundaryContained)
}

func TestValidate_BoundaryNullWithoutPolygon(t *testing.T) {
	v := New(testBundle(t))

	// Chennai has no boundary ring, so containment is unknown.
	res := v.Validate(nil, cand(13.0827, 80.2707, "Chennai"), model.AddressComponents{City: "Chennai"})
	assert.Nil(t, res.BoundaryContained)
}

func TestValidate_NoCandidates(t *testing.T) {
	v := New(testBundle(t))

	res := v.Validate(nil, nil, model.AddressComponents{City: "Bengaluru"})
	assert.Nil(t, res.DistanceKm)
	assert.False(t, res.CityMatch)
	assert.Nil(t, res.PostalMatch)
	assert.Nil(t, res.BoundaryContained)
}
