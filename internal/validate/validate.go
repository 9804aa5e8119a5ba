// Package validate cross-checks geocoder outputs against each other and
// against the offline reference tables.
package validate

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/locallens/resolve-cli/internal/index"
	"github.com/locallens/resolve-cli/internal/model"
)

// postalToleranceKm is how far a point may sit from its claimed postal
// centroid before the postal check fails. Centroids are coarse, so the
// tolerance is generous.
const postalToleranceKm = 50.0

// Validator runs the geospatial consistency checks.
type Validator struct {
	bundle *index.Bundle
	log    *zap.Logger
}

// New creates a Validator over the loaded bundle.
func New(bundle *index.Bundle) *Validator {
	return &Validator{
		bundle: bundle,
		log:    zap.L().With(zap.String("component", "validate")),
	}
}

// Validate compares the vector and external candidates and checks the best
// available point against the detected components. Checks that cannot be
// decided stay nil rather than failing closed.
func (v *Validator) Validate(vec, ext *model.GeocodeCandidate, comp model.AddressComponents) model.ValidationResult {
	var res model.ValidationResult

	if vec != nil && ext != nil {
		d := model.Coordinate{Lat: vec.Lat, Lon: vec.Lon}.
			DistanceKm(model.Coordinate{Lat: ext.Lat, Lon: ext.Lon})
		res.DistanceKm = &d
	}

	point, pointCity := bestPoint(vec, ext)
	if point == nil {
		return res
	}

	res.CityMatch = v.cityMatch(comp.City, pointCity)
	res.PostalMatch = v.postalMatch(comp.PostalCode, *point)
	res.BoundaryContained = v.boundaryContained(comp.City, pointCity, *point)

	return res
}

// bestPoint prefers the external candidate's coordinates.
func bestPoint(vec, ext *model.GeocodeCandidate) (*model.Coordinate, string) {
	if ext != nil {
		return &model.Coordinate{Lat: ext.Lat, Lon: ext.Lon}, ext.Components.City
	}
	if vec != nil {
		return &model.Coordinate{Lat: vec.Lat, Lon: vec.Lon}, vec.Components.City
	}
	return nil, ""
}

func (v *Validator) cityMatch(detected, candidate string) bool {
	if detected == "" || candidate == "" {
		return false
	}
	return index.NormalizeName(v.bundle.CanonicalCity(detected)) ==
		index.NormalizeName(v.bundle.CanonicalCity(candidate))
}

// postalMatch checks the point against the detected postal code's centroid.
// Nil when no code was detected or the code is not in the table.
func (v *Validator) postalMatch(detected string, point model.Coordinate) *bool {
	if detected == "" {
		return nil
	}
	entry, ok := v.bundle.Postal(detected)
	if !ok {
		return nil
	}
	match := point.DistanceKm(entry.Coordinate()) <= postalToleranceKm
	return &match
}

// boundaryContained runs point-in-polygon against the city boundary. Nil when
// no boundary ring exists for the city.
func (v *Validator) boundaryContained(detectedCity, candidateCity string, point model.Coordinate) *bool {
	name := detectedCity
	if name == "" {
		name = candidateCity
	}
	if name == "" {
		return nil
	}

	city, ok := v.bundle.City(name)
	if !ok || city.Polygon() == nil {
		return nil
	}

	ring := city.Polygon().LinearRing(0)
	contained := xy.IsPointInRing(geom.XY, geom.Coord{point.Lon, point.Lat}, ring.FlatCoords())
	return &contained
}
