// Package index loads and serves the offline lookup tables: postal centroids,
// city reference points and boundaries, known localities, and the embedding
// corpus used by the vector matcher. All tables are read-only after Load.
package index

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/locallens/resolve-cli/internal/model"
)

const (
	postalFile     = "postal_index.csv"
	cityFile       = "city_index.json"
	localitiesFile = "localities.yaml"
	corpusFile     = "corpus.json"
)

// PostalEntry is one postal-code centroid row.
type PostalEntry struct {
	Code     string
	Lat      float64
	Lon      float64
	City     string
	District string
	State    string
}

// Coordinate returns the centroid as a model point.
func (p PostalEntry) Coordinate() model.Coordinate {
	return model.Coordinate{Lat: p.Lat, Lon: p.Lon}
}

// CityEntry is a city's representative point plus an optional boundary ring.
type CityEntry struct {
	Name     string       `json:"name"`
	Lat      float64      `json:"lat"`
	Lon      float64      `json:"lon"`
	Boundary [][2]float64 `json:"boundary,omitempty"`

	polygon *geom.Polygon
}

// Polygon returns the city boundary as a go-geom polygon, or nil when the
// entry has no boundary ring.
func (c *CityEntry) Polygon() *geom.Polygon { return c.polygon }

// Locality is one known locality from localities.yaml.
type Locality struct {
	Name    string   `yaml:"name"`
	State   string   `yaml:"state"`
	Aliases []string `yaml:"aliases,omitempty"`
}

type localitiesDoc struct {
	Cities []Locality `yaml:"cities"`
}

// CorpusEntry is one embedded reference address.
type CorpusEntry struct {
	Text       string    `json:"text"`
	Vector     []float64 `json:"vector"`
	PostalCode string    `json:"postal_code,omitempty"`
	City       string    `json:"city,omitempty"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
}

// Bundle holds every loaded table. It is immutable after Load and safe for
// concurrent readers.
type Bundle struct {
	postal     map[string]PostalEntry
	postalList []PostalEntry
	cities     map[string]*CityEntry
	cityList   []*CityEntry
	knownNames map[string]string // normalized alias -> canonical city name
	corpus     []CorpusEntry
}

// Load reads every table from dir. A missing or malformed required file is a
// fatal *model.DataLoadError; there is no rebuild fallback here.
func Load(dir string) (*Bundle, error) {
	log := zap.L().With(zap.String("component", "index"))

	b := &Bundle{
		postal:     make(map[string]PostalEntry),
		cities:     make(map[string]*CityEntry),
		knownNames: make(map[string]string),
	}

	if err := b.loadPostal(filepath.Join(dir, postalFile)); err != nil {
		return nil, err
	}
	if err := b.loadCities(filepath.Join(dir, cityFile)); err != nil {
		return nil, err
	}
	if err := b.loadLocalities(filepath.Join(dir, localitiesFile)); err != nil {
		return nil, err
	}
	if err := b.loadCorpus(filepath.Join(dir, corpusFile)); err != nil {
		return nil, err
	}

	log.Info("index loaded",
		zap.Int("postal_entries", len(b.postalList)),
		zap.Int("cities", len(b.cities)),
		zap.Int("corpus_entries", len(b.corpus)),
	)
	return b, nil
}

func (b *Bundle) loadPostal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &model.DataLoadError{Path: path, Err: err}
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &model.DataLoadError{Path: path, Err: err}
		}
		if header {
			header = false
			continue
		}

		lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if latErr != nil || lonErr != nil {
			return &model.DataLoadError{Path: path, Err: eris.Errorf("bad coordinates for postal code %q", rec[0])}
		}

		entry := PostalEntry{
			Code:     strings.TrimSpace(rec[0]),
			Lat:      lat,
			Lon:      lon,
			City:     strings.TrimSpace(rec[3]),
			District: strings.TrimSpace(rec[4]),
			State:    strings.TrimSpace(rec[5]),
		}
		if entry.Code == "" {
			continue
		}
		b.postal[entry.Code] = entry
		b.postalList = append(b.postalList, entry)
	}

	if len(b.postalList) == 0 {
		return &model.DataLoadError{Path: path, Err: eris.New("no postal entries")}
	}
	return nil
}

func (b *Bundle) loadCities(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &model.DataLoadError{Path: path, Err: err}
	}

	var entries []CityEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return &model.DataLoadError{Path: path, Err: err}
	}

	for i := range entries {
		e := entries[i]
		if len(e.Boundary) >= 3 {
			e.polygon = ringPolygon(e.Boundary)
		}
		key := NormalizeName(e.Name)
		b.cities[key] = &e
		b.cityList = append(b.cityList, &e)
		b.knownNames[key] = e.Name
	}
	return nil
}

func (b *Bundle) loadLocalities(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &model.DataLoadError{Path: path, Err: err}
	}

	var doc localitiesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return &model.DataLoadError{Path: path, Err: err}
	}

	for _, loc := range doc.Cities {
		canonical := loc.Name
		b.knownNames[NormalizeName(canonical)] = canonical
		for _, alias := range loc.Aliases {
			b.knownNames[NormalizeName(alias)] = canonical
		}
	}
	return nil
}

func (b *Bundle) loadCorpus(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &model.DataLoadError{Path: path, Err: err}
	}

	if err := json.Unmarshal(data, &b.corpus); err != nil {
		return &model.DataLoadError{Path: path, Err: err}
	}
	if len(b.corpus) == 0 {
		return &model.DataLoadError{Path: path, Err: eris.New("empty corpus")}
	}

	dim := len(b.corpus[0].Vector)
	for i, e := range b.corpus {
		if len(e.Vector) != dim {
			return &model.DataLoadError{Path: path, Err: eris.Errorf("corpus entry %d: vector dim %d, want %d", i, len(e.Vector), dim)}
		}
	}
	return nil
}

// ringPolygon builds a closed go-geom polygon from a boundary ring.
func ringPolygon(ring [][2]float64) *geom.Polygon {
	coords := make([]geom.Coord, 0, len(ring)+1)
	for _, pt := range ring {
		coords = append(coords, geom.Coord{pt[0], pt[1]}) // lon, lat
	}
	if coords[0][0] != coords[len(coords)-1][0] || coords[0][1] != coords[len(coords)-1][1] {
		coords = append(coords, coords[0])
	}
	poly := geom.NewPolygon(geom.XY)
	if _, err := poly.SetCoords([][]geom.Coord{coords}); err != nil {
		return nil
	}
	return poly
}

// Postal looks up a postal code centroid.
func (b *Bundle) Postal(code string) (PostalEntry, bool) {
	e, ok := b.postal[strings.TrimSpace(code)]
	return e, ok
}

// City looks up a city by normalized name, following known aliases.
func (b *Bundle) City(name string) (*CityEntry, bool) {
	key := NormalizeName(name)
	if canonical, ok := b.knownNames[key]; ok {
		key = NormalizeName(canonical)
	}
	e, ok := b.cities[key]
	return e, ok
}

// KnownCity reports whether name (or one of its aliases) is a known locality.
func (b *Bundle) KnownCity(name string) bool {
	_, ok := b.knownNames[NormalizeName(name)]
	return ok
}

// CanonicalCity resolves an alias to its canonical city name. Returns the
// input unchanged when unknown.
func (b *Bundle) CanonicalCity(name string) string {
	if canonical, ok := b.knownNames[NormalizeName(name)]; ok {
		return canonical
	}
	return name
}

// Cities returns every city entry in file order.
func (b *Bundle) Cities() []*CityEntry { return b.cityList }

// Corpus returns the embedded reference addresses.
func (b *Bundle) Corpus() []CorpusEntry { return b.corpus }

// PostalEntries returns every postal centroid row.
func (b *Bundle) PostalEntries() []PostalEntry { return b.postalList }

// NearestPostal returns the postal entry whose centroid is closest to the
// point, along with the distance in kilometers. Linear scan; the table is a
// few thousand rows.
func (b *Bundle) NearestPostal(lat, lon float64) (PostalEntry, float64) {
	point := model.Coordinate{Lat: lat, Lon: lon}
	best := b.postalList[0]
	bestDist := point.DistanceKm(best.Coordinate())
	for _, e := range b.postalList[1:] {
		if d := point.DistanceKm(e.Coordinate()); d < bestDist {
			best = e
			bestDist = d
		}
	}
	return best, bestDist
}

var caser = cases.Lower(language.Und)

// NormalizeName canonicalizes a place name for map lookups: NFKC fold,
// lowercase, collapsed inner whitespace.
func NormalizeName(name string) string {
	s := norm.NFKC.String(name)
	s = caser.String(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}
