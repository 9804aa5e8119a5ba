package index

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// RawRow is one input row for the index builder: a reference address with
// verified coordinates.
type RawRow struct {
	Street   string
	City     string
	District string
	State    string
	Postal   string
	Lat      float64
	Lon      float64
}

// Text renders the row as the single-line form embedded into the corpus.
func (r RawRow) Text() string {
	parts := []string{r.Street, r.District, r.City, r.State, r.Postal}
	var nonEmpty []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

// Artifacts is the full set of tables the builder produces.
type Artifacts struct {
	Postal     []PostalEntry
	Cities     []CityEntry
	Localities []Locality
	Corpus     []CorpusEntry
}

// ReadRawCSV reads the builder input: street,city,district,state,postal,lat,lon
// with a header row.
func ReadRawCSV(path string) ([]RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "index: open raw csv")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = 7

	var rows []RawRow
	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "index: read raw csv")
		}
		if header {
			header = false
			continue
		}

		lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec[5]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rec[6]), 64)
		if latErr != nil || lonErr != nil {
			continue
		}

		rows = append(rows, RawRow{
			Street:   strings.TrimSpace(rec[0]),
			City:     strings.TrimSpace(rec[1]),
			District: strings.TrimSpace(rec[2]),
			State:    strings.TrimSpace(rec[3]),
			Postal:   strings.TrimSpace(rec[4]),
			Lat:      lat,
			Lon:      lon,
		})
	}

	if len(rows) == 0 {
		return nil, eris.Errorf("index: no usable rows in %s", path)
	}
	return rows, nil
}

// Build groups raw rows into postal centroids, city reference points, the
// locality registry, and the embedded corpus. embed must be the same embedder
// the matcher queries with so both sides share one vector space.
func Build(rows []RawRow, embed func(string) []float64) (*Artifacts, error) {
	if embed == nil {
		return nil, eris.New("index: nil embedder")
	}

	log := zap.L().With(zap.String("component", "index.builder"))

	type accum struct {
		lat, lon              float64
		n                     int
		city, district, state string
	}

	byPostal := make(map[string]*accum)
	byCity := make(map[string]*accum)
	localities := make(map[string]*Locality)

	var corpus []CorpusEntry
	for _, row := range rows {
		if row.Postal != "" {
			a, ok := byPostal[row.Postal]
			if !ok {
				a = &accum{city: row.City, district: row.District, state: row.State}
				byPostal[row.Postal] = a
			}
			a.lat += row.Lat
			a.lon += row.Lon
			a.n++
		}

		if row.City != "" {
			key := NormalizeName(row.City)
			a, ok := byCity[key]
			if !ok {
				a = &accum{city: row.City, state: row.State}
				byCity[key] = a
			}
			a.lat += row.Lat
			a.lon += row.Lon
			a.n++

			if _, ok := localities[key]; !ok {
				localities[key] = &Locality{Name: row.City, State: row.State}
			}
		}

		text := row.Text()
		corpus = append(corpus, CorpusEntry{
			Text:       text,
			Vector:     embed(text),
			PostalCode: row.Postal,
			City:       row.City,
			Lat:        row.Lat,
			Lon:        row.Lon,
		})
	}

	a := &Artifacts{Corpus: corpus}

	for code, acc := range byPostal {
		a.Postal = append(a.Postal, PostalEntry{
			Code:     code,
			Lat:      acc.lat / float64(acc.n),
			Lon:      acc.lon / float64(acc.n),
			City:     acc.city,
			District: acc.district,
			State:    acc.state,
		})
	}
	sort.Slice(a.Postal, func(i, j int) bool { return a.Postal[i].Code < a.Postal[j].Code })

	for _, acc := range byCity {
		a.Cities = append(a.Cities, CityEntry{
			Name: acc.city,
			Lat:  acc.lat / float64(acc.n),
			Lon:  acc.lon / float64(acc.n),
		})
	}
	sort.Slice(a.Cities, func(i, j int) bool { return a.Cities[i].Name < a.Cities[j].Name })

	for _, loc := range localities {
		a.Localities = append(a.Localities, *loc)
	}
	sort.Slice(a.Localities, func(i, j int) bool { return a.Localities[i].Name < a.Localities[j].Name })

	log.Info("index built",
		zap.Int("rows", len(rows)),
		zap.Int("postal_entries", len(a.Postal)),
		zap.Int("cities", len(a.Cities)),
	)
	return a, nil
}

// AttachBoundaries reads a places shapefile and attaches boundary rings to
// matching cities by name. Cities without a matching shape keep a nil
// boundary; containment checks stay null for them.
func AttachBoundaries(cities []CityEntry, shpPath string) error {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return eris.Wrap(err, "index: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	nameIdx := fieldIndex(reader, "NAME")
	if nameIdx < 0 {
		return eris.New("index: shapefile missing NAME field")
	}

	byName := make(map[string]int, len(cities))
	for i := range cities {
		byName[NormalizeName(cities[i].Name)] = i
	}

	var attached int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 || len(poly.Points) == 0 {
			continue
		}

		name := strings.TrimSpace(reader.Attribute(nameIdx))
		idx, ok := byName[NormalizeName(name)]
		if !ok {
			continue
		}

		cities[idx].Boundary = outerRing(poly)
		attached++
	}

	zap.L().Info("boundaries attached",
		zap.String("component", "index.builder"),
		zap.Int("count", attached),
	)
	return nil
}

// outerRing extracts the first ring of a shapefile polygon as lon/lat pairs.
func outerRing(p *shp.Polygon) [][2]float64 {
	end := int32(len(p.Points))
	if p.NumParts > 1 {
		end = p.Parts[1]
	}

	ring := make([][2]float64, 0, end)
	for j := int32(0); j < end; j++ {
		ring = append(ring, [2]float64{p.Points[j].X, p.Points[j].Y})
	}
	return ring
}

// fieldIndex returns the index of a named field in the shapefile, or -1.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// WriteArtifacts serializes every table into dir using the file names Load
// expects.
func WriteArtifacts(dir string, a *Artifacts) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "index: create data dir")
	}

	f, err := os.Create(filepath.Join(dir, postalFile))
	if err != nil {
		return eris.Wrap(err, "index: create postal index")
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"postal_code", "lat", "lon", "city", "district", "state"})
	for _, e := range a.Postal {
		_ = w.Write([]string{
			e.Code,
			fmt.Sprintf("%.6f", e.Lat),
			fmt.Sprintf("%.6f", e.Lon),
			e.City, e.District, e.State,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "index: write postal index")
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "index: close postal index")
	}

	cityData, err := json.MarshalIndent(a.Cities, "", "  ")
	if err != nil {
		return eris.Wrap(err, "index: marshal city index")
	}
	if err := os.WriteFile(filepath.Join(dir, cityFile), cityData, 0o644); err != nil {
		return eris.Wrap(err, "index: write city index")
	}

	locData, err := yaml.Marshal(localitiesDoc{Cities: a.Localities})
	if err != nil {
		return eris.Wrap(err, "index: marshal localities")
	}
	if err := os.WriteFile(filepath.Join(dir, localitiesFile), locData, 0o644); err != nil {
		return eris.Wrap(err, "index: write localities")
	}

	corpusData, err := json.Marshal(a.Corpus)
	if err != nil {
		return eris.Wrap(err, "index: marshal corpus")
	}
	if err := os.WriteFile(filepath.Join(dir, corpusFile), corpusData, 0o644); err != nil {
		return eris.Wrap(err, "index: write corpus")
	}

	return nil
}
