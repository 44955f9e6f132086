// Package store loads raw telemetry rows into an immutable, time-ordered
// record set. A store is built once and then shared read-only across the
// track builder, feature synthesizer and statistics engine.
package store

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Bmar04/ADSBtool/pkg/models"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// LoadError reports a structurally unreadable input. Individual bad rows are
// never a LoadError; they are dropped and counted instead.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("store: cannot read %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store is an immutable set of telemetry records sorted ascending by
// timestamp. Equal timestamps keep input order. Safe for concurrent readers.
type Store struct {
	records []models.TelemetryRecord

	totalRows        int
	droppedCoords    int
	droppedTimestamp int
}

// Counts reports how the input folded into the store.
type Counts struct {
	TotalRows         int `json:"total_rows"`
	Retained          int `json:"retained"`
	DroppedCoordinate int `json:"dropped_coordinate"`
	DroppedTimestamp  int `json:"dropped_timestamp"`
}

// Load folds raw rows into a store. Rows missing a usable coordinate pair or
// timestamp are dropped; the fold itself never fails, and zero retained rows
// is a valid empty store.
func Load(rows []models.RawRow) *Store {
	st := &Store{
		records:   make([]models.TelemetryRecord, 0, len(rows)),
		totalRows: len(rows),
	}
	for _, row := range rows {
		rec, why := parseRow(row)
		switch why {
		case dropNone:
			st.records = append(st.records, rec)
		case dropCoordinate:
			st.droppedCoords++
		case dropTimestamp:
			st.droppedTimestamp++
		}
	}
	st.sortRecords()
	return st
}

// FromRecords builds a store from already typed records, applying the same
// coordinate/timestamp validation as Load.
func FromRecords(recs []models.TelemetryRecord) *Store {
	st := &Store{
		records:   make([]models.TelemetryRecord, 0, len(recs)),
		totalRows: len(recs),
	}
	for _, rec := range recs {
		if rec.Timestamp.IsZero() {
			st.droppedTimestamp++
			continue
		}
		if !validCoordinate(rec.Latitude, rec.Longitude) {
			st.droppedCoords++
			continue
		}
		st.records = append(st.records, rec)
	}
	st.sortRecords()
	return st
}

// LoadCSV reads a header-described CSV stream and folds it with Load. The
// only failure mode is a structurally unreadable input (*LoadError); rows
// that parse as CSV but carry bad values are dropped as usual.
func LoadCSV(r io.Reader) (*Store, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return Load(nil), nil
	}
	if err != nil {
		return nil, &LoadError{Source: "csv", Err: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []models.RawRow
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LoadError{Source: "csv", Err: err}
		}
		row := make(models.RawRow, len(header))
		for i, h := range header {
			if i < len(fields) {
				row[h] = fields[i]
			}
		}
		rows = append(rows, row)
	}
	return Load(rows), nil
}

func (s *Store) sortRecords() {
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].Timestamp.Before(s.records[j].Timestamp)
	})
}

// ---------------------------------------------------------------------------
// Read API
// ---------------------------------------------------------------------------

// Len returns the number of retained records.
func (s *Store) Len() int { return len(s.records) }

// At returns the record at index i.
func (s *Store) At(i int) models.TelemetryRecord { return s.records[i] }

// Records returns a copy of the record slice. Callers may mutate the copy
// freely.
func (s *Store) Records() []models.TelemetryRecord {
	out := make([]models.TelemetryRecord, len(s.records))
	copy(out, s.records)
	return out
}

// ForEach visits records in time order without copying. The visitor must not
// retain the pointer past the call. Returning false stops iteration.
func (s *Store) ForEach(fn func(i int, rec *models.TelemetryRecord) bool) {
	for i := range s.records {
		if !fn(i, &s.records[i]) {
			return
		}
	}
}

// Counts reports the load outcome.
func (s *Store) Counts() Counts {
	return Counts{
		TotalRows:         s.totalRows,
		Retained:          len(s.records),
		DroppedCoordinate: s.droppedCoords,
		DroppedTimestamp:  s.droppedTimestamp,
	}
}

// First returns the earliest record; ok is false for an empty store.
func (s *Store) First() (models.TelemetryRecord, bool) {
	if len(s.records) == 0 {
		return models.TelemetryRecord{}, false
	}
	return s.records[0], true
}

// Last returns the latest record; ok is false for an empty store.
func (s *Store) Last() (models.TelemetryRecord, bool) {
	if len(s.records) == 0 {
		return models.TelemetryRecord{}, false
	}
	return s.records[len(s.records)-1], true
}

// ConsecutiveDeltas returns the gaps between adjacent records across the
// whole store, in time order. Simultaneous records contribute zero deltas.
func (s *Store) ConsecutiveDeltas() []time.Duration {
	if len(s.records) < 2 {
		return nil
	}
	out := make([]time.Duration, 0, len(s.records)-1)
	for i := 1; i < len(s.records); i++ {
		out = append(out, s.records[i].Timestamp.Sub(s.records[i-1].Timestamp))
	}
	return out
}

// MedianInterval is the median consecutive delta. ok is false when the store
// holds fewer than two records. An even delta count averages the middle two.
func (s *Store) MedianInterval() (time.Duration, bool) {
	deltas := s.ConsecutiveDeltas()
	if len(deltas) == 0 {
		return 0, false
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	mid := len(deltas) / 2
	if len(deltas)%2 == 1 {
		return deltas[mid], true
	}
	return (deltas[mid-1] + deltas[mid]) / 2, true
}

// Fingerprint is a content hash over identity, time and position, used as a
// cache key by the synthesizer. Two stores with the same retained records in
// the same order share a fingerprint.
func (s *Store) Fingerprint() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := range s.records {
		r := &s.records[i]
		h.Write([]byte(r.ICAO24))
		binary.LittleEndian.PutUint64(buf[:], uint64(r.Timestamp.UnixNano()))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(r.Latitude))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(r.Longitude))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// ---------------------------------------------------------------------------
// Row parsing
// ---------------------------------------------------------------------------

type dropReason int

const (
	dropNone dropReason = iota
	dropCoordinate
	dropTimestamp
)

// Accepted timestamp layouts, most specific first. The bare layouts cover
// ISO-8601 without a zone designator, which is read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseRow(row models.RawRow) (models.TelemetryRecord, dropReason) {
	ts, ok := parseTimestamp(row["timestamp"])
	if !ok {
		return models.TelemetryRecord{}, dropTimestamp
	}
	lat, latOK := parseFloat(row["latitude"])
	lon, lonOK := parseFloat(row["longitude"])
	if !latOK || !lonOK || !validCoordinate(lat, lon) {
		return models.TelemetryRecord{}, dropCoordinate
	}

	rec := models.TelemetryRecord{
		ICAO24:    strings.TrimSpace(row["icao24"]),
		Callsign:  strings.TrimSpace(row["callsign"]),
		Timestamp: ts,
		Latitude:  lat,
		Longitude: lon,
		Squawk:    strings.TrimSpace(row["squawk"]),
	}
	rec.BaroAltitude = parseOptFloat(row["baro_altitude"])
	rec.GeoAltitude = parseOptFloat(row["geo_altitude"])
	rec.Velocity = parseOptFloat(row["velocity"])
	rec.TrueTrack = parseOptFloat(row["true_track"])
	rec.VerticalRate = parseOptFloat(row["vertical_rate"])
	rec.LastContact = parseOptFloat(row["last_contact"])
	rec.OnGround = parseOptBool(row["on_ground"])
	rec.SPI = parseOptBool(row["spi"])
	rec.PositionSource = parseOptInt(row["position_source"])
	return rec, dropNone
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if isMissing(s) {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// Epoch seconds, possibly fractional.
	if sec, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(sec) && !math.IsInf(sec, 0) {
		whole, frac := math.Modf(sec)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
	}
	return time.Time{}, false
}

func isMissing(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}

func parseFloat(s string) (float64, bool) {
	if isMissing(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseOptFloat(s string) models.OptFloat {
	if v, ok := parseFloat(s); ok {
		return models.Float(v)
	}
	return models.OptFloat{}
}

func parseOptBool(s string) models.OptBool {
	if isMissing(s) {
		return models.OptBool{}
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return models.OptBool{}
	}
	return models.Bool(v)
}

func parseOptInt(s string) models.OptInt {
	if isMissing(s) {
		return models.OptInt{}
	}
	// Some sources report integral fields as floats ("1.0").
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return models.Int(v)
	}
	if f, ok := parseFloat(s); ok && f == math.Trunc(f) {
		return models.Int(int(f))
	}
	return models.OptInt{}
}

func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
