// Package storage holds the persistence adapters: an append-only CSV sink
// matching the acquisition column order, and a Postgres source/sink.
package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/Bmar04/ADSBtool/internal/store"
	"github.com/Bmar04/ADSBtool/pkg/models"
)

// Columns is the canonical on-disk column order.
var Columns = []string{
	"timestamp", "icao24", "callsign", "latitude", "longitude",
	"baro_altitude", "true_track", "velocity", "vertical_rate", "squawk",
	"geo_altitude", "on_ground", "last_contact", "spi", "position_source",
}

const csvTimestampLayout = "2006-01-02T15:04:05.999999"

// AppendCSV appends records to path, creating the file and writing the
// header when it does not exist or is empty.
func AppendCSV(path string, recs []models.TelemetryRecord) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("storage: stat %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Columns); err != nil {
			return fmt.Errorf("storage: write header: %w", err)
		}
	}
	for i := range recs {
		if err := w.Write(recordToRow(&recs[i])); err != nil {
			return fmt.Errorf("storage: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("storage: flush %s: %w", path, err)
	}
	return nil
}

// ReadCSVFile loads a CSV file into a store. A missing file is a *LoadError.
func ReadCSVFile(path string) (*store.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &store.LoadError{Source: path, Err: err}
	}
	defer f.Close()
	return store.LoadCSV(f)
}

func recordToRow(rec *models.TelemetryRecord) []string {
	return []string{
		rec.Timestamp.Format(csvTimestampLayout),
		rec.ICAO24,
		rec.Callsign,
		formatFloat(rec.Latitude),
		formatFloat(rec.Longitude),
		formatOptFloat(rec.BaroAltitude),
		formatOptFloat(rec.TrueTrack),
		formatOptFloat(rec.Velocity),
		formatOptFloat(rec.VerticalRate),
		rec.Squawk,
		formatOptFloat(rec.GeoAltitude),
		formatOptBool(rec.OnGround),
		formatOptFloat(rec.LastContact),
		formatOptBool(rec.SPI),
		formatOptInt(rec.PositionSource),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptFloat(v models.OptFloat) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Value)
}

func formatOptBool(v models.OptBool) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatBool(v.Value)
}

func formatOptInt(v models.OptInt) string {
	if !v.Valid {
		return ""
	}
	return strconv.Itoa(v.Value)
}
