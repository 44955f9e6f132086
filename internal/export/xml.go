// Package export writes a record store as line-delimited XML measurement
// documents, one self-contained document per record.
package export

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/Bmar04/ADSBtool/internal/store"
	"github.com/Bmar04/ADSBtool/pkg/models"
)

const xmlDeclaration = `<?xml version="1.0" encoding="utf-8"?>`

// Timestamps are written zone-less, matching the acquisition format.
const timestampLayout = "2006-01-02T15:04:05.999999"

type measurement struct {
	XMLName xml.Name `xml:"measurement"`
	Header  header   `xml:"header"`
	Data    data     `xml:"data"`
}

type header struct {
	ICAO24   string `xml:"icao24"`
	Callsign string `xml:"callsign"`
}

type data struct {
	Timestamp    string `xml:"timestamp"`
	Latitude     string `xml:"latitude"`
	Longitude    string `xml:"longitude"`
	BaroAltitude string `xml:"baro_altitude"`
	TrueTrack    string `xml:"true_track"`
	Velocity     string `xml:"velocity"`
}

// WriteXML emits one XML document per record in store order, each on its own
// line with its own declaration. Absent optional fields become empty
// elements.
func WriteXML(w io.Writer, st *store.Store) error {
	bw := bufio.NewWriter(w)
	var werr error
	st.ForEach(func(i int, rec *models.TelemetryRecord) bool {
		doc := measurement{
			Header: header{ICAO24: rec.ICAO24, Callsign: rec.Callsign},
			Data: data{
				Timestamp:    rec.Timestamp.Format(timestampLayout),
				Latitude:     formatFloat(rec.Latitude),
				Longitude:    formatFloat(rec.Longitude),
				BaroAltitude: formatOpt(rec.BaroAltitude),
				TrueTrack:    formatOpt(rec.TrueTrack),
				Velocity:     formatOpt(rec.Velocity),
			},
		}
		body, err := xml.Marshal(doc)
		if err != nil {
			werr = fmt.Errorf("export: marshal record %d: %w", i, err)
			return false
		}
		if _, err := bw.WriteString(xmlDeclaration); err != nil {
			werr = err
			return false
		}
		if _, err := bw.Write(body); err != nil {
			werr = err
			return false
		}
		if err := bw.WriteByte('\n'); err != nil {
			werr = err
			return false
		}
		return true
	})
	if werr != nil {
		return werr
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOpt(v models.OptFloat) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Value)
}
