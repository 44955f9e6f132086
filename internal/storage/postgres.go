package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Bmar04/ADSBtool/pkg/models"
)

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS telemetry (
	id              BIGSERIAL PRIMARY KEY,
	ts              TIMESTAMPTZ NOT NULL,
	icao24          TEXT NOT NULL,
	callsign        TEXT,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	baro_altitude   DOUBLE PRECISION,
	true_track      DOUBLE PRECISION,
	velocity        DOUBLE PRECISION,
	vertical_rate   DOUBLE PRECISION,
	squawk          TEXT,
	geo_altitude    DOUBLE PRECISION,
	on_ground       BOOLEAN,
	last_contact    DOUBLE PRECISION,
	spi             BOOLEAN,
	position_source SMALLINT
);
CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry (ts);
CREATE INDEX IF NOT EXISTS idx_telemetry_icao24 ON telemetry (icao24);
`

// Postgres is a telemetry source/sink over a single connection pool.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return &Postgres{db: db}, nil
}

// Close releases the pool.
func (p *Postgres) Close() error { return p.db.Close() }

// EnsureSchema creates the telemetry table and indexes if absent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, telemetrySchema); err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

// Insert writes records in one transaction.
func (p *Postgres) Insert(ctx context.Context, recs []models.TelemetryRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO telemetry (
			ts, icao24, callsign, latitude, longitude,
			baro_altitude, true_track, velocity, vertical_rate, squawk,
			geo_altitude, on_ground, last_contact, spi, position_source
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`)
	if err != nil {
		return fmt.Errorf("storage: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range recs {
		r := &recs[i]
		_, err := stmt.ExecContext(ctx,
			r.Timestamp, r.ICAO24, nullString(r.Callsign),
			r.Latitude, r.Longitude,
			nullFloat(r.BaroAltitude), nullFloat(r.TrueTrack),
			nullFloat(r.Velocity), nullFloat(r.VerticalRate),
			nullString(r.Squawk), nullFloat(r.GeoAltitude),
			nullBool(r.OnGround), nullFloat(r.LastContact),
			nullBool(r.SPI), nullInt(r.PositionSource),
		)
		if err != nil {
			return fmt.Errorf("storage: insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit insert: %w", err)
	}
	return nil
}

// Rows reads the whole table as raw rows in the acquisition contract, oldest
// first, ready for store.Load.
func (p *Postgres) Rows(ctx context.Context) ([]models.RawRow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT
			to_char(ts AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US'),
			icao24, COALESCE(callsign, ''),
			latitude::text, longitude::text,
			COALESCE(baro_altitude::text, ''),
			COALESCE(true_track::text, ''),
			COALESCE(velocity::text, ''),
			COALESCE(vertical_rate::text, ''),
			COALESCE(squawk, ''),
			COALESCE(geo_altitude::text, ''),
			COALESCE(on_ground::text, ''),
			COALESCE(last_contact::text, ''),
			COALESCE(spi::text, ''),
			COALESCE(position_source::text, '')
		FROM telemetry ORDER BY ts, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: query telemetry: %w", err)
	}
	defer rows.Close()

	var out []models.RawRow
	fields := make([]string, len(Columns))
	scan := make([]any, len(Columns))
	for i := range fields {
		scan[i] = &fields[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("storage: scan telemetry: %w", err)
		}
		row := make(models.RawRow, len(Columns))
		for i, col := range Columns {
			row[col] = fields[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read telemetry: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v models.OptFloat) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v.Value, Valid: v.Valid}
}

func nullBool(v models.OptBool) sql.NullBool {
	return sql.NullBool{Bool: v.Value, Valid: v.Valid}
}

func nullInt(v models.OptInt) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v.Value), Valid: v.Valid}
}
