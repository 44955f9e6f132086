package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Bmar04/ADSBtool/internal/edge"
	"github.com/Bmar04/ADSBtool/internal/export"
	"github.com/Bmar04/ADSBtool/internal/ingestion"
	"github.com/Bmar04/ADSBtool/internal/metrics"
	"github.com/Bmar04/ADSBtool/internal/stats"
	"github.com/Bmar04/ADSBtool/internal/storage"
	"github.com/Bmar04/ADSBtool/internal/store"
	"github.com/Bmar04/ADSBtool/internal/synth"
	"github.com/Bmar04/ADSBtool/pkg/models"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds application configuration.
type Config struct {
	// Server
	HTTPAddr string
	HTTPPort int

	// Telemetry sources
	CSVFile     string // Seed/persist file (empty disables CSV persistence)
	PGDSN       string // Postgres DSN (empty disables the database source)
	RestoreFile string // Cold archive to seed from instead of CSV/Postgres

	// OpenSky API - OAuth2 (preferred)
	OpenSkyClientID     string
	OpenSkyClientSecret string

	// OpenSky API - Basic Auth (legacy, deprecated)
	OpenSkyUsername string
	OpenSkyPassword string

	// Path to credentials.json (optional, overrides env vars)
	CredentialsFile string

	// Ingestion
	PollInterval    time.Duration
	EnableIngestion bool
	BBox            ingestion.BoundingBox

	// View synthesis
	MinPoints      int
	TrackCacheSize int

	// Logging
	LogFile string

	// Edge deployment configuration
	Edge edge.Config
}

func loadConfig() Config {
	// Load edge configuration from environment
	edgeCfg := edge.LoadFromEnv()

	box := ingestion.ColoradoBox()
	cfg := Config{
		HTTPAddr:            getEnv("HTTP_ADDR", "0.0.0.0"),
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		CSVFile:             getEnv("CSV_FILE", "flight_data.csv"),
		PGDSN:               getEnv("PG_DSN", ""),
		RestoreFile:         getEnv("RESTORE_FILE", ""),
		OpenSkyClientID:     getEnv("OPENSKY_CLIENT_ID", ""),
		OpenSkyClientSecret: getEnv("OPENSKY_CLIENT_SECRET", ""),
		OpenSkyUsername:     getEnv("OPENSKY_USERNAME", ""),
		OpenSkyPassword:     getEnv("OPENSKY_PASSWORD", ""),
		CredentialsFile:     getEnv("CREDENTIALS_FILE", "credentials.json"),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 12*time.Second),
		EnableIngestion:     getEnvBool("ENABLE_INGESTION", false),
		BBox: ingestion.BoundingBox{
			MinLat: getEnvFloat("BBOX_MIN_LAT", box.MinLat),
			MaxLat: getEnvFloat("BBOX_MAX_LAT", box.MaxLat),
			MinLon: getEnvFloat("BBOX_MIN_LON", box.MinLon),
			MaxLon: getEnvFloat("BBOX_MAX_LON", box.MaxLon),
		},
		MinPoints:      getEnvInt("MIN_TRACK_POINTS", 2),
		TrackCacheSize: getEnvInt("TRACK_CACHE_SIZE", 16),
		LogFile:        getEnv("LOG_FILE", ""),
		Edge:           edgeCfg,
	}

	// Try loading credentials.json if OAuth2 env vars are not set
	if cfg.OpenSkyClientID == "" || cfg.OpenSkyClientSecret == "" {
		if creds, err := ingestion.LoadCredentials(cfg.CredentialsFile); err == nil {
			cfg.OpenSkyClientID = creds.ClientID
			cfg.OpenSkyClientSecret = creds.ClientSecret
			log.Printf("Loaded OAuth2 credentials from %s (client_id=%s)", cfg.CredentialsFile, creds.ClientID)
		}
	}

	// Apply edge runtime settings (GOMAXPROCS, GC, memory limit)
	cfg.Edge.Apply()

	// Log auth method
	switch {
	case cfg.OpenSkyClientID != "":
		log.Printf("OpenSky auth: OAuth2 client credentials (client_id=%s)", cfg.OpenSkyClientID)
	case cfg.OpenSkyUsername != "":
		log.Printf("OpenSky auth: Basic Auth (legacy, username=%s)", cfg.OpenSkyUsername)
	default:
		log.Println("OpenSky auth: anonymous (rate limited to 400 credits/day)")
	}

	log.Printf("Edge configuration: mode=%s memory_limit=%dMB gc=%d%% retention=%dh archive=%v",
		cfg.Edge.MemoryMode, cfg.Edge.MemoryLimitMB, cfg.Edge.GCPercent,
		cfg.Edge.DataRetentionHours, cfg.Edge.EnableArchive)

	return cfg
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func setupLogging(cfg Config) {
	if cfg.LogFile == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
}

// ---------------------------------------------------------------------------
// Application
// ---------------------------------------------------------------------------

// App wires the collector buffer, the record store and the view synthesizer
// behind an HTTP surface.
type App struct {
	config    Config
	startTime time.Time

	buffer    *ingestion.Buffer
	collector *ingestion.Collector
	pg        *storage.Postgres

	// Current store and synthesizer, rebuilt lazily when the buffer changes.
	mu         sync.RWMutex
	store      *store.Store
	synthesize *synth.Synthesizer
	dirty      atomic.Bool

	// Edge components
	memoryMonitor *edge.MemoryMonitor
	retention     *edge.RetentionManager
	limitEnforcer *edge.RecordLimitEnforcer
	pressure      *edge.PressureHandler

	server *http.Server
	ready  bool
}

// NewApp creates the application from configuration.
func NewApp(cfg Config) *App {
	a := &App{
		config:    cfg,
		startTime: time.Now(),
		buffer:    ingestion.NewBuffer(),
	}

	var clientOpts []ingestion.ClientOption
	if cfg.OpenSkyClientID != "" && cfg.OpenSkyClientSecret != "" {
		clientOpts = append(clientOpts,
			ingestion.WithClientCredentials(cfg.OpenSkyClientID, cfg.OpenSkyClientSecret))
	} else if cfg.OpenSkyUsername != "" && cfg.OpenSkyPassword != "" {
		clientOpts = append(clientOpts,
			ingestion.WithBasicAuth(cfg.OpenSkyUsername, cfg.OpenSkyPassword))
	}
	client := ingestion.NewClient(clientOpts...)

	box := cfg.BBox
	colCfg := ingestion.CollectorConfig{
		PollInterval: cfg.PollInterval,
		Filter:       ingestion.Filter{BoundingBox: &box},
		BatchSize:    cfg.Edge.BufferSizes().BatchSize,
		Workers:      4,
	}
	a.collector = ingestion.NewCollector(client, colCfg, a.handleBatch)

	a.setupEdgeComponents()
	a.setStore(store.FromRecords(nil))
	return a
}

func (a *App) setupEdgeComponents() {
	cfg := a.config.Edge

	a.memoryMonitor = edge.NewMemoryMonitor(cfg)
	a.pressure = edge.NewPressureHandler(a.memoryMonitor, cfg)
	a.pressure.SetEvictCallback(func(count int) {
		target := a.buffer.Len() - count
		if target < 0 {
			target = 0
		}
		if removed := a.buffer.TrimToSize(target); removed > 0 {
			a.dirty.Store(true)
			log.Printf("Memory pressure: evicted %d oldest records", removed)
		}
	})
	a.memoryMonitor.AddListener(func(oldState, newState edge.MemoryState, s edge.MemoryStats) {
		if newState >= edge.MemoryStateCritical {
			a.pressure.HandlePressure()
		}
	})

	a.retention = edge.NewRetentionManager(cfg)
	a.retention.SetTrimFunc(a.trimBefore)

	a.limitEnforcer = edge.NewRecordLimitEnforcer(cfg)
	a.limitEnforcer.Bind(a.buffer.Len, func(max int) int {
		removed := a.buffer.TrimToSize(max)
		if removed > 0 {
			a.dirty.Store(true)
		}
		return removed
	})
}

// trimBefore drops records older than cutoff, archiving them first when the
// archive is enabled.
func (a *App) trimBefore(cutoff time.Time) int {
	if a.config.Edge.EnableArchive {
		var cold []models.TelemetryRecord
		for _, r := range a.buffer.Snapshot() {
			if r.Timestamp.Before(cutoff) {
				cold = append(cold, r)
			}
		}
		if len(cold) > 0 {
			a.archiveRecords(cold)
		}
	}

	removed := a.buffer.TrimBefore(cutoff)
	if removed > 0 {
		a.dirty.Store(true)
	}
	return removed
}

func (a *App) archiveRecords(recs []models.TelemetryRecord) {
	data, archStats, err := edge.Archive(recs)
	if err != nil {
		log.Printf("Archive failed: %v", err)
		return
	}
	dir := filepath.Dir(a.config.CSVFile)
	name := filepath.Join(dir, fmt.Sprintf("archive-%s.bin", time.Now().UTC().Format("20060102T150405")))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		log.Printf("Archive write failed: %v", err)
		return
	}
	log.Printf("Archived %d records to %s (%.0f%% smaller)",
		archStats.Records, name, archStats.SavingsPercent())
}

// handleBatch receives kept records from the collector.
func (a *App) handleBatch(ctx context.Context, recs []models.TelemetryRecord) error {
	if a.memoryMonitor.ShouldRejectWrites() {
		return fmt.Errorf("rejecting %d records under memory pressure", len(recs))
	}

	a.buffer.Append(recs)
	a.dirty.Store(true)
	metrics.IngestionRecords.Add(int64(len(recs)))

	if a.config.CSVFile != "" {
		if err := storage.AppendCSV(a.config.CSVFile, recs); err != nil {
			log.Printf("CSV append failed: %v", err)
		}
	}
	if a.pg != nil {
		if err := a.pg.Insert(ctx, recs); err != nil {
			log.Printf("Postgres insert failed: %v", err)
		}
	}

	a.limitEnforcer.Enforce()
	return nil
}

// loadSeed reads the seed records from the configured source: a cold
// archive, Postgres, or the CSV file, in that order of precedence. The
// Postgres pool opens on first use and is reused by later reloads.
func (a *App) loadSeed(ctx context.Context) ([]models.TelemetryRecord, error) {
	if a.config.RestoreFile != "" {
		data, err := os.ReadFile(a.config.RestoreFile)
		if err != nil {
			return nil, fmt.Errorf("reading archive %s: %w", a.config.RestoreFile, err)
		}
		recs, err := edge.Restore(data)
		if err != nil {
			return nil, fmt.Errorf("restoring %s: %w", a.config.RestoreFile, err)
		}
		log.Printf("Restored %d records from archive %s", len(recs), a.config.RestoreFile)
		return recs, nil
	}

	if a.config.PGDSN != "" {
		if a.pg == nil {
			pg, err := storage.OpenPostgres(ctx, a.config.PGDSN)
			if err != nil {
				return nil, fmt.Errorf("connecting postgres: %w", err)
			}
			if err := pg.EnsureSchema(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("ensuring schema: %w", err)
			}
			a.pg = pg
		}

		rows, err := a.pg.Rows(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading postgres: %w", err)
		}
		st := store.Load(rows)
		log.Printf("Seeded %d records from Postgres (%d rows dropped)",
			st.Len(), st.Counts().DroppedCoordinate+st.Counts().DroppedTimestamp)
		return st.Records(), nil
	}

	if a.config.CSVFile != "" {
		st, err := storage.ReadCSVFile(a.config.CSVFile)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Printf("No seed file at %s, starting empty", a.config.CSVFile)
				return nil, nil
			}
			return nil, fmt.Errorf("reading %s: %w", a.config.CSVFile, err)
		}
		c := st.Counts()
		log.Printf("Seeded %d records from %s (dropped: %d coordinate, %d timestamp)",
			st.Len(), a.config.CSVFile, c.DroppedCoordinate, c.DroppedTimestamp)
		return st.Records(), nil
	}
	return nil, nil
}

// loadSeedData fills the buffer from the seed source.
func (a *App) loadSeedData(ctx context.Context) error {
	recs, err := a.loadSeed(ctx)
	if err != nil {
		return err
	}
	if len(recs) > 0 {
		a.buffer.Append(recs)
		a.dirty.Store(true)
	}
	return nil
}

// setStore installs a freshly built store and synthesizer.
func (a *App) setStore(st *store.Store) {
	start := time.Now()
	sy := synth.New(st,
		synth.WithMinPoints(a.config.MinPoints),
		synth.WithTrackCache(a.config.TrackCacheSize))

	a.mu.Lock()
	a.store = st
	a.synthesize = sy
	a.mu.Unlock()

	rep := stats.Summarize(st)
	metrics.StoreRecords.Set(float64(rep.TotalRecords))
	metrics.StoreAircraft.Set(float64(rep.UniqueAircraft))
	c := st.Counts()
	metrics.StoreDroppedRows.Add(int64(c.DroppedCoordinate + c.DroppedTimestamp))
	metrics.StoreLoadDuration.Observe(time.Since(start).Seconds())
}

// currentSynth returns the synthesizer, rebuilding the store first when the
// buffer changed since the last build.
func (a *App) currentSynth() (*synth.Synthesizer, *store.Store) {
	if a.dirty.Swap(false) {
		a.setStore(store.FromRecords(a.buffer.Snapshot()))
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.synthesize, a.store
}

// Run starts the application.
func (a *App) Run(ctx context.Context) error {
	log.Println("ADSBtool starting...")
	log.Printf("Configuration: addr=%s:%d poll=%s csv=%s", a.config.HTTPAddr, a.config.HTTPPort,
		a.config.PollInterval, a.config.CSVFile)

	if err := a.loadSeedData(ctx); err != nil {
		return err
	}

	// Start edge components (memory monitor, retention)
	a.memoryMonitor.Start(ctx)
	a.retention.Start(ctx)

	a.startHTTPServer()

	// Initial poll before going ready when live ingestion is on
	if a.config.EnableIngestion {
		log.Println("Fetching initial state vectors from OpenSky...")
		metrics.IngestionRequests.Inc()
		pollStart := time.Now()
		if count, err := a.collector.CollectOnce(ctx); err != nil {
			metrics.IngestionErrors.Inc()
			log.Printf("Initial poll failed: %v", err)
		} else {
			log.Printf("Collected %d records", count)
		}
		metrics.IngestionLatency.Observe(time.Since(pollStart).Seconds())
	}

	_, st := a.currentSynth()
	a.ready = true
	log.Printf("ADSBtool ready. Store holds %d records", st.Len())

	if a.config.EnableIngestion {
		log.Println("Starting continuous collection...")
		if err := a.collector.Start(ctx); err != nil {
			log.Printf("Failed to start collector: %v", err)
		}
	}

	<-ctx.Done()
	log.Println("Shutting down...")

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	a.collector.Stop()
	a.memoryMonitor.Stop()
	a.retention.Stop()

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}

	log.Println("ADSBtool stopped")
	return nil
}

// ---------------------------------------------------------------------------
// HTTP Server
// ---------------------------------------------------------------------------

func (a *App) startHTTPServer() {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/ready", a.handleReady)
	mux.HandleFunc("/live", a.handleLive)

	// Metrics endpoint
	mux.HandleFunc("/metrics", a.handleMetrics)

	// View-model endpoints
	mux.HandleFunc("/api/v1/snapshot", a.handleSnapshot)
	mux.HandleFunc("/api/v1/animation", a.handleAnimation)
	mux.HandleFunc("/api/v1/paths", a.handlePaths)
	mux.HandleFunc("/api/v1/density", a.handleDensity)
	mux.HandleFunc("/api/v1/stats", a.handleStats)
	mux.HandleFunc("/api/v1/export.xml", a.handleExportXML)
	mux.HandleFunc("/api/v1/reload", a.handleReload)

	addr := fmt.Sprintf("%s:%d", a.config.HTTPAddr, a.config.HTTPPort)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.metricsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := a.server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()
}

func (a *App) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.HTTPRequests.Inc()
		metrics.ActiveConnections.Inc()
		defer metrics.ActiveConnections.Dec()

		next.ServeHTTP(w, r)

		metrics.HTTPLatency.Observe(time.Since(start).Seconds())
	})
}

// ---------------------------------------------------------------------------
// Health Handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(a.startTime).String(),
		"version":   "1.0.0",
	}

	if !a.ready {
		health["status"] = "starting"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(health)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

func (a *App) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("alive"))
}

// ---------------------------------------------------------------------------
// Metrics Handler
// ---------------------------------------------------------------------------

func (a *App) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(metrics.Default().Export()))
}

// ---------------------------------------------------------------------------
// View Handlers
// ---------------------------------------------------------------------------

func (a *App) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.SynthRequests.Inc()

	sy, st := a.currentSynth()
	markers := sy.Snapshot()

	metrics.SynthLatency.Observe(time.Since(start).Seconds())
	respondJSON(w, map[string]interface{}{
		"count":   len(markers),
		"records": st.Len(),
		"markers": markers,
	})
}

func (a *App) handleAnimation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.SynthRequests.Inc()

	sy, _ := a.currentSynth()
	anim := sy.Animation()

	metrics.SynthLatency.Observe(time.Since(start).Seconds())
	respondJSON(w, anim)
}

func (a *App) handlePaths(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.SynthRequests.Inc()

	sy, _ := a.currentSynth()
	paths := sy.FlightPaths()

	metrics.SynthLatency.Observe(time.Since(start).Seconds())
	respondJSON(w, map[string]interface{}{
		"count": len(paths),
		"paths": paths,
	})
}

func (a *App) handleDensity(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.SynthRequests.Inc()

	sy, _ := a.currentSynth()
	points := sy.DensityGrid()

	metrics.SynthLatency.Observe(time.Since(start).Seconds())
	respondJSON(w, map[string]interface{}{
		"count":  len(points),
		"points": points,
	})
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	_, st := a.currentSynth()
	rep := stats.Summarize(st)

	out := map[string]interface{}{
		"report":    rep,
		"collector": a.collector.Metrics().Snapshot(),
		"retention": a.retention.Stats(),
		"memory":    a.memoryMonitor.Stats(),
		"uptime":    time.Since(a.startTime).String(),
	}
	respondJSON(w, out)
}

func (a *App) handleExportXML(w http.ResponseWriter, r *http.Request) {
	_, st := a.currentSynth()

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := export.WriteXML(w, st); err != nil {
		log.Printf("XML export failed: %v", err)
	}
}

// handleReload re-reads the seed source, replacing the buffer contents.
// The buffer is swapped only after a successful load, so a broken seed
// source never empties a serving instance.
func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	recs, err := a.loadSeed(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	a.buffer.TrimToSize(0)
	a.buffer.Append(recs)
	a.dirty.Store(true)
	_, st := a.currentSynth()
	respondJSON(w, map[string]interface{}{"status": "reloaded", "records": st.Len()})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("JSON encode error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Entry Point
// ---------------------------------------------------------------------------

func main() {
	cfg := loadConfig()
	setupLogging(cfg)

	app := NewApp(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("ADSBtool failed: %v", err)
	}
}
