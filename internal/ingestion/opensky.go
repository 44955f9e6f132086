package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Bmar04/ADSBtool/pkg/models"
)

const (
	defaultBaseURL = "https://opensky-network.org/api"

	// OpenSky OAuth2 token endpoint
	defaultTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

	// OpenSky rate limits:
	// - Anonymous: 10 seconds between /states/all calls
	// - Authenticated: 5 seconds between /states/all calls
	defaultPollInterval = 12 * time.Second

	// Token refresh buffer - refresh before actual expiry
	tokenRefreshBuffer = 2 * time.Minute

	// Connection pool settings
	maxIdleConns        = 10
	maxConnsPerHost     = 5
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second

	// Retry settings
	maxRetries    = 5
	baseBackoff   = 1 * time.Second
	maxBackoff    = 60 * time.Second
	backoffFactor = 2.0
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics collects collector performance data.
type Metrics struct {
	TotalRequests   atomic.Int64
	SuccessRequests atomic.Int64
	FailedRequests  atomic.Int64
	TotalRecords    atomic.Int64
	KeptRecords     atomic.Int64
	LastLatencyNs   atomic.Int64
	AvgLatencyNs    atomic.Int64
	RecordsPerSec   atomic.Int64

	mu           sync.Mutex
	latencySum   int64
	latencyCount int64
	lastPollTime time.Time
}

// RecordLatency updates latency metrics.
func (m *Metrics) RecordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	m.LastLatencyNs.Store(ns)

	m.mu.Lock()
	m.latencySum += ns
	m.latencyCount++
	if m.latencyCount > 0 {
		m.AvgLatencyNs.Store(m.latencySum / m.latencyCount)
	}
	m.mu.Unlock()
}

// RecordKept updates throughput metrics with the records retained by a poll.
func (m *Metrics) RecordKept(count int64) {
	m.KeptRecords.Add(count)

	m.mu.Lock()
	now := time.Now()
	if !m.lastPollTime.IsZero() {
		elapsed := now.Sub(m.lastPollTime).Seconds()
		if elapsed > 0 {
			m.RecordsPerSec.Store(int64(float64(count) / elapsed))
		}
	}
	m.lastPollTime = now
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   m.TotalRequests.Load(),
		SuccessRequests: m.SuccessRequests.Load(),
		FailedRequests:  m.FailedRequests.Load(),
		TotalRecords:    m.TotalRecords.Load(),
		KeptRecords:     m.KeptRecords.Load(),
		LastLatencyMs:   float64(m.LastLatencyNs.Load()) / 1e6,
		AvgLatencyMs:    float64(m.AvgLatencyNs.Load()) / 1e6,
		RecordsPerSec:   m.RecordsPerSec.Load(),
	}
}

// MetricsSnapshot is a point-in-time copy of metrics.
type MetricsSnapshot struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalRecords    int64
	KeptRecords     int64
	LastLatencyMs   float64
	AvgLatencyMs    float64
	RecordsPerSec   int64
}

// ---------------------------------------------------------------------------
// Filter Configuration
// ---------------------------------------------------------------------------

// BoundingBox is a geographic area in degrees.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// ColoradoBox covers the Colorado survey area.
func ColoradoBox() BoundingBox {
	return BoundingBox{MinLat: 37.0, MaxLat: 41.0, MinLon: -109.0, MaxLon: -102.0}
}

// Filter defines criteria for keeping records after a poll. The bounding box
// is also pushed to the server as query parameters; the local check covers
// sources that ignore it.
type Filter struct {
	// CallsignPrefixes keeps records whose callsign starts with any prefix.
	CallsignPrefixes []string

	// BoundingBox keeps records inside the area.
	BoundingBox *BoundingBox
}

// ColoradoFilter keeps everything over the Colorado survey area.
func ColoradoFilter() Filter {
	box := ColoradoBox()
	return Filter{BoundingBox: &box}
}

// Matches checks if a record passes the filter criteria.
// When both criteria are set, uses OR logic (matches if ANY criterion is
// satisfied). When only one criterion is set, that criterion must match.
func (f *Filter) Matches(rec *models.TelemetryRecord) bool {
	if f.BoundingBox == nil && len(f.CallsignPrefixes) == 0 {
		return true
	}

	callsignMatch := false
	if len(f.CallsignPrefixes) > 0 {
		trimmed := strings.TrimSpace(rec.Callsign)
		for _, prefix := range f.CallsignPrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				callsignMatch = true
				break
			}
		}
	}

	bboxMatch := false
	if f.BoundingBox != nil {
		bboxMatch = f.BoundingBox.Contains(rec.Latitude, rec.Longitude)
	}

	if len(f.CallsignPrefixes) > 0 && f.BoundingBox != nil {
		return callsignMatch || bboxMatch
	}
	if len(f.CallsignPrefixes) > 0 {
		return callsignMatch
	}
	return bboxMatch
}

// ---------------------------------------------------------------------------
// OAuth2 Token Management
// ---------------------------------------------------------------------------

// tokenResponse mirrors the JSON from the OpenSky token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"` // seconds
	TokenType   string `json:"token_type"`
}

// TokenManager handles OAuth2 client-credentials token lifecycle.
type TokenManager struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenManager creates a token manager for OAuth2 client credentials flow.
func NewTokenManager(clientID, clientSecret string) *TokenManager {
	return &TokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     defaultTokenURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Token returns a valid access token, refreshing if needed.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	tm.mu.RLock()
	if tm.token != "" && time.Now().Before(tm.expiresAt) {
		tok := tm.token
		tm.mu.RUnlock()
		return tok, nil
	}
	tm.mu.RUnlock()

	return tm.refresh(ctx)
}

// refresh fetches a new token from the OAuth2 endpoint.
func (tm *TokenManager) refresh(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Double-check after acquiring write lock
	if tm.token != "" && time.Now().Before(tm.expiresAt) {
		return tm.token, nil
	}

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {tm.clientID},
		"client_secret": {tm.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var tokResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	tm.token = tokResp.AccessToken
	// Refresh before actual expiry to avoid edge-case failures
	tm.expiresAt = time.Now().Add(time.Duration(tokResp.ExpiresIn)*time.Second - tokenRefreshBuffer)

	return tm.token, nil
}

// Credentials holds OAuth2 client credentials loaded from credentials.json.
type Credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// LoadCredentials reads OAuth2 credentials from a JSON file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}

	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("credentials file missing clientId or clientSecret")
	}

	return &creds, nil
}

// ---------------------------------------------------------------------------
// Client with Connection Pooling
// ---------------------------------------------------------------------------

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL sets the base URL (useful for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithBasicAuth sets Basic Auth credentials (legacy, deprecated by OpenSky).
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithClientCredentials sets OAuth2 client credentials for token-based auth.
func WithClientCredentials(clientID, clientSecret string) ClientOption {
	return func(c *Client) {
		c.tokenManager = NewTokenManager(clientID, clientSecret)
	}
}

// WithTokenManager sets a custom token manager (useful for testing).
func WithTokenManager(tm *TokenManager) ClientOption {
	return func(c *Client) {
		c.tokenManager = tm
	}
}

// Client fetches live state vectors from the OpenSky Network API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	username     string
	password     string
	tokenManager *TokenManager
}

// NewClient creates an OpenSky API client with connection pooling.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		DisableCompression:  false,
	}

	c := &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// openSkyResponse mirrors the JSON shape returned by /states/all.
type openSkyResponse struct {
	Time   int64           `json:"time"`
	States [][]interface{} `json:"states"`
}

// FetchStates retrieves current state vectors, optionally constrained to a
// bounding box pushed to the server as query parameters. Every returned
// record is stamped with the scrape time.
func (c *Client) FetchStates(ctx context.Context, box *BoundingBox) ([]models.TelemetryRecord, error) {
	endpoint := fmt.Sprintf("%s/states/all", c.baseURL)
	if box != nil {
		endpoint += "?" + url.Values{
			"lamin": {formatCoord(box.MinLat)},
			"lamax": {formatCoord(box.MaxLat)},
			"lomin": {formatCoord(box.MinLon)},
			"lomax": {formatCoord(box.MaxLon)},
		}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	// Add auth: prefer OAuth2 Bearer token, fall back to Basic Auth (legacy)
	if c.tokenManager != nil {
		token, err := c.tokenManager.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtaining access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	var raw openSkyResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return parseStates(raw, time.Now().UTC()), nil
}

// FetchStatesWithRetry fetches states with exponential backoff on failure.
func (c *Client) FetchStatesWithRetry(ctx context.Context, box *BoundingBox) ([]models.TelemetryRecord, error) {
	var lastErr error
	backoff := baseBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			// Exponential backoff with cap
			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		recs, err := c.FetchStates(ctx, box)
		if err == nil {
			return recs, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// parseStates converts the positional state arrays into telemetry records.
// States without a coordinate pair are skipped; they cannot contribute to any
// downstream view.
func parseStates(raw openSkyResponse, scrapedAt time.Time) []models.TelemetryRecord {
	recs := make([]models.TelemetryRecord, 0, len(raw.States))
	for _, s := range raw.States {
		if len(s) < 17 {
			continue
		}
		lon, lonOK := floatVal(s[5])
		lat, latOK := floatVal(s[6])
		if !latOK || !lonOK {
			continue
		}

		rec := models.TelemetryRecord{
			ICAO24:    stringVal(s[0]),
			Callsign:  strings.TrimSpace(stringVal(s[1])),
			Timestamp: scrapedAt,
			Latitude:  lat,
			Longitude: lon,
			Squawk:    stringVal(s[14]),
		}
		rec.LastContact = optFloatVal(s[4])
		rec.BaroAltitude = optFloatVal(s[7])
		rec.OnGround = optBoolVal(s[8])
		rec.Velocity = optFloatVal(s[9])
		rec.TrueTrack = optFloatVal(s[10])
		rec.VerticalRate = optFloatVal(s[11])
		rec.GeoAltitude = optFloatVal(s[13])
		rec.SPI = optBoolVal(s[15])
		if v, ok := floatVal(s[16]); ok {
			rec.PositionSource = models.Int(int(v))
		}
		recs = append(recs, rec)
	}
	return recs
}

func stringVal(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func floatVal(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func optFloatVal(v interface{}) models.OptFloat {
	if f, ok := v.(float64); ok {
		return models.Float(f)
	}
	return models.OptFloat{}
}

func optBoolVal(v interface{}) models.OptBool {
	if b, ok := v.(bool); ok {
		return models.Bool(b)
	}
	return models.OptBool{}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ---------------------------------------------------------------------------
// Batch Collector
// ---------------------------------------------------------------------------

// BatchHandler processes a batch of kept records.
type BatchHandler func(ctx context.Context, recs []models.TelemetryRecord) error

// CollectorConfig configures the poll loop.
type CollectorConfig struct {
	PollInterval time.Duration
	Filter       Filter
	BatchSize    int
	Workers      int
}

// DefaultCollectorConfig returns sensible defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		PollInterval: defaultPollInterval,
		Filter:       ColoradoFilter(),
		BatchSize:    100, // Process in batches of 100
		Workers:      4,   // 4 parallel workers for batch processing
	}
}

// Collector continuously polls the API and hands kept records to a handler.
type Collector struct {
	client  *Client
	config  CollectorConfig
	limiter *rate.Limiter
	metrics *Metrics
	handler BatchHandler

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewCollector creates a batch collector.
func NewCollector(client *Client, config CollectorConfig, handler BatchHandler) *Collector {
	interval := config.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Collector{
		client:  client,
		config:  config,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		metrics: &Metrics{},
		handler: handler,
	}
}

// Metrics returns the collector's metrics.
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// Start begins continuous collection. Non-blocking.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("collector already running")
	}
	c.running = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Stop halts the collector.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
}

// IsRunning returns whether the collector is active.
func (c *Collector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// run is the main poll loop.
func (c *Collector) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return
		default:
		}

		if err := c.limiter.Wait(ctx); err != nil {
			continue
		}

		// Failures are counted in metrics; the loop keeps polling.
		_, _ = c.CollectOnce(ctx)
	}
}

// CollectOnce runs a single poll cycle and returns the kept record count.
func (c *Collector) CollectOnce(ctx context.Context) (int, error) {
	start := time.Now()
	c.metrics.TotalRequests.Add(1)

	recs, err := c.client.FetchStatesWithRetry(ctx, c.config.Filter.BoundingBox)
	c.metrics.RecordLatency(time.Since(start))

	if err != nil {
		c.metrics.FailedRequests.Add(1)
		return 0, err
	}
	c.metrics.SuccessRequests.Add(1)
	c.metrics.TotalRecords.Add(int64(len(recs)))

	kept := c.filterRecords(recs)
	if len(kept) == 0 {
		return 0, nil
	}

	c.dispatchBatches(ctx, kept)
	return len(kept), nil
}

// filterRecords applies the configured filter.
func (c *Collector) filterRecords(recs []models.TelemetryRecord) []models.TelemetryRecord {
	kept := make([]models.TelemetryRecord, 0, len(recs))
	for i := range recs {
		if c.config.Filter.Matches(&recs[i]) {
			kept = append(kept, recs[i])
		}
	}
	return kept
}

// dispatchBatches splits kept records into batches and hands them to the
// handler in parallel.
func (c *Collector) dispatchBatches(ctx context.Context, recs []models.TelemetryRecord) {
	c.metrics.RecordKept(int64(len(recs)))

	batchSize := c.config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var batches [][]models.TelemetryRecord
	for i := 0; i < len(recs); i += batchSize {
		end := i + batchSize
		if end > len(recs) {
			end = len(recs)
		}
		batches = append(batches, recs[i:end])
	}

	workers := c.config.Workers
	if workers <= 0 {
		workers = 4
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(b []models.TelemetryRecord) {
			defer wg.Done()
			defer func() { <-sem }()

			if c.handler != nil {
				_ = c.handler(ctx, b)
			}
		}(batch)
	}

	wg.Wait()
}

// ---------------------------------------------------------------------------
// Streaming handler
// ---------------------------------------------------------------------------

// TelemetryEvent is one record delivered over a channel.
type TelemetryEvent struct {
	Record     models.TelemetryRecord
	ReceivedAt time.Time
}

// EventChannel returns a channel-based handler for streaming records.
func EventChannel(ch chan<- TelemetryEvent) BatchHandler {
	return func(ctx context.Context, recs []models.TelemetryRecord) error {
		now := time.Now()
		for _, r := range recs {
			select {
			case ch <- TelemetryEvent{Record: r, ReceivedAt: now}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}
