// Package config loads the static, file-backed configuration for the
// depth reconstructor: the exchange endpoints, the symbol allow-list,
// bootstrap timing, retry policy, the Read API bind address, and an
// optional downstream NATS sink.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// ExchangeConfig points at the REST and combined-stream WebSocket bases.
type ExchangeConfig struct {
	RESTBaseURL string `json:"rest_base_url"`
	WSBaseURL   string `json:"ws_base_url"`
	// SnapshotDepth is the `limit` query parameter sent to the snapshot
	// endpoint (nominally 1000 for perpetual futures).
	SnapshotDepth int `json:"snapshot_depth"`
	// DepthCadence is the diff-emission interval suffix on each stream
	// name, e.g. "100ms" in "btcusdt@depth@100ms".
	DepthCadence string `json:"depth_cadence"`
}

// SymbolConfig is the allow-list established at startup. Live add/remove
// is not supported; changing it requires a process restart.
type SymbolConfig struct {
	Symbols []string `json:"symbols"`
	// SymbolsPerConnection batches this many symbols onto one combined
	// WebSocket connection.
	SymbolsPerConnection int `json:"symbols_per_connection"`
}

// TimingConfig governs the bootstrap and health-reporting cadences.
type TimingConfig struct {
	PreRoll       Duration `json:"pre_roll"`
	Stagger       Duration `json:"stagger"`
	HealthPeriod  Duration `json:"health_period"`
	SnapshotFetch Duration `json:"snapshot_fetch_timeout"`
	Reconnect     Duration `json:"reconnect_delay"`
}

// RetryConfig is the exponential-backoff policy for re-bootstrap.
type RetryConfig struct {
	Base       Duration `json:"base"`
	Max        Duration `json:"max"`
	MaxAttempt int      `json:"max_attempts"`
}

// ServerConfig is the Read API bind address.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// NATSConfig is the optional downstream notification sink. Leaving URIs
// empty disables notification entirely; the reconstructor still runs.
type NATSConfig struct {
	URIs    string `json:"uris"`
	Stream  string `json:"stream"`
	Subject string `json:"subject"`
}

// Enabled reports whether a NATS sink was configured at all.
func (n NATSConfig) Enabled() bool {
	return strings.TrimSpace(n.URIs) != ""
}

// Config is the root configuration document.
type Config struct {
	Exchange ExchangeConfig `json:"exchange"`
	Symbols  SymbolConfig   `json:"symbols"`
	Timing   TimingConfig   `json:"timing"`
	Retry    RetryConfig    `json:"retry"`
	Server   ServerConfig   `json:"server"`
	NATS     NATSConfig     `json:"nats"`
}

// Duration wraps time.Duration so config files spell it "3s", "200ms", etc.
type Duration time.Duration

func (d Duration) Dur() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var ms int64
		if numErr := json.Unmarshal(data, &ms); numErr != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the baseline configuration a config file overlays:
// Binance perpetual futures endpoints and the bootstrap/retry timings
// the reconstructor was tuned against.
func Default() Config {
	return Config{
		Exchange: ExchangeConfig{
			RESTBaseURL:   "https://fapi.binance.com",
			WSBaseURL:     "wss://fstream.binance.com/stream",
			SnapshotDepth: 1000,
			DepthCadence:  "100ms",
		},
		Symbols: SymbolConfig{
			SymbolsPerConnection: 20,
		},
		Timing: TimingConfig{
			PreRoll:       Duration(3 * time.Second),
			Stagger:       Duration(200 * time.Millisecond),
			HealthPeriod:  Duration(60 * time.Second),
			SnapshotFetch: Duration(5 * time.Second),
			Reconnect:     Duration(5 * time.Second),
		},
		Retry: RetryConfig{
			Base:       Duration(1 * time.Second),
			Max:        Duration(60 * time.Second),
			MaxAttempt: 10,
		},
		Server: ServerConfig{
			Addr: "0.0.0.0:8000",
		},
	}
}

// LoadConfig reads a JSON config file, overlays it onto Default(), and
// validates the result.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()
	if filePath == "" {
		return nil, fmt.Errorf("config file path cannot be empty")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filePath, err)
	}

	return &cfg, nil
}

// Validate validates the main configuration.
func (c *Config) Validate() error {
	if c.Exchange.RESTBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url cannot be empty")
	}
	if c.Exchange.WSBaseURL == "" {
		return fmt.Errorf("exchange.ws_base_url cannot be empty")
	}
	if c.Exchange.SnapshotDepth <= 0 {
		return fmt.Errorf("exchange.snapshot_depth must be positive")
	}
	if len(c.Symbols.Symbols) == 0 {
		return fmt.Errorf("symbols.symbols cannot be empty")
	}
	if c.Symbols.SymbolsPerConnection <= 0 {
		return fmt.Errorf("symbols.symbols_per_connection must be positive")
	}
	if c.Retry.MaxAttempt <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if c.NATS.Enabled() {
		return c.NATS.Validate()
	}
	return nil
}

// Validate validates the NATS configuration. Only called when NATS is
// enabled — an empty NATSConfig is otherwise a legitimate "disabled" state.
func (n *NATSConfig) Validate() error {
	if n.URIs == "" {
		return fmt.Errorf("nats.uris cannot be empty")
	}
	if n.Stream == "" {
		return fmt.Errorf("nats.stream cannot be empty")
	}
	if n.Subject == "" {
		return fmt.Errorf("nats.subject cannot be empty")
	}

	uris := strings.Split(n.URIs, ",")
	for i, uri := range uris {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		parsedURL, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid NATS URI at index %d: %w", i, err)
		}
		if parsedURL.Scheme != "nats" {
			return fmt.Errorf("invalid NATS URI scheme at index %d: expected 'nats', got '%s'", i, parsedURL.Scheme)
		}
		if parsedURL.Hostname() == "" {
			return fmt.Errorf("invalid NATS URI at index %d: hostname cannot be empty", i)
		}
	}
	return nil
}

// GetNATSURIs returns the individual NATS URIs, trimmed of whitespace.
func (n *NATSConfig) GetNATSURIs() []string {
	uris := strings.Split(n.URIs, ",")
	var clean []string
	for _, uri := range uris {
		uri = strings.TrimSpace(uri)
		if uri != "" {
			clean = append(clean, uri)
		}
	}
	return clean
}

// normalizeSymbol upper-cases and trims an allow-list entry.
func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizedSymbols returns the allow-list, upper-cased and de-duplicated.
func (c *Config) NormalizedSymbols() []string {
	seen := make(map[string]struct{}, len(c.Symbols.Symbols))
	out := make([]string, 0, len(c.Symbols.Symbols))
	for _, s := range c.Symbols.Symbols {
		n := normalizeSymbol(s)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
