// Package config loads process configuration once: a JSON file read under
// sync.Once, layered under environment variable overrides (godotenv
// autoloads .env in cmd/clobbook) for the feed/session/book settings this
// service needs.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"
)

// SymbolConfig is one subscribed trading pair and the channels to request
// for it. Channels must not mix an L2 and an L3 channel for the same
// symbol — overlapping channels are rejected by Validate.
type SymbolConfig struct {
	Symbol   string   `json:"symbol"`
	Channels []string `json:"channels"`
	Depth    int      `json:"depth"`
}

// Config is the full set of knobs this service reads at startup. Fields
// default sensibly so an empty config.json plus environment variables is
// enough to run against the default feed.
type Config struct {
	FeedURL string         `json:"feed_url"`
	Symbols []SymbolConfig `json:"symbols"`

	IdleTimeout    time.Duration `json:"-"`
	IdleTimeoutMs  int64         `json:"idle_timeout_ms"`
	BackoffInitial time.Duration `json:"-"`
	BackoffInitMs  int64         `json:"backoff_initial_ms"`
	BackoffMax     time.Duration `json:"-"`
	BackoffMaxMs   int64         `json:"backoff_max_ms"`

	DefaultDepth int `json:"default_depth"`

	LogLevel string `json:"log_level"`

	// VerboseWireLogging toggles raw-frame debug logging in the feed
	// logger for dropped or unparseable wire messages.
	VerboseWireLogging bool `json:"verbose_wire_logging"`

	HTTPAddr string `json:"http_addr"`
}

const configPath = "config.json"

var (
	once sync.Once
	cfg  *Config
)

func defaults() *Config {
	return &Config{
		FeedURL:        "wss://ws-feed.exchange.example/ws",
		IdleTimeout:    10 * time.Second,
		BackoffInitial: time.Second,
		BackoffMax:     30 * time.Second,
		DefaultDepth:   10,
		LogLevel:       "info",
		HTTPAddr:       ":8080",
	}
}

// Get returns the process-wide Config, loading config.json (if present)
// and applying environment overrides exactly once.
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

func load() *Config {
	c := defaults()

	if data, err := os.ReadFile(configPath); err == nil {
		_ = json.Unmarshal(data, c)
	}

	if c.IdleTimeoutMs > 0 {
		c.IdleTimeout = time.Duration(c.IdleTimeoutMs) * time.Millisecond
	}
	if c.BackoffInitMs > 0 {
		c.BackoffInitial = time.Duration(c.BackoffInitMs) * time.Millisecond
	}
	if c.BackoffMaxMs > 0 {
		c.BackoffMax = time.Duration(c.BackoffMaxMs) * time.Millisecond
	}
	if c.DefaultDepth <= 0 {
		c.DefaultDepth = 10
	}

	applyEnvOverrides(c)
	return c
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("CLOBBOOK_FEED_URL"); v != "" {
		c.FeedURL = v
	}
	if v := os.Getenv("CLOBBOOK_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CLOBBOOK_IDLE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.IdleTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("CLOBBOOK_VERBOSE_WIRE_LOGGING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.VerboseWireLogging = b
		}
	}
	if v := os.Getenv("CLOBBOOK_SYMBOLS"); v != "" {
		c.Symbols = parseSymbolsEnv(v)
	}
}

// parseSymbolsEnv accepts a comma-separated "SYMBOL:channel+channel" list,
// e.g. "BTC-USD:level2+heartbeat,ETH-USD:full+heartbeat", as a convenient
// override when no config.json is mounted.
func parseSymbolsEnv(v string) []SymbolConfig {
	var out []SymbolConfig
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, parseSymbolEntry(v[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func parseSymbolEntry(entry string) SymbolConfig {
	symbol := entry
	var channels []string
	for i := 0; i < len(entry); i++ {
		if entry[i] == ':' {
			symbol = entry[:i]
			channels = splitPlus(entry[i+1:])
			break
		}
	}
	if len(channels) == 0 {
		channels = []string{"level2", "heartbeat"}
	}
	return SymbolConfig{Symbol: symbol, Channels: channels}
}

func splitPlus(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '+' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Validate rejects a SymbolConfig that subscribes to overlapping L2 and L3
// channels, which would let both paths emit colliding synthetic order ids
// for the same (side, price).
func (s SymbolConfig) Validate() error {
	hasL2, hasL3 := false, false
	for _, ch := range s.Channels {
		switch ch {
		case "level2":
			hasL2 = true
		case "full":
			hasL3 = true
		}
	}
	if hasL2 && hasL3 {
		return errOverlappingChannels
	}
	return nil
}

var errOverlappingChannels = configError("config: symbol subscribes to both level2 and full channels")

type configError string

func (e configError) Error() string { return string(e) }
