// Package config loads scraper settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names.
const (
	BackendStatic = "static"
	BackendCDP    = "cdp"
)

// Config holds all configuration for the tablescraper server.
type Config struct {
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Content backend: static pages fetched over HTTP, or tabs of a live
	// browser reached over CDP.
	Backend        string
	CDPAddress     string
	CDPPort        int
	TabURLFilter   string
	EvalTimeoutMS  int
	FetchTimeoutMS int
	HighlightMS    int
	MaxFrameDepth  int
	TabsFile       string

	LaunchBrowser     bool
	BrowserProfileDir string

	// Python worker
	Python      string
	ResourceDir string
	RunTimeout  time.Duration

	JournalDir string

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:          getEnvOrDefault("SCRAPER_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:    getEnvListOrDefault("SCRAPER_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		PortAutoFallback:  getEnvBoolOrDefault("SCRAPER_PORT_AUTO_FALLBACK", true),
		Backend:           strings.ToLower(getEnvOrDefault("SCRAPER_BACKEND", BackendStatic)),
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:      getEnvOrDefault("SCRAPER_TAB_URL_FILTER", ""),
		EvalTimeoutMS:     getEnvIntOrDefault("SCRAPER_EVAL_TIMEOUT_MS", 5000),
		FetchTimeoutMS:    getEnvIntOrDefault("SCRAPER_FETCH_TIMEOUT_MS", 15000),
		HighlightMS:       getEnvIntOrDefault("SCRAPER_HIGHLIGHT_MS", 2000),
		MaxFrameDepth:     getEnvIntOrDefault("SCRAPER_MAX_FRAME_DEPTH", 5),
		TabsFile:          getEnvOrDefault("SCRAPER_TABS_FILE", "./config/tabs.yaml"),
		LaunchBrowser:     getEnvBoolOrDefault("SCRAPER_LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("SCRAPER_BROWSER_PROFILE_DIR", "./browser_profile"),
		Python:            getEnvOrDefault("SCRAPER_PYTHON", "python3"),
		ResourceDir:       getEnvOrDefault("SCRAPER_RESOURCE_DIR", "./runtime"),
		RunTimeout:        time.Duration(getEnvIntOrDefault("SCRAPER_RUN_TIMEOUT_MS", 0)) * time.Millisecond,
		JournalDir:        getEnvOrDefault("SCRAPER_JOURNAL_DIR", ""),
		LogLevel:          strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("LOG_FILE", "logs/tablescraper.log"),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.RunTimeout < 0 {
		cfg.RunTimeout = 0
	}
	if cfg.MaxFrameDepth < 1 {
		cfg.MaxFrameDepth = 1
	}
	switch cfg.Backend {
	case BackendStatic, BackendCDP:
	default:
		return nil, fmt.Errorf("SCRAPER_BACKEND must be %q or %q, got %q", BackendStatic, BackendCDP, cfg.Backend)
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint of the browser.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

func (c *Config) HighlightDuration() time.Duration {
	return time.Duration(c.HighlightMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
