package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all syncanvas server configuration.
// Priority: env vars > .env > settings.json > defaults.
type Config struct {
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	DebounceMillis  int    `json:"debounce_millis"`
	CacheEntries    int    `json:"cache_entries"`
	IdleMinutes     int    `json:"idle_minutes"`
	JanitorSchedule string `json:"janitor_schedule"`
	RetentionDays   int    `json:"retention_days"`

	// Optional file watch started at boot: the document at WatchPath feeds
	// the (WatchKind, WatchProject) diagram.
	WatchPath    string `json:"watch_path"`
	WatchKind    string `json:"watch_kind"`
	WatchProject string `json:"watch_project"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(syncanvasDir(), "syncanvas.db"),
		LogLevel:        "info",
		DebounceMillis:  300,
		CacheEntries:    64,
		IdleMinutes:     30,
		JanitorSchedule: "0 * * * *",
		RetentionDays:   7,
	}
}

func syncanvasDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".syncanvas"
	}
	return filepath.Join(home, ".syncanvas")
}

func settingsPath() string {
	return filepath.Join(syncanvasDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: .env in the working directory (ignore if missing).
	_ = godotenv.Load()

	// Layer 4: env vars override.
	if v := os.Getenv("SYNCANVAS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SYNCANVAS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SYNCANVAS_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DebounceMillis = n
		}
	}
	if v := os.Getenv("SYNCANVAS_CACHE_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheEntries = n
		}
	}
	if v := os.Getenv("SYNCANVAS_IDLE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IdleMinutes = n
		}
	}
	if v := os.Getenv("SYNCANVAS_JANITOR_SCHEDULE"); v != "" {
		cfg.JanitorSchedule = v
	}
	if v := os.Getenv("SYNCANVAS_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = n
		}
	}
	if v := os.Getenv("SYNCANVAS_WATCH_PATH"); v != "" {
		cfg.WatchPath = v
	}
	if v := os.Getenv("SYNCANVAS_WATCH_KIND"); v != "" {
		cfg.WatchKind = v
	}
	if v := os.Getenv("SYNCANVAS_WATCH_PROJECT"); v != "" {
		cfg.WatchProject = v
	}

	return cfg
}

func (c Config) debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

func (c Config) idleTTL() time.Duration {
	return time.Duration(c.IdleMinutes) * time.Minute
}

func (c Config) retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
