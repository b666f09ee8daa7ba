package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: SEMCACHE_[SECTION]_[KEY] (e.g., SEMCACHE_CACHE_RESOLVE_CAPACITY).
func ApplyEnvOverrides(cfg *Config) {
	// Project
	setEnvString(&cfg.Project.Root, "SEMCACHE_PROJECT_ROOT")
	setEnvString(&cfg.Project.StateDir, "SEMCACHE_PROJECT_STATE_DIR")
	setEnvString(&cfg.Project.LanguageVersion, "SEMCACHE_PROJECT_LANGUAGE_VERSION")

	// Libraries
	setEnvString(&cfg.Libraries.Dir, "SEMCACHE_LIBRARIES_DIR")
	setEnvString(&cfg.Libraries.StdRepository, "SEMCACHE_LIBRARIES_STD_REPOSITORY")
	setEnvInt(&cfg.Libraries.Parallelism, "SEMCACHE_LIBRARIES_PARALLELISM")

	// Cache
	setEnvInt(&cfg.Cache.ResolveCapacity, "SEMCACHE_CACHE_RESOLVE_CAPACITY")
	setEnvDuration(&cfg.Cache.SweepInterval, "SEMCACHE_CACHE_SWEEP_INTERVAL")

	// Typecheck
	setEnvDuration(&cfg.Typecheck.ShutdownTimeout, "SEMCACHE_TYPECHECK_SHUTDOWN_TIMEOUT")
	setEnvFloat64(&cfg.Typecheck.ReloadRate, "SEMCACHE_TYPECHECK_RELOAD_RATE")

	// Watch
	setEnvDuration(&cfg.Watch.Debounce, "SEMCACHE_WATCH_DEBOUNCE")

	// Database
	setEnvBool(&cfg.DB.Enabled, "SEMCACHE_DB_ENABLED")
	setEnvString(&cfg.DB.Path, "SEMCACHE_DB_PATH")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "SEMCACHE_OBSERVABILITY_ENABLED")
	setEnvString(&cfg.Observability.Address, "SEMCACHE_OBSERVABILITY_ADDRESS")
	setEnvString(&cfg.Observability.OTLPEndpoint, "SEMCACHE_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "SEMCACHE_OBSERVABILITY_ENABLE_TRACING")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
