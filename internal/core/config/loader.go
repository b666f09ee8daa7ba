package config

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultFile            = "semcache.toml"
	DefaultResolveCapacity = 4096
	DefaultLanguageVersion = "1.0.0"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	normalize(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	normalize(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Project.Name) == "" {
		cfg.Project.Name = "default"
	}
	if strings.TrimSpace(cfg.Project.StateDir) == "" {
		cfg.Project.StateDir = ".semcache"
	}
	if strings.TrimSpace(cfg.Project.LanguageVersion) == "" {
		cfg.Project.LanguageVersion = DefaultLanguageVersion
	}

	if strings.TrimSpace(cfg.Libraries.Dir) == "" {
		cfg.Libraries.Dir = "libs"
	}
	if len(cfg.Libraries.Internal) == 0 {
		cfg.Libraries.Internal = []string{"."}
	}
	if cfg.Libraries.Parallelism <= 0 {
		cfg.Libraries.Parallelism = 8
	}

	if cfg.Cache.ResolveCapacity == 0 {
		cfg.Cache.ResolveCapacity = DefaultResolveCapacity
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = time.Minute
	}

	if cfg.Typecheck.ShutdownTimeout <= 0 {
		cfg.Typecheck.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Typecheck.ReloadRate == 0 {
		cfg.Typecheck.ReloadRate = 2
	}
	if cfg.Typecheck.ReloadBurst == 0 {
		cfg.Typecheck.ReloadBurst = 1
	}

	// Default debounce if not set.
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 300 * time.Millisecond
	}
	if len(cfg.Watch.Paths) == 0 {
		cfg.Watch.Paths = []string{"."}
	}

	if len(cfg.Exclude.Dirs) == 0 {
		cfg.Exclude.Dirs = []string{".git", ".semcache"}
	}

	if strings.TrimSpace(cfg.DB.Driver) == "" {
		cfg.DB.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.DB.Path) == "" {
		cfg.DB.Path = "libraries.db"
	}
	if cfg.DB.BusyTimeout <= 0 {
		cfg.DB.BusyTimeout = 2 * time.Second
	}

	if strings.TrimSpace(cfg.Observability.Address) == "" {
		cfg.Observability.Address = "127.0.0.1:9464"
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "semcache"
	}
	if cfg.Observability.SampleRatio == 0 {
		cfg.Observability.SampleRatio = 1
	}
}

func normalize(cfg *Config) {
	cfg.Project.Name = strings.TrimSpace(cfg.Project.Name)
	cfg.Project.Root = strings.TrimSpace(cfg.Project.Root)
	cfg.Project.LanguageVersion = strings.TrimSpace(cfg.Project.LanguageVersion)
	cfg.Libraries.Dir = strings.TrimSpace(cfg.Libraries.Dir)
	cfg.Libraries.StdRepository = strings.TrimSpace(cfg.Libraries.StdRepository)
	cfg.Libraries.Internal = trimAll(cfg.Libraries.Internal)
	cfg.Libraries.Load = trimAll(cfg.Libraries.Load)
	cfg.Exclude.Dirs = trimAll(cfg.Exclude.Dirs)
	cfg.Exclude.Files = trimAll(cfg.Exclude.Files)
	cfg.Observability.Address = strings.TrimSpace(cfg.Observability.Address)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
