package config

import "time"

type Config struct {
	Version       int           `toml:"version"`
	Project       Project       `toml:"project"`
	Libraries     Libraries     `toml:"libraries"`
	Cache         Cache         `toml:"cache"`
	Typecheck     Typecheck     `toml:"typecheck"`
	Watch         Watch         `toml:"watch"`
	Exclude       Exclude       `toml:"exclude"`
	DB            Database      `toml:"db"`
	Observability Observability `toml:"observability"`
}

type Project struct {
	Name            string `toml:"name"`
	Root            string `toml:"root"`
	StateDir        string `toml:"state_dir"`
	LanguageVersion string `toml:"language_version"`
}

type Libraries struct {
	// Dir holds one directory per external library.
	Dir string `toml:"dir"`
	// Internal lists the project's own library directories.
	Internal []string `toml:"internal"`
	// Load names the libraries loaded at startup.
	Load          []string `toml:"load"`
	StdRepository string   `toml:"std_repository"`
	StdRevision   string   `toml:"std_revision"`
	Parallelism   int      `toml:"parallelism"`
}

type Cache struct {
	ResolveCapacity int           `toml:"resolve_capacity"`
	SweepInterval   time.Duration `toml:"sweep_interval"`
}

type Typecheck struct {
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	// ReloadRate limits manifest-triggered reloads per second.
	ReloadRate  float64 `toml:"reload_rate"`
	ReloadBurst int     `toml:"reload_burst"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
	Paths    []string      `toml:"paths"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Database struct {
	Enabled     bool          `toml:"enabled"`
	Driver      string        `toml:"driver"`
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type Observability struct {
	Enabled       bool    `toml:"enabled"`
	Address       string  `toml:"address"`
	EnableTracing bool    `toml:"enable_tracing"`
	OTLPEndpoint  string  `toml:"otlp_endpoint"`
	OTLPInsecure  bool    `toml:"otlp_insecure"`
	ServiceName   string  `toml:"service_name"`
	SampleRatio   float64 `toml:"sample_ratio"`
}
