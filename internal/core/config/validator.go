package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
)

// Validate runs every section check and returns the first failure.
func Validate(cfg *Config) error {
	checks := []func(*Config) error{
		validateVersion,
		validateProject,
		validateLibraries,
		validateCache,
		validateTypecheck,
		validateWatch,
		validateExclude,
		validateDatabase,
		validateObservability,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", cfg.Version)
	}
	if cfg.Version > 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateProject(cfg *Config) error {
	if strings.TrimSpace(cfg.Project.Name) == "" {
		return fmt.Errorf("project.name must not be empty")
	}
	if _, err := semver.NewVersion(cfg.Project.LanguageVersion); err != nil {
		return fmt.Errorf("project.language_version %q is not a semantic version: %w", cfg.Project.LanguageVersion, err)
	}
	return nil
}

func validateLibraries(cfg *Config) error {
	libs := cfg.Libraries
	if libs.Parallelism <= 0 {
		return fmt.Errorf("libraries.parallelism must be > 0, got %d", libs.Parallelism)
	}

	seenDirs := make(map[string]bool, len(libs.Internal))
	for i, dir := range libs.Internal {
		clean := filepath.Clean(dir)
		if seenDirs[clean] {
			return fmt.Errorf("libraries.internal[%d] repeats directory %q", i, dir)
		}
		seenDirs[clean] = true
	}

	seenNames := make(map[string]bool, len(libs.Load))
	for i, name := range libs.Load {
		if strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("libraries.load[%d] must be a library name, got %q", i, name)
		}
		if seenNames[name] {
			return fmt.Errorf("duplicate library in libraries.load: %q", name)
		}
		seenNames[name] = true
	}

	if libs.StdRevision != "" && libs.StdRepository == "" {
		return fmt.Errorf("libraries.std_revision requires libraries.std_repository")
	}
	return nil
}

func validateCache(cfg *Config) error {
	if cfg.Cache.ResolveCapacity < 0 {
		return fmt.Errorf("cache.resolve_capacity must be >= 0, got %d", cfg.Cache.ResolveCapacity)
	}
	if cfg.Cache.SweepInterval < 0 {
		return fmt.Errorf("cache.sweep_interval must not be negative")
	}
	return nil
}

func validateTypecheck(cfg *Config) error {
	if cfg.Typecheck.ReloadRate <= 0 {
		return fmt.Errorf("typecheck.reload_rate must be > 0, got %v", cfg.Typecheck.ReloadRate)
	}
	if cfg.Typecheck.ReloadBurst < 1 {
		return fmt.Errorf("typecheck.reload_burst must be >= 1, got %d", cfg.Typecheck.ReloadBurst)
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	for i, p := range cfg.Watch.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("watch.paths[%d] must not be empty", i)
		}
	}
	return nil
}

func validateExclude(cfg *Config) error {
	for _, pattern := range cfg.Exclude.Dirs {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("exclude.dirs pattern %q is invalid: %w", pattern, err)
		}
	}
	for _, pattern := range cfg.Exclude.Files {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("exclude.files pattern %q is invalid: %w", pattern, err)
		}
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	driver := strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	if driver != "sqlite" {
		return fmt.Errorf("db.driver must be sqlite, got %q", cfg.DB.Driver)
	}
	if strings.TrimSpace(cfg.DB.Path) == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	return nil
}

func validateObservability(cfg *Config) error {
	obs := cfg.Observability
	if obs.Enabled {
		if _, _, err := net.SplitHostPort(obs.Address); err != nil {
			return fmt.Errorf("observability.address %q must be host:port: %w", obs.Address, err)
		}
	}
	if obs.EnableTracing && obs.OTLPEndpoint == "" {
		return fmt.Errorf("observability.enable_tracing requires observability.otlp_endpoint")
	}
	if obs.SampleRatio < 0 || obs.SampleRatio > 1 {
		return fmt.Errorf("observability.sample_ratio must be within [0, 1], got %v", obs.SampleRatio)
	}
	return nil
}
