package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	coreapp "semcache/internal/core/app"
	"semcache/internal/core/config"
	"semcache/internal/shared/observability"
)

type session struct {
	cfg     *config.Config
	cfgPath string
	paths   config.ResolvedPaths
}

func configureLogging(output io.Writer, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

func workingDir(opts *cliOptions) (string, error) {
	if opts.projectDir != "" {
		return filepath.Abs(opts.projectDir)
	}
	return os.Getwd()
}

// loadConfig reads an explicit config path, or semcache.toml in the project
// root. A project without a config file runs on the defaults.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(config.ResolveRelative(cwd, path))
		if err != nil {
			return nil, "", err
		}
		return cfg, config.ResolveRelative(cwd, path), nil
	}

	root, err := config.DetectProjectRoot([]string{cwd})
	if err != nil {
		return nil, "", err
	}
	candidate := filepath.Join(root, config.DefaultFile)
	cfg, err := config.Load(candidate)
	if err == nil {
		return cfg, candidate, nil
	}
	if !os.IsNotExist(err) {
		return nil, "", err
	}
	slog.Debug("no config file found, using defaults", "root", root)
	return config.Default(), "", nil
}

func loadSession(opts *cliOptions) (*session, error) {
	cwd, err := workingDir(opts)
	if err != nil {
		return nil, fmt.Errorf("detect working directory: %w", err)
	}
	cfg, cfgPath, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	config.ApplyEnvOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config after environment overrides: %w", err)
	}

	if cfgPath != "" && cfg.Project.Root == "" {
		// Relative paths in an explicit config file are taken from its directory.
		cwd = filepath.Dir(cfgPath)
	}
	paths, err := config.ResolvePaths(cfg, cwd)
	if err != nil {
		return nil, fmt.Errorf("resolve runtime paths: %w", err)
	}
	if cfgPath != "" {
		paths.ConfigFile = cfgPath
	}
	return &session{cfg: cfg, cfgPath: cfgPath, paths: paths}, nil
}

// startApp builds the app, installs tracing when enabled and loads the
// project. The returned function releases everything.
func startApp(ctx context.Context, rt *session) (*coreapp.App, func(), error) {
	shutdownTracing := func(context.Context) error { return nil }
	obs := rt.cfg.Observability
	if obs.EnableTracing {
		var err error
		shutdownTracing, err = observability.SetupTracing(ctx, observability.TracingConfig{
			Endpoint:    obs.OTLPEndpoint,
			Insecure:    obs.OTLPInsecure,
			SampleRatio: obs.SampleRatio,
			ServiceName: obs.ServiceName,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	a, err := coreapp.New(rt.cfg, rt.paths)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, nil, err
	}
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Typecheck.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
		if err := shutdownTracing(closeCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}

	if err := a.Start(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return a, cleanup, nil
}
