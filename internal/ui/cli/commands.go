package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	coreapp "semcache/internal/core/app"
	"semcache/internal/data/library"
	"semcache/internal/data/libstore"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newCheckCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [library...]",
		Short: "Typecheck the project libraries once and report the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadSession(opts)
			if err != nil {
				return err
			}
			a, cleanup, err := startApp(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := a.Check(cmd.Context(), args...)
			if err != nil {
				return err
			}
			if err := writeCheckReport(cmd.OutOrStdout(), opts.format, report); err != nil {
				return err
			}
			if report.Failed() {
				return errCheckFailed
			}
			return nil
		},
	}
}

func newWatchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the project checked while files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadSession(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := startApp(ctx, rt)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			report, err := a.Check(ctx)
			if err != nil {
				return err
			}
			if err := writeCheckReport(out, opts.format, report); err != nil {
				return err
			}
			a.SetUpdateHandler(func(u coreapp.Update) {
				if err := writeUpdate(out, opts.format, u); err != nil {
					slog.Warn("failed to print update", "error", err)
				}
			})

			if err := a.StartWatcher(); err != nil {
				return err
			}
			if err := a.WatchConfig(ctx); err != nil {
				slog.Warn("config watcher unavailable", "error", err)
			}

			if rt.cfg.Observability.Enabled {
				server := NewObservabilityServer(rt.cfg.Observability.Address, coreapp.NewHealthService(a))
				if err := server.Start(ctx); err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := server.Stop(shutdownCtx); err != nil {
						slog.Warn("failed to stop observability server", "error", err)
					}
				}()
			}

			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		},
	}
}

func newLibrariesCmd(opts *cliOptions) *cobra.Command {
	var history string
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "libraries",
		Short: "List the libraries the project can load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadSession(opts)
			if err != nil {
				return err
			}
			if history != "" {
				return printHistory(cmd, opts, rt, history, since)
			}

			a, err := coreapp.New(rt.cfg, rt.paths)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					slog.Warn("shutdown incomplete", "error", err)
				}
			}()
			if err := a.Libraries.Refresh(cmd.Context()); err != nil {
				return err
			}

			var latest map[string]libstore.Load
			if store := a.Store(); store != nil {
				loads, err := store.Latest(rt.cfg.Project.Name)
				if err != nil {
					return err
				}
				latest = make(map[string]libstore.Load, len(loads))
				for _, l := range loads {
					latest[l.Library] = l
				}
			}

			var rows []libraryRow
			for path, internal := range a.Libraries.ManifestPaths() {
				dir := filepath.Dir(path)
				m, err := library.ReadManifest(dir)
				if err != nil {
					slog.Warn("unreadable manifest", "path", path, "error", err)
					continue
				}
				row := libraryRow{Name: m.Name, Version: m.Version, Internal: internal, Dir: dir}
				if l, ok := latest[m.Name]; ok {
					loaded := l.LoadedAt
					row.LastLoad = &loaded
					row.LastError = l.Error
				}
				rows = append(rows, row)
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
			return writeLibraries(cmd.OutOrStdout(), opts.format, rows)
		},
	}
	cmd.Flags().StringVar(&history, "history", "", "print the recorded loads of one library (requires db.enabled)")
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "how far back --history looks")
	return cmd
}

func printHistory(cmd *cobra.Command, opts *cliOptions, rt *session, name string, since time.Duration) error {
	if !rt.cfg.DB.Enabled {
		return fmt.Errorf("--history requires db.enabled = true")
	}
	store, err := libstore.Open(rt.paths.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	loads, err := store.Loads(rt.cfg.Project.Name, name, time.Now().Add(-since))
	if err != nil {
		return err
	}
	return writeHistory(cmd.OutOrStdout(), opts.format, loads)
}

func newFetchCmd(opts *cliOptions) *cobra.Command {
	var revision string
	cmd := &cobra.Command{
		Use:   "fetch <library> [repository-url]",
		Short: "Clone a library into the libraries directory",
		Long:  "Clones a library with git. The standard library defaults to libraries.std_repository from the config.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadSession(opts)
			if err != nil {
				return err
			}
			a, err := coreapp.New(rt.cfg, rt.paths)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					slog.Warn("shutdown incomplete", "error", err)
				}
			}()

			url := ""
			if len(args) == 2 {
				url = args[1]
			}
			dir, err := a.Fetch(cmd.Context(), args[0], url, revision)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetched %s into %s\n", args[0], dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&revision, "rev", "", "branch, tag or commit to check out")
	return cmd
}
