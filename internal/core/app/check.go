package app

import (
	"context"
	"semcache/internal/core/errors"
	"semcache/internal/core/ports"
	"semcache/internal/data/library"
	"semcache/internal/engine/naming"
	"semcache/internal/engine/prelude"
	"semcache/internal/shared/observability"
	"semcache/internal/shared/util"
	"time"
)

type LibrarySummary struct {
	Name        string
	Version     string
	External    bool
	Files       int
	Definitions int
	Failed      int
}

type DefinitionResult struct {
	Location naming.ModuleLocation
	Name     string
	Status   naming.Status
}

type CheckReport struct {
	Libraries     []LibrarySummary
	Definitions   []DefinitionResult
	Diagnostics   []ports.Diagnostic
	Notifications []library.Notification
	Duration      time.Duration
}

// Failed reports whether any checked definition ended with errors or a
// library problem is pending.
func (r CheckReport) Failed() bool {
	for _, d := range r.Definitions {
		if d.Status.HasErrorsOrDependencyErrors() {
			return true
		}
	}
	return len(r.Notifications) > 0
}

// Check typechecks the named libraries, or every loaded library except the
// prelude when names is empty.
func (a *App) Check(ctx context.Context, names ...string) (CheckReport, error) {
	ctx, span := observability.StartSpan(ctx, "app.Check")
	defer span.End()
	start := time.Now()

	libs, err := a.selectLibraries(names)
	if err != nil {
		span.RecordError(err)
		return CheckReport{}, err
	}

	var report CheckReport
	for _, lib := range libs {
		summary := LibrarySummary{Name: lib.Name(), Version: lib.Version(), External: lib.IsExternal()}
		for _, f := range lib.Files() {
			statuses, err := a.Service.TypecheckFile(ctx, f)
			if err != nil {
				span.RecordError(err)
				return CheckReport{}, errors.AddContext(err, errors.CtxPath, f.Path())
			}
			summary.Files++
			for _, name := range util.SortedStringKeys(statuses) {
				st := statuses[name]
				summary.Definitions++
				if st.HasErrorsOrDependencyErrors() {
					summary.Failed++
				}
				report.Definitions = append(report.Definitions, DefinitionResult{
					Location: f.Location(),
					Name:     name,
					Status:   st,
				})
			}
		}
		report.Libraries = append(report.Libraries, summary)
	}
	report.Diagnostics = a.Service.Diagnostics().All()
	report.Notifications = a.Notifications()
	report.Duration = time.Since(start)
	return report, nil
}

func (a *App) selectLibraries(names []string) ([]ports.Library, error) {
	loaded := a.Service.Libraries()
	if len(names) == 0 {
		out := make([]ports.Library, 0, len(loaded))
		for _, lib := range loaded {
			if lib.Name() != prelude.LibraryName {
				out = append(out, lib)
			}
		}
		return out, nil
	}

	byName := make(map[string]ports.Library, len(loaded))
	for _, lib := range loaded {
		byName[lib.Name()] = lib
	}
	out := make([]ports.Library, 0, len(names))
	for _, name := range names {
		lib, ok := byName[name]
		if !ok {
			return nil, errors.AddContext(errors.New(errors.CodeNotFound, "library is not loaded"), errors.CtxLibrary, name)
		}
		out = append(out, lib)
	}
	return out, nil
}
