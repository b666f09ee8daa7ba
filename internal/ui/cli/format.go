package cli

import (
	"encoding/json"
	"fmt"
	"io"
	coreapp "semcache/internal/core/app"
	"semcache/internal/data/libstore"
	"text/tabwriter"
	"time"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func validateFormat(format string) error {
	switch format {
	case formatText, formatJSON:
		return nil
	default:
		return fmt.Errorf("invalid --format %q: must be text or json", format)
	}
}

type libraryRow struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Internal  bool       `json:"internal"`
	Dir       string     `json:"dir"`
	LastLoad  *time.Time `json:"last_load,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type definitionJSON struct {
	Library string `json:"library"`
	Module  string `json:"module"`
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Status  string `json:"status"`
}

type diagnosticJSON struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

type checkJSON struct {
	Libraries     []coreapp.LibrarySummary `json:"libraries"`
	Definitions   []definitionJSON         `json:"definitions"`
	Diagnostics   []diagnosticJSON         `json:"diagnostics"`
	Notifications []string                 `json:"notifications"`
	DurationMS    int64                    `json:"duration_ms"`
	Failed        bool                     `json:"failed"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCheckReport(w io.Writer, format string, report coreapp.CheckReport) error {
	if format == formatJSON {
		out := checkJSON{
			Libraries:     report.Libraries,
			Definitions:   make([]definitionJSON, 0, len(report.Definitions)),
			Diagnostics:   make([]diagnosticJSON, 0, len(report.Diagnostics)),
			Notifications: make([]string, 0, len(report.Notifications)),
			DurationMS:    report.Duration.Milliseconds(),
			Failed:        report.Failed(),
		}
		for _, d := range report.Definitions {
			out.Definitions = append(out.Definitions, definitionJSON{
				Library: d.Location.Library,
				Module:  d.Location.Path,
				Kind:    d.Location.Kind.String(),
				Name:    d.Name,
				Status:  d.Status.String(),
			})
		}
		for _, d := range report.Diagnostics {
			out.Diagnostics = append(out.Diagnostics, diagnosticJSON{
				Severity: d.Severity.String(),
				Message:  d.Message,
				File:     d.File,
				Offset:   d.Offset,
			})
		}
		for _, n := range report.Notifications {
			out.Notifications = append(out.Notifications, n.Message)
		}
		return writeJSON(w, out)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, lib := range report.Libraries {
		fmt.Fprintf(tw, "library\t%s\t%s\t%d files\t%d definitions\t%d failed\n",
			lib.Name, lib.Version, lib.Files, lib.Definitions, lib.Failed)
	}
	for _, d := range report.Definitions {
		if d.Status.IsOK() && !d.Status.HasAnyWarnings() {
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Location, d.Name, d.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, d := range report.Diagnostics {
		if d.File != "" {
			fmt.Fprintf(w, "%s:%d: %s: %s\n", d.File, d.Offset, d.Severity, d.Message)
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", d.Severity, d.Message)
	}
	for _, n := range report.Notifications {
		if n.Action != "" {
			fmt.Fprintf(w, "notice: %s (run: %s)\n", n.Message, n.Action)
			continue
		}
		fmt.Fprintf(w, "notice: %s\n", n.Message)
	}
	status := "ok"
	if report.Failed() {
		status = "FAILED"
	}
	_, err := fmt.Fprintf(w, "%s: %d definitions checked in %s\n", status, len(report.Definitions), report.Duration.Round(time.Millisecond))
	return err
}

func writeUpdate(w io.Writer, format string, u coreapp.Update) error {
	if format == formatJSON {
		modules := make([]string, 0, len(u.Modules))
		for _, m := range u.Modules {
			modules = append(modules, m.String())
		}
		return writeJSON(w, map[string]any{
			"changed":  u.Changed,
			"modules":  modules,
			"errors":   u.Errors,
			"warnings": u.Warnings,
		})
	}
	_, err := fmt.Fprintf(w, "updated %d files in %d modules: %d errors, %d warnings\n",
		len(u.Changed), len(u.Modules), u.Errors, u.Warnings)
	return err
}

func writeLibraries(w io.Writer, format string, rows []libraryRow) error {
	if format == formatJSON {
		if rows == nil {
			rows = []libraryRow{}
		}
		return writeJSON(w, rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tSCOPE\tLAST LOAD\tDIR")
	for _, r := range rows {
		scope := "external"
		if r.Internal {
			scope = "internal"
		}
		last := "-"
		if r.LastLoad != nil {
			last = r.LastLoad.Local().Format(time.DateTime)
			if r.LastError != "" {
				last += " (failed)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Version, scope, last, r.Dir)
	}
	return tw.Flush()
}

func writeHistory(w io.Writer, format string, loads []libstore.Load) error {
	if format == formatJSON {
		if loads == nil {
			loads = []libstore.Load{}
		}
		return writeJSON(w, loads)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOADED AT\tVERSION\tMODULES\tDEFINITIONS\tRESULT")
	for _, l := range loads {
		result := "ok"
		if l.Failed() {
			result = l.ErrorKind + ": " + l.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", l.LoadedAt.Local().Format(time.DateTime), l.Version, l.Modules, l.Definitions, result)
	}
	return tw.Flush()
}
