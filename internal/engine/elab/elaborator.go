// Package elab is the reference "typecheck one definition" primitive. It
// resolves every reference of a definition, records the dependencies and
// turns the !error and !warn markers of the reference language into
// diagnostics. It does not infer types.
package elab

import (
	"fmt"
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"strings"
)

const (
	ErrorMarker   = "!error"
	WarningMarker = "!warn"
)

// StepHook runs before each elaboration step. Tests use it to pause a check
// or count elaborations.
type StepHook func(def ports.Definition, step int)

type Elaborator struct {
	hook StepHook
}

var _ ports.Elaborator = (*Elaborator)(nil)

func New() *Elaborator {
	return &Elaborator{}
}

// WithHook returns a copy of e that calls hook before each step.
func (e *Elaborator) WithHook(hook StepHook) *Elaborator {
	return &Elaborator{hook: hook}
}

func (e *Elaborator) Elaborate(ec ports.ElaborationContext, def ports.Definition) (ports.ElaborationResult, error) {
	status := naming.NoErrors
	step := 0
	next := func() error {
		if e.hook != nil {
			e.hook(def, step)
		}
		step++
		return ec.Checkpoint()
	}

	for _, site := range def.References() {
		if err := next(); err != nil {
			return ports.ElaborationResult{}, err
		}
		target := ec.Resolve(site)
		if target == nil || target == naming.NullReferable {
			ec.Report(ports.Diagnostic{
				Severity: ports.SeverityError,
				Message:  fmt.Sprintf("cannot resolve %q", site.Text()),
				Site:     site.Anchor(),
				File:     site.FilePath(),
				Offset:   site.Offset(),
			})
			status = worse(status, naming.HasErrors)
			continue
		}
		if ref, ok := ec.TCReferable(target); ok {
			ec.RecordDependency(ref)
		}
	}

	if err := next(); err != nil {
		return ports.ElaborationResult{}, err
	}
	for _, word := range strings.Fields(def.Body()) {
		switch word {
		case ErrorMarker:
			ec.Report(ports.Diagnostic{Severity: ports.SeverityError, Message: "error marker in " + def.RefName()})
			status = worse(status, naming.HasErrors)
		case WarningMarker:
			ec.Report(ports.Diagnostic{Severity: ports.SeverityWarning, Message: "warning marker in " + def.RefName()})
			status = worse(status, naming.HasWarnings)
		}
	}

	return ports.ElaborationResult{
		Status: status,
		Params: naming.ParamNames(def.Signature()),
	}, nil
}

func worse(a, b naming.Status) naming.Status {
	if b > a {
		return b
	}
	return a
}
