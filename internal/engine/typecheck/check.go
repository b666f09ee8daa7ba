package typecheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"semcache/internal/core/ports"
	"semcache/internal/engine/computation"
	"semcache/internal/engine/naming"
	"semcache/internal/shared/observability"
	"time"

	domain "semcache/internal/core/errors"
)

// frontier remembers the dependents invalidated by one seed. When the seed
// ends in an error they move to HasDependencyErrors without being elaborated.
type frontier struct {
	// direct dependents had an edge to the seed; it is restored on propagation.
	direct  map[naming.RefID]struct{}
	members map[naming.RefID]struct{}
}

func newFrontier() *frontier {
	return &frontier{
		direct:  make(map[naming.RefID]struct{}),
		members: make(map[naming.RefID]struct{}),
	}
}

func (f *frontier) merge(other *frontier) {
	for id := range other.direct {
		f.direct[id] = struct{}{}
	}
	for id := range other.members {
		f.members[id] = struct{}{}
	}
}

// Typecheck checks the unit ref belongs to on demand and returns its status.
// A check cancelled by an edit returns the current status, normally
// NeedsCheck, and an error matching computation.ErrCancelled.
func (s *Service) Typecheck(ctx context.Context, ref *naming.TCReferable) (naming.Status, error) {
	if ref == nil {
		return naming.NotNeeded, domain.New(domain.CodeValidationError, "typecheck: nil definition")
	}
	if !s.initialized.Load() {
		return ref.Status(), domain.New(domain.CodeNotInitialized, "typechecking service is not initialized")
	}
	unit := ref.Typecheckable()
	ctx, span := observability.StartSpan(ctx, "typecheck.Typecheck", "definition", unit.String())
	defer span.End()
	return s.check(ctx, unit, make(map[naming.RefID]bool))
}

// TypecheckModule checks every indexed definition of loc. Cancelled checks
// are reported as NeedsCheck; only a done ctx fails the call.
func (s *Service) TypecheckModule(ctx context.Context, loc naming.ModuleLocation) (map[string]naming.Status, error) {
	if !s.initialized.Load() {
		return nil, domain.New(domain.CodeNotInitialized, "typechecking service is not initialized")
	}
	return s.checkAll(ctx, s.index.Definitions(loc))
}

// TypecheckFile registers the definitions of file and checks them.
func (s *Service) TypecheckFile(ctx context.Context, file ports.File) (map[string]naming.Status, error) {
	if !s.initialized.Load() {
		return nil, domain.New(domain.CodeNotInitialized, "typechecking service is not initialized")
	}
	if file.IsRepl() {
		return map[string]naming.Status{}, nil
	}
	return s.checkAll(ctx, s.fileHandles(file))
}

// TypecheckLibrary checks every definition of lib.
func (s *Service) TypecheckLibrary(ctx context.Context, lib ports.Library) error {
	var refs []*naming.TCReferable
	for _, f := range lib.Files() {
		refs = append(refs, s.fileHandles(f)...)
	}
	results, err := s.checkAll(ctx, refs)
	if err != nil {
		return err
	}
	failed := 0
	for _, st := range results {
		if st.HasErrorsOrDependencyErrors() {
			failed++
		}
	}
	slog.Debug("library checked", "library", lib.Name(), "definitions", len(results), "failed", failed)
	return nil
}

func (s *Service) fileHandles(file ports.File) []*naming.TCReferable {
	var refs []*naming.TCReferable
	for _, g := range file.Groups() {
		walkGroup(g, func(d ports.Definition) {
			if d.IsValid() {
				refs = append(refs, s.tcReferableFor(d))
			}
		})
	}
	return refs
}

func (s *Service) checkAll(ctx context.Context, refs []*naming.TCReferable) (map[string]naming.Status, error) {
	out := make(map[string]naming.Status, len(refs))
	for _, ref := range refs {
		unit := ref.Typecheckable()
		st, err := s.check(ctx, unit, make(map[naming.RefID]bool))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			if !errors.Is(err, computation.ErrCancelled) {
				return out, err
			}
		}
		if unit != ref {
			st = unit.Status()
		}
		out[ref.LongName().String()] = st
	}
	return out, nil
}

func (s *Service) check(ctx context.Context, ref *naming.TCReferable, visiting map[naming.RefID]bool) (naming.Status, error) {
	if err := ctx.Err(); err != nil {
		return ref.Status(), err
	}
	if visiting[ref.ID()] || !ref.Status().NeedsTypechecking() {
		return ref.Status(), nil
	}
	visiting[ref.ID()] = true

	def, ok := s.definitionOf(ref)
	if !ok {
		if s.isExtension(ref.ID()) {
			_, _, gen := ref.Snapshot()
			core := &naming.CoreDefinition{Referable: ref, Params: naming.ParamNames(ref.Signature())}
			ref.SetResult(gen, naming.NoErrors, core)
			return ref.Status(), nil
		}
		slog.Debug("dropping definition without syntax", "definition", ref.String())
		s.detach(ref)
		return naming.NotNeeded, nil
	}

	// Seeds this definition is waiting on and dependencies recorded by its last
	// run are settled first; an erroneous one resolves it without elaboration.
	for _, dep := range s.prerequisites(ref) {
		if _, err := s.check(ctx, dep, visiting); err != nil {
			return ref.Status(), err
		}
		if !ref.Status().NeedsTypechecking() {
			return ref.Status(), nil
		}
	}

	gen, ok := ref.BeginCheck()
	if !ok {
		return ref.Status(), nil
	}
	start := time.Now()

	tok, err := s.gate.Begin(ctx, ref.ID())
	if err != nil {
		ref.AbortCheck(gen)
		return ref.Status(), err
	}
	if _, _, cur := ref.Snapshot(); cur != gen {
		s.gate.End(tok)
		return ref.Status(), &computation.CancelledError{Reason: "definition changed before check"}
	}

	s.graph.ForgetDependencies(ref.ID())
	s.errors.ClearDefinition(ref.ID())
	s.clearUnresolved(ref.ID())

	ec := &elabContext{s: s, ref: ref, tok: tok}
	res, elabErr := s.deps.Elaborator.Elaborate(ec, def)
	cancelled := tok.Cancelled() || errors.Is(elabErr, computation.ErrCancelled)
	if cancelled {
		s.errors.ClearDefinition(ref.ID())
	}
	s.gate.End(tok)

	if cancelled {
		ref.AbortCheck(gen)
		if elabErr == nil || !errors.Is(elabErr, computation.ErrCancelled) {
			elabErr = &computation.CancelledError{Reason: tok.Reason()}
		}
		slog.Debug("check cancelled", "definition", ref.String(), "reason", tok.Reason())
		return ref.Status(), elabErr
	}

	status := res.Status
	if elabErr != nil {
		status = naming.HasErrors
		s.errors.Report(ports.Diagnostic{
			Severity:   ports.SeverityError,
			Message:    fmt.Sprintf("elaboration failed: %v", elabErr),
			Definition: ref.ID(),
			Location:   ref.Location(),
		})
	}
	if !status.IsFinal() {
		status = naming.NoErrors
	}

	deps := s.graph.Dependencies(ref.ID())
	for _, id := range deps {
		dep, ok := s.index.Lookup(id)
		if !ok {
			continue
		}
		depStatus, err := s.check(ctx, dep, visiting)
		if err != nil {
			ref.AbortCheck(gen)
			return ref.Status(), err
		}
		status = naming.Combine(status, depStatus)
	}

	core := &naming.CoreDefinition{Referable: ref, Params: res.Params, Dependencies: deps}
	if !ref.SetResult(gen, status, core) {
		return ref.Status(), &computation.CancelledError{Reason: "definition changed during check"}
	}
	observability.TypecheckDuration.WithLabelValues(status.String()).Observe(time.Since(start).Seconds())

	s.propagate(ref, status)
	return status, nil
}

// prerequisites lists the pending seeds whose frontier holds ref, then the
// dependencies recorded for ref.
func (s *Service) prerequisites(ref *naming.TCReferable) []*naming.TCReferable {
	var out []*naming.TCReferable
	s.mu.Lock()
	for seed, fr := range s.frontiers {
		if _, ok := fr.members[ref.ID()]; ok {
			if dep, ok := s.index.Lookup(seed); ok {
				out = append(out, dep)
			}
		}
	}
	s.mu.Unlock()
	for _, id := range s.graph.Dependencies(ref.ID()) {
		if dep, ok := s.index.Lookup(id); ok {
			out = append(out, dep)
		}
	}
	return out
}

// propagate settles the frontier of ref once its own check completed.
func (s *Service) propagate(ref *naming.TCReferable, status naming.Status) {
	s.mu.Lock()
	fr := s.frontiers[ref.ID()]
	delete(s.frontiers, ref.ID())
	s.mu.Unlock()

	if fr != nil && status.HasErrorsOrDependencyErrors() {
		for id := range fr.members {
			member, ok := s.index.Lookup(id)
			if !ok {
				continue
			}
			if _, changed := member.PropagatePending(status); !changed {
				continue
			}
			if _, ok := fr.direct[id]; ok {
				s.graph.RecordDependency(id, ref.ID())
			}
		}
	}

	if _, ok := naming.DependencyStatus(status); !ok {
		return
	}
	for _, id := range s.graph.Closure(ref.ID()) {
		if member, ok := s.index.Lookup(id); ok {
			member.PropagateDependencyStatus(status)
		}
	}
}

// elabContext is the view of the service one elaboration run gets.
type elabContext struct {
	s   *Service
	ref *naming.TCReferable
	tok *computation.Token
}

var _ ports.ElaborationContext = (*elabContext)(nil)

func (ec *elabContext) Context() context.Context { return ec.tok.Context() }
func (ec *elabContext) Checkpoint() error        { return ec.tok.Checkpoint() }

func (ec *elabContext) Resolve(site ports.ReferenceSite) naming.Referable {
	target := ec.s.Resolve(site)
	if target == nil || target == naming.NullReferable {
		ec.s.recordUnresolved(ec.ref.ID(), site.Text())
	}
	return target
}

func (ec *elabContext) TCReferable(target naming.Referable) (*naming.TCReferable, bool) {
	return ec.s.TCReferable(target)
}

func (ec *elabContext) RecordDependency(dep *naming.TCReferable) {
	if dep == nil {
		return
	}
	ec.s.graph.RecordDependency(ec.ref.ID(), dep.Typecheckable().ID())
}

func (ec *elabContext) Report(d ports.Diagnostic) {
	if ec.tok.Cancelled() {
		return
	}
	d.Definition = ec.ref.ID()
	d.Location = ec.ref.Location()
	ec.s.errors.Report(d)
}
