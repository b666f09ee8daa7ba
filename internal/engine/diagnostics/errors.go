// Package diagnostics keeps the errors and warnings produced while checking
// definitions, keyed by the definition handle they belong to.
package diagnostics

import (
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"sort"
	"sync"
)

type Service struct {
	mu    sync.RWMutex
	byDef map[naming.RefID][]ports.Diagnostic
}

func NewService() *Service {
	return &Service{byDef: make(map[naming.RefID][]ports.Diagnostic)}
}

func (s *Service) Report(d ports.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDef[d.Definition] = append(s.byDef[d.Definition], d)
}

// ClearDefinition drops every diagnostic of def, site diagnostics included.
func (s *Service) ClearDefinition(def naming.RefID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDef, def)
}

func (s *Service) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDef = make(map[naming.RefID][]ports.Diagnostic)
}

func (s *Service) ForDefinition(def naming.RefID) []ports.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ports.Diagnostic(nil), s.byDef[def]...)
}

// ForFile returns the diagnostics located in path ordered by offset.
func (s *Service) ForFile(path string) []ports.Diagnostic {
	var out []ports.Diagnostic
	for _, d := range s.All() {
		if d.File == path {
			out = append(out, d)
		}
	}
	return out
}

// All returns every diagnostic ordered by file, offset and message.
func (s *Service) All() []ports.Diagnostic {
	s.mu.RLock()
	out := make([]ports.Diagnostic, 0, len(s.byDef))
	for _, ds := range s.byDef {
		out = append(out, ds...)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Count returns the number of diagnostics with the given severity.
func (s *Service) Count(sev ports.Severity) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ds := range s.byDef {
		for _, d := range ds {
			if d.Severity == sev {
				n++
			}
		}
	}
	return n
}
