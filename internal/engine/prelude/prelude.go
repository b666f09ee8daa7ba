// Package prelude ships the built-in module every source file sees.
package prelude

import (
	_ "embed"
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"semcache/internal/engine/source"
)

const (
	LibraryName = "prelude"
	ModulePath  = "Prelude"
	Version     = "1.0.0"
)

//go:embed Prelude.sem
var Source string

// Location is the module location of the prelude file.
var Location = naming.ModuleLocation{Library: LibraryName, Kind: naming.GeneratedModule, Path: ModulePath}

// Library is the prelude as a ports.Library. It is external: its names go to
// the external partition of the additional-names index.
type Library struct {
	file *source.File
}

var _ ports.Library = (*Library)(nil)

// Load parses the embedded prelude into tree without notifying listeners.
func Load(tree *source.Tree) (*Library, error) {
	f, err := tree.Load("<prelude>/"+ModulePath+".sem", Location, Source)
	if err != nil {
		return nil, err
	}
	return &Library{file: f}, nil
}

func (l *Library) Name() string           { return LibraryName }
func (l *Library) Version() string        { return Version }
func (l *Library) IsExternal() bool       { return true }
func (l *Library) Dependencies() []string { return nil }
func (l *Library) File() *source.File     { return l.file }

func (l *Library) Files() []ports.File {
	return []ports.File{l.file}
}
