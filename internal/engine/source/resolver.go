package source

import (
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"strings"
)

// Resolver implements lexical scoping for the reference language: the
// enclosing file first, then its imports, then the implicitly opened modules.
type Resolver struct {
	tree     *Tree
	implicit []string
}

var _ ports.ScopeResolver = (*Resolver)(nil)

// NewResolver builds a resolver; implicit lists module paths every file sees
// without importing them.
func NewResolver(tree *Tree, implicit ...string) *Resolver {
	return &Resolver{tree: tree, implicit: implicit}
}

func (r *Resolver) ResolveReference(site ports.ReferenceSite) naming.Referable {
	name := site.Text()
	if name == "" {
		return nil
	}

	var file *File
	if ref, ok := site.(*Reference); ok {
		file = ref.def.file
	} else if f, ok := r.tree.File(site.FilePath()); ok {
		file = f
	}

	if file != nil {
		if d := lookupInFile(file, name); d != nil {
			return d
		}
		for _, mod := range file.Imports() {
			if d := r.lookupInModule(mod, name); d != nil {
				return d
			}
		}
	}
	for _, mod := range r.implicit {
		if d := r.lookupInModule(mod, name); d != nil {
			return d
		}
	}
	if d := r.lookupQualified(name); d != nil {
		return d
	}
	return nil
}

func (r *Resolver) lookupInModule(modulePath, name string) *Definition {
	for _, f := range r.tree.ModuleFiles(modulePath) {
		if d := lookupInFile(f, name); d != nil {
			return d
		}
	}
	return nil
}

// lookupQualified splits Module.Path.name at every dot and tries the module
// prefixes from the longest down.
func (r *Resolver) lookupQualified(name string) *Definition {
	parts := strings.Split(name, ".")
	for i := len(parts) - 1; i > 0; i-- {
		mod := strings.Join(parts[:i], ".")
		rest := strings.Join(parts[i:], ".")
		for _, f := range r.tree.ModuleFiles(mod) {
			if d, ok := f.Definition(rest); ok && d.IsValid() {
				return d
			}
		}
	}
	return nil
}

// lookupInFile prefers an exact long-name match, then the first definition
// whose own name matches in source order.
func lookupInFile(f *File, name string) *Definition {
	defs := f.Definitions()
	for _, d := range defs {
		if d.IsValid() && d.LongName().String() == name {
			return d
		}
	}
	if strings.Contains(name, ".") {
		return nil
	}
	for _, d := range defs {
		if d.IsValid() && d.RefName() == name {
			return d
		}
	}
	return nil
}
