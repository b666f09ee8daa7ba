// Package source is a small in-memory syntax layer for the reference
// language. Nodes keep their anchor across edits when the edit leaves the
// node in place, so durable pointers and text hashes behave like they do in
// an editor's syntax tree.
package source

import (
	"fmt"
	"semcache/internal/core/ports"
	"semcache/internal/engine/naming"
	"sort"
	"strings"
	"sync"
)

type node struct {
	anchor naming.AnchorID

	mu    sync.RWMutex
	text  string
	valid bool
}

func (n *node) Anchor() naming.AnchorID { return n.anchor }

func (n *node) Text() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.text
}

func (n *node) IsValid() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.valid
}

// Reference is one name occurrence inside a definition.
type Reference struct {
	node
	def    *Definition
	offset int
}

func (r *Reference) Offset() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.offset
}

func (r *Reference) FilePath() string   { return r.def.file.path }
func (r *Reference) Owner() *Definition { return r.def }
func (r *Reference) String() string     { return fmt.Sprintf("%s@%d", r.Text(), r.Offset()) }

// Definition is a definition node. Kind and parent never change; everything
// else is refreshed in place when the definition is edited.
type Definition struct {
	node
	file   *File
	parent *Definition
	dkind  defKind

	use      bool
	name     string
	params   []string
	class    string
	args     []string
	body     string
	offset   int
	refs     []*Reference
	children []*Definition
	internal []*Definition
}

var _ ports.Group = (*Definition)(nil)

func (d *Definition) RefName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *Definition) Location() naming.ModuleLocation { return d.file.loc }
func (d *Definition) File() *File                     { return d.file }

func (d *Definition) LongName() naming.LongName {
	if d.parent == nil {
		return naming.LongName{d.RefName()}
	}
	return d.parent.LongName().Child(d.RefName())
}

func (d *Definition) Kind() naming.Kind {
	switch d.dkind {
	case kindData:
		return naming.DataKind
	case kindClass:
		return naming.ClassKind
	case kindInstance:
		return naming.InstanceKind
	case kindConstructor:
		return naming.ConstructorKind
	case kindField:
		return naming.FieldKind
	default:
		return naming.FunctionKind
	}
}

func (d *Definition) Signature() naming.Signature {
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch d.dkind {
	case kindData:
		names := make([]string, 0, len(d.internal))
		for _, c := range d.internal {
			names = append(names, c.RefName())
		}
		return naming.DataSignature{Params: explicit(d.params), Constructors: names}
	case kindClass:
		fields := make([]naming.Param, 0, len(d.internal))
		for _, f := range d.internal {
			fields = append(fields, naming.Param{Name: f.RefName(), Type: f.argText(), Explicit: true})
		}
		return naming.ClassSignature{Super: append([]string(nil), d.params...), Fields: fields}
	case kindInstance:
		return naming.InstanceSignature{Class: d.class, Params: explicit(d.params)}
	case kindConstructor:
		params := make([]naming.Param, 0, len(d.args))
		for i, a := range d.args {
			params = append(params, naming.Param{Name: fmt.Sprintf("_%d", i), Type: a, Explicit: true})
		}
		return naming.ConstructorSignature{Data: d.parent.RefName(), Params: params}
	case kindField:
		return naming.FieldSignature{Class: d.parent.RefName(), Type: strings.Join(d.args, " ")}
	default:
		return naming.FunctionSignature{Params: explicit(d.params)}
	}
}

func (d *Definition) argText() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.Join(d.args, " ")
}

func explicit(names []string) []naming.Param {
	out := make([]naming.Param, 0, len(names))
	for _, n := range names {
		out = append(out, naming.Param{Name: n, Explicit: true})
	}
	return out
}

func (d *Definition) Body() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.body
}

func (d *Definition) Offset() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.offset
}

func (d *Definition) References() []ports.ReferenceSite {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ports.ReferenceSite, 0, len(d.refs))
	for _, r := range d.refs {
		out = append(out, r)
	}
	return out
}

// Reference returns the i-th reference of the definition.
func (d *Definition) Reference(i int) (*Reference, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i < 0 || i >= len(d.refs) {
		return nil, false
	}
	return d.refs[i], true
}

func (d *Definition) IsUse() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.use
}

func (d *Definition) ParentGroup() (ports.Group, bool) {
	if d.parent == nil {
		return nil, false
	}
	return d.parent, true
}

func (d *Definition) Subgroups() []ports.Group {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ports.Group, 0, len(d.children))
	for _, c := range d.children {
		out = append(out, c)
	}
	return out
}

func (d *Definition) InternalReferables() []ports.Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ports.Definition, 0, len(d.internal))
	for _, c := range d.internal {
		out = append(out, c)
	}
	return out
}

func (d *Definition) String() string {
	return d.Location().Path + "." + d.LongName().String()
}

func (d *Definition) walk(fn func(*Definition)) {
	fn(d)
	d.mu.RLock()
	nested := make([]*Definition, 0, len(d.internal)+len(d.children))
	nested = append(nested, d.internal...)
	nested = append(nested, d.children...)
	d.mu.RUnlock()
	for _, c := range nested {
		c.walk(fn)
	}
}

// File is one parsed module. Its definition list is guarded by the tree lock.
type File struct {
	tree *Tree
	path string
	loc  naming.ModuleLocation
	repl bool

	content string
	imports []string
	groups  []*Definition

	lastMu sync.Mutex
	last   ports.Definition
}

var _ ports.File = (*File)(nil)

func (f *File) Path() string                    { return f.path }
func (f *File) Location() naming.ModuleLocation { return f.loc }
func (f *File) IsRepl() bool                    { return f.repl }

func (f *File) Content() string {
	f.tree.mu.RLock()
	defer f.tree.mu.RUnlock()
	return f.content
}

func (f *File) Imports() []string {
	f.tree.mu.RLock()
	defer f.tree.mu.RUnlock()
	return append([]string(nil), f.imports...)
}

func (f *File) Groups() []ports.Group {
	f.tree.mu.RLock()
	defer f.tree.mu.RUnlock()
	out := make([]ports.Group, 0, len(f.groups))
	for _, g := range f.groups {
		out = append(out, g)
	}
	return out
}

func (f *File) topLevel() []*Definition {
	f.tree.mu.RLock()
	defer f.tree.mu.RUnlock()
	return append([]*Definition(nil), f.groups...)
}

// Definitions lists every definition of the file in source order, nested
// ones included.
func (f *File) Definitions() []*Definition {
	var out []*Definition
	for _, g := range f.topLevel() {
		g.walk(func(d *Definition) { out = append(out, d) })
	}
	return out
}

// Definition finds a definition by its dotted long name.
func (f *File) Definition(longName string) (*Definition, bool) {
	for _, d := range f.Definitions() {
		if d.LongName().String() == longName {
			return d, true
		}
	}
	return nil, false
}

// ReferenceAt returns the reference starting at offset.
func (f *File) ReferenceAt(offset int) (*Reference, bool) {
	for _, d := range f.Definitions() {
		d.mu.RLock()
		for _, r := range d.refs {
			if r.Offset() == offset {
				d.mu.RUnlock()
				return r, true
			}
		}
		d.mu.RUnlock()
	}
	return nil, false
}

func (f *File) LastModifiedDefinition() (ports.Definition, bool) {
	f.lastMu.Lock()
	defer f.lastMu.Unlock()
	return f.last, f.last != nil
}

func (f *File) SetLastModifiedDefinition(def ports.Definition) {
	f.lastMu.Lock()
	defer f.lastMu.Unlock()
	f.last = def
}

// Tree owns every node and hands out anchors. It implements
// ports.SyntaxTree and ports.ChangeNotifier.
type Tree struct {
	mu         sync.RWMutex
	nextAnchor naming.AnchorID
	nodes      map[naming.AnchorID]ports.SyntaxNode
	files      map[string]*File

	listenMu  sync.RWMutex
	listeners []ports.DefinitionChangeListener
}

var (
	_ ports.SyntaxTree     = (*Tree)(nil)
	_ ports.ChangeNotifier = (*Tree)(nil)
)

func NewTree() *Tree {
	return &Tree{
		nodes: make(map[naming.AnchorID]ports.SyntaxNode),
		files: make(map[string]*File),
	}
}

func (t *Tree) AddListener(l ports.DefinitionChangeListener) {
	t.listenMu.Lock()
	defer t.listenMu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *Tree) Node(anchor naming.AnchorID) (ports.SyntaxNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[anchor]
	return n, ok
}

func (t *Tree) File(path string) (*File, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.files[path]
	return f, ok
}

// Files returns every file ordered by path.
func (t *Tree) Files() []*File {
	t.mu.RLock()
	out := make([]*File, 0, len(t.files))
	for _, f := range t.files {
		out = append(out, f)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// ModuleFiles returns the files whose module path is modulePath, in any library.
func (t *Tree) ModuleFiles(modulePath string) []*File {
	var out []*File
	for _, f := range t.Files() {
		if f.loc.Path == modulePath && !f.repl {
			out = append(out, f)
		}
	}
	return out
}

func (t *Tree) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Update replaces the content of path and notifies listeners about every
// added, changed or removed definition.
func (t *Tree) Update(path string, loc naming.ModuleLocation, content string) (*File, error) {
	return t.set(path, loc, content, false, true)
}

// Load is Update without notifications. Library loading uses it.
func (t *Tree) Load(path string, loc naming.ModuleLocation, content string) (*File, error) {
	return t.set(path, loc, content, false, false)
}

// UpdateRepl stores a REPL buffer. Listeners are notified; they are expected
// to ignore REPL files.
func (t *Tree) UpdateRepl(path, content string) (*File, error) {
	return t.set(path, naming.ModuleLocation{Library: "repl", Path: path}, content, true, true)
}

// Remove deletes a file and invalidates all of its nodes.
func (t *Tree) Remove(path string, notify bool) bool {
	var ev events
	t.mu.Lock()
	f, ok := t.files[path]
	if ok {
		for _, g := range f.groups {
			t.dropLocked(g, &ev)
		}
		f.groups = nil
		delete(t.files, path)
	}
	t.mu.Unlock()
	if ok && notify {
		t.notify(f, &ev)
	}
	return ok
}

type events struct {
	changed []*Definition
	removed []*Definition
}

func (t *Tree) set(path string, loc naming.ModuleLocation, content string, repl, notify bool) (*File, error) {
	parsed, err := parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var ev events
	t.mu.Lock()
	f, ok := t.files[path]
	if !ok || f.loc != loc || f.repl != repl {
		if ok {
			for _, g := range f.groups {
				t.dropLocked(g, &ev)
			}
		}
		f = &File{tree: t, path: path, loc: loc, repl: repl}
		t.files[path] = f
	}
	f.content = content
	f.imports = parsed.imports
	f.groups = t.reconcileLocked(f, nil, f.groups, parsed.groups, &ev)
	t.mu.Unlock()

	if notify {
		t.notify(f, &ev)
	}
	return f, nil
}

func (t *Tree) notify(f *File, ev *events) {
	if len(ev.changed) == 0 && len(ev.removed) == 0 {
		return
	}
	t.listenMu.RLock()
	listeners := append([]ports.DefinitionChangeListener(nil), t.listeners...)
	t.listenMu.RUnlock()
	for _, l := range listeners {
		for _, d := range ev.removed {
			l.UpdateDefinition(d, f, false)
		}
		for _, d := range ev.changed {
			l.UpdateDefinition(d, f, false)
		}
	}
}

func (t *Tree) allocLocked(n ports.SyntaxNode, set func(naming.AnchorID)) {
	t.nextAnchor++
	set(t.nextAnchor)
	t.nodes[t.nextAnchor] = n
}

// reconcileLocked matches parsed definitions to existing ones by position and
// kind. Matched nodes keep their anchors.
func (t *Tree) reconcileLocked(f *File, parent *Definition, olds []*Definition, news []*parsedDef, ev *events) []*Definition {
	out := make([]*Definition, 0, len(news))
	for i, p := range news {
		if i < len(olds) && olds[i].dkind == p.kind {
			t.refreshLocked(f, olds[i], p, ev)
			out = append(out, olds[i])
			continue
		}
		if i < len(olds) {
			t.dropLocked(olds[i], ev)
		}
		out = append(out, t.newDefinitionLocked(f, parent, p, ev))
	}
	for i := len(news); i < len(olds); i++ {
		t.dropLocked(olds[i], ev)
	}
	return out
}

func (t *Tree) refreshLocked(f *File, d *Definition, p *parsedDef, ev *events) {
	d.mu.Lock()
	changed := d.text != p.text
	d.text = p.text
	d.use = p.use
	d.name = p.name
	d.params = p.params
	d.class = p.class
	d.args = p.args
	d.body = p.body
	d.offset = p.offset
	oldRefs, oldInternal, oldChildren := d.refs, d.internal, d.children
	d.mu.Unlock()

	refs := t.reconcileRefsLocked(d, oldRefs, p.refs)
	internal := t.reconcileLocked(f, d, oldInternal, p.internal, ev)
	children := t.reconcileLocked(f, d, oldChildren, p.children, ev)

	d.mu.Lock()
	d.refs, d.internal, d.children = refs, internal, children
	d.mu.Unlock()
	if changed {
		ev.changed = append(ev.changed, d)
	}
}

func (t *Tree) reconcileRefsLocked(d *Definition, olds []*Reference, news []parsedRef) []*Reference {
	out := make([]*Reference, 0, len(news))
	for i, p := range news {
		if i < len(olds) {
			r := olds[i]
			r.mu.Lock()
			r.text = p.text
			r.offset = p.offset
			r.mu.Unlock()
			out = append(out, r)
			continue
		}
		out = append(out, t.newReferenceLocked(d, p))
	}
	for i := len(news); i < len(olds); i++ {
		t.invalidateLocked(&olds[i].node)
	}
	return out
}

func (t *Tree) newReferenceLocked(d *Definition, p parsedRef) *Reference {
	r := &Reference{def: d, offset: p.offset}
	r.text = p.text
	r.valid = true
	t.allocLocked(r, func(id naming.AnchorID) { r.anchor = id })
	return r
}

func (t *Tree) newDefinitionLocked(f *File, parent *Definition, p *parsedDef, ev *events) *Definition {
	d := &Definition{
		file:   f,
		parent: parent,
		dkind:  p.kind,
		use:    p.use,
		name:   p.name,
		params: p.params,
		class:  p.class,
		args:   p.args,
		body:   p.body,
		offset: p.offset,
	}
	d.text = p.text
	d.valid = true
	t.allocLocked(d, func(id naming.AnchorID) { d.anchor = id })
	ev.changed = append(ev.changed, d)

	for _, pr := range p.refs {
		d.refs = append(d.refs, t.newReferenceLocked(d, pr))
	}
	for _, pi := range p.internal {
		d.internal = append(d.internal, t.newDefinitionLocked(f, d, pi, ev))
	}
	for _, pc := range p.children {
		d.children = append(d.children, t.newDefinitionLocked(f, d, pc, ev))
	}
	return d
}

func (t *Tree) dropLocked(d *Definition, ev *events) {
	d.mu.RLock()
	refs, internal, children := d.refs, d.internal, d.children
	d.mu.RUnlock()
	for _, r := range refs {
		t.invalidateLocked(&r.node)
	}
	for _, c := range internal {
		t.dropLocked(c, ev)
	}
	for _, c := range children {
		t.dropLocked(c, ev)
	}
	t.invalidateLocked(&d.node)
	ev.removed = append(ev.removed, d)
}

func (t *Tree) invalidateLocked(n *node) {
	n.mu.Lock()
	n.valid = false
	n.mu.Unlock()
	delete(t.nodes, n.anchor)
}
