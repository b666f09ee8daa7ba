package naming

import "sync"

// Referable is anything a reference site can resolve to.
type Referable interface {
	RefName() string
}

type nullReferable struct{}

func (nullReferable) RefName() string { return "<null>" }

// NullReferable marks a resolution that produced no target.
var NullReferable Referable = nullReferable{}

// CoreDefinition is the elaborated representation of a definition. The cache
// treats it as opaque; it is replaced wholesale on every successful check.
type CoreDefinition struct {
	Referable    *TCReferable
	Params       []string
	Dependencies []RefID
}

// TCReferable is the long-lived handle of one semantic definition. It outlives
// the syntax nodes that point at it; the syntax side is reached through Anchor.
type TCReferable struct {
	id       RefID
	location ModuleLocation
	name     LongName
	kind     Kind

	mu            sync.RWMutex
	signature     Signature
	anchor        AnchorID
	typecheckable *TCReferable
	status        Status
	core          *CoreDefinition
	generation    uint64
	ownChanged    bool
}

func (r *TCReferable) ID() RefID                { return r.id }
func (r *TCReferable) Location() ModuleLocation { return r.location }
func (r *TCReferable) LongName() LongName       { return append(LongName(nil), r.name...) }
func (r *TCReferable) Kind() Kind               { return r.kind }
func (r *TCReferable) RefName() string          { return r.name.Last() }

func (r *TCReferable) String() string {
	return r.location.Path + "." + r.name.String()
}

func (r *TCReferable) Signature() Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.signature
}

// Anchor returns the syntax anchor the handle currently points at, or zero.
func (r *TCReferable) Anchor() AnchorID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.anchor
}

// Relink points the handle at a new syntax anchor and signature.
func (r *TCReferable) Relink(anchor AnchorID, sig Signature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anchor = anchor
	if sig != nil {
		r.signature = sig
	}
}

// Typecheckable returns the handle that is checked as a unit with r: the data
// type for a constructor, the class for a field, r itself otherwise.
func (r *TCReferable) Typecheckable() *TCReferable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.typecheckable == nil {
		return r
	}
	return r.typecheckable
}

func (r *TCReferable) setTypecheckable(parent *TCReferable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if parent == r {
		parent = nil
	}
	r.typecheckable = parent
}

func (r *TCReferable) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *TCReferable) Core() *CoreDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.core
}

// Snapshot returns status, core and generation read together.
func (r *TCReferable) Snapshot() (Status, *CoreDefinition, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status, r.core, r.generation
}

// OwnChanged reports whether the definition's own syntax changed since its
// last completed check.
func (r *TCReferable) OwnChanged() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownChanged
}

// Invalidate drops the core representation and moves the handle to NeedsCheck.
// Every call starts a new generation, so results computed before it are
// rejected by SetResult.
func (r *TCReferable) Invalidate(ownChange bool) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.status = NeedsCheck
	r.core = nil
	if ownChange {
		r.ownChanged = true
	}
	return r.generation
}

// BeginCheck moves a NeedsCheck handle to Checking and returns the generation
// the result must be committed against.
func (r *TCReferable) BeginCheck() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != NeedsCheck {
		return r.generation, false
	}
	r.status = Checking
	return r.generation, true
}

// AbortCheck returns a Checking handle of generation gen to NeedsCheck.
func (r *TCReferable) AbortCheck(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation == gen && r.status == Checking {
		r.status = NeedsCheck
	}
}

// SetResult replaces status and core together if gen is still current.
func (r *TCReferable) SetResult(gen uint64, status Status, core *CoreDefinition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return false
	}
	r.status = status
	r.core = core
	r.ownChanged = false
	return true
}

// PropagateDependencyStatus moves the handle to the dependency status derived
// from dep without re-running its check. NeedsCheck handles whose own syntax
// changed are left alone; they have to be elaborated again.
func (r *TCReferable) PropagateDependencyStatus(dep Status) (Status, bool) {
	return r.propagate(dep, false)
}

// PropagatePending is PropagateDependencyStatus restricted to handles still
// waiting for a check. Handles that were checked again in the meantime keep
// their fresh result.
func (r *TCReferable) PropagatePending(dep Status) (Status, bool) {
	return r.propagate(dep, true)
}

func (r *TCReferable) propagate(dep Status, pendingOnly bool) (Status, bool) {
	next, ok := DependencyStatus(dep)
	if !ok {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.status == NeedsCheck && !r.ownChanged:
	case r.status.Successful() && !pendingOnly:
	default:
		return r.status, false
	}
	combined := next
	if r.status.Successful() {
		combined = Combine(r.status, dep)
	}
	if combined == r.status {
		return r.status, false
	}
	r.generation++
	r.status = combined
	return combined, true
}

// MarkNotNeeded is used for handles that are known but never checked, such as
// module placeholders.
func (r *TCReferable) MarkNotNeeded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.status = NotNeeded
	r.core = nil
}
