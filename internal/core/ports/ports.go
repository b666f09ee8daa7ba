package ports

import (
	"context"
	"semcache/internal/engine/naming"
)

// SyntaxNode is a durable handle to a node owned by the syntax tree. The node
// object may outlive its validity; callers check IsValid before trusting it.
type SyntaxNode interface {
	Anchor() naming.AnchorID
	Text() string
	IsValid() bool
}

// SyntaxTree dereferences anchors. A missing or deleted node yields false.
type SyntaxTree interface {
	Node(anchor naming.AnchorID) (SyntaxNode, bool)
}

// ReferenceSite is one occurrence of a name that has to be resolved.
type ReferenceSite interface {
	SyntaxNode
	Offset() int
	FilePath() string
}

// Definition is a definition-shaped syntax node.
type Definition interface {
	SyntaxNode
	naming.Referable
	Location() naming.ModuleLocation
	LongName() naming.LongName
	Kind() naming.Kind
	Signature() naming.Signature
	// Body is the definition text after its header.
	Body() string
	References() []ReferenceSite
	// IsUse reports a definition that augments its enclosing group.
	IsUse() bool
	ParentGroup() (Group, bool)
}

// Group is a definition that owns nested definitions.
type Group interface {
	Definition
	Subgroups() []Group
	// InternalReferables are constructors and fields.
	InternalReferables() []Definition
}

// File is a parsed source file.
type File interface {
	Path() string
	Location() naming.ModuleLocation
	IsRepl() bool
	LastModifiedDefinition() (Definition, bool)
	// SetLastModifiedDefinition records def; nil clears it.
	SetLastModifiedDefinition(def Definition)
	Groups() []Group
}

// ScopeResolver resolves a reference site against lexical scope. It returns
// nil when the name is not in scope.
type ScopeResolver interface {
	ResolveReference(site ReferenceSite) naming.Referable
}

// Library is a loaded set of source modules.
type Library interface {
	Name() string
	Version() string
	IsExternal() bool
	Files() []File
	Dependencies() []string
}

// RebuildFunc receives freshly loaded libraries during a reload. Libraries
// are fully read before it is called; returning an error aborts the reload.
type RebuildFunc func(ctx context.Context, libs []Library) error

// LibraryManager owns library discovery and loading.
type LibraryManager interface {
	LoadLibrary(ctx context.Context, name string) (Library, error)
	ReloadInternalLibraries(ctx context.Context, rebuild RebuildFunc) error
	Reload(ctx context.Context, rebuild RebuildFunc) error
	// Refresh rescans the libraries directory.
	Refresh(ctx context.Context) error
	Libraries() []Library
}

// LibraryErrorReporter receives library load problems. They surface as
// project-level notifications, never as failures of the caller.
type LibraryErrorReporter interface {
	LibraryNotFound(name string)
	IncorrectLanguageVersion(name, constraint string)
}

// Severity of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// Diagnostic is attached to a definition, and to a reference site when one
// is known.
type Diagnostic struct {
	Severity   Severity
	Message    string
	Definition naming.RefID
	Location   naming.ModuleLocation
	Site       naming.AnchorID
	File       string
	Offset     int
}

// ElaborationResult is the own outcome of checking one definition, before
// dependency statuses are folded in.
type ElaborationResult struct {
	Status naming.Status
	Params []string
}

// ElaborationContext is what the elaborator sees of the cache.
type ElaborationContext interface {
	Context() context.Context
	// Checkpoint returns a non-nil error once the check has been cancelled.
	Checkpoint() error
	Resolve(site ReferenceSite) naming.Referable
	// TCReferable maps a resolved target to its definition handle.
	TCReferable(target naming.Referable) (*naming.TCReferable, bool)
	RecordDependency(dependency *naming.TCReferable)
	Report(d Diagnostic)
}

// Elaborator is the "typecheck one definition" primitive.
type Elaborator interface {
	Elaborate(ec ElaborationContext, def Definition) (ElaborationResult, error)
}

// DefinitionChangeListener is called by the syntax layer whenever a
// definition is added, changed or removed.
type DefinitionChangeListener interface {
	UpdateDefinition(def Definition, file File, isExternalUpdate bool)
}

type ChangeNotifier interface {
	AddListener(l DefinitionChangeListener)
}

// ManifestWatcher calls back when a library manifest changes. internal is true
// for project libraries.
type ManifestWatcher interface {
	Register(fn func(path string, internal bool))
}

// ExtensionListener is notified when an extension-provided definition is
// invalidated.
type ExtensionListener interface {
	NotifyIfNeeded()
}
