package naming

import (
	"strconv"
	"strings"
)

type LocationKind int

const (
	SourceModule LocationKind = iota
	TestModule
	GeneratedModule
)

func (k LocationKind) String() string {
	switch k {
	case TestModule:
		return "test"
	case GeneratedModule:
		return "generated"
	default:
		return "source"
	}
}

// ModuleLocation identifies a source module within a library.
type ModuleLocation struct {
	Library string
	Kind    LocationKind
	Path    string
}

func (l ModuleLocation) String() string {
	return l.Library + ":" + l.Kind.String() + ":" + l.Path
}

func (l ModuleLocation) IsZero() bool {
	return l.Library == "" && l.Path == ""
}

// LongName is a qualified definition name inside a module, outermost part first.
type LongName []string

func ParseLongName(s string) LongName {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return LongName(strings.Split(s, "."))
}

func (n LongName) String() string {
	return strings.Join(n, ".")
}

func (n LongName) Last() string {
	if len(n) == 0 {
		return ""
	}
	return n[len(n)-1]
}

func (n LongName) Equal(other LongName) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if n[i] != other[i] {
			return false
		}
	}
	return true
}

// Child returns a copy of n extended by name.
func (n LongName) Child(name string) LongName {
	out := make(LongName, 0, len(n)+1)
	out = append(out, n...)
	return append(out, name)
}

// RefID is the arena id of a definition handle. Zero is never assigned.
type RefID uint64

func (id RefID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// AnchorID identifies a syntax node owned by the syntax tree. Zero means no anchor.
type AnchorID uint64

func (id AnchorID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
