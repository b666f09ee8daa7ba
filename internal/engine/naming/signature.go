package naming

import "fmt"

type Kind int

const (
	FunctionKind Kind = iota
	DataKind
	ConstructorKind
	ClassKind
	FieldKind
	InstanceKind
	ModuleKind
)

func (k Kind) String() string {
	switch k {
	case FunctionKind:
		return "func"
	case DataKind:
		return "data"
	case ConstructorKind:
		return "cons"
	case ClassKind:
		return "class"
	case FieldKind:
		return "field"
	case InstanceKind:
		return "instance"
	case ModuleKind:
		return "module"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Param is one parameter of a definition signature.
type Param struct {
	Name     string
	Type     string
	Explicit bool
}

// Signature is the parameter-list shape of a definition. The set of
// implementations is closed; see Parameters for the exhaustive match.
type Signature interface {
	Kind() Kind
	isSignature()
}

type FunctionSignature struct {
	Params []Param
	Result string
}

type DataSignature struct {
	Params       []Param
	Constructors []string
}

type ConstructorSignature struct {
	Data   string
	Params []Param
}

type ClassSignature struct {
	Super  []string
	Fields []Param
}

type FieldSignature struct {
	Class string
	Type  string
}

type InstanceSignature struct {
	Class  string
	Params []Param
}

func (FunctionSignature) Kind() Kind    { return FunctionKind }
func (DataSignature) Kind() Kind        { return DataKind }
func (ConstructorSignature) Kind() Kind { return ConstructorKind }
func (ClassSignature) Kind() Kind       { return ClassKind }
func (FieldSignature) Kind() Kind       { return FieldKind }
func (InstanceSignature) Kind() Kind    { return InstanceKind }

func (FunctionSignature) isSignature()    {}
func (DataSignature) isSignature()        {}
func (ConstructorSignature) isSignature() {}
func (ClassSignature) isSignature()       {}
func (FieldSignature) isSignature()       {}
func (InstanceSignature) isSignature()    {}

// Parameters returns the explicit and implicit parameters a reference to a
// definition with this signature has to supply.
func Parameters(sig Signature) []Param {
	switch s := sig.(type) {
	case nil:
		return nil
	case FunctionSignature:
		return append([]Param(nil), s.Params...)
	case DataSignature:
		return append([]Param(nil), s.Params...)
	case ConstructorSignature:
		return append([]Param(nil), s.Params...)
	case ClassSignature:
		// Class references are instantiated through their fields.
		return append([]Param(nil), s.Fields...)
	case FieldSignature:
		return []Param{{Name: "this", Type: s.Class, Explicit: false}}
	case InstanceSignature:
		return append([]Param(nil), s.Params...)
	default:
		panic(fmt.Sprintf("naming: unknown signature %T", sig))
	}
}

// ParamNames lists parameter names in declaration order.
func ParamNames(sig Signature) []string {
	params := Parameters(sig)
	out := make([]string, 0, len(params))
	for _, p := range params {
		out = append(out, p.Name)
	}
	return out
}
