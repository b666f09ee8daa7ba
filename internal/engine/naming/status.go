package naming

// Status is the typechecking state of a definition handle.
type Status int

const (
	NotNeeded Status = iota
	NeedsCheck
	Checking
	NoErrors
	HasWarnings
	HasDependencyWarnings
	HasDependencyErrors
	HasErrors
)

var statusNames = [...]string{
	NotNeeded:             "not_needed",
	NeedsCheck:            "needs_check",
	Checking:              "checking",
	NoErrors:              "no_errors",
	HasWarnings:           "has_warnings",
	HasDependencyWarnings: "has_dependency_warnings",
	HasDependencyErrors:   "has_dependency_errors",
	HasErrors:             "has_errors",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// NeedsTypechecking reports whether the scheduler may pick the definition.
func (s Status) NeedsTypechecking() bool {
	return s == NeedsCheck
}

// IsFinal reports whether a check has completed and recorded a result.
func (s Status) IsFinal() bool {
	return s >= NoErrors
}

// Successful reports a final state without errors of any kind.
func (s Status) Successful() bool {
	return s == NoErrors || s == HasWarnings || s == HasDependencyWarnings
}

func (s Status) IsOK() bool {
	return s == NoErrors
}

func (s Status) HasErrorsOrDependencyErrors() bool {
	return s == HasErrors || s == HasDependencyErrors
}

func (s Status) HasAnyWarnings() bool {
	return s == HasWarnings || s == HasDependencyWarnings
}

// Combine folds the status of a dependency into the definition's own result.
// Own errors win, then dependency errors, then own warnings, then dependency warnings.
func Combine(own, dependency Status) Status {
	if !own.IsFinal() {
		return own
	}
	switch {
	case own == HasErrors:
		return HasErrors
	case dependency.HasErrorsOrDependencyErrors() || own == HasDependencyErrors:
		return HasDependencyErrors
	case own == HasWarnings:
		return HasWarnings
	case dependency.HasAnyWarnings() || own == HasDependencyWarnings:
		return HasDependencyWarnings
	default:
		return own
	}
}

// DependencyStatus is the status a successful dependent moves to when one of its
// dependencies ends in s. The second result is false when s does not propagate.
func DependencyStatus(s Status) (Status, bool) {
	switch {
	case s.HasErrorsOrDependencyErrors():
		return HasDependencyErrors, true
	case s.HasAnyWarnings():
		return HasDependencyWarnings, true
	default:
		return s, false
	}
}
