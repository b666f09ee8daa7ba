package naming

import (
	"fmt"
	"sync"
	"testing"
)

var testModule = ModuleLocation{Library: "lib", Path: "Data.List"}

func TestIndex_GetOrCreateReturnsCanonicalHandle(t *testing.T) {
	idx := NewIndex()
	a, created := idx.GetOrCreate(testModule, LongName{"map"}, FunctionKind, nil, 1)
	if !created {
		t.Fatal("expected first call to create a handle")
	}
	b, created := idx.GetOrCreate(testModule, LongName{"map"}, FunctionKind, nil, 2)
	if created {
		t.Fatal("expected second call to reuse the handle")
	}
	if a != b {
		t.Fatalf("expected same handle, got %v and %v", a.ID(), b.ID())
	}
	if a.Status() != NeedsCheck {
		t.Fatalf("expected new handle to need a check, got %s", a.Status())
	}
}

func TestIndex_ConcurrentCreateIsUnique(t *testing.T) {
	idx := NewIndex()
	const workers = 16

	var wg sync.WaitGroup
	results := make([]*TCReferable, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, _ := idx.GetOrCreate(testModule, LongName{"foldr"}, FunctionKind, nil, AnchorID(i+1))
			results[i] = ref
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d observed a different handle", i)
		}
	}
	if idx.Len() != 1 {
		t.Fatalf("expected 1 live handle, got %d", idx.Len())
	}
}

func TestIndex_RemoveThenRecreate(t *testing.T) {
	idx := NewIndex()
	old, _ := idx.GetOrCreate(testModule, LongName{"Nat"}, DataKind, nil, 1)

	removed, ok := idx.Remove(testModule, LongName{"Nat"})
	if !ok || removed != old {
		t.Fatal("expected remove to return the old handle")
	}
	if idx.IsLive(old) {
		t.Fatal("removed handle must not be live")
	}
	if _, ok := idx.Lookup(old.ID()); ok {
		t.Fatal("removed handle must leave the arena")
	}

	fresh, created := idx.GetOrCreate(testModule, LongName{"Nat"}, DataKind, nil, 2)
	if !created || fresh == old {
		t.Fatal("expected a fresh handle after removal")
	}
	if fresh.ID() == old.ID() {
		t.Fatal("ids must never be reused")
	}
}

func TestIndex_UniquenessUnderChurn(t *testing.T) {
	idx := NewIndex()
	other := ModuleLocation{Library: "lib", Path: "Data.Maybe"}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				name := LongName{fmt.Sprintf("d%d", i%10)}
				switch (i + w) % 4 {
				case 0:
					idx.Remove(testModule, name)
				case 1:
					idx.RemoveModule(other)
				default:
					idx.GetOrCreate(testModule, name, FunctionKind, nil, 0)
					idx.GetOrCreate(other, name, FunctionKind, nil, 0)
				}
			}
		}(w)
	}
	wg.Wait()

	for _, loc := range idx.Modules() {
		seen := make(map[string]bool)
		for _, ref := range idx.Definitions(loc) {
			key := ref.LongName().String()
			if seen[key] {
				t.Fatalf("duplicate live handle %s in %s", key, loc)
			}
			seen[key] = true
			if !idx.IsLive(ref) {
				t.Fatalf("indexed handle %s is not in the arena", key)
			}
		}
	}
}

func TestIndex_RemoveLibrary(t *testing.T) {
	idx := NewIndex()
	idx.GetOrCreate(ModuleLocation{Library: "a", Path: "M"}, LongName{"x"}, FunctionKind, nil, 0)
	idx.GetOrCreate(ModuleLocation{Library: "a", Path: "N"}, LongName{"y"}, FunctionKind, nil, 0)
	keep, _ := idx.GetOrCreate(ModuleLocation{Library: "b", Path: "M"}, LongName{"x"}, FunctionKind, nil, 0)

	removed := idx.RemoveLibrary("a")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed handles, got %d", len(removed))
	}
	if !idx.IsLive(keep) {
		t.Fatal("handles of other libraries must survive")
	}
	if got := len(idx.Modules()); got != 1 {
		t.Fatalf("expected 1 module left, got %d", got)
	}
}

func TestTCReferable_StaleResultIsRejected(t *testing.T) {
	idx := NewIndex()
	ref, _ := idx.GetOrCreate(testModule, LongName{"f"}, FunctionKind, nil, 0)

	gen, ok := ref.BeginCheck()
	if !ok {
		t.Fatal("expected check to start")
	}
	ref.Invalidate(true)
	if ref.SetResult(gen, NoErrors, &CoreDefinition{Referable: ref}) {
		t.Fatal("result of an invalidated generation must be rejected")
	}
	if ref.Status() != NeedsCheck || ref.Core() != nil {
		t.Fatalf("expected NeedsCheck without core, got %s", ref.Status())
	}
}

func TestTCReferable_PropagateDependencyStatus(t *testing.T) {
	idx := NewIndex()
	ref, _ := idx.GetOrCreate(testModule, LongName{"f"}, FunctionKind, nil, 0)
	gen, _ := ref.BeginCheck()
	ref.SetResult(gen, NoErrors, &CoreDefinition{Referable: ref})

	if got, ok := ref.PropagateDependencyStatus(HasErrors); !ok || got != HasDependencyErrors {
		t.Fatalf("expected HasDependencyErrors, got %s (%v)", got, ok)
	}
	if _, ok := ref.PropagateDependencyStatus(NoErrors); ok {
		t.Fatal("a successful dependency must not propagate")
	}

	ref.Invalidate(true)
	if _, ok := ref.PropagateDependencyStatus(HasErrors); ok {
		t.Fatal("own edits must be re-elaborated, not propagated")
	}
}

func TestCombine(t *testing.T) {
	cases := []struct {
		own, dep, want Status
	}{
		{NoErrors, NoErrors, NoErrors},
		{NoErrors, HasErrors, HasDependencyErrors},
		{NoErrors, HasDependencyErrors, HasDependencyErrors},
		{NoErrors, HasWarnings, HasDependencyWarnings},
		{HasWarnings, HasErrors, HasDependencyErrors},
		{HasWarnings, HasDependencyWarnings, HasWarnings},
		{HasErrors, NoErrors, HasErrors},
		{NeedsCheck, HasErrors, NeedsCheck},
	}
	for _, tc := range cases {
		if got := Combine(tc.own, tc.dep); got != tc.want {
			t.Errorf("Combine(%s, %s) = %s, want %s", tc.own, tc.dep, got, tc.want)
		}
	}
}

func TestParameters(t *testing.T) {
	sig := FunctionSignature{Params: []Param{{Name: "x", Explicit: true}, {Name: "y", Explicit: true}}}
	if got := ParamNames(sig); len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected params %v", got)
	}
	field := FieldSignature{Class: "Monoid"}
	if got := Parameters(field); len(got) != 1 || got[0].Explicit {
		t.Fatalf("expected one implicit parameter for a field, got %+v", got)
	}
	if got := Parameters(nil); got != nil {
		t.Fatalf("expected no params for a nil signature, got %+v", got)
	}
}

func TestIndex_DetachOnlyCanonicalHandle(t *testing.T) {
	idx := NewIndex()
	old, _ := idx.GetOrCreate(testModule, LongName{"g"}, FunctionKind, nil, 1)
	idx.Remove(testModule, LongName{"g"})
	fresh, _ := idx.GetOrCreate(testModule, LongName{"g"}, FunctionKind, nil, 2)

	if idx.Detach(old) {
		t.Fatal("a stale handle must not detach its successor")
	}
	if !idx.IsLive(fresh) {
		t.Fatal("successor must stay live")
	}
	if !idx.Detach(fresh) || idx.Len() != 0 {
		t.Fatal("expected canonical handle to be detached")
	}
}

func TestTCReferable_PropagatePendingSkipsChecked(t *testing.T) {
	idx := NewIndex()
	ref, _ := idx.GetOrCreate(testModule, LongName{"f"}, FunctionKind, nil, 0)
	gen, _ := ref.BeginCheck()
	ref.SetResult(gen, NoErrors, &CoreDefinition{Referable: ref})

	if _, ok := ref.PropagatePending(HasErrors); ok {
		t.Fatal("a freshly checked handle must keep its result")
	}
	ref.Invalidate(false)
	if got, ok := ref.PropagatePending(HasWarnings); !ok || got != HasDependencyWarnings {
		t.Fatalf("expected HasDependencyWarnings, got %s (%v)", got, ok)
	}
}
