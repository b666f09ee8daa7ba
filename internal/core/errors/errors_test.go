package errors

import (
	"errors"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNotFound, "resource not found")
		if err.Error() != "[NOT_FOUND] resource not found" {
			t.Errorf("expected [NOT_FOUND] resource not found, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("original error")
		err := Wrap(original, CodeInternal, "internal failure")
		expected := "[INTERNAL_ERROR] internal failure: original error"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeValidationError, "invalid input")
		if !IsCode(err, CodeValidationError) {
			t.Error("expected IsCode to return true for CodeValidationError")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("expected IsCode to return false for CodeNotFound")
		}
	})

	t.Run("IsCodeWithWrapped", func(t *testing.T) {
		original := errors.New("original error")
		err := Wrap(original, CodeInternal, "internal failure")
		if !IsCode(err, CodeInternal) {
			t.Error("expected IsCode to return true for wrapped CodeInternal")
		}
	})
}

func TestAddContextAndCodeOf(t *testing.T) {
	err := New(CodeLibraryNotFound, "library is missing")
	err = AddContext(err, CtxLibrary, "prelude")

	code, ok := CodeOf(err)
	if !ok || code != CodeLibraryNotFound {
		t.Fatalf("expected LIBRARY_NOT_FOUND, got %q (%v)", code, ok)
	}
	var de *DomainError
	if !errors.As(err, &de) || de.Context[CtxLibrary] != "prelude" {
		t.Fatalf("expected library context, got %v", err)
	}

	plain := AddContext(errors.New("boom"), CtxModule, "Data.List")
	if !IsCode(plain, CodeInternal) {
		t.Fatalf("expected plain errors to be wrapped as internal, got %v", plain)
	}
	if _, ok := CodeOf(errors.New("x")); ok {
		t.Fatal("expected no code for a plain error")
	}
}
