package util

import (
	"testing"
)

func TestSlashPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Empty", input: "", expected: ""},
		{name: "Dot", input: ".", expected: ""},
		{name: "Trim", input: "  ./libs/json/  ", expected: "libs/json"},
		{name: "Parent", input: "src/../tests/Main.sem", expected: "tests/Main.sem"},
		{name: "Absolute", input: "/project/src", expected: "/project/src"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SlashPath(tc.input); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestIsWithin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		path     string
		dir      string
		expected bool
	}{
		{name: "Child", path: "/p/src/Main.sem", dir: "/p/src", expected: true},
		{name: "Nested", path: "/p/src/Data/Nat.sem", dir: "/p/src/", expected: true},
		{name: "Same", path: "/p/src", dir: "/p/src", expected: false},
		{name: "SiblingPrefix", path: "/p/srcx/Main.sem", dir: "/p/src", expected: false},
		{name: "DottedName", path: "/p/src/..hidden.sem", dir: "/p/src", expected: true},
		{name: "Outside", path: "/p/tests/Main.sem", dir: "/p/src", expected: false},
		{name: "Root", path: "/p", dir: "/", expected: true},
		{name: "EmptyDir", path: "/p", dir: "", expected: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsWithin(tc.path, tc.dir); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestContainsPathSeparator(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		value    string
		expected bool
	}{
		{name: "Unix", value: "libs/json", expected: true},
		{name: "Windows", value: `libs\json`, expected: true},
		{name: "Flat", value: "json", expected: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ContainsPathSeparator(tc.value); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestSortedStringKeys(t *testing.T) {
	t.Parallel()

	m := map[string]bool{"std": true, "app": false, "json": true}
	keys := SortedStringKeys(m)
	expected := []string{"app", "json", "std"}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %d", len(expected), len(keys))
	}
	for i, key := range expected {
		if keys[i] != key {
			t.Fatalf("expected %q at %d, got %q", key, i, keys[i])
		}
	}
}
