package graph

import (
	"errors"
	"reflect"
	"testing"
)

func build(t *testing.T, nodes ...[]string) *DependencyGraph {
	t.Helper()
	g := New()
	for _, n := range nodes {
		if err := g.Add(n[0], n[1:]...); err != nil {
			t.Fatalf("Add(%s): %v", n[0], err)
		}
	}
	return g
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		nodes   [][]string
		wantErr error
	}{
		{"empty", nil, nil},
		{"chain", [][]string{{"a"}, {"b", "a"}, {"c", "b"}}, nil},
		{"diamond", [][]string{{"a"}, {"b", "a"}, {"c", "a"}, {"d", "b", "c"}}, nil},
		{"unknown dependency", [][]string{{"a", "ghost"}}, ErrUnknownDependency},
		{"self loop", [][]string{{"a", "a"}}, ErrCycleDetected},
		{"two cycle", [][]string{{"a", "b"}, {"b", "a"}}, ErrCycleDetected},
		{"long cycle", [][]string{{"a", "c"}, {"b", "a"}, {"c", "b"}}, ErrCycleDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := build(t, tt.nodes...).Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdd_Duplicate(t *testing.T) {
	g := New()
	_ = g.Add("a")
	if err := g.Add("a"); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("Add(duplicate) = %v, want ErrDuplicateNode", err)
	}
}

func TestTopologicalSort(t *testing.T) {
	g := build(t, []string{"deploy", "test"}, []string{"design"}, []string{"build", "design"}, []string{"test", "build"})

	got, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort: %v", err)
	}
	want := []string{"design", "build", "test", "deploy"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopologicalSort() = %v, want %v", got, want)
	}

	cyclic := build(t, []string{"a", "b"}, []string{"b", "a"})
	if _, err := cyclic.TopologicalSort(); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("TopologicalSort(cyclic) error = %v", err)
	}
}

func TestRootsReadyDependents(t *testing.T) {
	g := build(t, []string{"a"}, []string{"b"}, []string{"c", "a", "b"}, []string{"d", "c"})

	if got := g.Roots(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Roots() = %v", got)
	}
	if got := g.Ready(map[string]bool{"a": true}); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("Ready(a) = %v, want [b]", got)
	}
	if got := g.Ready(map[string]bool{"a": true, "b": true}); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("Ready(a,b) = %v, want [c]", got)
	}
	if got := g.Dependents("a"); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("Dependents(a) = %v, want [c]", got)
	}
	if got := g.Dependencies("c"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Dependencies(c) = %v", got)
	}
	if g.Size() != 4 {
		t.Errorf("Size() = %d, want 4", g.Size())
	}
}
