package mirror

import (
	"testing"

	"brightnest/api/internal/store"
)

func TestReduceSelectionKeepsCurrent(t *testing.T) {
	children := []store.Child{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}
	if got := ReduceSelection(children, "c2"); got != "c2" {
		t.Fatalf("expected c2 to survive, got %q", got)
	}
}

func TestReduceSelectionFallsBackToFirst(t *testing.T) {
	children := []store.Child{{ID: "c2"}, {ID: "c3"}}
	if got := ReduceSelection(children, "c1"); got != "c2" {
		t.Fatalf("expected fallback to c2, got %q", got)
	}
}

func TestReduceSelectionEmptySet(t *testing.T) {
	if got := ReduceSelection(nil, "c1"); got != "" {
		t.Fatalf("expected empty selection, got %q", got)
	}
}

func TestReduceSelectionNoPrevious(t *testing.T) {
	children := []store.Child{{ID: "c1"}, {ID: "c2"}}
	if got := ReduceSelection(children, ""); got != "c1" {
		t.Fatalf("expected c1, got %q", got)
	}
}

func TestReduceSelectionIdempotent(t *testing.T) {
	children := []store.Child{{ID: "c1"}, {ID: "c2"}}
	first := ReduceSelection(children, "c9")
	second := ReduceSelection(children, first)
	if first != second {
		t.Fatalf("expected stable result, got %q then %q", first, second)
	}
}
