package ids

import (
	"sort"
	"testing"

	"github.com/google/uuid"
)

func TestNewSortableIsMonotonic(t *testing.T) {
	t.Parallel()

	generated := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		generated = append(generated, NewSortable())
	}
	if !sort.StringsAreSorted(generated) {
		t.Fatalf("expected sortable identifiers in generation order: %v", generated)
	}
}

func TestNewRandomIsUUID(t *testing.T) {
	t.Parallel()

	if _, err := uuid.Parse(NewRandom()); err != nil {
		t.Fatalf("expected uuid, got error %v", err)
	}
}

func TestNewTokenIsUniqueHex(t *testing.T) {
	t.Parallel()

	a, b := NewToken(), NewToken()
	if len(a) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(a))
	}
	if a == b {
		t.Fatalf("expected distinct tokens")
	}
}
