package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_UniqueAndParseable(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
		if _, err := Parse(id); err != nil {
			t.Fatalf("Parse(%q): %v", id, err)
		}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("sess_", Default)
	id := gen()
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("expected sess_ prefix, got %s", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "sess_")); err != nil {
		t.Fatalf("suffix is not a UUID: %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestNew(t *testing.T) {
	if New() == New() {
		t.Fatal("expected distinct IDs")
	}
}
