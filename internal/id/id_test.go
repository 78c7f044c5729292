package id

import "testing"

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		got := New()
		if len(got) != 32 {
			t.Fatalf("expected 32 hex chars, got %q", got)
		}
		if _, dup := seen[got]; dup {
			t.Fatalf("duplicate id %s", got)
		}
		seen[got] = struct{}{}
	}
}
