package id

import "testing"

func TestGeneratorMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 10000; i++ {
		next := g.Next()
		if next.Compare(prev) <= 0 {
			t.Fatalf("id %s not greater than %s", next, prev)
		}
		prev = next
	}
}

func TestGeneratorClockBackwards(t *testing.T) {
	orig := NowMs
	defer func() { NowMs = orig }()

	now := int64(5000)
	NowMs = func() int64 { return now }

	g := NewGenerator()
	a := g.Next()
	now = 4000 // clock moved back
	b := g.Next()
	if b.Compare(a) <= 0 {
		t.Fatalf("expected monotonic ids across clock regression: %s then %s", a, b)
	}
	if b.TimeMs() != 5000 {
		t.Fatalf("expected reused timestamp 5000, got %d", b.TimeMs())
	}
}

func TestParseRoundTrip(t *testing.T) {
	g := NewGenerator()
	orig := g.Next()
	parsed, err := Parse(orig.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != orig {
		t.Fatalf("round trip mismatch: %s vs %s", parsed, orig)
	}

	if _, err := Parse("short"); err == nil {
		t.Fatalf("expected error for bad length")
	}
	if _, err := Parse("zz000000000000000000000000000000"); err == nil {
		t.Fatalf("expected error for non-hex input")
	}
}
