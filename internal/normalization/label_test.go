package normalization

import "testing"

func TestNormalizeLabel_CaseAndWhitespace(t *testing.T) {
	if got := NormalizeLabel("  Category_Theory  "); got != "category theory" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeLabel("Category   Theory"); got != "category theory" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeLabel_DashVariants(t *testing.T) {
	variants := []string{
		"Foo-Bar",
		"Foo–Bar",
		"Foo — Bar",
	}
	for _, v := range variants {
		if got := NormalizeLabel(v); got != "foo bar" {
			t.Fatalf("%q normalized to %q", v, got)
		}
	}
}

func TestNormalizeLabel_CurrencyFolding(t *testing.T) {
	if got := NormalizeLabel("US$ exchange"); got != "us dollar exchange" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeLabel("€ zone"); got != "euro zone" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeLabel_PunctuationDropped(t *testing.T) {
	if got := NormalizeLabel("What? (disambiguation)"); got != "what disambiguation" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeLabel_AllPunctuationFallback(t *testing.T) {
	// Normalizing to nothing falls back to the trimmed raw label so the
	// mapping stays total.
	if got := NormalizeLabel(" !!! "); got != "!!!" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeLabel_Deterministic(t *testing.T) {
	in := "Graph_Theory – (Mathematics)"
	first := NormalizeLabel(in)
	for i := 0; i < 100; i++ {
		if got := NormalizeLabel(in); got != first {
			t.Fatalf("non-deterministic: %q vs %q", got, first)
		}
	}
}
