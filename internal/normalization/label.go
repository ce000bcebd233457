package normalization

import (
	"strings"
	"unicode"
)

// NormalizeLabel is the default label normalizer used to cluster pages that
// differ only in superficial title formatting. It is a pure function; the
// resolver accepts any replacement with the same signature.
//
// Folding rules: lowercase; underscores, dash variants and all whitespace
// fold to a single space; currency signs fold to their word; remaining
// punctuation is dropped; repeated spaces collapse; the result is trimmed.
// An input that normalizes to nothing falls back to the trimmed raw label,
// so the mapping stays total.
func NormalizeLabel(label string) string {
	lowered := strings.ToLower(strings.TrimSpace(label))
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r == '_' || unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '-' || r == '‐' || r == '‑' || r == '‒' ||
			r == '–' || r == '—' || r == '―':
			b.WriteByte(' ')
		case r == '$':
			b.WriteString(" dollar ")
		case r == '€':
			b.WriteString(" euro ")
		case r == '£':
			b.WriteString(" pound ")
		case r == '¥':
			b.WriteString(" yen ")
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	if out == "" {
		return strings.TrimSpace(label)
	}
	return out
}
