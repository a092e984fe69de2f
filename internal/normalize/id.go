// Package normalize converts provider identifiers and result payloads into
// canonical form. Identifier normalization is deliberately concentrated in
// ID: a mismatch here splits one document into two corpus records, which
// corrupts intersection classification downstream.
package normalize

import "strings"

// idSeparators are the characters embedded in human-formatted publication
// numbers ("US 11,234,567 B2") that never carry meaning.
const idSeparators = " ,.-_"

// ID returns the canonical identifier for any raw provider identifier, or ""
// when nothing usable remains. It handles both provider id formats, the
// standard one ("patent/US11234567B2/en") and the scholar one
// ("scholar/8837114895081549485"), plus DOIs and loose publication numbers.
func ID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	// DOIs are case-insensitive by definition; lowercase and keep slashes.
	if strings.HasPrefix(s, "10.") && strings.Contains(s, "/") {
		return strings.ToLower(stripAll(s, " "))
	}

	// Provider path forms: patent/<number>/<locale> and scholar/<token>.
	if strings.Contains(s, "/") {
		parts := strings.Split(s, "/")
		switch strings.ToLower(parts[0]) {
		case "patent":
			if len(parts) < 2 {
				return ""
			}
			// A trailing locale segment ("en", "de") is presentation only.
			return compactNumber(parts[1])
		case "scholar":
			if len(parts) < 2 || parts[1] == "" {
				return ""
			}
			return "scholar:" + strings.ToLower(parts[1])
		default:
			// Unknown path form: refuse rather than guess.
			return ""
		}
	}

	// Pre-normalized scholar ids round-trip unchanged.
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "scholar:"); ok {
		if rest == "" {
			return ""
		}
		return "scholar:" + rest
	}

	return compactNumber(s)
}

// compactNumber uppercases a publication number and strips embedded
// separators: "us 11,234,567 b2" becomes "US11234567B2".
func compactNumber(s string) string {
	return strings.ToUpper(stripAll(s, idSeparators))
}

func stripAll(s, cutset string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(cutset, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Classification canonicalizes a CPC code for overlap comparisons.
func Classification(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
}
