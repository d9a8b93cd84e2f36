package nodes

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	punctuation = regexp.MustCompile(`[¿?¡!.,;:"]`)
	spaces      = regexp.MustCompile(`\s+`)

	// query and connector words that never name a product
	productStopwords = regexp.MustCompile(`\b(precio|cuanto cuesta|valor|stock|disponible|hay|tienes|tiene|de|del|la|el|un|una|unos|unas|cuanto|a)\b`)
)

// stripDiacritics removes combining marks after canonical decomposition (á → a, ñ → n)
func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// normalizeText lower-cases, strips diacritics and collapses punctuation to single spaces
func normalizeText(s string) string {
	s = stripDiacritics(strings.ToLower(s))
	s = punctuation.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// extractProductName guesses the product a price or stock question is about.
// Returns "" when nothing usable remains.
func extractProductName(text string) string {
	s := normalizeText(text)

	cleaned := productStopwords.ReplaceAllString(s, "")
	cleaned = strings.TrimSpace(spaces.ReplaceAllString(cleaned, " "))
	if len(cleaned) >= 3 {
		return cleaned
	}

	var tokens []string
	for _, tok := range strings.Split(s, " ") {
		if len(tok) >= 3 {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) > 3 {
		tokens = tokens[len(tokens)-3:]
	}
	return strings.Join(tokens, " ")
}
