package utils

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts a Go-style identifier to snake_case. An acronym
// run keeps its letters together: "HTTPServer" becomes "http_server",
// not "h_t_t_p_server".
func ToSnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Pluralize derives a table name from a singular snake_case word. The
// rules cover the regular English suffix classes; schemas that need an
// irregular plural override the table name on the model instead.
func Pluralize(word string) string {
	if word == "" {
		return word
	}
	switch {
	case hasAnySuffix(word, "s", "x", "z", "ch", "sh"):
		return word + "es"
	case strings.HasSuffix(word, "y") && !endsWithVowelBefore(word, 1):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "fe"):
		return word[:len(word)-2] + "ves"
	case strings.HasSuffix(word, "f"):
		return word[:len(word)-1] + "ves"
	default:
		return word + "s"
	}
}

// Singularize inverts Pluralize, deriving a relation's default singular
// accessor name from a plural word. A "-ves" plural always maps back to
// "-f", so "knives" becomes "knif".
func Singularize(word string) string {
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 3:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "ves") && len(word) > 3:
		return word[:len(word)-3] + "f"
	case hasAnySuffix(word, "ses", "xes", "zes", "ches", "shes"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") && len(word) > 1:
		return word[:len(word)-1]
	default:
		return word
	}
}

func hasAnySuffix(word string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(word, s) {
			return true
		}
	}
	return false
}

// endsWithVowelBefore reports whether the rune before the final n
// characters is a vowel, deciding "day" -> "days" against "city" ->
// "cities".
func endsWithVowelBefore(word string, n int) bool {
	runes := []rune(word)
	if len(runes) <= n {
		return false
	}
	switch unicode.ToLower(runes[len(runes)-1-n]) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
