// Package naming normalizes table and column names into a globally unique
// snake_case scheme safe for SQL identifiers and object-store keys.
package naming

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes diacritic marks so "Année" normalizes to "annee".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Snake converts an arbitrary header or sheet name into snake_case.
// Returns "col" for names with no usable characters.
func Snake(name string) string {
	flat, _, err := transform.String(stripMarks, name)
	if err != nil {
		flat = name
	}

	var b strings.Builder
	lastUnderscore := true // suppress leading underscore
	var prev rune
	for _, r := range flat {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			// Break camelCase boundaries.
			if unicode.IsUpper(r) && prev != 0 && (unicode.IsLower(prev) || unicode.IsDigit(prev)) && !lastUnderscore {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		prev = r
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "col"
	}
	// SQL identifiers cannot start with a digit.
	if out[0] >= '0' && out[0] <= '9' {
		out = "t_" + out
	}
	return out
}

// Uniquer hands out snake_case names, suffixing _2, _3, ... on collision.
type Uniquer struct {
	seen map[string]int
}

// NewUniquer creates an empty Uniquer.
func NewUniquer() *Uniquer {
	return &Uniquer{seen: make(map[string]int)}
}

// Take normalizes name and returns a variant not handed out before.
func (u *Uniquer) Take(name string) string {
	base := Snake(name)
	n := u.seen[base]
	u.seen[base] = n + 1
	if n == 0 {
		return base
	}
	return base + "_" + strconv.Itoa(n+1)
}
