// Package code mints and validates rendezvous codes: the human-shareable
// tokens peers exchange out-of-band to find each other's room.
package code

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

// Code is a canonical rendezvous code, formatted "sss-sss-sss".
type Code string

// alphabet is the 31-symbol ambiguity-free charset: lowercase a-z minus
// i, l, o, plus digits 2-9 minus 0 and 1.
const alphabet = "abcdefghjkmnpqrstuvwxyz23456789"

const (
	groupLen   = 3
	groupCount = 3
	charCount  = groupLen * groupCount
)

var shapePattern = regexp.MustCompile(`^[a-z0-9]{3}-[a-z0-9]{3}-[a-z0-9]{3}$`)

// Generate draws charCount characters uniformly at random from alphabet
// using a cryptographically acceptable source and formats them as a
// canonical code. It does not check for collisions against any registry;
// callers that need uniqueness (the Room Registry) redraw on conflict.
func Generate() (Code, error) {
	alphabetSize := big.NewInt(int64(len(alphabet)))

	var sb strings.Builder
	sb.Grow(charCount + groupCount - 1)

	for i := 0; i < charCount; i++ {
		if i > 0 && i%groupLen == 0 {
			sb.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		sb.WriteByte(alphabet[n.Int64()])
	}

	return Code(sb.String()), nil
}

// Normalize lowercases s, collapses runs of ASCII whitespace to a single
// hyphen, and trims leading/trailing hyphens and whitespace. It performs
// no character substitution for visually-confusing glyphs: the alphabet
// already excludes them, so substituting into it would only ever map a
// valid input to a different valid code, never recover an invalid one.
func Normalize(s string) Code {
	lower := strings.ToLower(s)

	var sb strings.Builder
	sb.Grow(len(lower))
	lastWasSpace := false
	for _, r := range lower {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !lastWasSpace {
				sb.WriteByte('-')
			}
			lastWasSpace = true
			continue
		}
		lastWasSpace = false
		sb.WriteRune(r)
	}

	return Code(strings.Trim(sb.String(), "- \t\n\r"))
}

// Validate reports whether s, once normalized, has the canonical
// "xxx-xxx-xxx" shape over lowercase alphanumerics. This is intentionally
// broader than the emission alphabet: it accepts any lowercase alphanumeric
// in the shape, not only ambiguity-free characters, because validation here
// is shape-only, matching the source's behavior.
func Validate(s string) bool {
	return shapePattern.MatchString(string(Normalize(s)))
}
