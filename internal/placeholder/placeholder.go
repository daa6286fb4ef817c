// Package placeholder substitutes @key@ placeholders in configuration templates.
package placeholder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrNotFound signals that a placeholder does not occur in the text.
// Callers decide whether that is worth a warning or an abort.
var ErrNotFound = errors.New("placeholder not found")

// unresolvedPattern matches any @...@ token left in a configuration,
// including the empty token @@.
var unresolvedPattern = regexp.MustCompile(`@[^@\r\n]*@`)

// Key wraps a parameter name in placeholder delimiters.
func Key(name string) string {
	return "@" + name + "@"
}

// Replace substitutes every case-insensitive occurrence of key in text with
// value. Matching resumes after each inserted value, so the value itself is
// never rescanned. When key does not occur, text is returned unchanged along
// with an error wrapping ErrNotFound.
//
// Bytes that are not valid UTF-8 only match the identical byte.
func Replace(key, value, text string) (string, error) {
	if key == "" {
		return text, fmt.Errorf("%w: empty key", ErrNotFound)
	}

	var sb strings.Builder
	found := false
	for i := 0; i < len(text); {
		if n := matchAt(text[i:], key); n > 0 {
			if !found {
				sb.Grow(len(text))
				sb.WriteString(text[:i])
				found = true
			}
			sb.WriteString(value)
			i += n
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		if found {
			sb.WriteString(text[i : i+size])
		}
		i += size
	}

	if !found {
		return text, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return sb.String(), nil
}

// matchAt returns the length in bytes of the case-insensitive match of key
// at the start of s, or 0.
func matchAt(s, key string) int {
	i := 0
	for j := 0; j < len(key); {
		if i >= len(s) {
			return 0
		}
		kr, ks := utf8.DecodeRuneInString(key[j:])
		sr, ss := utf8.DecodeRuneInString(s[i:])

		switch {
		case kr == utf8.RuneError && ks == 1, sr == utf8.RuneError && ss == 1:
			if ks != ss || key[j] != s[i] {
				return 0
			}
		case kr != sr && !strings.EqualFold(key[j:j+ks], s[i:i+ss]):
			return 0
		}
		i += ss
		j += ks
	}
	return i
}

// Unresolved returns every @...@ token still present in text, in order.
func Unresolved(text string) []string {
	return unresolvedPattern.FindAllString(text, -1)
}
