package table

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDialect is returned when no delimiter can be determined from the sample.
var ErrDialect = errors.New("could not determine delimiter")

// Dialect describes how the fields of a table line are separated and quoted.
type Dialect struct {
	Delimiter        rune
	Quote            rune
	Escape           rune
	SkipInitialSpace bool
}

// String renders the dialect for debug logging.
func (d Dialect) String() string {
	return fmt.Sprintf("delimiter=%q quote=%q escape=%q skipinitialspace=%t",
		d.Delimiter, d.Quote, d.Escape, d.SkipInitialSpace)
}

// candidateDelimiters are tried in order; earlier entries win ties.
var candidateDelimiters = []rune{',', '\t', ';', '|', ':', ' '}

// minConsistency is the share of sample lines that must agree on the
// delimiter count for a candidate to be accepted.
const minConsistency = 0.9

// Sniff determines the dialect of a table from a sample of complete lines
// (comments and blank lines already removed). The escape character is always
// a backslash.
func Sniff(sample string) (Dialect, error) {
	lines := sampleLines(sample)
	if len(lines) == 0 {
		return Dialect{}, fmt.Errorf("%w: empty sample", ErrDialect)
	}

	quote := guessQuote(lines)

	var (
		best      rune
		bestScore float64
	)
	for _, delim := range candidateDelimiters {
		score := consistency(lines, delim, quote)
		if score > bestScore {
			best, bestScore = delim, score
		}
	}
	if bestScore < minConsistency {
		return Dialect{}, ErrDialect
	}

	d := Dialect{
		Delimiter: best,
		Quote:     quote,
		Escape:    '\\',
	}
	if best != ' ' {
		d.SkipInitialSpace = alwaysFollowedBySpace(lines, best, quote)
	}
	return d, nil
}

func sampleLines(sample string) []string {
	var lines []string
	for _, l := range strings.Split(sample, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// guessQuote picks the quote character that most often opens a field.
func guessQuote(lines []string) rune {
	counts := map[rune]int{}
	for _, l := range lines {
		prev := rune(-1)
		for _, r := range l {
			if (r == '"' || r == '\'') && (prev == -1 || isFieldBoundary(prev)) {
				counts[r]++
			}
			prev = r
		}
	}
	if counts['\''] > counts['"'] {
		return '\''
	}
	return '"'
}

func isFieldBoundary(r rune) bool {
	for _, d := range candidateDelimiters {
		if r == d {
			return true
		}
	}
	return false
}

// consistency returns the share of lines whose count of delim (outside
// quotes) equals the most common non-zero count.
func consistency(lines []string, delim, quote rune) float64 {
	freq := map[int]int{}
	for _, l := range lines {
		freq[countOutsideQuotes(l, delim, quote)]++
	}

	mode, modeLines := 0, 0
	for n, c := range freq {
		if n == 0 {
			continue
		}
		if c > modeLines || (c == modeLines && n > mode) {
			mode, modeLines = n, c
		}
	}
	if mode == 0 {
		return 0
	}
	return float64(modeLines) / float64(len(lines))
}

// countOutsideQuotes counts delim outside quoted fields and outside {...}
// multi-value groups.
func countOutsideQuotes(line string, delim, quote rune) int {
	n := 0
	scanFields(line, delim, quote, func(int) { n++ })
	return n
}

// alwaysFollowedBySpace reports whether every field delimiter that is not at
// the end of a line is followed by a space.
func alwaysFollowedBySpace(lines []string, delim, quote rune) bool {
	seen, ok := false, true
	for _, l := range lines {
		runes := []rune(l)
		scanFields(l, delim, quote, func(i int) {
			if i+1 >= len(runes) {
				return
			}
			if runes[i+1] != ' ' {
				ok = false
			}
			seen = true
		})
	}
	return ok && seen
}

// scanFields calls fn with the rune index of every delimiter that separates
// fields. A quote opens a quoted field only at the start of a field (after
// optional spaces), as in Split; elsewhere it is a literal character.
func scanFields(line string, delim, quote rune, fn func(i int)) {
	runes := []rune(line)
	inQuote, escaped, atStart := false, false, true
	depth := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case inQuote:
			if r == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					i++
				} else {
					inQuote = false
				}
			}
		case r == quote && atStart:
			inQuote = true
		case r == delim && depth == 0:
			fn(i)
			atStart = true
			continue
		case r == ' ' && atStart:
			continue
		case r == '{':
			depth++
		case r == '}':
			if depth > 0 {
				depth--
			}
		}
		atStart = false
	}
}

// Split breaks one line into fields according to the dialect. A doubled
// quote inside a quoted field yields a literal quote; the escape character
// makes the following character literal. Delimiters inside an unquoted
// {...} group do not split, so multi-value cells need no quoting.
func (d Dialect) Split(line string) ([]string, error) {
	line = strings.TrimRight(line, "\r\n")

	var (
		fields  []string
		cur     strings.Builder
		inQuote bool
		depth   int
		atStart = true
	)
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if atStart && d.SkipInitialSpace && r == ' ' && !inQuote {
			continue
		}

		switch {
		case d.Escape != 0 && r == d.Escape:
			if i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
			}
		case inQuote && r == d.Quote:
			if i+1 < len(runes) && runes[i+1] == d.Quote {
				i++
				cur.WriteRune(d.Quote)
			} else {
				inQuote = false
			}
		case inQuote:
			cur.WriteRune(r)
		case r == d.Quote && atStart:
			inQuote = true
		case r == '{':
			depth++
			cur.WriteRune(r)
		case r == '}':
			if depth > 0 {
				depth--
			}
			cur.WriteRune(r)
		case r == d.Delimiter && depth == 0:
			fields = append(fields, cur.String())
			cur.Reset()
			atStart = true
			continue
		default:
			cur.WriteRune(r)
		}
		atStart = false
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quoted field")
	}
	fields = append(fields, cur.String())
	return fields, nil
}
