// Package variant expands multi-valued table cells such as {10,20,30} or
// {1-3} into one parameter binding per configuration variant.
package variant

import (
	"errors"
	"fmt"
	"strings"

	"jobsub/internal/runset"
	"jobsub/internal/table"
)

// Policy decides how fields with fewer candidates than the variant count
// are bound.
type Policy int

const (
	// Clamp binds a short field to its last candidate.
	Clamp Policy = iota

	// Strict rejects rows whose multi-valued fields differ in length.
	Strict
)

// ParsePolicy reads a policy name ("clamp" or "strict").
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "clamp":
		return Clamp, nil
	case "strict":
		return Strict, nil
	}
	return Clamp, fmt.Errorf("unknown multi-value policy %q", name)
}

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "clamp"
}

var (
	// ErrMalformed marks a cell with unbalanced braces.
	ErrMalformed = errors.New("no matching close bracket")

	// ErrLengthMismatch is returned under Strict when multi-valued fields
	// have different candidate counts.
	ErrLengthMismatch = errors.New("multi-valued fields differ in length")
)

// FieldError reports the cell that could not be expanded.
type FieldError struct {
	Run   int
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("run %d: field '%s' value '%s': %v", e.Run, e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Field is one column of a row with its candidate values.
type Field struct {
	Name       string
	Candidates []string
}

// Multi reports whether the field drives more than one variant.
func (f Field) Multi() bool {
	return len(f.Candidates) > 1
}

// At returns the candidate for variant i, clamped to the last candidate.
func (f Field) At(i int) string {
	if i >= len(f.Candidates) {
		i = len(f.Candidates) - 1
	}
	return f.Candidates[i]
}

// Binding is the value a field takes in one variant.
type Binding struct {
	Field string
	Value string
	Multi bool
}

// Expansion holds the candidate lists of one table row.
type Expansion struct {
	fields []Field
	count  int
}

// Expand computes the candidate lists of every field in row.
func Expand(row table.Row, policy Policy) (*Expansion, error) {
	e := &Expansion{count: 1}
	multiLen := 0

	for _, name := range row.Fields() {
		raw, _ := row.Get(name)

		var cands []string
		if name == table.RunNumberField {
			cands = []string{strings.TrimSpace(raw)}
		} else {
			var err error
			cands, err = Candidates(raw)
			if err != nil {
				return nil, &FieldError{Run: row.RunNumber, Field: name, Value: raw, Err: err}
			}
		}

		if n := len(cands); n > 1 {
			if policy == Strict && multiLen > 0 && n != multiLen {
				return nil, &FieldError{Run: row.RunNumber, Field: name, Value: raw,
					Err: fmt.Errorf("%w: %d vs %d candidates", ErrLengthMismatch, n, multiLen)}
			}
			multiLen = n
			if n > e.count {
				e.count = n
			}
		}
		e.fields = append(e.fields, Field{Name: name, Candidates: cands})
	}
	return e, nil
}

// Candidates parses one cell. A {...} wrapped value whose body contains a
// comma or dash is expanded with the run selector grammar; any other value
// is a single candidate, with wrapping braces removed.
func Candidates(raw string) ([]string, error) {
	v := strings.TrimSpace(raw)

	open := strings.HasPrefix(v, "{")
	closed := strings.HasSuffix(v, "}")
	if !open {
		return []string{v}, nil
	}
	if !closed || len(v) < 2 {
		return nil, ErrMalformed
	}

	body := v[1 : len(v)-1]
	if strings.ContainsAny(body, "{}") {
		return nil, fmt.Errorf("%w: nested braces", ErrMalformed)
	}
	if !strings.ContainsAny(body, ",-") {
		return []string{body}, nil
	}
	return runset.Strings(runset.Parse(body)), nil
}

// Count returns the number of variants the row produces.
func (e *Expansion) Count() int {
	return e.count
}

// Bindings returns the value of every field in variant i.
func (e *Expansion) Bindings(i int) []Binding {
	out := make([]Binding, len(e.fields))
	for k, f := range e.fields {
		out[k] = Binding{Field: f.Name, Value: f.At(i), Multi: f.Multi()}
	}
	return out
}

// Suffix names variant i by the values its multi-valued fields take,
// e.g. "_voltage20".
func (e *Expansion) Suffix(i int) string {
	var sb strings.Builder
	for _, f := range e.fields {
		if f.Name == "" || !f.Multi() {
			continue
		}
		sb.WriteString("_")
		sb.WriteString(f.Name)
		sb.WriteString(f.At(i))
	}
	return sb.String()
}
