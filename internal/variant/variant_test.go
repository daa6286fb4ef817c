package variant

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobsub/internal/table"
)

func TestCandidates(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"5.3", []string{"5.3"}},
		{"  chipA ", []string{"chipA"}},
		{"", []string{""}},
		{"{10,20,30}", []string{"10", "20", "30"}},
		{" {1-3} ", []string{"1", "2", "3"}},
		{"{3-1}", []string{"1", "2", "3"}},
		{"{1-3,7,9-10}", []string{"1", "2", "3", "7", "9", "10"}},
		{"{/a/b}", []string{"/a/b"}},
		{"{a-b}", []string{"a-b"}},
		{"{10ns,20ns}", []string{"10ns", "20ns"}},
		{"a}", []string{"a}"}},
	}

	for _, tt := range tests {
		got, err := Candidates(tt.raw)
		if err != nil {
			t.Errorf("Candidates(%q) failed: %v", tt.raw, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Candidates(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestCandidatesMalformed(t *testing.T) {
	for _, raw := range []string{"{1,2", "{", "{{1,2}}", "{1,{2}"} {
		if _, err := Candidates(raw); !errors.Is(err, ErrMalformed) {
			t.Errorf("Candidates(%q) error = %v, want ErrMalformed", raw, err)
		}
	}
}

func row(fields, values []string) table.Row {
	return table.NewRow(42, fields, values)
}

func TestExpandMultiValue(t *testing.T) {
	r := row([]string{"runnumber", "voltage", "dut"}, []string{"42", "{10,20,30}", "chipA"})

	e, err := Expand(r, Clamp)
	require.NoError(t, err)
	require.Equal(t, 3, e.Count())

	for i, want := range []string{"10", "20", "30"} {
		b := e.Bindings(i)
		require.Len(t, b, 3)
		assert.Equal(t, Binding{Field: "runnumber", Value: "42"}, b[0])
		assert.Equal(t, Binding{Field: "voltage", Value: want, Multi: true}, b[1])
		assert.Equal(t, Binding{Field: "dut", Value: "chipA"}, b[2])
		assert.Equal(t, "_voltage"+want, e.Suffix(i))
	}
}

func TestExpandBracesWithoutDelimiter(t *testing.T) {
	e, err := Expand(row([]string{"runnumber", "path"}, []string{"42", "{/a/b}"}), Clamp)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count())
	assert.Equal(t, "/a/b", e.Bindings(0)[1].Value)
	assert.Equal(t, "", e.Suffix(0))
}

func TestExpandClampsShortFields(t *testing.T) {
	r := row([]string{"runnumber", "a", "b"}, []string{"42", "{1-3}", "{x,y}"})

	e, err := Expand(r, Clamp)
	require.NoError(t, err)
	require.Equal(t, 3, e.Count())

	assert.Equal(t, "_a1_bx", e.Suffix(0))
	assert.Equal(t, "_a2_by", e.Suffix(1))
	assert.Equal(t, "_a3_by", e.Suffix(2))
	assert.Equal(t, "y", e.Bindings(2)[2].Value)
}

func TestExpandStrict(t *testing.T) {
	r := row([]string{"runnumber", "a", "b"}, []string{"42", "{1-3}", "{x,y}"})

	_, err := Expand(r, Strict)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "b", fe.Field)

	same := row([]string{"runnumber", "a", "b"}, []string{"42", "{1,2}", "{x,y}"})
	e, err := Expand(same, Strict)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Count())
}

func TestExpandMalformedRow(t *testing.T) {
	_, err := Expand(row([]string{"runnumber", "v"}, []string{"42", "{1,2"}), Clamp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 42, fe.Run)
	assert.Equal(t, "v", fe.Field)
}

func TestExpandRunNumberNotExpanded(t *testing.T) {
	e, err := Expand(row([]string{"runnumber"}, []string{" {1,2} "}), Clamp)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Count())
	assert.Equal(t, "{1,2}", e.Bindings(0)[0].Value)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("STRICT")
	require.NoError(t, err)
	assert.Equal(t, Strict, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Clamp, p)

	_, err = ParsePolicy("wrap")
	assert.Error(t, err)
}
