// Package classify assigns a severity to lines of analysis output.
package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity of one output line.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// ParseSeverity reads a severity name.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityFatal:
		return sev, nil
	case "warn":
		return SeverityWarning, nil
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", s)
}

// IsError reports whether the severity marks a failure.
func (s Severity) IsError() bool {
	return s == SeverityError || s == SeverityFatal
}

// Pattern represents an output pattern with its severity.
type Pattern struct {
	Regex    *regexp.Regexp
	Severity Severity
}

// Classifier classifies output lines. Patterns are tried in order and the
// first match wins; custom patterns are tried before the defaults.
type Classifier struct {
	custom   []Pattern
	patterns []Pattern
}

// DefaultPatterns mirror the analysis framework's log level tags. WARNING is
// checked first, so a warning that mentions an error stays a warning.
var DefaultPatterns = []struct {
	Pattern  string
	Severity Severity
}{
	{`WARNING`, SeverityWarning},
	{`ERROR`, SeverityError},
	{`FATAL`, SeverityFatal},
}

// NewClassifier creates a classifier with the default patterns.
func NewClassifier() *Classifier {
	c := &Classifier{}

	for _, p := range DefaultPatterns {
		c.patterns = append(c.patterns, Pattern{
			Regex:    regexp.MustCompile(p.Pattern),
			Severity: p.Severity,
		})
	}

	return c
}

// AddPattern adds a custom pattern.
func (c *Classifier) AddPattern(pattern string, severity Severity) error {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	c.custom = append(c.custom, Pattern{
		Regex:    regex,
		Severity: severity,
	})
	return nil
}

// AddPatternsFromString parses and adds patterns from a comma-separated string.
// Format: "pattern1:severity1,pattern2:severity2". The severity follows the
// last colon so patterns may contain colons.
func (c *Classifier) AddPatternsFromString(s string) error {
	if s == "" {
		return nil
	}

	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		i := strings.LastIndex(pair, ":")
		if i <= 0 {
			continue
		}
		severity, err := ParseSeverity(pair[i+1:])
		if err != nil {
			return err
		}
		if err := c.AddPattern(strings.TrimSpace(pair[:i]), severity); err != nil {
			return err
		}
	}
	return nil
}

// Classify returns the severity of one output line.
func (c *Classifier) Classify(line string) Severity {
	sev, _ := c.ClassifyWithMatch(line)
	return sev
}

// ClassifyWithMatch returns the severity and the pattern that decided it.
func (c *Classifier) ClassifyWithMatch(line string) (Severity, string) {
	line = strings.TrimSpace(line)
	for _, set := range [][]Pattern{c.custom, c.patterns} {
		for _, p := range set {
			if p.Regex.MatchString(line) {
				return p.Severity, p.Regex.String()
			}
		}
	}
	return SeverityInfo, ""
}

// ExtractErrorMessage returns the last error or fatal line of output,
// falling back to the last non-empty line, truncated to maxLen.
func (c *Classifier) ExtractErrorMessage(output string, maxLen int) string {
	lines := strings.Split(output, "\n")

	pick := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if pick == "" {
			pick = line
		}
		if c.Classify(line).IsError() {
			pick = line
			break
		}
	}

	if pick == "" {
		return "Unknown error"
	}
	if maxLen > 0 && len(pick) > maxLen {
		return pick[:maxLen] + "..."
	}
	return pick
}
