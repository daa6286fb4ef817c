// Package config handles jobsub settings loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tool settings. Per-invocation choices (template, runs,
// options) come from the command line and are not part of it.
type Config struct {
	// Analysis
	AnalysisCmd     string
	LineBuffer      bool
	AnalysisTimeout time.Duration

	// SeverityPatterns adds output classification rules,
	// "pattern:severity" pairs separated by commas.
	SeverityPatterns string

	// Batch submission
	SubmitCmd       string
	BatchNamePrefix string

	// Parameter tables
	CommentPrefix    string
	SniffSampleBytes int
	MultiValuePolicy string

	// Output
	ArchiveLogs  bool
	ManifestFile string

	// Internal tracking
	configPath string
}

// EnvPrefix is prepended to every key when read from the environment.
const EnvPrefix = "JOBSUB_"

// Keys lists every recognised setting.
var Keys = []string{
	"ANALYSIS_CMD", "LINE_BUFFER", "ANALYSIS_TIMEOUT", "SEVERITY_PATTERNS",
	"SUBMIT_CMD", "BATCH_NAME_PREFIX",
	"COMMENT_PREFIX", "SNIFF_SAMPLE_BYTES", "MULTI_VALUE_POLICY",
	"ARCHIVE_LOGS", "MANIFEST_FILE",
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		AnalysisCmd: "corry",
		LineBuffer:  true,

		SubmitCmd:       "condor_submit",
		BatchNamePrefix: "Corry",

		CommentPrefix:    "#",
		SniffSampleBytes: 1024,
		MultiValuePolicy: "clamp",

		ArchiveLogs: true,
	}
}

// SearchPaths returns the locations tried when no settings file is given.
func SearchPaths() []string {
	return []string{
		"jobsub.config",
		"jobsub.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/jobsub/jobsub.config"),
	}
}

// Load reads settings from path (or the first existing search path), then
// applies JOBSUB_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, p := range SearchPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
		cfg.configPath = path
	}

	cfg.loadFromEnv()

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return c.loadYAML(data)
	}
	c.loadKeyValue(data)
	return nil
}

// loadKeyValue parses a bash-style KEY=VALUE file.
func (c *Config) loadKeyValue(data []byte) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
			(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
			if len(value) >= 2 {
				value = value[1 : len(value)-1]
			}
		}

		c.setValue(key, value)
	}
}

// loadYAML reads a flat mapping of the same keys. Values go through
// setValue so both formats share parsing rules.
func (c *Config) loadYAML(data []byte) error {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	for key, node := range raw {
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("key %s: expected a scalar value (line %d)", key, node.Line)
		}
		c.setValue(strings.ToUpper(key), node.Value)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	for _, key := range Keys {
		if value := os.Getenv(EnvPrefix + key); value != "" {
			c.setValue(key, value)
		}
	}
}

// Set assigns a setting by key name (case-insensitive), as given with
// --set KEY=VALUE. It reports whether the key is known.
func (c *Config) Set(key, value string) bool {
	return c.setValue(strings.ToUpper(strings.TrimSpace(key)), value)
}

func (c *Config) setValue(key, value string) bool {
	switch key {
	case "ANALYSIS_CMD":
		c.AnalysisCmd = value
	case "LINE_BUFFER":
		c.LineBuffer = parseBool(value)
	case "ANALYSIS_TIMEOUT":
		c.AnalysisTimeout = parseDurationSeconds(value)
	case "SEVERITY_PATTERNS":
		c.SeverityPatterns = value
	case "SUBMIT_CMD":
		c.SubmitCmd = value
	case "BATCH_NAME_PREFIX":
		c.BatchNamePrefix = value
	case "COMMENT_PREFIX":
		c.CommentPrefix = value
	case "SNIFF_SAMPLE_BYTES":
		c.SniffSampleBytes = parseInt(value)
	case "MULTI_VALUE_POLICY":
		c.MultiValuePolicy = strings.ToLower(strings.TrimSpace(value))
	case "ARCHIVE_LOGS":
		c.ArchiveLogs = parseBool(value)
	case "MANIFEST_FILE":
		c.ManifestFile = value
	default:
		return false
	}
	return true
}

// Validate repairs invalid values and returns a warning for each.
func (c *Config) Validate() []string {
	var warnings []string

	validPolicies := map[string]bool{"clamp": true, "strict": true}
	if !validPolicies[c.MultiValuePolicy] {
		warnings = append(warnings, fmt.Sprintf("MULTI_VALUE_POLICY '%s' invalid, using 'clamp'", c.MultiValuePolicy))
		c.MultiValuePolicy = "clamp"
	}

	if strings.TrimSpace(c.AnalysisCmd) == "" {
		warnings = append(warnings, "ANALYSIS_CMD is empty, using 'corry'")
		c.AnalysisCmd = "corry"
	}

	if strings.TrimSpace(c.SubmitCmd) == "" {
		warnings = append(warnings, "SUBMIT_CMD is empty, using 'condor_submit'")
		c.SubmitCmd = "condor_submit"
	}

	if c.CommentPrefix == "" {
		warnings = append(warnings, "COMMENT_PREFIX is empty, using '#'")
		c.CommentPrefix = "#"
	}

	if c.SniffSampleBytes < 1 {
		warnings = append(warnings, "SNIFF_SAMPLE_BYTES must be >= 1, using 1024")
		c.SniffSampleBytes = 1024
	}

	if c.AnalysisTimeout < 0 {
		warnings = append(warnings, "ANALYSIS_TIMEOUT must be >= 0, disabling")
		c.AnalysisTimeout = 0
	}

	return warnings
}

// Path returns the path the config was loaded from, if any.
func (c *Config) Path() string {
	return c.configPath
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

func parseInt(s string) int {
	i, _ := strconv.Atoi(strings.TrimSpace(s))
	return i
}

func parseDurationSeconds(s string) time.Duration {
	i := parseInt(s)
	return time.Duration(i) * time.Second
}
