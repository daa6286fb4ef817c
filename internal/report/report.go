// Package report collects the warnings and errors raised while generating
// and running jobs, so the invocation can close with a single summary.
package report

import (
	"sync"

	"go.uber.org/zap"
)

// Skip records a unit of work that was left out.
type Skip struct {
	Run    string
	Reason string
}

// Collector counts reported problems and logs them through its logger.
// A nil *Collector is valid and only discards.
type Collector struct {
	logger *zap.Logger

	mu       sync.Mutex
	warnings int
	errors   int
	skipped  []Skip
}

// New creates a collector logging through logger.
func New(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{logger: logger}
}

// Logger returns the logger the collector reports through.
func (c *Collector) Logger() *zap.Logger {
	if c == nil {
		return zap.NewNop()
	}
	return c.logger
}

// Warn logs a recoverable problem and counts it.
func (c *Collector) Warn(msg string, fields ...zap.Field) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.warnings++
	c.mu.Unlock()
	c.logger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

// Error logs a reported error and counts it.
func (c *Collector) Error(msg string, fields ...zap.Field) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
	c.logger.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// Skip records that run was skipped. It is counted as a warning.
func (c *Collector) Skip(run, reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.skipped = append(c.skipped, Skip{Run: run, Reason: reason})
	c.warnings++
	c.mu.Unlock()
	c.logger.Warn("skipping run", zap.String("run", run), zap.String("reason", reason))
}

// Warnings returns the number of warnings reported so far.
func (c *Collector) Warnings() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warnings
}

// Errors returns the number of errors reported so far.
func (c *Collector) Errors() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Skipped returns the skipped runs in the order they were reported.
func (c *Collector) Skipped() []Skip {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Skip(nil), c.skipped...)
}

// Summary logs the closing counts. Nothing is logged when no problem was
// reported.
func (c *Collector) Summary() {
	if c == nil {
		return
	}
	c.mu.Lock()
	warnings, errors := c.warnings, c.errors
	runs := make([]string, len(c.skipped))
	for i, s := range c.skipped {
		runs[i] = s.Run
	}
	c.mu.Unlock()

	if len(runs) > 0 {
		c.logger.Warn("runs were skipped", zap.Strings("runs", runs))
	}
	if errors > 0 {
		c.logger.Warn("there were error messages reported", zap.Int("errors", errors))
	}
	if warnings > 0 {
		c.logger.Info("there were warnings reported", zap.Int("warnings", warnings))
	}
}
