// Package util provides shared helpers for locating external programs.
package util

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCommandNotFound is returned when an executable is not on PATH.
var ErrCommandNotFound = errors.New("executable not found in PATH")

// FindCommand resolves name against PATH.
func FindCommand(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCommandNotFound, name)
	}
	return path, nil
}

// SplitCommand splits a configured command line into the program and its
// leading arguments, e.g. "corry -v INFO".
func SplitCommand(cmd string) (string, []string, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	return parts[0], parts[1:], nil
}
