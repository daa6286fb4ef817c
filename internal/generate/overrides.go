package generate

import (
	"errors"
	"fmt"
	"strings"
)

// Reserved override keys. They are always present and never warned about
// when the template does not use them.
const (
	KeyConfFile = "conf_file"
	KeyLogPath  = "logpath"
)

// ErrBadOption is returned for an option that is not NAME=VALUE.
var ErrBadOption = errors.New("cannot parse option, use NAME=VALUE")

// Override is one global NAME=VALUE parameter.
type Override struct {
	Key   string
	Value string
}

// Overrides is an ordered set of parameters. Setting an existing key replaces
// its value and keeps its position.
type Overrides []Override

// DefaultOverrides returns the parameters every invocation starts with.
func DefaultOverrides() Overrides {
	return Overrides{
		{Key: KeyConfFile, Value: "analysis.conf"},
		{Key: KeyLogPath, Value: "."},
	}
}

// Set assigns value to key, lower-casing the key.
func (o *Overrides) Set(key, value string) {
	key = strings.ToLower(key)
	for i := range *o {
		if (*o)[i].Key == key {
			(*o)[i].Value = value
			return
		}
	}
	*o = append(*o, Override{Key: key, Value: value})
}

// Get returns the value for key.
func (o Overrides) Get(key string) (string, bool) {
	key = strings.ToLower(key)
	for _, ov := range o {
		if ov.Key == key {
			return ov.Value, true
		}
	}
	return "", false
}

// IsReserved reports whether key is one of the built-in defaults.
func IsReserved(key string) bool {
	return key == KeyConfFile || key == KeyLogPath
}

// ParseOverrides reads --option values on top of the defaults. Each value
// may hold several comma separated NAME=VALUE pairs; the value is everything
// after the first '='.
func ParseOverrides(options []string) (Overrides, error) {
	o := DefaultOverrides()
	for _, list := range options {
		for _, opt := range strings.Split(list, ",") {
			key, value, ok := strings.Cut(strings.TrimSpace(opt), "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("%w: '%s'", ErrBadOption, opt)
			}
			o.Set(key, value)
		}
	}
	return o, nil
}
