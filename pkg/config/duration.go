package config

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration embeds time.Duration so YAML config values can be written as
// "30s" style strings. Plain integers are accepted as nanoseconds for
// compatibility with programmatically generated files.
type Duration struct {
	time.Duration
}

// Dur is a constructor shorthand for building defaults.
func Dur(d time.Duration) Duration {
	return Duration{d}
}

// UnmarshalYAML decodes either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!int":
		n, err := strconv.ParseInt(value.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a duration", ErrInvalidValue, value.Value)
		}
		d.Duration = time.Duration(n)
		return nil
	case "!!str":
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("%w: %q is not a duration", ErrInvalidValue, value.Value)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("%w: cannot decode %s as duration", ErrInvalidValue, value.Tag)
	}
}

// MarshalYAML encodes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
