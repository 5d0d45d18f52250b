package port

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidSpec is returned when a port value or pattern cannot yield a valid port.
	ErrInvalidSpec = errors.New("invalid port spec")
	// ErrNoMatch is returned when a port pattern does not match the process name.
	ErrNoMatch = errors.New("port pattern does not match process name")
)

// Spec describes how to obtain the port of a process: either a literal port
// or a pattern with exactly one capture group applied to the process name.
type Spec struct {
	literal int
	pattern *regexp.Regexp
	raw     string
}

// Parse builds a Spec from a literal integer, numeric text or a regular expression.
// Patterns are anchored at the start of the process name.
func Parse(v any) (Spec, error) {
	switch t := v.(type) {
	case int:
		return literal(t)
	case int32:
		return literal(int(t))
	case int64:
		return literal(int(t))
	case float64:
		if t != float64(int(t)) {
			return Spec{}, fmt.Errorf("%w: %v is not an integer", ErrInvalidSpec, t)
		}
		return literal(int(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return Spec{}, fmt.Errorf("%w: empty value", ErrInvalidSpec)
		}
		if n, err := strconv.Atoi(s); err == nil {
			return literal(n)
		}
		re, err := regexp.Compile("^(?:" + s + ")")
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		if re.NumSubexp() != 1 {
			return Spec{}, fmt.Errorf("%w: pattern %q must have exactly one capture group, has %d", ErrInvalidSpec, s, re.NumSubexp())
		}
		return Spec{pattern: re, raw: s}, nil
	default:
		return Spec{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidSpec, v)
	}
}

func literal(n int) (Spec, error) {
	if n < 1 || n > 65535 {
		return Spec{}, fmt.Errorf("%w: %d out of range", ErrInvalidSpec, n)
	}
	return Spec{literal: n, raw: strconv.Itoa(n)}, nil
}

// IsPattern reports whether the port is derived from the process name.
func (s Spec) IsPattern() bool { return s.pattern != nil }

func (s Spec) String() string { return s.raw }

// Resolve returns the port for the given process name.
func (s Spec) Resolve(processName string) (int, error) {
	if s.pattern == nil {
		if s.literal == 0 {
			return 0, fmt.Errorf("%w: empty spec", ErrInvalidSpec)
		}
		return s.literal, nil
	}
	m := s.pattern.FindStringSubmatch(processName)
	if m == nil {
		return 0, fmt.Errorf("%w: %q against %q", ErrNoMatch, s.raw, processName)
	}
	if len(m) != 2 {
		return 0, fmt.Errorf("%w: pattern %q captured %d groups", ErrInvalidSpec, s.raw, len(m)-1)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: captured %q from %q is not a number", ErrInvalidSpec, m[1], processName)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: captured port %d out of range", ErrInvalidSpec, n)
	}
	return n, nil
}

// Resolve is a convenience for one-shot resolution of a raw value.
func Resolve(v any, processName string) (int, error) {
	s, err := Parse(v)
	if err != nil {
		return 0, err
	}
	return s.Resolve(processName)
}
