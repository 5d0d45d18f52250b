package checks

import (
	"time"

	"github.com/spf13/cast"
)

// Params is the parameter bag of one check, as decoded from flags or JSON.
type Params map[string]any

// lookup returns the value of key, treating explicit nulls as absent.
func (p Params) lookup(key string) (any, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// reader validates parameters on behalf of one check kind.
type reader struct {
	b base
	p Params
}

func (r reader) has(key string) bool {
	_, ok := r.p.lookup(key)
	return ok
}

func (r reader) string(key, def string, required bool) (string, error) {
	v, ok := r.p.lookup(key)
	if !ok {
		if required {
			return "", r.b.invalid(key, "is required")
		}
		return def, nil
	}
	s, isString := v.(string)
	if !isString {
		return "", r.b.invalid(key, "must be a string, got %T", v)
	}
	return s, nil
}

func (r reader) float(key string, def float64, required bool) (float64, error) {
	v, ok := r.p.lookup(key)
	if !ok {
		if required {
			return 0, r.b.invalid(key, "is required")
		}
		return def, nil
	}
	if _, isBool := v.(bool); isBool {
		return 0, r.b.invalid(key, "must be numeric, got bool")
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, r.b.invalid(key, "must be numeric: %v", err)
	}
	return f, nil
}

func (r reader) int(key string, def int) (int, error) {
	v, ok := r.p.lookup(key)
	if !ok {
		return def, nil
	}
	f, err := r.float(key, 0, true)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, r.b.invalid(key, "must be an integer, got %v", v)
	}
	return int(f), nil
}

func (r reader) bool(key string, def bool) (bool, error) {
	v, ok := r.p.lookup(key)
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, r.b.invalid(key, "must be a boolean: %v", err)
	}
	return b, nil
}

// seconds reads a positive duration given in (possibly fractional) seconds.
func (r reader) seconds(key string, def time.Duration, required bool) (time.Duration, error) {
	f, err := r.float(key, def.Seconds(), required)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, r.b.invalid(key, "must be greater than zero, got %v", f)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func (r reader) retries(key string, def int) (int, error) {
	n, err := r.int(key, def)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, r.b.invalid(key, "must not be negative, got %d", n)
	}
	return n, nil
}
