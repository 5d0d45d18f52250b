package checks

import (
	"sort"
)

type constructor func(Params, *options) (Check, error)

// registry is the closed set of check kinds.
var registry = map[Kind]constructor{
	KindHTTP:   newHTTPCheck,
	KindTCP:    newTCPCheck,
	KindCPU:    newCPUCheck,
	KindMemory: newMemoryCheck,
	KindFile:   newFileCheck,
}

// Kinds lists the registered kinds in name order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds and validates one check.
func New(kind Kind, params Params, opts ...Option) (Check, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, &InvalidConfigError{Kind: kind, Reason: "unknown check kind"}
	}
	return ctor(params, buildOptions(opts))
}

// Build constructs one check per entry of spec, keyed by kind name.
// Checks are returned in kind name order so evaluation order is stable.
func Build(spec map[string]Params, opts ...Option) ([]Check, error) {
	if len(spec) == 0 {
		return nil, &InvalidConfigError{Reason: "no checks configured"}
	}
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)

	o := buildOptions(opts)
	out := make([]Check, 0, len(names))
	for _, name := range names {
		ctor, ok := registry[Kind(name)]
		if !ok {
			return nil, &InvalidConfigError{Kind: Kind(name), Reason: "unknown check kind"}
		}
		c, err := ctor(spec[name], o)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
