package port

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int
	}{
		{name: "int", in: 8080, want: 8080},
		{name: "numeric text", in: "8080", want: 8080},
		{name: "padded text", in: " 9000 ", want: 9000},
		{name: "json number", in: float64(8090), want: 8090},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.in, "whatever")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePattern(t *testing.T) {
	s, err := Parse(`svc_(\d+)`)
	require.NoError(t, err)
	assert.True(t, s.IsPattern())

	got, err := s.Resolve("svc_9001")
	require.NoError(t, err)
	assert.Equal(t, 9001, got)
}

func TestParseRejectsBadPatterns(t *testing.T) {
	for _, in := range []any{`svc_(\d+)_(\d+)`, `svc_\d+`, `svc_(`, "", 0, 70000, 1.5, true} {
		_, err := Parse(in)
		assert.Error(t, err, "input %v", in)
		assert.True(t, errors.Is(err, ErrInvalidSpec), "input %v: %v", in, err)
	}
}

func TestResolveNoMatch(t *testing.T) {
	_, err := Resolve(`svc_(\d+)`, "web_8080")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMatch))
	assert.False(t, errors.Is(err, ErrInvalidSpec))
}

func TestResolveAnchoredAtStart(t *testing.T) {
	_, err := Resolve(`svc_(\d+)`, "my_svc_9001")
	assert.True(t, errors.Is(err, ErrNoMatch))
}

func TestResolveNonNumericCapture(t *testing.T) {
	_, err := Resolve(`svc_(\w+)`, "svc_abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSpec))
}

func TestResolveCapturedOutOfRange(t *testing.T) {
	_, err := Resolve(`svc_(\d+)`, "svc_99999")
	assert.True(t, errors.Is(err, ErrInvalidSpec))
}
