package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEventTick(t *testing.T) {
	in := "ver:3.0 server:supervisor serial:21 pool:listener poolserial:10 eventname:TICK_60 len:15\nwhen:1700000000"
	l := NewListener(strings.NewReader(in), io.Discard)

	ev, err := l.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "TICK_60", ev.Name())
	assert.True(t, ev.IsTick())
	assert.Equal(t, "1700000000", ev.Fields()["when"])
	assert.Equal(t, "21", ev.Headers["serial"])

	_, err = l.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadEventBackToBack(t *testing.T) {
	in := "eventname:PROCESS_STATE_RUNNING len:5\nabcdeeventname:TICK_5 len:0\n"
	l := NewListener(strings.NewReader(in), io.Discard)

	first, err := l.ReadEvent()
	require.NoError(t, err)
	assert.False(t, first.IsTick())
	assert.Equal(t, []byte("abcde"), first.Payload)

	second, err := l.ReadEvent()
	require.NoError(t, err)
	assert.True(t, second.IsTick())
	assert.Empty(t, second.Payload)
}

// failAfterHeader fails the test if anything past the header is read.
type failAfterHeader struct {
	t      *testing.T
	header string
	done   bool
}

func (r *failAfterHeader) Read(p []byte) (int, error) {
	if r.done {
		r.t.Fatalf("payload read after malformed header")
	}
	r.done = true
	return copy(p, r.header), nil
}

func TestReadEventMalformedHeader(t *testing.T) {
	for _, line := range []string{
		"garbage\n",
		"eventname:TICK_60\n",
		"eventname:TICK_60 len:abc\n",
		"eventname:TICK_60 len:-1\n",
		"len:10\n",
		"\n",
	} {
		l := NewListener(&failAfterHeader{t: t, header: line}, io.Discard)
		_, err := l.ReadEvent()
		var he *HeaderError
		assert.True(t, errors.As(err, &he), "line %q: %v", line, err)
	}
}

func TestReadEventShortPayload(t *testing.T) {
	l := NewListener(strings.NewReader("eventname:TICK_60 len:20\nwhen:1"), io.Discard)
	_, err := l.ReadEvent()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadEventUnterminatedHeader(t *testing.T) {
	l := NewListener(strings.NewReader("eventname:TICK_60 len:2"), io.Discard)
	_, err := l.ReadEvent()
	var he *HeaderError
	assert.True(t, errors.As(err, &he))
}

func TestReadyAndResult(t *testing.T) {
	var out bytes.Buffer
	l := NewListener(strings.NewReader(""), &out)

	require.NoError(t, l.Ready())
	require.NoError(t, l.Result(true, ""))
	require.NoError(t, l.Result(false, "probe broke"))

	assert.Equal(t, "READY\nRESULT 2\nOKRESULT 16\nFAIL probe broke", out.String())
}
