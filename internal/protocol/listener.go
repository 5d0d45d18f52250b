package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// ReadyToken announces that the listener can accept the next event.
	ReadyToken = "READY\n"

	resultOK   = "OK"
	resultFail = "FAIL"

	// maxPayload guards against a corrupted len field making us allocate unbounded memory.
	maxPayload = 64 << 20
)

// HeaderError reports a malformed event header line.
type HeaderError struct {
	Line   string
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("malformed event header %q: %s", e.Line, e.Reason)
}

// Event is a single notification delivered by supervisord.
type Event struct {
	Headers map[string]string
	Payload []byte
}

// Name returns the eventname header.
func (e Event) Name() string { return e.Headers["eventname"] }

// IsTick reports whether the event is one of the TICK_* timer events.
func (e Event) IsTick() bool { return strings.HasPrefix(e.Name(), "TICK_") }

// Fields parses the payload's space separated key:value tokens.
// Tokens without a separator are skipped.
func (e Event) Fields() map[string]string {
	out := make(map[string]string)
	line := string(e.Payload)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	for _, tok := range strings.Fields(line) {
		if k, v, ok := strings.Cut(tok, ":"); ok {
			out[k] = v
		}
	}
	return out
}

// Listener speaks supervisord's event listener protocol over a reader/writer pair.
// It is not safe for concurrent use.
type Listener struct {
	r *bufio.Reader
	w io.Writer
}

// NewListener wraps the control channel. r is usually stdin and w stdout.
func NewListener(r io.Reader, w io.Writer) *Listener {
	return &Listener{r: bufio.NewReader(r), w: w}
}

// Ready writes the READY token.
func (l *Listener) Ready() error {
	_, err := io.WriteString(l.w, ReadyToken)
	return err
}

// ReadEvent blocks until an event arrives. It returns io.EOF when the channel is
// closed before a header starts, and a *HeaderError without touching the payload
// when the header cannot be parsed.
func (l *Listener) ReadEvent() (Event, error) {
	line, err := l.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return Event{}, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return Event{}, &HeaderError{Line: line, Reason: "unterminated header line"}
		}
		return Event{}, err
	}
	headers, size, err := ParseHeader(line)
	if err != nil {
		return Event{}, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(l.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Event{}, fmt.Errorf("read payload of %d bytes: %w", size, err)
	}
	return Event{Headers: headers, Payload: payload}, nil
}

// Result writes a RESULT record. The payload is OK or FAIL, optionally followed by msg.
func (l *Listener) Result(ok bool, msg string) error {
	_, err := io.WriteString(l.w, FormatResult(ok, msg))
	return err
}

// FormatResult renders a RESULT record.
func FormatResult(ok bool, msg string) string {
	body := resultFail
	if ok {
		body = resultOK
	}
	if msg != "" {
		body += " " + msg
	}
	return "RESULT " + strconv.Itoa(len(body)) + "\n" + body
}

// ParseHeader parses a header line into its fields and the payload length.
func ParseHeader(line string) (map[string]string, int, error) {
	trimmed := strings.TrimRight(line, "\r\n")
	toks := strings.Fields(trimmed)
	if len(toks) == 0 {
		return nil, 0, &HeaderError{Line: trimmed, Reason: "empty header"}
	}
	headers := make(map[string]string, len(toks))
	for _, tok := range toks {
		k, v, ok := strings.Cut(tok, ":")
		if !ok || k == "" {
			return nil, 0, &HeaderError{Line: trimmed, Reason: fmt.Sprintf("token %q is not key:value", tok)}
		}
		headers[k] = v
	}
	if headers["eventname"] == "" {
		return nil, 0, &HeaderError{Line: trimmed, Reason: "missing eventname"}
	}
	raw, ok := headers["len"]
	if !ok {
		return nil, 0, &HeaderError{Line: trimmed, Reason: "missing len"}
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < 0 || size > maxPayload {
		return nil, 0, &HeaderError{Line: trimmed, Reason: fmt.Sprintf("bad len %q", raw)}
	}
	return headers, size, nil
}
