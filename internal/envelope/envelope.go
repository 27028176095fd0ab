package envelope

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event types routed to the domain stores. Every other type is auxiliary
// and forwarded verbatim to the notification channel.
const (
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeSessionDeleted = "session.deleted"
	TypeMessageUpdated = "message.updated"
	TypeMessageRemoved = "message.removed"
	TypePartUpdated    = "message.part.updated"
	TypePartRemoved    = "message.part.removed"
)

// Envelope is one server-originated event.
type Envelope struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	EventID    string         `json:"eventId"`
	Sequence   int64          `json:"sequence"`
	Timestamp  int64          `json:"timestamp"`
	StreamID   string         `json:"streamId,omitempty"`
	Directory  string         `json:"directory,omitempty"`

	// HasSequence is false when the wire form omitted "sequence".
	HasSequence bool `json:"-"`
}

// Ordered reports whether the envelope participates in per-stream ordering.
func (e Envelope) Ordered() bool {
	return e.StreamID != "" && e.HasSequence
}

// String returns a compact identity for log lines and traces.
func (e Envelope) String() string {
	if e.Ordered() {
		return fmt.Sprintf("%s[%s#%d %s]", e.Type, e.StreamID, e.Sequence, e.EventID)
	}
	return fmt.Sprintf("%s[%s]", e.Type, e.EventID)
}

// wireEnvelope mirrors Envelope with a pointer sequence so that an absent
// field can be told apart from an explicit zero.
type wireEnvelope struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	EventID    string         `json:"eventId"`
	Sequence   *int64         `json:"sequence"`
	Timestamp  int64          `json:"timestamp"`
	StreamID   string         `json:"streamId"`
	Directory  string         `json:"directory"`
}

// MarshalJSON writes the wire form, omitting sequence when it was absent.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		Type:       e.Type,
		Properties: e.Properties,
		EventID:    e.EventID,
		Timestamp:  e.Timestamp,
		StreamID:   e.StreamID,
		Directory:  e.Directory,
	}
	if e.HasSequence {
		seq := e.Sequence
		w.Sequence = &seq
	}
	type out struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
		EventID    string         `json:"eventId"`
		Sequence   *int64         `json:"sequence,omitempty"`
		Timestamp  int64          `json:"timestamp"`
		StreamID   string         `json:"streamId,omitempty"`
		Directory  string         `json:"directory,omitempty"`
	}
	return json.Marshal(out(w))
}

// UnmarshalJSON reads the wire form. Numbers inside properties are kept as
// json.Number so that integer ids and counters survive unchanged.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	*e = Envelope{
		Type:       w.Type,
		Properties: w.Properties,
		EventID:    w.EventID,
		Timestamp:  w.Timestamp,
		StreamID:   w.StreamID,
		Directory:  w.Directory,
	}
	if w.Sequence != nil {
		e.Sequence = *w.Sequence
		e.HasSequence = true
	}
	return nil
}

// Decode parses and validates a single JSON envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &ValidationError{
			Code:    ErrCodeMalformedJSON,
			Message: err.Error(),
		}
	}
	if err := Validate(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Line is one decoded line of a JSONL envelope stream.
type Line struct {
	Number   int
	Envelope Envelope
	Err      error
}

// DecodeStream reads newline-delimited JSON envelopes. Blank lines and lines
// starting with '#' are skipped. Malformed lines are reported in Line.Err
// rather than aborting the stream; only read failures return an error.
func DecodeStream(r io.Reader) ([]Line, error) {
	var lines []Line
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		env, err := Decode([]byte(text))
		lines = append(lines, Line{Number: n, Envelope: env, Err: err})
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("read envelopes: %w", err)
	}
	return lines, nil
}

// Object returns properties[key] as an object, or nil.
func (e Envelope) Object(key string) map[string]any {
	if e.Properties == nil {
		return nil
	}
	obj, _ := e.Properties[key].(map[string]any)
	return obj
}

// Str returns properties[key] as a string, or "".
func (e Envelope) Str(key string) string {
	if e.Properties == nil {
		return ""
	}
	s, _ := e.Properties[key].(string)
	return s
}

// Into re-encodes properties[key] into target. Used by handlers to decode
// typed payloads ("info", "part") out of the generic property map.
func (e Envelope) Into(key string, target any) error {
	raw, ok := e.Properties[key]
	if !ok {
		return fmt.Errorf("property %q missing", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("property %q: %w", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("property %q: %w", key, err)
	}
	return nil
}
