package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/eventsync/internal/dispatch"
	"github.com/roach88/eventsync/internal/envelope"
	"github.com/roach88/eventsync/internal/model"
	"github.com/roach88/eventsync/internal/state"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext is what assertions are evaluated against.
type AssertionContext struct {
	Store     *state.Store
	Stats     dispatch.Stats
	Forwarded []envelope.Envelope
}

// EvaluateAssertions evaluates all assertions and returns a message per
// failure.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCount:
			err = assertCount(actx.Store, assertion)
		case AssertExists:
			err = assertExists(actx.Store, assertion)
		case AssertAbsent:
			err = assertAbsent(actx.Store, assertion)
		case AssertForwarded:
			err = assertForwarded(actx.Forwarded, assertion)
		case AssertStats:
			err = assertStats(actx.Stats, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %s", i, err))
		}
	}

	return errors
}

// assertCount checks the number of records in a collection, optionally
// narrowed to one stream or (for parts) one message.
func assertCount(st *state.Store, a Assertion) error {
	snap := st.Snapshot()

	var n int
	switch a.Collection {
	case CollectionSessions:
		for _, s := range snap.Sessions {
			if a.Stream == "" || s.ID == a.Stream {
				n++
			}
		}
	case CollectionMessages:
		for _, m := range snap.Messages {
			if a.Stream == "" || m.StreamID == a.Stream {
				n++
			}
		}
	case CollectionParts:
		for _, p := range snap.Parts {
			if (a.Stream == "" || p.StreamID == a.Stream) && (a.Message == "" || p.MessageID == a.Message) {
				n++
			}
		}
	}

	if n != *a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d %s%s", *a.Count, a.Collection, scopeDesc(a)),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func scopeDesc(a Assertion) string {
	var scope []string
	if a.Stream != "" {
		scope = append(scope, "stream="+a.Stream)
	}
	if a.Message != "" {
		scope = append(scope, "message="+a.Message)
	}
	if len(scope) == 0 {
		return ""
	}
	return " where " + strings.Join(scope, " AND ")
}

// lookup returns a record as a generic map. The derived "optimistic" field
// reports whether the record is still a placeholder.
func lookup(st *state.Store, collection, id string) (map[string]any, bool, error) {
	var (
		rec        any
		ok         bool
		optimistic bool
	)
	switch collection {
	case CollectionSessions:
		rec, ok = st.Session(id)
	case CollectionMessages:
		var m model.Message
		m, ok = st.Message(id)
		rec, optimistic = m, model.IsOptimistic(m)
	case CollectionParts:
		var p model.Part
		p, ok = st.Part(id)
		rec, optimistic = p, model.IsOptimistic(p)
	}
	if !ok {
		return nil, false, nil
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, true, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, true, err
	}
	fields["optimistic"] = optimistic
	return fields, true, nil
}

// assertExists checks a record exists and matches Expect (subset match).
func assertExists(st *state.Store, a Assertion) error {
	fields, ok, err := lookup(st, a.Collection, a.ID)
	if err != nil {
		return err
	}
	if !ok {
		return &AssertionError{
			Type:     AssertExists,
			Expected: fmt.Sprintf("%s %q to exist", a.Collection, a.ID),
			Actual:   "not found",
		}
	}
	return matchFields(AssertExists, fields, a.Expect)
}

// assertAbsent checks a record does not exist.
func assertAbsent(st *state.Store, a Assertion) error {
	_, ok, err := lookup(st, a.Collection, a.ID)
	if err != nil {
		return err
	}
	if ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("%s %q to be absent", a.Collection, a.ID),
			Actual:   "found",
		}
	}
	return nil
}

// assertForwarded counts forwarded envelopes, optionally of one type.
func assertForwarded(forwarded []envelope.Envelope, a Assertion) error {
	var n int
	for _, env := range forwarded {
		if a.EventType == "" || env.Type == a.EventType {
			n++
		}
	}
	if n != *a.Count {
		what := "envelopes"
		if a.EventType != "" {
			what = a.EventType + " envelopes"
		}
		return &AssertionError{
			Type:     AssertForwarded,
			Expected: fmt.Sprintf("%d forwarded %s", *a.Count, what),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// assertStats checks dispatcher counters by their JSON names.
func assertStats(stats dispatch.Stats, a Assertion) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	for key := range a.Expect {
		if _, ok := fields[key]; !ok {
			return fmt.Errorf("unknown stats counter %q", key)
		}
	}
	return matchFields(AssertStats, fields, a.Expect)
}

// matchFields compares expected values against actual ones by canonical
// JSON, so YAML ints match JSON numbers. Keys are checked in sorted order
// for stable messages.
func matchFields(typ string, actual, expected map[string]any) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("field %q = %v", key, expected[key]),
				Actual:   fmt.Sprintf("field %q not present", key),
			}
		}
		if !valuesEqual(got, expected[key]) {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("field %q = %v", key, expected[key]),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
			}
		}
	}
	return nil
}

// valuesEqual compares two values through their canonical JSON encoding.
func valuesEqual(actual, expected any) bool {
	a, err := envelope.Canonical(actual)
	if err != nil {
		return false
	}
	e, err := envelope.Canonical(expected)
	if err != nil {
		return false
	}
	return string(a) == string(e)
}
