package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalTrace_CanonicalLines(t *testing.T) {
	seq := int64(3)
	out, err := MarshalTrace([]TraceEvent{
		{Step: 1, Action: TraceEnvelope, EventID: "e1", Type: "session.created", Stream: "s1", Seq: &seq, Outcome: "applied"},
		{Step: 2, Action: StepSweep, Removed: []string{"tmp-1"}},
	})
	require.NoError(t, err)

	want := `{"action":"envelope","event":"e1","outcome":"applied","seq":3,"step":1,"stream":"s1","type":"session.created"}` + "\n" +
		`{"action":"sweep","removed":["tmp-1"],"step":2}` + "\n"
	assert.Equal(t, want, string(out))
}

func TestMarshalTrace_Empty(t *testing.T) {
	out, err := MarshalTrace(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
