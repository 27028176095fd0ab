package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/journal"
)

func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	seq := func(n int64) *int64 { return &n }
	ctx := context.Background()
	for _, e := range []journal.Entry{
		{EventID: "evt-2", StreamID: "s1", Sequence: seq(2), Type: "message.updated", Outcome: journal.OutcomeQueued},
		{EventID: "evt-1", StreamID: "s1", Sequence: seq(1), Type: "session.created", Outcome: journal.OutcomeApplied},
		{EventID: "evt-2", StreamID: "s1", Sequence: seq(2), Type: "message.updated", Outcome: journal.OutcomeApplied},
		{EventID: "evt-9", StreamID: "s2", Sequence: seq(1), Type: "message.part.updated", Outcome: journal.OutcomeRejected, Detail: "integrity: part p1 references unknown message m9"},
		{EventID: "aux-1", Type: "permission.updated", Outcome: journal.OutcomeForwarded},
	} {
		_, err := j.Record(ctx, e)
		require.NoError(t, err)
	}
	return path
}

func TestTrace_AllEntries(t *testing.T) {
	path := seedJournal(t)

	stdout, err := runCLI(t, "trace", "--journal", path, "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeData(t, stdout, &result)
	assert.Len(t, result.Entries, 5)
	assert.Equal(t, map[string]int{"queued": 1, "applied": 2, "rejected": 1, "forwarded": 1}, result.Counts)
}

func TestTrace_StreamAndOutcomeFilters(t *testing.T) {
	path := seedJournal(t)

	stdout, err := runCLI(t, "trace", "--journal", path, "--stream", "s1", "--outcome", "applied", "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeData(t, stdout, &result)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "evt-1", result.Entries[0].EventID)
	assert.Equal(t, "evt-2", result.Entries[1].EventID)
	assert.Equal(t, "s1", result.Stream)
}

func TestTrace_Text(t *testing.T) {
	path := seedJournal(t)

	stdout, err := runCLI(t, "trace", "--journal", path, "--stream", "s2", "--verbose")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Journal for stream: s2")
	assert.Contains(t, stdout, "rejected  message.part.updated evt-9 s2#1")
	assert.Contains(t, stdout, "integrity: part p1 references unknown message m9")
	assert.Contains(t, stdout, "=== Outcomes ===")
	assert.Contains(t, stdout, "applied:  2")
}

func TestTrace_Errors(t *testing.T) {
	_, err := runCLI(t, "trace")
	require.Error(t, err)

	_, err = runCLI(t, "trace", "--journal", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
