package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/correlate"
	"github.com/roach88/eventsync/internal/model"
)

const now = int64(1_700_000_000_000)

func optimistic(ts int64) *model.OptimisticMetadata {
	return &model.OptimisticMetadata{Optimistic: true, Source: "local", Timestamp: ts}
}

func newEngine() *Engine {
	return NewEngine(correlate.New(30 * time.Second))
}

func TestMessages_MatchedSupersedesPlaceholder(t *testing.T) {
	e := newEngine()

	canonical := []model.Message{{ID: "m1", Role: model.RoleUser, StreamID: "s", CreatedAt: now}}
	placeholders := []model.Message{{ID: "tmp-1", Role: model.RoleUser, StreamID: "s", Metadata: optimistic(now - 500)}}

	res := e.Messages(canonical, placeholders, now)

	require.Len(t, res.ToUpsert, 1)
	assert.Equal(t, "m1", res.ToUpsert[0].ID)
	assert.Nil(t, res.ToUpsert[0].Metadata, "canonical data is upserted as-is")
	assert.Equal(t, []string{"tmp-1"}, res.ToRemove)

	require.Len(t, res.Matches, 1)
	assert.Equal(t, correlate.ConfidenceCorrelation, res.Matches[0].Confidence)

	assert.Equal(t, 1, res.Stats.Matched)
	assert.Equal(t, 0, res.Stats.Unmatched)
	assert.Equal(t, 1, res.Stats.Strategies[correlate.StrategyRoleParentTime])
}

func TestMessages_UnmatchedCanonicalStillUpserted(t *testing.T) {
	e := newEngine()

	res := e.Messages([]model.Message{{ID: "m1", Role: model.RoleAssistant, CreatedAt: now}}, nil, now)

	assert.Len(t, res.ToUpsert, 1)
	assert.Empty(t, res.ToRemove)
	assert.Equal(t, 1, res.Stats.TotalCanonical)
	assert.Equal(t, 0, res.Stats.Matched)
}

func TestMessages_EachPlaceholderConsumedOnce(t *testing.T) {
	e := newEngine()

	canonical := []model.Message{
		{ID: "m1", Role: model.RoleUser, CreatedAt: now},
		{ID: "m2", Role: model.RoleUser, CreatedAt: now},
	}
	placeholders := []model.Message{{ID: "tmp", Role: model.RoleUser, Metadata: optimistic(now)}}

	res := e.Messages(canonical, placeholders, now)

	assert.Len(t, res.ToUpsert, 2)
	assert.Equal(t, []string{"tmp"}, res.ToRemove, "first canonical wins the placeholder")
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "m1", res.Matches[0].Canonical.ID)
}

func TestMessages_UnmatchedPlaceholdersUntouchedAndStaleCounted(t *testing.T) {
	e := newEngine()

	placeholders := []model.Message{
		{ID: "fresh", Role: model.RoleAssistant, Metadata: optimistic(now)},
		{ID: "old", Role: model.RoleAssistant, Metadata: optimistic(now - 60_000)},
	}
	res := e.Messages([]model.Message{{ID: "m1", Role: model.RoleUser, CreatedAt: now}}, placeholders, now)

	assert.Empty(t, res.ToRemove)
	assert.Equal(t, 2, res.Stats.Unmatched)
	assert.Equal(t, 1, res.Stats.Stale)
}

func TestParts_ToolCallIDExclusivity(t *testing.T) {
	e := newEngine()

	canonical := []model.Part{{ID: "p1", MessageID: "m1", Type: model.PartTool, CallID: "b"}}
	placeholders := []model.Part{
		{ID: "tmp-a", MessageID: "m1", Type: model.PartTool, CallID: "a", Metadata: optimistic(now)},
		{ID: "tmp-b", MessageID: "m1", Type: model.PartTool, CallID: "b", Metadata: optimistic(now)},
	}

	res := e.Parts(canonical, placeholders, now)

	assert.Equal(t, []string{"tmp-b"}, res.ToRemove, "only the matching call id is consumed")
	assert.Equal(t, 1, res.Stats.Unmatched)
}

func TestParts_ExactBeforeCorrelation(t *testing.T) {
	e := newEngine()

	canonical := []model.Part{{ID: "p1", MessageID: "m1", Type: model.PartText}}
	placeholders := []model.Part{
		{ID: "tmp", MessageID: "m1", Type: model.PartText, Metadata: optimistic(now)},
		{ID: "p1", MessageID: "m1", Type: model.PartText, Metadata: optimistic(now)},
	}

	res := e.Parts(canonical, placeholders, now)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, correlate.ConfidenceExact, res.Matches[0].Confidence)
	assert.Equal(t, []string{"p1"}, res.ToRemove)
}

func TestFindOrphans(t *testing.T) {
	entities := []model.Message{
		{ID: "fresh", Metadata: optimistic(now)},
		{ID: "old", Metadata: optimistic(now - 31_000)},
		{ID: "edge", Metadata: optimistic(now - 30_000)},
		{ID: "canonical"},
	}

	orphans := FindOrphans(entities, now, 30*time.Second)
	require.Len(t, orphans, 1)
	assert.Equal(t, "old", orphans[0].ID)
}

func TestFindOrphans_DefaultMaxAge(t *testing.T) {
	entities := []model.Part{{ID: "old", Metadata: optimistic(now - 31_000)}}
	assert.Len(t, FindOrphans(entities, now, 0), 1)
}

func TestEngine_Orphans(t *testing.T) {
	e := newEngine()
	assert.Len(t, e.OrphanMessages([]model.Message{{ID: "x", Metadata: optimistic(now - 40_000)}}, now), 1)
	assert.Empty(t, e.OrphanParts([]model.Part{{ID: "y", Metadata: optimistic(now)}}, now))
}
