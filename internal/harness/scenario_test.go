package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: from_disk
description: "loads"
steps:
  - close_stream: s1
assertions:
  - type: count
    collection: sessions
    count: 0
`), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "from_disk", s.Name)
	assert.Equal(t, StepCloseStream, s.Steps[0].Kind())
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: d\nstep: []\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{sweep: true}]\nassertions: [{type: stats, expect: {applied: 0}}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\nsteps: [{sweep: true}]\nassertions: [{type: stats, expect: {applied: 0}}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: x\ndescription: d\nassertions: [{type: stats, expect: {applied: 0}}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: x\ndescription: d\nsteps: [{sweep: true}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "two actions in one step",
			yaml:    "name: x\ndescription: d\nsteps: [{sweep: true, close_stream: s1}]\nassertions: [{type: stats, expect: {applied: 0}}]\n",
			wantErr: "exactly one action",
		},
		{
			name:    "empty step",
			yaml:    "name: x\ndescription: d\nsteps: [{}]\nassertions: [{type: stats, expect: {applied: 0}}]\n",
			wantErr: "exactly one action",
		},
		{
			name:    "negative advance",
			yaml:    "name: x\ndescription: d\nsteps: [{advance_ms: -1}]\nassertions: [{type: stats, expect: {applied: 0}}]\n",
			wantErr: "advance_ms must be positive",
		},
		{
			name:    "optimistic message without stream",
			yaml:    "name: x\ndescription: d\nsteps: [{optimistic_message: {role: user}}]\nassertions: [{type: stats, expect: {applied: 0}}]\n",
			wantErr: "stream is required",
		},
		{
			name:    "optimistic part without message",
			yaml:    "name: x\ndescription: d\nsteps: [{optimistic_part: {text: hi}}]\nassertions: [{type: stats, expect: {applied: 0}}]\n",
			wantErr: "message is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: d\nsteps: [{sweep: true}]\nassertions: [{type: trace_contains}]\n",
			wantErr: "unknown assertion type",
		},
		{
			name:    "count without count",
			yaml:    "name: x\ndescription: d\nsteps: [{sweep: true}]\nassertions: [{type: count, collection: parts}]\n",
			wantErr: "non-negative count",
		},
		{
			name:    "unknown collection",
			yaml:    "name: x\ndescription: d\nsteps: [{sweep: true}]\nassertions: [{type: exists, collection: users, id: u1}]\n",
			wantErr: "unknown collection",
		},
		{
			name:    "exists without id",
			yaml:    "name: x\ndescription: d\nsteps: [{sweep: true}]\nassertions: [{type: exists, collection: parts}]\n",
			wantErr: "id is required",
		},
		{
			name:    "stats without expect",
			yaml:    "name: x\ndescription: d\nsteps: [{sweep: true}]\nassertions: [{type: stats}]\n",
			wantErr: "expect is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStepKind(t *testing.T) {
	seq := int64(1)
	assert.Equal(t, StepDeliver, Step{Deliver: &DeliverStep{Type: "x", Seq: &seq}}.Kind())
	assert.Equal(t, StepAdvance, Step{AdvanceMS: 10}.Kind())
	assert.Equal(t, StepResume, Step{Resume: &ResumeStep{Stream: "s1"}}.Kind())
	assert.Equal(t, "", Step{}.Kind())
}
