package cli

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventsync/internal/config"
)

func defaultConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := loadConfig(&RootOptions{})
	require.NoError(t, err)
	return cfg
}

func TestLoadConfig_File(t *testing.T) {
	path := writeFile(t, "eventsync.yaml", "ordering:\n  timeout_ms: 250\npump:\n  max_concurrent: 2\n")

	cfg, err := loadConfig(&RootOptions{ConfigPath: path})

	require.NoError(t, err)
	assert.Equal(t, int64(250), cfg.Ordering.TimeoutMS)
	assert.Equal(t, int64(2), cfg.Pump.MaxConcurrent)
	assert.Equal(t, config.Default().Dedup, cfg.Dedup)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantCode string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml"), ErrCodeNotFound},
		{"schema violation", writeFile(t, "bad.yaml", "pump:\n  max_concurrent: 0\n"), ErrCodeInvalidConfig},
		{"unknown field", writeFile(t, "typo.yaml", "orderng:\n  timeout_ms: 5\n"), ErrCodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(&RootOptions{ConfigPath: tt.path})

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr), "got %v", err)
			assert.Equal(t, tt.wantCode, loadErr.Code)
		})
	}
}

func TestLoadEnvelopes(t *testing.T) {
	path := writeFile(t, "events.jsonl", `# comment
{"type":"session.created","eventId":"e1","streamId":"s1","sequence":1,"timestamp":1,"properties":{"info":{"id":"s1"}}}

not json
{"type":"","eventId":"e2","timestamp":1,"properties":{}}
`)

	lines, err := LoadEnvelopes(path)

	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.NoError(t, lines[0].Err)
	assert.Equal(t, 2, lines[0].Number)
	assert.Equal(t, "s1", lines[0].Envelope.StreamID)
	assert.Error(t, lines[1].Err)
	assert.Equal(t, 4, lines[1].Number)
	assert.Error(t, lines[2].Err)
}

func TestLoadEnvelopes_NotFound(t *testing.T) {
	_, err := LoadEnvelopes(filepath.Join(t.TempDir(), "missing.jsonl"))

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}
