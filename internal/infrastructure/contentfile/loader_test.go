package contentfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

const civicsYAML = `
modules:
  - id: civics-101
    title: How government works
    xp_reward: 25
    lessons:
      - id: branches
        order_index: 1
        xp_reward: 10
      - id: elections
        order_index: 2
        xp_reward: 10
badges:
  - id: first-steps
    name: First steps
    conditions:
      - {stat_type: lessons_completed, operator: ">=", threshold: 1}
`

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		hint string
		data string
		want Format
	}{
		{"bundle.json", "", FormatJSON},
		{"application/json", "", FormatJSON},
		{"civics.yml", "{}", FormatYAML},
		{"application/x-yaml", "", FormatYAML},
		{"", `  {"modules": []}`, FormatJSON},
		{"", "modules: []", FormatYAML},
		{"text/plain", "", FormatYAML},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectFormat(tt.hint, []byte(tt.data)), "hint=%q data=%q", tt.hint, tt.data)
	}
}

func TestParse_YAML(t *testing.T) {
	b, err := Parse([]byte(civicsYAML), FormatYAML)
	require.NoError(t, err)
	require.Len(t, b.Modules, 1)
	assert.Len(t, b.Modules[0].Lessons, 2)
	require.Len(t, b.Badges, 1)
	require.Len(t, b.Badges[0].Conditions, 1)
	assert.Equal(t, int64(1), b.Badges[0].Conditions[0].Threshold)

	b.Normalize()
	assert.NoError(t, b.Validate())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"empty", "  \n", FormatYAML},
		{"unknown yaml field", "modules: []\nleaderboards: []\n", FormatYAML},
		{"unknown json field", `{"modules": [], "leaderboards": []}`, FormatJSON},
		{"malformed json", `{"modules": [`, FormatJSON},
		{"wrong type", "modules: 7\n", FormatYAML},
		{"unknown format", "modules: []", Format("toml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.True(t, shared.IsConfiguration(err), err)
		})
	}
}

func TestLoadFile_JSONMatchesYAML(t *testing.T) {
	fromYAML, err := Parse([]byte(civicsYAML), FormatYAML)
	require.NoError(t, err)

	data, err := Marshal(fromYAML, FormatJSON)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "civics.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	fromJSON, err := LoadFile(path)
	require.NoError(t, err)

	want, err := fromYAML.Checksum()
	require.NoError(t, err)
	got, err := fromJSON.Checksum()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
