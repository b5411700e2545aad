package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/emissionwatch/internal/threshold"
)

func TestParseThresholds(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    []threshold.Entry
		wantErr bool
	}{
		{
			name: "document order",
			yaml: "parameter_codes:\n  TS07: 10\n  ts05: 50.5\n",
			want: []threshold.Entry{{Code: "TS07", Limit: 10}, {Code: "ts05", Limit: 50.5}},
		},
		{
			name: "case variants kept in order",
			yaml: "parameter_codes:\n  TS07: 10\n  ts07: 20\n",
			want: []threshold.Entry{{Code: "TS07", Limit: 10}, {Code: "ts07", Limit: 20}},
		},
		{
			name: "other keys ignored",
			yaml: "title: plant 4\nparameter_codes:\n  TS01: 0\n",
			want: []threshold.Entry{{Code: "TS01", Limit: 0}},
		},
		{name: "empty document", yaml: ""},
		{name: "no section", yaml: "title: plant 4\n"},
		{name: "null section", yaml: "parameter_codes:\n"},
		{name: "not a number", yaml: "parameter_codes:\n  TS07: high\n", wantErr: true},
		{name: "section is a list", yaml: "parameter_codes:\n  - TS07\n", wantErr: true},
		{name: "malformed", yaml: "parameter_codes: [\n", wantErr: true},
		{name: "top level list", yaml: "- a\n- b\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseThresholds([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err, "got %v", got)
				return
			}
			require.NoError(t, err)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadThresholds(t *testing.T) {
	dir := t.TempDir()

	entries, err := LoadThresholds(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err, "missing file")
	assert.Nil(t, entries)

	path := filepath.Join(dir, "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parameter_codes:\n  TS07: 10\n  ts07: 12\n"), 0o644))
	entries, err = LoadThresholds(path)
	require.NoError(t, err)

	engine := threshold.New(entries)
	limit, _ := engine.Classify("TS07", 0)
	require.NotNil(t, limit)
	assert.Equal(t, 12.0, *limit, "last entry wins")
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, 100, c.Trees)
	assert.Equal(t, 20, c.Leaves)
	assert.Equal(t, 10, c.MinLeaf)
	assert.Equal(t, 0.2, c.LearningRate)
	assert.Equal(t, int64(32<<20), c.MaxUploadBytes())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	content := "port: \"9090\"\ntrees: 50\ntraining_data: /srv/train.csv\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("EMISSIONWATCH_TREES", "25")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, "/srv/train.csv", c.TrainingData)
	assert.Equal(t, 25, c.Trees, "env overrides file")

	p := c.Params()
	assert.Equal(t, 25, p.Trees)
	assert.Equal(t, 255, p.MaxBins)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err, "missing explicit config file")
}
