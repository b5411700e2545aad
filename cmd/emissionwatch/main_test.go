package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/emissionwatch/internal/predict"
)

func TestParse_GlobalConfigReachesCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), nil, 0o644))

	var cli CLI
	parser, err := kong.New(&cli, kong.Name("emissionwatch"))
	require.NoError(t, err)

	ctx, err := parser.Parse([]string{"-c", "plant.yaml", "runs", "--warnings", "--limit", "5"})
	require.NoError(t, err)
	assert.Equal(t, "runs", ctx.Command())
	assert.True(t, filepath.IsAbs(cli.Config), "config path is resolved: %s", cli.Config)
	assert.Equal(t, "plant.yaml", filepath.Base(cli.Config))
	assert.True(t, cli.Runs.Warnings)
	assert.Equal(t, 5, cli.Runs.Limit)
}

func TestPredictCmd_MissingTrainingData(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "emissionwatch.yaml")
	content := "training_data: " + filepath.Join(dir, "missing.csv") + "\n" +
		"thresholds_file: " + filepath.Join(dir, "thresholds.yaml") + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(content), 0o644))

	cmd := &PredictCmd{File: filepath.Join(dir, "upload.csv")}
	err := cmd.Run(&CLI{Config: cfg})
	require.ErrorIs(t, err, predict.ErrTrainingData)
	assert.Contains(t, err.Error(), "check training_data")
}
