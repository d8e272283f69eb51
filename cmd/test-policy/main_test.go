package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pickplace-eval/internal/config"
	"pickplace-eval/internal/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestApplyFlags(t *testing.T) {
	set := map[string]bool{"episodes": true, "itr": true, "norender": true, "deterministic": true, "mode": true}
	opts := &options{episodes: 5, itr: 3, norender: true, deterministic: true, mode: config.ModePolicy, maxEpLen: 99}

	cfg := config.Default()
	require.NoError(t, applyFlags(cfg, func(name string) bool { return set[name] }, opts))
	assert.Equal(t, 5, cfg.Run.Episodes)
	assert.Equal(t, "3", cfg.Run.Itr)
	assert.False(t, cfg.Run.Render)
	assert.True(t, cfg.Run.Deterministic)
	assert.Equal(t, config.ModePolicy, cfg.Run.Mode)
	assert.Equal(t, 0, cfg.Run.MaxEpLen, "unset flags keep the configured value")
}

func TestApplyFlags_NegativeItrMeansLast(t *testing.T) {
	cfg := config.Default()
	cfg.Run.Itr = "4"
	require.NoError(t, applyFlags(cfg, func(name string) bool { return name == "itr" }, &options{itr: -1}))
	assert.Equal(t, "last", cfg.Run.Itr)
}

func TestApplyFlags_Invalid(t *testing.T) {
	cfg := config.Default()
	err := applyFlags(cfg, func(name string) bool { return name == "mode" }, &options{mode: "teleop"})
	assert.Error(t, err)
}

func TestControllerConfig_Defaults(t *testing.T) {
	assert.Equal(t, pipeline.DefaultControllerConfig(), controllerConfig(config.Default().Controller))
}

func TestInitAndEvaluatePipeline(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote module save")
	assert.FileExists(t, filepath.Join(dir, "pyt_save", "model0.pt"))
	assert.FileExists(t, filepath.Join(dir, "vars0.json"))

	out, err = execute(t, dir, "-n", "2", "--norender", "--seed", "1", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "Episode 0 \t EpRet")
	assert.Contains(t, out, "Episode 1 \t SuccessRate")
	assert.Contains(t, out, "AverageEpRet")
	assert.Contains(t, out, "SuccessRate")
}

func TestInitAndEvaluatePolicy(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "init", dir, "--format", "graph", "--env", "Reach-v1")
	require.NoError(t, err)

	out, err := execute(t, dir, "--mode", "policy", "-d", "-n", "2", "-l", "10", "--norender", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "Episode 1 \t EpRet")
	assert.Contains(t, out, "EpLen")
	assert.NotContains(t, out, "Episode 0 \t SuccessRate")
}

func TestEvaluate_MissingEnvironment(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "init", dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, "vars0.json")))

	_, err = execute(t, dir, "-n", "1", "--norender", "--log-level", "error")
	assert.ErrorIs(t, err, pipeline.ErrNoEnvironment)
}

func TestInit_UnknownFormat(t *testing.T) {
	_, err := execute(t, "init", t.TempDir(), "--format", "onnx")
	assert.Error(t, err)
}
