package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pickplace-eval/internal/policy"
)

const (
	graphPrefix  = "tf1_save"
	moduleDir    = "pyt_save"
	modulePrefix = "model"
	moduleExt    = ".pt"
)

var ErrNoSave = errors.New("no saved model")

// Backend reads one on-disk checkpoint format.
type Backend interface {
	Name() string
	// Iterations lists the numbered saves in dir.
	Iterations(dir string) ([]int, error)
	// LoadWeights reads the actor saved under suffix itr. The returned
	// weights only carry a mu head when deterministic actions were asked
	// for and the save provides one.
	LoadWeights(dir, itr string, deterministic bool) (policy.Weights, error)
}

// Detect picks the graph backend when any entry of dir mentions
// tf1_save, and the module backend otherwise.
func Detect(dir string) (Backend, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read save dir: %w", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), graphPrefix) {
			return GraphBackend{}, nil
		}
	}
	return ModuleBackend{}, nil
}

// GraphBackend reads tf1_save<N>/ directories holding model_info.json,
// which names the exported output ops, and variables.json with the
// actor weights.
type GraphBackend struct{}

type modelInfo struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

func (GraphBackend) Name() string { return "tf1" }

func (GraphBackend) Iterations(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read save dir: %w", err)
	}
	var saves []int
	for _, e := range entries {
		name := e.Name()
		if !strings.Contains(name, graphPrefix) || len(name) <= len(graphPrefix) {
			continue
		}
		n, err := strconv.Atoi(name[len(graphPrefix):])
		if err != nil {
			continue
		}
		saves = append(saves, n)
	}
	return saves, nil
}

func (GraphBackend) LoadWeights(dir, itr string, deterministic bool) (policy.Weights, error) {
	base := filepath.Join(dir, graphPrefix+itr)

	var info modelInfo
	if err := readJSON(filepath.Join(base, "model_info.json"), &info); err != nil {
		return policy.Weights{}, err
	}
	var w policy.Weights
	if err := readJSON(filepath.Join(base, "variables.json"), &w); err != nil {
		return policy.Weights{}, err
	}

	hasMu := false
	for _, op := range info.Outputs {
		if op == "mu" {
			hasMu = true
		}
	}
	if !deterministic || !hasMu {
		w.Mu = nil
	}
	return w, nil
}

// ModuleBackend reads pyt_save/model<N>.pt checkpoints, stored as JSON.
// Module checkpoints always act through their sampling head.
type ModuleBackend struct{}

type moduleCheckpoint struct {
	Actor policy.Weights `json:"actor"`
}

func (ModuleBackend) Name() string { return "pytorch" }

func (ModuleBackend) Iterations(dir string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(dir, moduleDir))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", moduleDir, err)
	}
	var saves []int
	for _, e := range entries {
		name := e.Name()
		// "model.pt" is the unnumbered save.
		if len(name) <= len(modulePrefix+moduleExt) || !strings.Contains(name, modulePrefix) {
			continue
		}
		stem := strings.SplitN(name, ".", 2)[0]
		n, err := strconv.Atoi(strings.TrimPrefix(stem, modulePrefix))
		if err != nil {
			continue
		}
		saves = append(saves, n)
	}
	return saves, nil
}

func (ModuleBackend) LoadWeights(dir, itr string, _ bool) (policy.Weights, error) {
	var ckpt moduleCheckpoint
	path := filepath.Join(dir, moduleDir, modulePrefix+itr+moduleExt)
	if err := readJSON(path, &ckpt); err != nil {
		return policy.Weights{}, err
	}
	ckpt.Actor.Mu = nil
	return ckpt.Actor, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNoSave, path)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
