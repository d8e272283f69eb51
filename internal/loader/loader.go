// Package loader restores a saved actor and the environment it was trained
// on from a save directory or from a policy server.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pickplace-eval/internal/gym"
	"pickplace-eval/internal/logging"
	"pickplace-eval/internal/policy"
)

var ErrRemote = errors.New("policy server request failed")

// Save is a resolved checkpoint.
type Save struct {
	Backend string         `json:"backend"`
	Itr     string         `json:"itr"`
	Weights policy.Weights `json:"weights"`
}

type envFile struct {
	Env gym.EnvSpec `json:"env"`
}

// ReadSave detects the checkpoint format of dir, resolves it and reads the
// actor weights.
func ReadSave(dir string, it Iteration, deterministic bool) (*Save, error) {
	backend, err := Detect(dir)
	if err != nil {
		return nil, err
	}
	var saves []int
	if it.Last {
		if saves, err = backend.Iterations(dir); err != nil {
			return nil, err
		}
	}
	itr := resolve(it, saves)

	weights, err := backend.LoadWeights(dir, itr, deterministic)
	if err != nil {
		return nil, fmt.Errorf("load %s save %q: %w", backend.Name(), itr, err)
	}
	return &Save{Backend: backend.Name(), Itr: itr, Weights: weights}, nil
}

// ReadEnvSpec reads vars<itr>.json from dir.
func ReadEnvSpec(dir, itr string) (gym.EnvSpec, error) {
	var f envFile
	if err := readJSON(filepath.Join(dir, "vars"+itr+".json"), &f); err != nil {
		return gym.EnvSpec{}, err
	}
	if f.Env.ID == "" {
		return gym.EnvSpec{}, fmt.Errorf("%w: vars%s.json has no env id", ErrNoSave, itr)
	}
	return f.Env, nil
}

// Loaded is what an evaluation run needs. Env is nil when the save did not
// carry a usable environment.
type Loaded struct {
	Env    gym.Env
	Policy *policy.Policy
	Save   *Save
	Head   string
}

type Loader struct {
	Log    *logging.Logger
	Client *http.Client
	// Seed feeds the exploration noise of sampling heads.
	Seed uint64
}

// Load restores the policy and environment saved under fpath. A path with
// an http or https scheme is read from a policy server.
func (l *Loader) Load(ctx context.Context, fpath string, it Iteration, deterministic bool) (*Loaded, error) {
	log := l.Log
	if log == nil {
		log = logging.NewNop()
	}

	var (
		save    *Save
		spec    gym.EnvSpec
		specErr error
		err     error
	)
	if isRemote(fpath) {
		client := l.Client
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		base := strings.TrimRight(fpath, "/")
		if save, err = fetchSave(ctx, client, base, it, deterministic); err != nil {
			return nil, err
		}
		spec, specErr = fetchEnvSpec(ctx, client, base, save.Itr)
	} else {
		if save, err = ReadSave(fpath, it, deterministic); err != nil {
			return nil, err
		}
		spec, specErr = ReadEnvSpec(fpath, save.Itr)
	}

	head := save.Weights.HeadName(deterministic)
	log.Info(ctx, "loading policy",
		zap.String("path", fpath),
		zap.String("backend", save.Backend),
		zap.String("itr", save.Itr),
		zap.String("head", head),
	)
	if deterministic && head != "mu" {
		log.Warn(ctx, "deterministic action head not available, using default", zap.String("backend", save.Backend))
	}

	p, err := policy.NewPolicy(save.Weights, deterministic, l.Seed)
	if err != nil {
		return nil, err
	}

	out := &Loaded{Policy: p, Save: save, Head: head}
	if specErr != nil {
		log.Warn(ctx, "environment not found in save, pass one in explicitly", zap.Error(specErr))
		return out, nil
	}
	if out.Env, err = gym.Make(spec); err != nil {
		log.Warn(ctx, "saved environment cannot be built", zap.String("env", spec.ID), zap.Error(err))
		out.Env = nil
	}
	return out, nil
}

func isRemote(fpath string) bool {
	return strings.HasPrefix(fpath, "http://") || strings.HasPrefix(fpath, "https://")
}

func fetchSave(ctx context.Context, client *http.Client, base string, it Iteration, deterministic bool) (*Save, error) {
	q := url.Values{}
	q.Set("itr", it.String())
	q.Set("deterministic", strconv.FormatBool(deterministic))

	var save Save
	if err := getJSON(ctx, client, base+"/policy?"+q.Encode(), &save); err != nil {
		return nil, err
	}
	return &save, nil
}

func fetchEnvSpec(ctx context.Context, client *http.Client, base, itr string) (gym.EnvSpec, error) {
	q := url.Values{}
	q.Set("itr", itr)

	var f envFile
	if err := getJSON(ctx, client, base+"/env?"+q.Encode(), &f); err != nil {
		return gym.EnvSpec{}, err
	}
	return f.Env, nil
}

func getJSON(ctx context.Context, client *http.Client, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNoSave, target)
	default:
		return fmt.Errorf("%w: %s returned %d", ErrRemote, target, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// WriteJSON writes v as indented JSON, creating parent directories.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteModuleSave writes weights as the module checkpoint pyt_save/model<itr>.pt
// together with vars<itr>.json describing env.
func WriteModuleSave(dir, itr string, weights policy.Weights, env gym.EnvSpec) error {
	ckpt := moduleCheckpoint{Actor: weights}
	if err := WriteJSON(filepath.Join(dir, moduleDir, modulePrefix+itr+moduleExt), ckpt); err != nil {
		return err
	}
	return WriteJSON(filepath.Join(dir, "vars"+itr+".json"), envFile{Env: env})
}

// WriteGraphSave writes weights as tf1_save<itr>/ and vars<itr>.json. The
// saved graph exports a mu output when weights carry one.
func WriteGraphSave(dir, itr string, weights policy.Weights, env gym.EnvSpec) error {
	base := filepath.Join(dir, graphPrefix+itr)
	info := modelInfo{Inputs: []string{"x"}, Outputs: []string{"pi"}}
	if weights.Mu != nil {
		info.Outputs = append(info.Outputs, "mu")
	}
	if err := WriteJSON(filepath.Join(base, "model_info.json"), info); err != nil {
		return err
	}
	if err := WriteJSON(filepath.Join(base, "variables.json"), weights); err != nil {
		return err
	}
	return WriteJSON(filepath.Join(dir, "vars"+itr+".json"), envFile{Env: env})
}
