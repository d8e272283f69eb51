package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pickplace-eval/internal/gym"
	"pickplace-eval/internal/loader"
	"pickplace-eval/internal/policy"
)

type initOptions struct {
	format   string
	env      string
	itr      int
	gain     float64
	maxSteps int
	seed     int64
}

func newInitCmd() *cobra.Command {
	opts := &initOptions{}
	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Write a scripted reaching policy as a save directory",
		Long: `Write a save directory holding a proportional reaching policy and the
environment it targets. The policy steers the gripper towards the goal
part of the 16-value sub-task observation, which is enough to drive every
phase of the pick-and-place controller.

Examples:
  test-policy init /tmp/demo
  test-policy init /tmp/demo --format graph --itr 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "module", "checkpoint format: module or graph")
	f.StringVar(&opts.env, "env", "PickAndPlace-v1", "environment id saved with the policy")
	f.IntVar(&opts.itr, "itr", 0, "save iteration, -1 for an unnumbered save")
	f.Float64Var(&opts.gain, "gain", 10, "proportional gain of the reaching policy")
	f.IntVar(&opts.maxSteps, "max-steps", 50, "episode step limit of the saved environment")
	f.Int64Var(&opts.seed, "seed", 0, "environment seed")
	return cmd
}

func runInit(cmd *cobra.Command, opts *initOptions, dir string) error {
	itr := ""
	if opts.itr >= 0 {
		itr = strconv.Itoa(opts.itr)
	}
	weights := policy.ReachWeights(16, 4, opts.gain)
	spec := gym.EnvSpec{ID: opts.env, MaxEpisodeSteps: opts.maxSteps, Seed: opts.seed}

	var err error
	switch opts.format {
	case "module":
		err = loader.WriteModuleSave(dir, itr, weights, spec)
	case "graph":
		mu := weights.Pi
		weights.Mu = &mu
		err = loader.WriteGraphSave(dir, itr, weights, spec)
	default:
		return fmt.Errorf("unknown format %q, want module or graph", opts.format)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s save %q for %s to %s\n", opts.format, itr, opts.env, dir)
	return nil
}
