// Command test-policy loads a saved policy and evaluates it, either on its
// own or as the sub-policy of the phased pick-and-place controller.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pickplace-eval/internal/config"
	"pickplace-eval/internal/loader"
	"pickplace-eval/internal/logging"
	_ "pickplace-eval/internal/pickplace"
	"pickplace-eval/internal/pipeline"
	"pickplace-eval/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath    string
	maxEpLen      int
	episodes      int
	norender      bool
	itr           int
	deterministic bool
	mode          string
	metricsAddr   string
	logLevel      string
	seed          uint64
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "test-policy <fpath>",
		Short: "Evaluate a saved policy",
		Long: `Load the policy saved under fpath and run it for a number of episodes.

fpath is a save directory or the URL of a policy-server. In pipeline mode
the policy drives each phase of the pick-and-place controller and the
running success rate is reported; in policy mode it acts on the raw
observation.

Examples:
  test-policy data/ppo/seed0 -n 20 --norender
  test-policy http://localhost:9003 -d --mode policy`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.IntVarP(&opts.maxEpLen, "len", "l", 0, "maximum episode length, 0 for the environment limit")
	f.IntVarP(&opts.episodes, "episodes", "n", 100, "number of episodes")
	f.BoolVar(&opts.norender, "norender", false, "do not render the environment")
	f.IntVarP(&opts.itr, "itr", "i", -1, "save iteration, -1 for the last one")
	f.BoolVarP(&opts.deterministic, "deterministic", "d", false, "use the deterministic action head when available")
	f.StringVar(&opts.mode, "mode", config.ModePipeline, "pipeline or policy")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	f.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error")
	f.Uint64Var(&opts.seed, "seed", 0, "seed for exploration noise, 0 for time based")

	cmd.AddCommand(newInitCmd())
	return cmd
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cfg *config.Config, changed func(name string) bool, opts *options) error {
	if changed("len") {
		cfg.Run.MaxEpLen = opts.maxEpLen
	}
	if changed("episodes") {
		cfg.Run.Episodes = opts.episodes
	}
	if changed("norender") {
		cfg.Run.Render = !opts.norender
	}
	if changed("itr") {
		cfg.Run.Itr = "last"
		if opts.itr >= 0 {
			cfg.Run.Itr = strconv.Itoa(opts.itr)
		}
	}
	if changed("deterministic") {
		cfg.Run.Deterministic = opts.deterministic
	}
	if changed("mode") {
		cfg.Run.Mode = opts.mode
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg.Validate()
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	return logging.NewLogger(lc)
}

func controllerConfig(c config.ControllerConfig) pipeline.ControllerConfig {
	out := pipeline.DefaultControllerConfig()
	copy(out.ReachOffset[:], c.ReachOffset)
	copy(out.GraspOffset[:], c.GraspOffset)
	out.ReachThreshold = c.ReachThreshold
	out.DownThreshold = c.DownThreshold
	out.PickThreshold = c.PickThreshold
	out.PlaceThreshold = c.PlaceThreshold
	out.PickTimer = c.PickTimer
	out.Gripper[pipeline.PhaseReach] = c.Gripper.Reach
	out.Gripper[pipeline.PhaseDown] = c.Gripper.Down
	out.Gripper[pipeline.PhasePick] = c.Gripper.Pick
	out.Gripper[pipeline.PhasePlace] = c.Gripper.Place
	return out
}

func run(cmd *cobra.Command, opts *options, fpath string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, cmd.Flags().Changed, opts); err != nil {
		return err
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := logging.WithRunID(cmd.Context(), uuid.NewString())
	err = evaluate(ctx, cmd, cfg, log, fpath, opts.seed)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "evaluation failed", zap.Error(err))
	}
	return err
}

func evaluate(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *logging.Logger, fpath string, seed uint64) error {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Warn(ctx, "trace exporter shutdown failed", zap.Error(err))
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn(ctx, "metrics server stopped", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
		log.Info(ctx, "serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}

	it, err := loader.ParseIteration(cfg.Run.Itr)
	if err != nil {
		return err
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	l := &loader.Loader{Log: log, Seed: seed}
	loaded, err := l.Load(ctx, fpath, it, cfg.Run.Deterministic)
	if err != nil {
		return err
	}

	d := &pipeline.Driver{
		Env:              loaded.Env,
		Policy:           loaded.Policy,
		Log:              log,
		Out:              cmd.OutOrStdout(),
		NumEpisodes:      cfg.Run.Episodes,
		MaxEpLen:         cfg.Run.MaxEpLen,
		Render:           cfg.Run.Render,
		RenderDelay:      cfg.Run.RenderDelay.Duration(),
		SuccessThreshold: cfg.Controller.SuccessThreshold,
	}

	var summary *pipeline.Summary
	switch cfg.Run.Mode {
	case config.ModePolicy:
		summary, err = d.RunPolicy(ctx)
	default:
		d.Controller, err = pipeline.NewController(loaded.Policy, pipeline.FetchPickAndPlaceLayout(), controllerConfig(cfg.Controller))
		if err != nil {
			return err
		}
		summary, err = d.RunPipeline(ctx)
	}
	if err != nil {
		return err
	}

	log.Info(ctx, "evaluation finished",
		zap.String("mode", cfg.Run.Mode),
		zap.Int("episodes", len(summary.Episodes)),
		zap.Float64("success_rate", summary.SuccessRate),
	)
	return nil
}
