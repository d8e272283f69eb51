// Command policy-server serves a save directory to remote test-policy runs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pickplace-eval/internal/config"
	"pickplace-eval/internal/logging"
	"pickplace-eval/internal/policyserver"
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
	configPath string
	host       string
	port       int
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "policy-server <dir>",
		Short: "Serve a policy save directory over HTTP",
		Long: `Serve the checkpoints and environment of a save directory.

Routes:
  GET /policy?itr=last&deterministic=false   actor weights
  GET /env?itr=N                             saved environment
  GET /stats                                 backend and saved iterations
  GET /healthz, /metrics`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.Flags().Changed, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML config file")
	f.StringVar(&opts.host, "host", "", "listen host")
	f.IntVar(&opts.port, "port", 9003, "listen port")
	f.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error")
	return cmd
}

func run(ctx context.Context, changed func(string) bool, opts *options, dir string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if changed("port") {
		cfg.Server.Port = opts.port
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc := logging.NewDefaultConfig()
	if lc.Level, err = logging.LevelFromString(cfg.Logging.Level); err != nil {
		return err
	}
	lc.Format = cfg.Logging.Format
	lc.Fields["component"] = "policy-server"
	log, err := logging.NewLogger(lc)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	srv, err := policyserver.New(dir, log, &policyserver.Config{Host: opts.host, Port: cfg.Server.Port})
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error(sctx, "shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
