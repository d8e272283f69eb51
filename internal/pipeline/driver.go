package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pickplace-eval/internal/epochlog"
	"pickplace-eval/internal/gym"
	"pickplace-eval/internal/logging"
)

const (
	ModePipeline = "pipeline"
	ModePolicy   = "policy"

	tracerName = "pickplace-eval/pipeline"
)

var ErrNoEnvironment = errors.New("environment not found: it was not saved with the policy, so the agent cannot be run in it")

// EpisodeRecord is the outcome of one finished episode.
type EpisodeRecord struct {
	Index      int
	Return     float64
	Length     int
	Success    bool
	FinalPhase Phase
	Stalled    bool
}

// Summary is the result of a full evaluation run.
type Summary struct {
	Episodes []EpisodeRecord
	// Success has one entry per planned episode; nil for plain runs.
	Success     []bool
	SuccessRate float64
	Table       map[string]float64
}

// Driver runs a fixed number of episodes against one environment.
type Driver struct {
	Env        gym.Env
	Policy     gym.Policy
	Controller *Controller
	Epoch      *epochlog.Logger
	Log        *logging.Logger
	Out        io.Writer
	Tracer     trace.Tracer

	NumEpisodes int
	// MaxEpLen ends an episode after that many steps; 0 disables the cap.
	MaxEpLen         int
	Render           bool
	RenderDelay      time.Duration
	SuccessThreshold float64
}

// stepper is the per-mode part of the loop.
type stepper interface {
	act(ctx context.Context, obs []float64) ([]float64, error)
	after(ctx context.Context) error
	reset()
	finish(rec *EpisodeRecord)
}

// RunPipeline evaluates the phased controller and tracks success per
// episode.
func (d *Driver) RunPipeline(ctx context.Context) (*Summary, error) {
	if d.Controller == nil {
		return nil, errors.New("pipeline run requires a controller")
	}
	if d.SuccessThreshold <= 0 {
		return nil, fmt.Errorf("success threshold must be > 0, got %g", d.SuccessThreshold)
	}
	d.Controller.Reset()
	return d.run(ctx, ModePipeline, &phased{c: d.Controller, log: d.logger()})
}

// RunPolicy feeds raw observations to the policy every step.
func (d *Driver) RunPolicy(ctx context.Context) (*Summary, error) {
	if d.Policy == nil {
		return nil, errors.New("policy run requires a policy")
	}
	return d.run(ctx, ModePolicy, plain{p: d.Policy})
}

func (d *Driver) logger() *logging.Logger {
	if d.Log == nil {
		return logging.NewNop()
	}
	return d.Log
}

func (d *Driver) run(ctx context.Context, mode string, s stepper) (*Summary, error) {
	if d.Env == nil {
		return nil, ErrNoEnvironment
	}
	if d.NumEpisodes <= 0 {
		return nil, fmt.Errorf("number of episodes must be > 0, got %d", d.NumEpisodes)
	}
	out := d.Out
	if out == nil {
		out = os.Stdout
	}
	epoch := d.Epoch
	if epoch == nil {
		epoch = epochlog.New(out, d.Log)
	}
	tracer := d.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	log := d.logger()
	tracked := mode == ModePipeline

	ctx, runSpan := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("mode", mode),
		attribute.Int("episodes", d.NumEpisodes),
		attribute.Int("max_ep_len", d.MaxEpLen),
	))
	defer runSpan.End()

	summary := &Summary{Episodes: make([]EpisodeRecord, 0, d.NumEpisodes)}
	if tracked {
		summary.Success = make([]bool, d.NumEpisodes)
	}

	var (
		epCtx  context.Context
		epSpan trace.Span
		epRet  float64
		epLen  int
		n      int
	)

	fail := func(err error) (*Summary, error) {
		if epSpan != nil {
			epSpan.RecordError(err)
			epSpan.SetStatus(codes.Error, err.Error())
			epSpan.End()
		}
		runSpan.RecordError(err)
		runSpan.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	obs, err := d.Env.Reset()
	if err != nil {
		return fail(fmt.Errorf("reset environment: %w", err))
	}

	for n < d.NumEpisodes {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if epSpan == nil {
			epCtx, epSpan = tracer.Start(ctx, "pipeline.episode", trace.WithAttributes(attribute.Int("episode", n)))
		}

		if d.Render {
			if err := d.Env.Render(); err != nil {
				return fail(fmt.Errorf("render: %w", err))
			}
			time.Sleep(d.RenderDelay)
		}

		action, err := s.act(epCtx, obs)
		if err != nil {
			return fail(err)
		}
		step, err := d.Env.Step(action)
		if err != nil {
			return fail(fmt.Errorf("step environment: %w", err))
		}
		obs = step.Obs
		epRet += step.Reward
		epLen++

		if err := s.after(epCtx); err != nil {
			return fail(err)
		}

		if tracked && !summary.Success[n] {
			dist, err := d.Controller.Slicer().GoalDistance(obs)
			if err != nil {
				return fail(err)
			}
			if dist < d.SuccessThreshold {
				summary.Success[n] = true
				log.Debug(epCtx, "episode succeeded", zap.Int("episode", n), zap.Int("step", epLen))
			}
		}

		if !step.Done && !(d.MaxEpLen > 0 && epLen == d.MaxEpLen) {
			continue
		}

		rec := EpisodeRecord{Index: n, Return: epRet, Length: epLen}
		if tracked {
			rec.Success = summary.Success[n]
		}
		s.finish(&rec)
		summary.Episodes = append(summary.Episodes, rec)

		epoch.Store("EpRet", epRet)
		epoch.Store("EpLen", float64(epLen))
		fmt.Fprintf(out, "Episode %d \t EpRet %.3f \t EpLen %d\n", n, epRet, epLen)

		fields := []zap.Field{
			zap.Int("episode", n),
			zap.Float64("return", epRet),
			zap.Int("length", epLen),
		}
		epSpan.SetAttributes(attribute.Float64("return", epRet), attribute.Int("length", epLen))
		if tracked {
			summary.SuccessRate = successRate(summary.Success, n)
			fmt.Fprintf(out, "Episode %d \t SuccessRate %.3f\n", n, summary.SuccessRate)
			SuccessRate.Set(summary.SuccessRate)
			fields = append(fields,
				zap.Bool("success", rec.Success),
				zap.Float64("success_rate", summary.SuccessRate),
				zap.Stringer("final_phase", rec.FinalPhase),
				zap.Bool("stalled", rec.Stalled),
			)
			epSpan.SetAttributes(
				attribute.Bool("success", rec.Success),
				attribute.String("final_phase", rec.FinalPhase.String()),
			)
		}
		recordEpisode(mode, rec, tracked)
		log.Info(epCtx, "episode finished", fields...)
		epSpan.End()
		epSpan = nil

		obs, err = d.Env.Reset()
		if err != nil {
			return fail(fmt.Errorf("reset environment: %w", err))
		}
		s.reset()
		epRet, epLen = 0, 0
		n++
	}

	if err := epoch.LogTabular("EpRet", epochlog.WithMinAndMax()); err != nil {
		return fail(err)
	}
	if err := epoch.LogTabular("EpLen", epochlog.AverageOnly()); err != nil {
		return fail(err)
	}
	if tracked {
		epoch.LogValue("SuccessRate", summary.SuccessRate)
	}
	table, err := epoch.DumpTabular(ctx)
	if err != nil {
		return fail(err)
	}
	summary.Table = table
	return summary, nil
}

// successRate is the fraction of episodes 0..n that succeeded.
func successRate(success []bool, n int) float64 {
	count := 0
	for _, ok := range success[:n+1] {
		if ok {
			count++
		}
	}
	return float64(count) / float64(n+1)
}

type plain struct {
	p gym.Policy
}

func (s plain) act(_ context.Context, obs []float64) ([]float64, error) {
	a, err := s.p.Action(obs)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return a, nil
}

func (plain) after(context.Context) error { return nil }
func (plain) reset()                      {}
func (plain) finish(*EpisodeRecord)       {}

type phased struct {
	c   *Controller
	log *logging.Logger
}

func (s *phased) act(ctx context.Context, obs []float64) ([]float64, error) {
	step, err := s.c.Act(obs)
	if err != nil {
		return nil, err
	}
	s.log.Trace(ctx, "controller step",
		zap.Stringer("phase", step.Phase),
		zap.Float64("distance", step.Distance),
		zap.Float64s("action", step.Action),
	)
	return step.Action, nil
}

func (s *phased) after(ctx context.Context) error {
	out, err := s.c.Advance()
	if err != nil {
		return err
	}
	recordOutcome(out)
	if out.Changed() {
		s.log.Debug(ctx, "phase transition",
			zap.Stringer("from", out.From),
			zap.Stringer("to", out.To),
			zap.Float64("distance", out.Distance),
			zap.Int("timer", out.Timer),
		)
	}
	if out.Stalled {
		s.log.Debug(ctx, "pick countdown expired", zap.Float64("distance", out.Distance))
	}
	return nil
}

func (s *phased) reset() {
	s.c.Reset()
}

func (s *phased) finish(rec *EpisodeRecord) {
	rec.FinalPhase = s.c.Phase()
	rec.Stalled = s.c.Stalled()
}
