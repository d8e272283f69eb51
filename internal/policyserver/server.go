// Package policyserver serves a save directory over HTTP so evaluation runs
// on other hosts can load the policy and its environment.
package policyserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pickplace-eval/internal/gym"
	"pickplace-eval/internal/loader"
	"pickplace-eval/internal/logging"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pickplace",
	Subsystem: "policy_server",
	Name:      "requests_total",
	Help:      "Requests served, by route and status code.",
}, []string{"route", "code"})

type Config struct {
	Host string
	Port int
}

type Server struct {
	echo   *echo.Echo
	dir    string
	log    *logging.Logger
	config *Config

	policyRequests atomic.Int64
	envRequests    atomic.Int64
}

type HealthResponse struct {
	Status string `json:"status"`
}

type EnvResponse struct {
	Env gym.EnvSpec `json:"env"`
}

type StatsResponse struct {
	Dir            string `json:"dir"`
	Backend        string `json:"backend"`
	Iterations     []int  `json:"iterations"`
	PolicyRequests int64  `json:"policy_requests"`
	EnvRequests    int64  `json:"env_requests"`
}

// New builds a server for the save directory dir.
func New(dir string, log *logging.Logger, cfg *Config) (*Server, error) {
	if dir == "" {
		return nil, errors.New("save dir is required")
	}
	if info, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("save dir: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("save dir %s is not a directory", dir)
	}
	if log == nil {
		log = logging.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Host: "", Port: 9003}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			requestsTotal.WithLabelValues(c.Path(), strconv.Itoa(status)).Inc()
			log.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{echo: e, dir: dir, log: log, config: cfg}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/policy", s.handlePolicy)
	s.echo.GET("/env", s.handleEnv)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handlePolicy resolves ?itr= (default last) and returns the actor weights.
// ?deterministic=true keeps the mu head when the save exports one.
func (s *Server) handlePolicy(c echo.Context) error {
	s.policyRequests.Add(1)

	it, err := loader.ParseIteration(c.QueryParam("itr"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	deterministic := false
	if v := c.QueryParam("deterministic"); v != "" {
		if deterministic, err = strconv.ParseBool(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "deterministic must be a boolean")
		}
	}

	save, err := loader.ReadSave(s.dir, it, deterministic)
	if err != nil {
		return s.saveError(c, "policy", err)
	}
	s.log.Info(c.Request().Context(), "served policy",
		zap.String("backend", save.Backend),
		zap.String("itr", save.Itr),
		zap.Bool("deterministic", deterministic),
	)
	return c.JSON(http.StatusOK, save)
}

// handleEnv returns vars<itr>.json. itr is the resolved suffix, so it is
// either empty or a number.
func (s *Server) handleEnv(c echo.Context) error {
	s.envRequests.Add(1)

	itr := c.QueryParam("itr")
	if itr != "" {
		if n, err := strconv.Atoi(itr); err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "itr must be a save number")
		}
	}
	spec, err := loader.ReadEnvSpec(s.dir, itr)
	if err != nil {
		return s.saveError(c, "env", err)
	}
	return c.JSON(http.StatusOK, EnvResponse{Env: spec})
}

func (s *Server) handleStats(c echo.Context) error {
	backend, err := loader.Detect(s.dir)
	if err != nil {
		return s.saveError(c, "stats", err)
	}
	saves, err := backend.Iterations(s.dir)
	if err != nil {
		return s.saveError(c, "stats", err)
	}
	if saves == nil {
		saves = []int{}
	}
	return c.JSON(http.StatusOK, StatsResponse{
		Dir:            s.dir,
		Backend:        backend.Name(),
		Iterations:     saves,
		PolicyRequests: s.policyRequests.Load(),
		EnvRequests:    s.envRequests.Load(),
	})
}

func (s *Server) saveError(c echo.Context, route string, err error) error {
	if errors.Is(err, loader.ErrNoSave) {
		s.log.Warn(c.Request().Context(), "save not found", zap.String("route", route), zap.Error(err))
		return echo.NewHTTPError(http.StatusNotFound, "save not found")
	}
	s.log.Error(c.Request().Context(), "reading save failed", zap.String("route", route), zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "reading save failed")
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start blocks serving on the configured address.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "policy server listening", zap.String("addr", s.Addr()), zap.String("dir", s.dir))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down policy server")
	return s.echo.Shutdown(ctx)
}
