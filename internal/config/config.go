// Package config provides configuration for the policy evaluation tools.
package config

import (
	"fmt"
	"strconv"
	"time"
)

const (
	ModePipeline = "pipeline"
	ModePolicy   = "policy"
)

// Config is the full configuration of test-policy and policy-server.
type Config struct {
	Run        RunConfig        `koanf:"run"`
	Controller ControllerConfig `koanf:"controller"`
	Logging    LoggingConfig    `koanf:"logging"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Server     ServerConfig     `koanf:"server"`
}

// RunConfig controls the evaluation loop.
type RunConfig struct {
	// MaxEpLen caps episode length; 0 leaves it to the environment.
	MaxEpLen      int      `koanf:"max_ep_len"`
	Episodes      int      `koanf:"episodes"`
	Render        bool     `koanf:"render"`
	RenderDelay   Duration `koanf:"render_delay"`
	Itr           string   `koanf:"itr"`
	Deterministic bool     `koanf:"deterministic"`
	Mode          string   `koanf:"mode"`
}

// ControllerConfig holds the phase constants of the pick-and-place
// controller. The defaults are the tuned values for the Fetch layout.
type ControllerConfig struct {
	ReachOffset      []float64     `koanf:"reach_offset"`
	GraspOffset      []float64     `koanf:"grasp_offset"`
	ReachThreshold   float64       `koanf:"reach_threshold"`
	DownThreshold    float64       `koanf:"down_threshold"`
	PickThreshold    float64       `koanf:"pick_threshold"`
	PlaceThreshold   float64       `koanf:"place_threshold"`
	SuccessThreshold float64       `koanf:"success_threshold"`
	PickTimer        int           `koanf:"pick_timer"`
	Gripper          GripperConfig `koanf:"gripper"`
}

// GripperConfig is the gripper command forced in each phase.
type GripperConfig struct {
	Reach float64 `koanf:"reach"`
	Down  float64 `koanf:"down"`
	Pick  float64 `koanf:"pick"`
	Place float64 `koanf:"place"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// TelemetryConfig enables OTLP/HTTP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
}

// ServerConfig is used by policy-server.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns the configuration used when no file or env overrides
// are present.
func Default() *Config {
	return &Config{
		Run: RunConfig{
			MaxEpLen:    0,
			Episodes:    100,
			Render:      true,
			RenderDelay: Duration(time.Millisecond),
			Itr:         "last",
			Mode:        ModePipeline,
		},
		Controller: ControllerConfig{
			ReachOffset:      []float64{0, 0, 0.1},
			GraspOffset:      []float64{0.005, 0, -0.0005},
			ReachThreshold:   0.045,
			DownThreshold:    0.045,
			PickThreshold:    0.03,
			PlaceThreshold:   0.03,
			SuccessThreshold: 0.02,
			PickTimer:        500,
			Gripper: GripperConfig{
				Reach: 1,
				Down:  0.25,
				Pick:  -1,
				Place: -1,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pickplace-eval",
		},
		Server: ServerConfig{
			Port:            9003,
			ShutdownTimeout: Duration(5 * time.Second),
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Run.Episodes <= 0 {
		return fmt.Errorf("run.episodes must be > 0, got %d", c.Run.Episodes)
	}
	if c.Run.MaxEpLen < 0 {
		return fmt.Errorf("run.max_ep_len must be >= 0, got %d", c.Run.MaxEpLen)
	}
	if c.Run.Mode != ModePipeline && c.Run.Mode != ModePolicy {
		return fmt.Errorf("run.mode must be %q or %q, got %q", ModePipeline, ModePolicy, c.Run.Mode)
	}
	if c.Run.Itr != "last" {
		if _, err := strconv.Atoi(c.Run.Itr); err != nil {
			return fmt.Errorf("run.itr must be an integer or 'last', got %q", c.Run.Itr)
		}
	}
	if len(c.Controller.ReachOffset) != 3 {
		return fmt.Errorf("controller.reach_offset must have 3 components, got %d", len(c.Controller.ReachOffset))
	}
	if len(c.Controller.GraspOffset) != 3 {
		return fmt.Errorf("controller.grasp_offset must have 3 components, got %d", len(c.Controller.GraspOffset))
	}
	for name, v := range map[string]float64{
		"reach_threshold":   c.Controller.ReachThreshold,
		"down_threshold":    c.Controller.DownThreshold,
		"pick_threshold":    c.Controller.PickThreshold,
		"place_threshold":   c.Controller.PlaceThreshold,
		"success_threshold": c.Controller.SuccessThreshold,
	} {
		if v <= 0 {
			return fmt.Errorf("controller.%s must be > 0, got %g", name, v)
		}
	}
	if c.Controller.PickTimer <= 0 {
		return fmt.Errorf("controller.pick_timer must be > 0, got %d", c.Controller.PickTimer)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	return nil
}
