// Package config holds the deployment settings shared by the binaries.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/signalsfoundry/alive-physics/internal/rpc"
	"github.com/signalsfoundry/alive-physics/internal/sim/window"
	"github.com/signalsfoundry/alive-physics/timectrl"
)

// ErrInvalidConfig is returned for malformed or out-of-range settings.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full set of deployment constants. Window is fixed for the
// lifetime of a process; clients cannot negotiate it.
type Config struct {
	Window       uint32
	GRPCAddr     string
	MetricsAddr  string
	StepInterval time.Duration
	RenderDelay  uint32
	MaxRooms     int
	// CompressionLevel is the snapshot deflate level; 0 selects the best
	// compression level.
	CompressionLevel int
	SnapshotDir      string
	SentryDSN        string
	// StatsView is the listen address of the runtime viewer. Empty disables it.
	StatsView string
	// MaxReplaySteps caps num_steps on a single ReplaySnapshot call.
	MaxReplaySteps uint32
	// WSOrigins are the browser origins allowed to open /ws. Empty means
	// same-origin only; "*" allows any.
	WSOrigins []string
}


// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Window:       window.DefaultWindow,
		GRPCAddr:     ":50051",
		MetricsAddr:  ":9090",
		StepInterval: time.Second / 60,
		RenderDelay:  timectrl.DefaultRenderDelay,
		SnapshotDir:  "snapshots",

		MaxReplaySteps: rpc.DefaultMaxReplaySteps,
	}
}

// FromEnv overlays PHYSICS_* environment variables (and SENTRY_DSN) on the
// defaults.
func FromEnv() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup is FromEnv with an injectable variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	if v, ok := lookup("PHYSICS_WINDOW"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: PHYSICS_WINDOW %q: %v", ErrInvalidConfig, v, err))
		}
		cfg.Window = uint32(n)
	}
	if v, ok := lookup("PHYSICS_GRPC_ADDR"); ok {
		cfg.GRPCAddr = v
	}
	if v, ok := lookup("PHYSICS_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := lookup("PHYSICS_STEP_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: PHYSICS_STEP_INTERVAL %q: %v", ErrInvalidConfig, v, err))
		}
		cfg.StepInterval = d
	}
	if v, ok := lookup("PHYSICS_RENDER_DELAY"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: PHYSICS_RENDER_DELAY %q: %v", ErrInvalidConfig, v, err))
		}
		cfg.RenderDelay = uint32(n)
	}
	if v, ok := lookup("PHYSICS_MAX_ROOMS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: PHYSICS_MAX_ROOMS %q: %v", ErrInvalidConfig, v, err))
		}
		cfg.MaxRooms = n
	}
	if v, ok := lookup("PHYSICS_COMPRESSION_LEVEL"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: PHYSICS_COMPRESSION_LEVEL %q: %v", ErrInvalidConfig, v, err))
		}
		cfg.CompressionLevel = n
	}
	if v, ok := lookup("PHYSICS_SNAPSHOT_DIR"); ok {
		cfg.SnapshotDir = v
	}
	if v, ok := lookup("SENTRY_DSN"); ok {
		cfg.SentryDSN = v
	}
	if v, ok := lookup("PHYSICS_STATSVIEW"); ok {
		cfg.StatsView = v
	}
	if v, ok := lookup("PHYSICS_MAX_REPLAY_STEPS"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: PHYSICS_MAX_REPLAY_STEPS %q: %v", ErrInvalidConfig, v, err))
		}
		cfg.MaxReplaySteps = uint32(n)
	}
	if v, ok := lookup("PHYSICS_WS_ORIGINS"); ok {
		cfg.WSOrigins = splitList(v)
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// RegisterFlags binds command-line overrides for the server settings onto
// fs, using the current values of c as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.Func("window", fmt.Sprintf("speculative window in steps (default %d)", c.Window), func(s string) error {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return err
		}
		c.Window = uint32(n)
		return nil
	})
	fs.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "TCP address the PoseService gRPC server listens on")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "HTTP address for Prometheus /metrics and /ws")
	fs.DurationVar(&c.StepInterval, "step-interval", c.StepInterval, "wall-clock duration of one simulation step")
	fs.IntVar(&c.MaxRooms, "max-rooms", c.MaxRooms, "maximum number of open rooms (0 = unlimited)")
	fs.StringVar(&c.SnapshotDir, "snapshot-dir", c.SnapshotDir, "directory snapshots are written to")
	fs.Func("max-replay-steps", fmt.Sprintf("largest num_steps accepted by ReplaySnapshot (default %d)", c.MaxReplaySteps), func(s string) error {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return err
		}
		c.MaxReplaySteps = uint32(n)
		return nil
	})
	fs.Func("ws-origins", "comma-separated origins allowed to open /ws (* for any)", func(s string) error {
		c.WSOrigins = splitList(s)
		return nil
	})
	fs.StringVar(&c.StatsView, "statsview", c.StatsView, "listen address for the runtime stats viewer (empty disables)")
}

// Validate checks ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Window == 0 {
		errs = append(errs, fmt.Errorf("%w: window must be positive", ErrInvalidConfig))
	}
	if c.StepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: step interval must be positive", ErrInvalidConfig))
	}
	if c.MaxReplaySteps == 0 {
		errs = append(errs, fmt.Errorf("%w: max replay steps must be positive", ErrInvalidConfig))
	}
	if c.MaxRooms < 0 {
		errs = append(errs, fmt.Errorf("%w: max rooms must not be negative", ErrInvalidConfig))
	}
	if c.CompressionLevel != 0 && (c.CompressionLevel < flate.HuffmanOnly || c.CompressionLevel > flate.BestCompression) {
		errs = append(errs, fmt.Errorf("%w: compression level %d out of range", ErrInvalidConfig, c.CompressionLevel))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
