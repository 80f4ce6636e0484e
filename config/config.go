// Package config loads and validates planner configuration documents.
package config

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/opencnc/traject/logging"
	"github.com/opencnc/traject/tp"
)

// Config is the on-disk planner configuration. Zero fields take the
// defaults applied by Ensure.
type Config struct {
	QueueSize       int     `json:"queue_size"`
	LookaheadDepth  int     `json:"lookahead_depth"`
	CycleTime       float64 `json:"cycle_time"`
	Vmax            float64 `json:"vmax"`
	Vlimit          float64 `json:"vlimit"`
	Amax            float64 `json:"amax"`
	EnableBlendArcs bool    `json:"enable_blend_arcs"`
	LogFile         string  `json:"log_file,omitempty"`
}

// Default returns the configuration used when no document is supplied.
func Default() *Config {
	return &Config{
		QueueSize:      tp.DefaultQueueSize,
		LookaheadDepth: tp.DefaultLookaheadDepth,
		CycleTime:      0.001,
		Vmax:           1000,
		Vlimit:         1000,
		Amax:           1000,
	}
}

// Read loads a configuration document from the given path.
func Read(ctx context.Context, path string, logger logging.Logger) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open config %q", path)
	}
	defer f.Close() //nolint:errcheck
	return FromReader(ctx, f, logger)
}

// FromReader parses a configuration document, applies defaults and
// validates.
func FromReader(ctx context.Context, r io.Reader, logger logging.Logger) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	cfg.Ensure()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Debugw("config loaded",
		"queueSize", cfg.QueueSize,
		"cycleTime", cfg.CycleTime,
		"blendArcs", cfg.EnableBlendArcs,
	)
	return cfg, nil
}

// Ensure fills zero fields with defaults.
func (c *Config) Ensure() {
	def := Default()
	if c.QueueSize == 0 {
		c.QueueSize = def.QueueSize
	}
	if c.LookaheadDepth == 0 {
		c.LookaheadDepth = def.LookaheadDepth
	}
	if c.CycleTime == 0 {
		c.CycleTime = def.CycleTime
	}
	if c.Vmax == 0 {
		c.Vmax = def.Vmax
	}
	if c.Vlimit == 0 {
		c.Vlimit = def.Vlimit
	}
	if c.Amax == 0 {
		c.Amax = def.Amax
	}
}

// Validate reports every out-of-range field at once.
func (c *Config) Validate() error {
	var err error
	if c.QueueSize < 2 {
		err = multierr.Append(err, errors.New("queue_size must be at least 2"))
	}
	if c.CycleTime <= 0 {
		err = multierr.Append(err, errors.New("cycle_time must be positive"))
	}
	if c.LookaheadDepth < 1 {
		err = multierr.Append(err, errors.New("lookahead_depth must be at least 1"))
	}
	if c.Vmax <= 0 {
		err = multierr.Append(err, errors.New("vmax must be positive"))
	}
	if c.Vlimit <= 0 {
		err = multierr.Append(err, errors.New("vlimit must be positive"))
	}
	if c.Amax <= 0 {
		err = multierr.Append(err, errors.New("amax must be positive"))
	}
	return err
}

// TPConfig maps the document onto the planner's creation config.
func (c *Config) TPConfig() tp.Config {
	return tp.Config{
		QueueSize:       c.QueueSize,
		LookaheadDepth:  c.LookaheadDepth,
		CycleTime:       c.CycleTime,
		Vmax:            c.Vmax,
		Vlimit:          c.Vlimit,
		Amax:            c.Amax,
		EnableBlendArcs: c.EnableBlendArcs,
	}
}
