// Package config loads gpusort command settings from TOML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/kernel"
)

// DefaultFile is the config file read when none is given and it exists.
const DefaultFile = "gpusort.toml"

// ErrInvalid is returned for settings that fail validation.
var ErrInvalid = errors.New("config: invalid setting")

// Random configures generated input.
type Random struct {
	// Count is the number of values generated.
	Count int `toml:"count"`

	// Min and Max bound the values, inclusive.
	Min int32 `toml:"min"`
	Max int32 `toml:"max"`

	// Seed makes the input reproducible. Zero picks a random seed.
	Seed uint64 `toml:"seed"`
}

// Config holds the settings of the gpusort command.
type Config struct {
	// Backend is the device backend: sim, wgpu or gl.
	Backend string `toml:"backend"`

	// GroupSize is the workgroup width. Zero selects the backend default.
	GroupSize int `toml:"group_size"`

	// Workers and LaneGoroutines tune the simulator.
	Workers        int  `toml:"workers"`
	LaneGoroutines bool `toml:"lane_goroutines"`

	// MemoryLimit is the device memory budget in bytes. Zero is unlimited.
	MemoryLimit uint64 `toml:"memory_limit"`

	// Concurrency bounds the sorts run at once.
	Concurrency int `toml:"concurrency"`

	// LogLevel is debug, info, warn or error. Empty disables logging.
	LogLevel string `toml:"log_level"`

	Random Random `toml:"random"`
}

// Default returns the built-in settings: the simulator and 128 random
// values in [1, 100].
func Default() Config {
	return Config{
		Backend: "sim",
		Random: Random{
			Count: 128,
			Min:   1,
			Max:   100,
		},
	}
}

// Load reads the TOML file at path on top of Default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	c, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Decode reads TOML from r on top of Default. Unknown keys are errors.
func Decode(r io.Reader) (Config, error) {
	c := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("config: %s", strict.String())
		}
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Encode writes c as TOML.
func (c Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks the settings that do not depend on a device.
func (c Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("%w: backend is empty", ErrInvalid)
	}
	if c.GroupSize != 0 {
		if err := kernel.CheckGroupSize(c.GroupSize); err != nil {
			return fmt.Errorf("%w: group_size: %w", ErrInvalid, err)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d is negative", ErrInvalid, c.Workers)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency %d is negative", ErrInvalid, c.Concurrency)
	}
	if c.Random.Count < 0 {
		return fmt.Errorf("%w: random.count %d is negative", ErrInvalid, c.Random.Count)
	}
	if c.Random.Min > c.Random.Max {
		return fmt.Errorf("%w: random.min %d > random.max %d", ErrInvalid, c.Random.Min, c.Random.Max)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel. An empty LogLevel parses as slog.LevelInfo.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return l, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return l, fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return l, nil
}

// BackendConfig returns the device settings for gpusort.OpenBackend.
func (c Config) BackendConfig() gpusort.BackendConfig {
	return gpusort.BackendConfig{
		GroupSize:      c.GroupSize,
		Workers:        c.Workers,
		LaneGoroutines: c.LaneGoroutines,
		MemoryLimit:    c.MemoryLimit,
	}
}
