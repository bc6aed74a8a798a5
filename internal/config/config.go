// Package config holds the compiler settings shared by the pipeline, the
// harness and the CLI.
//
// Settings are layered: built-in defaults (including what the host CPU
// supports), then an optional YAML file, then NODEJIT_* environment
// variables. Command-line flags are applied last by the caller.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/xyproto/env/v2"
	"golang.org/x/sys/cpu"
	"gopkg.in/yaml.v3"

	"github.com/roach88/nodejit/internal/interp"
	"github.com/roach88/nodejit/internal/lowering"
)

// Environment variables that override file settings.
const (
	EnvWordSize      = "NODEJIT_WORD_SIZE"
	EnvMaxReductions = "NODEJIT_MAX_REDUCTIONS"
	EnvBranchCloning = "NODEJIT_BRANCH_CLONING"
	EnvLogLevel      = "NODEJIT_LOG_LEVEL"
)

// Config is the full set of compiler settings.
type Config struct {
	// WordSize is the target pointer width in bits, 32 or 64. Graph
	// descriptions that name their own word size win over it.
	WordSize int `yaml:"word_size"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Lowering  Lowering  `yaml:"lowering"`
	Linearize Linearize `yaml:"linearize"`
	Interp    Interp    `yaml:"interp"`
	Store     Store     `yaml:"store"`
}

// Lowering bounds the typed lowering fixpoint.
type Lowering struct {
	MaxReductions int `yaml:"max_reductions"`
}

// Linearize configures the effect/control linearizer.
type Linearize struct {
	BranchCloning bool `yaml:"branch_cloning"`

	// Float64RoundDown says the target has a native floor instruction.
	// It defaults to what the host supports.
	Float64RoundDown bool `yaml:"float64_round_down"`
}

// Interp bounds reference evaluation in scenarios.
type Interp struct {
	MaxSteps int `yaml:"max_steps"`
}

// Store locates the compilation log.
type Store struct {
	Path string `yaml:"path"`
}

// Default returns the settings for the host machine.
func Default() Config {
	return Config{
		WordSize: HostWordSize(),
		LogLevel: "info",
		Lowering: Lowering{MaxReductions: lowering.DefaultMaxReductions},
		Linearize: Linearize{
			BranchCloning:    true,
			Float64RoundDown: HostHasRoundDown(),
		},
		Interp: Interp{MaxSteps: interp.DefaultMaxSteps},
		Store:  Store{Path: "nodejit.db"},
	}
}

// HostWordSize is the pointer width of the machine we run on.
func HostWordSize() int {
	switch runtime.GOARCH {
	case "386", "arm", "mips", "mipsle", "wasm":
		return 32
	}
	return 64
}

// HostHasRoundDown reports whether the host has a float64 round-toward-
// negative-infinity instruction: SSE4.1 ROUNDSD on amd64, FRINTM on arm64.
func HostHasRoundDown() bool {
	switch runtime.GOARCH {
	case "amd64", "386":
		return cpu.X86.HasSSE41
	case "arm64":
		return true
	}
	return false
}

// Load reads settings from path on top of the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses YAML into cfg, keeping the values of absent keys.
func Decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg.Validate()
}

// ApplyEnv overrides cfg with any NODEJIT_* variables that are set.
func (c *Config) ApplyEnv() error {
	if env.Has(EnvWordSize) {
		c.WordSize = env.Int(EnvWordSize, c.WordSize)
	}
	if env.Has(EnvMaxReductions) {
		c.Lowering.MaxReductions = env.Int(EnvMaxReductions, c.Lowering.MaxReductions)
	}
	if env.Has(EnvBranchCloning) {
		c.Linearize.BranchCloning = env.Bool(EnvBranchCloning)
	}
	if env.Has(EnvLogLevel) {
		c.LogLevel = env.Str(EnvLogLevel)
	}
	return c.Validate()
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.WordSize != 32 && c.WordSize != 64 {
		return fmt.Errorf("word_size must be 32 or 64, got %d", c.WordSize)
	}
	if c.Lowering.MaxReductions <= 0 {
		return fmt.Errorf("lowering.max_reductions must be positive, got %d", c.Lowering.MaxReductions)
	}
	if c.Interp.MaxSteps <= 0 {
		return fmt.Errorf("interp.max_steps must be positive, got %d", c.Interp.MaxSteps)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel is LogLevel as a slog level. Validate has already accepted it.
func (c *Config) SlogLevel() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
