// Package config loads server settings: defaults, then a YAML file, then flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile names.
const (
	ProfileDefault     = "default"
	ProfileStressTest  = "stress"
	ProfileLowResource = "low"
)

var ErrUnknownProfile = errors.New("config: unknown profile")

// Config holds everything coa-server needs to start.
type Config struct {
	Addr      string `yaml:"addr"`
	DBPath    string `yaml:"db_path"`
	ReplayDir string `yaml:"replay_dir"` // Empty disables the replay log
	Scenario  string `yaml:"scenario"`
	Profile   string `yaml:"profile"`
	Resume    string `yaml:"resume"` // Run ID to continue instead of starting fresh

	TickInterval     time.Duration `yaml:"tick_interval"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	CommandInterval  time.Duration `yaml:"command_interval"`
	PollInterval     time.Duration `yaml:"poll_interval"`

	MaxWaits      int `yaml:"max_waits"`
	MaxExpansions int `yaml:"max_expansions"`

	Tuning Tuning `yaml:"-"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Addr:             ":8080",
		DBPath:           "coasim.db",
		ReplayDir:        "replays",
		Scenario:         "scenarios/03_ambush.yaml",
		Profile:          ProfileDefault,
		TickInterval:     500 * time.Millisecond,
		SnapshotInterval: 5 * time.Second,
		CommandInterval:  250 * time.Millisecond,
		PollInterval:     100 * time.Millisecond,
		MaxWaits:         2,
		Tuning:           DefaultTuning(),
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// RegisterFlags binds command-line flags to cfg. Parse the flag set after
// loading the file so flags win.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "HTTP listen address")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "SQLite database path")
	fs.StringVar(&c.ReplayDir, "replay-dir", c.ReplayDir, "directory for replay logs, empty to disable")
	fs.StringVar(&c.Scenario, "scenario", c.Scenario, "scenario file to run")
	fs.StringVar(&c.Resume, "resume", c.Resume, "run ID to continue from the database")
	fs.StringVar(&c.Profile, "profile", c.Profile, "tuning profile: default, stress or low")
	fs.DurationVar(&c.TickInterval, "tick", c.TickInterval, "real-time tick interval")
	fs.DurationVar(&c.SnapshotInterval, "snapshot-every", c.SnapshotInterval, "unit snapshot interval")
	fs.DurationVar(&c.CommandInterval, "command-interval", c.CommandInterval, "minimum spacing between commands from one client")
	fs.IntVar(&c.MaxWaits, "max-waits", c.MaxWaits, "ticks a unit waits behind a friendly unit before detouring")
	fs.IntVar(&c.MaxExpansions, "max-expansions", c.MaxExpansions, "A* node budget per search, 0 for none")
}

// FromArgs loads the file named by -config, then applies the other flags.
func FromArgs(name string, args []string) (*Config, error) {
	var path string
	pre := flag.NewFlagSet(name, flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	pre.StringVar(&path, "config", "", "")
	Default().RegisterFlags(pre)
	if err := pre.Parse(args); err != nil && !errors.Is(err, flag.ErrHelp) {
		return nil, err
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&path, "config", path, "YAML config file")
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, cfg.Finish()
}

// Finish validates the merged settings and applies the tuning profile.
func (c *Config) Finish() error {
	return c.resolve()
}

func (c *Config) resolve() error {
	t, err := ProfileTuning(c.Profile)
	if err != nil {
		return err
	}
	c.Tuning = t
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Default().PollInterval
	}
	if c.MaxWaits < 0 || c.MaxExpansions < 0 {
		return errors.New("config: max_waits and max_expansions must not be negative")
	}
	return nil
}
