// Package config loads the worker configuration: an optional YAML file,
// defaults for everything the file leaves out, then ANNA_* and MATRIX_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/patrikpihlstrom/anna-worker/common/environment"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

// Config is the complete worker configuration.
type Config struct {
	Queue         QueueConfig    `yaml:"queue"`
	MaxConcurrent int            `yaml:"max_concurrent"`
	TickInterval  time.Duration  `yaml:"tick_interval"`
	MaxBackoff    time.Duration  `yaml:"max_backoff"`
	StartAttempts int            `yaml:"start_attempts"`
	IntakeBuffer  int            `yaml:"intake_buffer"`
	ListenAddr    string         `yaml:"listen_addr"`
	JournalPath   string         `yaml:"journal_path"`
	Listener      ListenerConfig `yaml:"listener"`
	Log           LogConfig      `yaml:"log"`
	Hub           HubConfig      `yaml:"hub"`
	Sandbox       SandboxConfig  `yaml:"sandbox"`
	Matrix        MatrixConfig   `yaml:"matrix"`
}

// QueueConfig locates the remote job queue.
type QueueConfig struct {
	Host  string `yaml:"host"`
	Token string `yaml:"token"`
}

// ListenerConfig rate-limits the intake listener.
type ListenerConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// LogConfig selects slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HubConfig describes the shared hub container.
type HubConfig struct {
	Name     string `yaml:"name"`
	Image    string `yaml:"image"`
	Port     int    `yaml:"port"`
	Attempts int    `yaml:"attempts"`
}

// SandboxConfig describes job containers.
type SandboxConfig struct {
	ImagePrefix string   `yaml:"image_prefix"`
	ImageTag    string   `yaml:"image_tag"`
	Entrypoint  []string `yaml:"entrypoint"`
	ScratchBind string   `yaml:"scratch_bind"`
	ShmSize     string   `yaml:"shm_size"`
}

// MatrixConfig enables transition notices when every field is set.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`
	NotifyRoom  string `yaml:"notify_room"`
}

// Enabled reports whether notices can be sent.
func (m MatrixConfig) Enabled() bool {
	return m.Homeserver != "" && m.UserID != "" && m.AccessToken != "" && m.NotifyRoom != ""
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		MaxConcurrent: 2,
		TickInterval:  2 * time.Second,
		MaxBackoff:    30 * time.Second,
		StartAttempts: 3,
		IntakeBuffer:  64,
		ListenAddr:    ":8090",
		Listener:      ListenerConfig{RatePerSecond: 5, Burst: 10},
		Log:           LogConfig{Level: "info", Format: "text"},
		Hub: HubConfig{
			Name:     "hub",
			Image:    "selenium/hub",
			Port:     4444,
			Attempts: 3,
		},
		Sandbox: SandboxConfig{
			ImagePrefix: "patrikpihlstrom/anna-",
			ImageTag:    "latest",
			Entrypoint:  []string{"python3", "/home/seluser/anna/anna/__main__.py", "-v", "-H"},
			ScratchBind: "/tmp/anna/:/tmp:rw",
			ShmSize:     "2G",
		},
	}
}

// Load reads path (skipped when empty), then applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation. Maintenance commands that never talk to
// the queue use it.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	environment.OverrideString(&c.Queue.Host, "ANNA_HOST")
	environment.OverrideString(&c.Queue.Token, "ANNA_TOKEN")
	environment.OverrideString(&c.ListenAddr, "ANNA_LISTEN_ADDR")
	environment.OverrideString(&c.JournalPath, "ANNA_JOURNAL_PATH")
	environment.OverrideString(&c.Log.Level, "ANNA_LOG_LEVEL")
	environment.OverrideString(&c.Log.Format, "ANNA_LOG_FORMAT")
	environment.OverrideString(&c.Matrix.Homeserver, "MATRIX_HOMESERVER")
	environment.OverrideString(&c.Matrix.UserID, "MATRIX_USER_ID")
	environment.OverrideString(&c.Matrix.AccessToken, "MATRIX_ACCESS_TOKEN")
	environment.OverrideString(&c.Matrix.NotifyRoom, "MATRIX_NOTIFY_ROOM")

	return errors.Join(
		environment.OverrideInt(&c.MaxConcurrent, "ANNA_MAX_CONCURRENT"),
		environment.OverrideDuration(&c.TickInterval, "ANNA_TICK_INTERVAL"),
		environment.OverrideDuration(&c.MaxBackoff, "ANNA_MAX_BACKOFF"),
	)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Queue.Host == "" {
		errs = append(errs, errors.New("queue host is required (ANNA_HOST)"))
	}
	if c.Queue.Token == "" {
		errs = append(errs, errors.New("queue token is required (ANNA_TOKEN)"))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval))
	}
	if c.MaxBackoff < c.TickInterval {
		errs = append(errs, fmt.Errorf("max_backoff (%s) must not be shorter than tick_interval (%s)", c.MaxBackoff, c.TickInterval))
	}
	if c.StartAttempts < 1 {
		errs = append(errs, fmt.Errorf("start_attempts must be at least 1, got %d", c.StartAttempts))
	}
	if c.Hub.Port <= 0 || c.Hub.Port > 65535 {
		errs = append(errs, fmt.Errorf("hub port out of range: %d", c.Hub.Port))
	}
	if len(c.Sandbox.Entrypoint) == 0 {
		errs = append(errs, errors.New("sandbox entrypoint must not be empty"))
	}
	if _, err := c.ShmBytes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ShmBytes parses sandbox.shm_size ("2G", "512m") into bytes. An empty value
// keeps the runtime default.
func (c *Config) ShmBytes() (int64, error) {
	s := strings.TrimSpace(c.Sandbox.ShmSize)
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid shm_size %q: %w", s, err)
	}
	return n, nil
}

// LaunchTemplate builds the per-job sandbox template.
func (c *Config) LaunchTemplate() (job.LaunchTemplate, error) {
	shm, err := c.ShmBytes()
	if err != nil {
		return job.LaunchTemplate{}, err
	}
	return job.LaunchTemplate{
		ImagePrefix: c.Sandbox.ImagePrefix,
		ImageTag:    c.Sandbox.ImageTag,
		Entrypoint:  append([]string(nil), c.Sandbox.Entrypoint...),
		ScratchBind: c.Sandbox.ScratchBind,
		ShmSize:     shm,
		HubName:     c.Hub.Name,
		QueueHost:   c.Queue.Host,
		QueueToken:  c.Queue.Token,
	}, nil
}
