// Package settings loads the clientrb tool configuration: which attribute
// sources to read, where client.rb goes, which host to converge, how the
// agent is reloaded, and how telemetry is exported.
//
// Values are layered: built-in defaults, then clientrb.yaml, then a .env
// file next to it, then CLIENTRB_* environment variables.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/clientrb/pkg/converge"
	"github.com/openfroyo/clientrb/pkg/telemetry"
	"github.com/openfroyo/clientrb/pkg/transports/ssh"
)

// DefaultFileName is looked up in the working directory when no settings
// file is given.
const DefaultFileName = "clientrb.yaml"

// DefaultStatePath is where converge history is kept.
const DefaultStatePath = "/var/lib/clientrb/state.db"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLIENTRB_"

// Target kinds.
const (
	TargetLocal = "local"
	TargetSSH   = "ssh"
)

// Reload methods.
const (
	ReloadSystemd = "systemd"
	ReloadCommand = "command"
	ReloadNone    = "none"
)

// Settings is the clientrb tool configuration.
type Settings struct {
	// Sources are attribute files merged in order (YAML, JSON, CUE, Starlark).
	Sources []string `yaml:"sources" validate:"dive,required"`

	// ConfigPath overrides <conf_dir>/client.rb.
	ConfigPath string `yaml:"config_path,omitempty" validate:"omitempty,startswith=/"`

	// StatePath is the SQLite history database. "none" disables history.
	StatePath string `yaml:"state_path" validate:"required"`

	// HistoryKeep bounds the number of stored runs; 0 keeps everything.
	HistoryKeep int `yaml:"history_keep" validate:"min=0"`

	// GemBinary installs chef_client.load_gems.
	GemBinary string `yaml:"gem_binary" validate:"required"`

	// Backup keeps the previous client.rb in chef_client.backup_path.
	Backup bool `yaml:"backup"`

	// StarlarkTimeout bounds each Starlark attribute script.
	StarlarkTimeout time.Duration `yaml:"starlark_timeout" validate:"min=0"`

	Target    TargetSettings   `yaml:"target"`
	Reload    ReloadSettings   `yaml:"reload"`
	Watch     WatchSettings    `yaml:"watch"`
	Telemetry telemetry.Config `yaml:"telemetry" validate:"-"`

	// path is the file the settings were read from, if any.
	path string
}

// TargetSettings selects the host client.rb is converged on.
type TargetSettings struct {
	Kind string `yaml:"kind" validate:"oneof=local ssh"`

	// Root prefixes every path on a local target.
	Root string `yaml:"root,omitempty"`

	SSH ssh.Config `yaml:"ssh" validate:"-"`
}

// ReloadSettings selects how the agent picks up a new client.rb.
type ReloadSettings struct {
	Method  string   `yaml:"method" validate:"oneof=systemd command none"`
	Unit    string   `yaml:"unit,omitempty"`
	Command []string `yaml:"command,omitempty" validate:"required_if=Method command"`
}

// WatchSettings tunes the watch command.
type WatchSettings struct {
	// Debounce coalesces bursts of file events.
	Debounce time.Duration `yaml:"debounce" validate:"min=0"`

	// MetricsAddress serves /metrics while watching; empty disables it.
	MetricsAddress string `yaml:"metrics_address,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns settings for a local converge with systemd reloads.
func Default() *Settings {
	return &Settings{
		StatePath:       DefaultStatePath,
		GemBinary:       converge.DefaultGemBinary,
		StarlarkTimeout: 5 * time.Second,
		Target: TargetSettings{
			Kind: TargetLocal,
			SSH:  *ssh.DefaultConfig("", "root"),
		},
		Reload: ReloadSettings{
			Method: ReloadSystemd,
			Unit:   converge.DefaultUnit,
		},
		Watch: WatchSettings{
			Debounce: 500 * time.Millisecond,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads settings from path. An empty path uses DefaultFileName when it
// exists and defaults otherwise. The result is validated.
func Load(path string) (*Settings, error) {
	s := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
		s.path = path
		s.resolveSources(filepath.Dir(path))
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	envFile := ".env"
	if s.path != "" {
		envFile = filepath.Join(filepath.Dir(s.path), ".env")
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := s.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the settings file that was read, or "".
func (s *Settings) Path() string {
	return s.path
}

// resolveSources makes relative sources relative to the settings file.
func (s *Settings) resolveSources(dir string) {
	for i, src := range s.Sources {
		if src != "" && !filepath.IsAbs(src) {
			s.Sources[i] = filepath.Join(dir, src)
		}
	}
}

// applyEnv overlays CLIENTRB_* variables.
func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return v, ok && v != ""
	}

	if v, ok := get("SOURCES"); ok {
		s.Sources = splitList(v)
	}
	if v, ok := get("CONFIG_PATH"); ok {
		s.ConfigPath = v
	}
	if v, ok := get("STATE_PATH"); ok {
		s.StatePath = v
	}
	if v, ok := get("GEM_BINARY"); ok {
		s.GemBinary = v
	}
	if v, ok := get("BACKUP"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sBACKUP: %w", EnvPrefix, err)
		}
		s.Backup = b
	}
	if v, ok := get("TARGET"); ok {
		s.Target.Kind = v
	}
	if v, ok := get("SSH_HOST"); ok {
		s.Target.SSH.Host = v
	}
	if v, ok := get("SSH_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSSH_PORT: %w", EnvPrefix, err)
		}
		s.Target.SSH.Port = port
	}
	if v, ok := get("SSH_USER"); ok {
		s.Target.SSH.User = v
	}
	if v, ok := get("SSH_PASSWORD"); ok {
		s.Target.SSH.Password = v
		s.Target.SSH.AuthMethod = ssh.AuthMethodPassword
	}
	if v, ok := get("SSH_KEY"); ok {
		s.Target.SSH.PrivateKeyPath = v
		s.Target.SSH.AuthMethod = ssh.AuthMethodKey
	}
	if v, ok := get("SSH_KEY_PASSPHRASE"); ok {
		s.Target.SSH.PrivateKeyPassphrase = v
	}
	if v, ok := get("RELOAD"); ok {
		s.Reload.Method = v
	}
	if v, ok := get("RELOAD_UNIT"); ok {
		s.Reload.Unit = v
	}
	if v, ok := get("METRICS_ADDRESS"); ok {
		s.Watch.MetricsAddress = v
	}
	if v, ok := get("OTLP_ENDPOINT"); ok {
		s.Telemetry.Tracing.Enabled = true
		s.Telemetry.Tracing.Exporter = "otlp"
		s.Telemetry.Tracing.Endpoint = v
	}
	return nil
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

var validate = validator.New()

// Validate checks the settings and the nested target and telemetry
// configuration.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Target.Kind == TargetSSH {
		if err := validate.Struct(&s.Target.SSH); err != nil {
			return fmt.Errorf("invalid ssh target: %w", err)
		}
		if err := s.Target.SSH.Validate(); err != nil {
			return fmt.Errorf("invalid ssh target: %w", err)
		}
	}
	if err := s.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry settings: %w", err)
	}
	return nil
}

// HistoryEnabled reports whether runs are persisted.
func (s *Settings) HistoryEnabled() bool {
	return s.StatePath != "" && s.StatePath != "none"
}

// Reloader builds the configured reloader.
func (s *Settings) Reloader() converge.Reloader {
	switch s.Reload.Method {
	case ReloadCommand:
		return &converge.CommandReloader{Argv: s.Reload.Command}
	case ReloadNone:
		return converge.NopReloader{}
	default:
		return &converge.SystemdReloader{Unit: s.Reload.Unit}
	}
}

// PlanOptions returns the converge plan options for these settings.
func (s *Settings) PlanOptions() converge.PlanOptions {
	return converge.PlanOptions{
		ConfigPath: s.ConfigPath,
		GemBinary:  s.GemBinary,
		Reloader:   s.Reloader(),
		Backup:     s.Backup,
	}
}
