package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/clientrb/pkg/converge"
	"github.com/openfroyo/clientrb/pkg/transports/ssh"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	s := Default()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if s.Target.Kind != TargetLocal {
		t.Errorf("Target.Kind = %q", s.Target.Kind)
	}
	if s.GemBinary != converge.DefaultGemBinary {
		t.Errorf("GemBinary = %q", s.GemBinary)
	}
	if _, ok := s.Reloader().(*converge.SystemdReloader); !ok {
		t.Errorf("default reloader = %T", s.Reloader())
	}
	if !s.HistoryEnabled() {
		t.Error("history should be enabled by default")
	}
}

func TestLoad_File(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "clientrb.yaml")
	writeFile(t, path, `
sources:
  - attributes/base.yaml
  - /srv/node.yaml
config_path: /tmp/chef/client.rb
state_path: none
backup: true
history_keep: 50
reload:
  method: command
  command: ["/usr/local/bin/kick-chef", "--now"]
watch:
  debounce: 2s
  metrics_address: 127.0.0.1:9100
telemetry:
  logging:
    level: debug
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff([]string{filepath.Join(dir, "attributes/base.yaml"), "/srv/node.yaml"}, s.Sources); diff != "" {
		t.Errorf("Sources mismatch (-want +got):\n%s", diff)
	}
	if s.Path() != path {
		t.Errorf("Path = %q", s.Path())
	}
	if s.HistoryEnabled() {
		t.Error("state_path none should disable history")
	}
	if s.HistoryKeep != 50 || !s.Backup {
		t.Errorf("unexpected HistoryKeep/Backup: %d %v", s.HistoryKeep, s.Backup)
	}
	if s.Watch.Debounce != 2*time.Second {
		t.Errorf("Debounce = %v", s.Watch.Debounce)
	}
	if s.Telemetry.Logging.Level != "debug" || s.Telemetry.ServiceName != "clientrb" {
		t.Errorf("telemetry not merged over defaults: %+v", s.Telemetry.Logging)
	}

	reloader, ok := s.Reloader().(*converge.CommandReloader)
	if !ok {
		t.Fatalf("reloader = %T", s.Reloader())
	}
	if diff := cmp.Diff([]string{"/usr/local/bin/kick-chef", "--now"}, reloader.Argv); diff != "" {
		t.Errorf("Argv mismatch (-want +got):\n%s", diff)
	}

	opts := s.PlanOptions()
	if opts.ConfigPath != "/tmp/chef/client.rb" || !opts.Backup || opts.GemBinary != converge.DefaultGemBinary {
		t.Errorf("unexpected plan options: %+v", opts)
	}
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Path() != "" {
		t.Errorf("Path = %q, want empty", s.Path())
	}
	if s.StatePath != DefaultStatePath {
		t.Errorf("StatePath = %q", s.StatePath)
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing settings file")
	}
}

func TestLoad_DotEnvAndEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "clientrb.yaml")
	writeFile(t, path, "sources: [a.yaml]\n")
	writeFile(t, filepath.Join(dir, ".env"), "CLIENTRB_GEM_BINARY=/usr/bin/gem\nCLIENTRB_RELOAD=none\n")

	t.Setenv("CLIENTRB_SOURCES", "/x.yaml, /y.cue")
	t.Setenv("CLIENTRB_BACKUP", "true")
	// The environment wins over .env.
	t.Setenv("CLIENTRB_RELOAD", "systemd")
	t.Setenv("CLIENTRB_RELOAD_UNIT", "chef-client-custom.service")
	// Registered so t.Setenv restores it after godotenv sets it.
	t.Setenv("CLIENTRB_GEM_BINARY", "")
	os.Unsetenv("CLIENTRB_GEM_BINARY")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]string{"/x.yaml", "/y.cue"}, s.Sources); diff != "" {
		t.Errorf("Sources mismatch (-want +got):\n%s", diff)
	}
	if s.GemBinary != "/usr/bin/gem" {
		t.Errorf("GemBinary = %q, want value from .env", s.GemBinary)
	}
	if !s.Backup {
		t.Error("Backup should come from the environment")
	}
	r, ok := s.Reloader().(*converge.SystemdReloader)
	if !ok || r.Unit != "chef-client-custom.service" {
		t.Errorf("reloader = %#v", s.Reloader())
	}
}

func TestApplyEnv_SSH(t *testing.T) {
	env := map[string]string{
		"CLIENTRB_TARGET":        "ssh",
		"CLIENTRB_SSH_HOST":      "node1.example.com",
		"CLIENTRB_SSH_PORT":      "2222",
		"CLIENTRB_SSH_USER":      "chef",
		"CLIENTRB_SSH_PASSWORD":  "secret",
		"CLIENTRB_OTLP_ENDPOINT": "collector:4317",
	}
	s := Default()
	if err := s.applyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if s.Target.Kind != TargetSSH {
		t.Errorf("Kind = %q", s.Target.Kind)
	}
	want := ssh.DefaultConfig("node1.example.com", "chef")
	want.Port = 2222
	want.AuthMethod = ssh.AuthMethodPassword
	want.Password = "secret"
	if diff := cmp.Diff(*want, s.Target.SSH); diff != "" {
		t.Errorf("ssh config mismatch (-want +got):\n%s", diff)
	}
	if !s.Telemetry.Tracing.Enabled || s.Telemetry.Tracing.Endpoint != "collector:4317" {
		t.Errorf("tracing not enabled from env: %+v", s.Telemetry.Tracing)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad port", env: map[string]string{"CLIENTRB_SSH_PORT": "twenty-two"}},
		{name: "bad bool", env: map[string]string{"CLIENTRB_BACKUP": "perhaps"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			err := s.applyEnv(func(k string) (string, bool) { v, ok := tt.env[k]; return v, ok })
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Settings) {}},
		{name: "unknown target", mutate: func(s *Settings) { s.Target.Kind = "winrm" }, wantErr: true},
		{name: "unknown reload method", mutate: func(s *Settings) { s.Reload.Method = "signal" }, wantErr: true},
		{name: "command reload without command", mutate: func(s *Settings) { s.Reload.Method = ReloadCommand }, wantErr: true},
		{name: "command reload", mutate: func(s *Settings) {
			s.Reload.Method = ReloadCommand
			s.Reload.Command = []string{"true"}
		}},
		{name: "relative config path", mutate: func(s *Settings) { s.ConfigPath = "etc/chef/client.rb" }, wantErr: true},
		{name: "empty source", mutate: func(s *Settings) { s.Sources = []string{""} }, wantErr: true},
		{name: "negative history", mutate: func(s *Settings) { s.HistoryKeep = -1 }, wantErr: true},
		{name: "empty gem binary", mutate: func(s *Settings) { s.GemBinary = "" }, wantErr: true},
		{name: "bad metrics address", mutate: func(s *Settings) { s.Watch.MetricsAddress = "not an address" }, wantErr: true},
		{name: "ssh without host", mutate: func(s *Settings) { s.Target.Kind = TargetSSH }, wantErr: true},
		{name: "ssh with password", mutate: func(s *Settings) {
			s.Target.Kind = TargetSSH
			s.Target.SSH.Host = "node1"
			s.Target.SSH.AuthMethod = ssh.AuthMethodPassword
			s.Target.SSH.Password = "secret"
		}},
		{name: "local ignores ssh block", mutate: func(s *Settings) { s.Target.SSH.Port = 0 }},
		{name: "bad telemetry", mutate: func(s *Settings) { s.Telemetry.Logging.Level = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenTarget_Local(t *testing.T) {
	s := Default()
	s.Target.Root = t.TempDir()

	target, closeFn, err := s.OpenTarget(context.Background())
	if err != nil {
		t.Fatalf("OpenTarget: %v", err)
	}
	defer closeFn()

	if _, ok := target.(*converge.LocalTarget); !ok {
		t.Errorf("target = %T", target)
	}
	if target.Name() != "local:"+s.Target.Root {
		t.Errorf("Name = %q", target.Name())
	}
}

func TestOpenTarget_Unknown(t *testing.T) {
	s := Default()
	s.Target.Kind = "winrm"
	if _, _, err := s.OpenTarget(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
