package converge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/clientrb/pkg/render"
)

func TestDirectory_Apply(t *testing.T) {
	ctx := context.Background()
	target := newMemTarget()
	d := &Directory{Path: "/var/chef/cache"}

	res, err := d.Apply(ctx, target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Changed || res.Action != "created" {
		t.Errorf("first apply = %+v, want created", res)
	}

	res, err = d.Apply(ctx, target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Changed || res.Action != "already_present" {
		t.Errorf("second apply = %+v, want already_present", res)
	}

	target.files["/var/log/chef"] = []byte("not a dir")
	_, err = (&Directory{Path: "/var/log/chef"}).Apply(ctx, target)
	if !IsPermanent(err) {
		t.Errorf("expected permanent error for file in the way, got %v", err)
	}
}

func TestDirectory_ApplyFixesModeDrift(t *testing.T) {
	ctx := context.Background()
	target := newMemTarget()
	target.dirs["/etc/chef"] = true
	target.modes["/etc/chef"] = 0700

	d := &Directory{Path: "/etc/chef", Mode: 0755}
	res, err := d.Apply(ctx, target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Changed || res.Action != "mode_updated" {
		t.Errorf("apply = %+v, want mode_updated", res)
	}
	if target.modes["/etc/chef"] != 0755 {
		t.Errorf("mode = %o, want 755", target.modes["/etc/chef"])
	}

	res, err = d.Apply(ctx, target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Changed {
		t.Errorf("second apply = %+v, want no change", res)
	}

	// Without an explicit mode an existing directory is left alone.
	target.modes["/etc/chef"] = 0700
	if res, _ := (&Directory{Path: "/etc/chef"}).Apply(ctx, target); res.Changed {
		t.Errorf("directory without mode changed: %+v", res)
	}
}

func TestLocalTarget_DirectoryMode(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target := NewLocalTarget(root)
	d := &Directory{Path: "/etc/chef", Mode: 0750}

	if _, err := d.Apply(ctx, target); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	info, err := os.Stat(filepath.Join(root, "etc/chef"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0750 {
		t.Errorf("created mode = %o, want 750", info.Mode().Perm())
	}

	if err := os.Chmod(filepath.Join(root, "etc/chef"), 0700); err != nil {
		t.Fatal(err)
	}
	res, err := d.Apply(ctx, target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Action != "mode_updated" {
		t.Errorf("Action = %q, want mode_updated", res.Action)
	}
	if info, _ := os.Stat(filepath.Join(root, "etc/chef")); info.Mode().Perm() != 0750 {
		t.Errorf("mode after drift = %o, want 750", info.Mode().Perm())
	}
}

func TestGem_Apply(t *testing.T) {
	tests := []struct {
		name        string
		gem         *Gem
		installed   bool
		wantChanged bool
		wantCmds    []string
	}{
		{
			name:        "installs missing gem",
			gem:         &Gem{Name: "chef-handler-sns"},
			wantChanged: true,
			wantCmds: []string{
				"/opt/chef/embedded/bin/gem list -i ^chef-handler-sns$",
				"/opt/chef/embedded/bin/gem install chef-handler-sns --no-document",
			},
		},
		{
			name:      "skips installed gem",
			gem:       &Gem{Name: "chef-vault", Binary: "gem"},
			installed: true,
			wantCmds:  []string{"gem list -i ^chef-vault$"},
		},
		{
			name:        "pins version",
			gem:         &Gem{Name: "chef-vault", Version: "4.1.0", Binary: "gem"},
			wantChanged: true,
			wantCmds: []string{
				"gem list -i ^chef-vault$ --version 4.1.0",
				"gem install chef-vault --no-document --version 4.1.0",
			},
		},
		{
			name:        "quotes regex metacharacters",
			gem:         &Gem{Name: "knife.rb+ext", Binary: "gem"},
			wantChanged: true,
			wantCmds: []string{
				`gem list -i ^knife\.rb\+ext$`,
				"gem install knife.rb+ext --no-document",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newMemTarget()
			target.run = func(argv []string) ([]byte, error) {
				if argv[1] != "list" {
					return nil, nil
				}
				if tt.installed {
					return []byte("true\n"), nil
				}
				return []byte("false\n"), &CommandError{Command: strings.Join(argv, " "), ExitCode: 1}
			}

			res, err := tt.gem.Apply(context.Background(), target)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if res.Changed != tt.wantChanged {
				t.Errorf("Changed = %v, want %v", res.Changed, tt.wantChanged)
			}
			if diff := cmp.Diff(tt.wantCmds, target.commandLines()); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGem_ApplyInstallFailure(t *testing.T) {
	target := newMemTarget()
	target.run = func(argv []string) ([]byte, error) {
		return []byte("ERROR: could not find gem"), &CommandError{Command: argv[0], ExitCode: 2}
	}
	_, err := (&Gem{Name: "nope"}).Apply(context.Background(), target)
	if !IsTransient(err) || CodeOf(err) != ErrCodeCommand {
		t.Fatalf("expected transient command error, got %v", err)
	}
	if ExitCode(err) != 2 {
		t.Errorf("ExitCode = %d, want 2", ExitCode(err))
	}
}

func TestTemplate_ApplyWithBackup(t *testing.T) {
	ctx := context.Background()
	target := newMemTarget()
	target.files["/etc/chef/client.rb"] = []byte("log_level :warn\n")

	stamp := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	tmpl := &Template{
		Path:      "/etc/chef/client.rb",
		Document:  &render.Document{Lines: []string{"log_level :info"}},
		BackupDir: "/var/chef/backup",
		Now:       func() time.Time { return stamp },
	}

	res, err := tmpl.Apply(ctx, target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Changed || res.Action != "updated" {
		t.Errorf("Apply = %+v, want updated", res)
	}
	if got := string(target.files["/etc/chef/client.rb"]); got != "log_level :info\n" {
		t.Errorf("client.rb = %q", got)
	}
	if target.modes["/etc/chef/client.rb"] != 0644 {
		t.Errorf("mode = %o, want 644", target.modes["/etc/chef/client.rb"])
	}
	backup := "/var/chef/backup/client.rb.chef-20240301123000"
	if got := string(target.files[backup]); got != "log_level :warn\n" {
		t.Errorf("backup %s = %q", backup, got)
	}
	if d := tmpl.Decision(); !d.Changed || d.PreviousDigest == "" {
		t.Errorf("decision = %+v", d)
	}

	writes := target.writes
	res, err = tmpl.Apply(ctx, target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Changed || target.writes != writes {
		t.Errorf("unchanged apply wrote the file: %+v", res)
	}
}

func TestTemplate_ApplyCreates(t *testing.T) {
	target := newMemTarget()
	tmpl := &Template{
		Path:      "/etc/chef/client.rb",
		Document:  &render.Document{Lines: []string{"log_level :info"}},
		BackupDir: "/var/chef/backup",
	}
	res, err := tmpl.Apply(context.Background(), target)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Action != "created" || target.writes != 1 {
		t.Errorf("Apply = %+v, writes = %d; want created with a single write", res, target.writes)
	}
}

func TestReloaders(t *testing.T) {
	ctx := context.Background()

	target := newMemTarget()
	if err := (&SystemdReloader{}).Reload(ctx, target); err != nil {
		t.Fatalf("SystemdReloader: %v", err)
	}
	if err := (&CommandReloader{Argv: []string{"pkill", "-HUP", "chef-client"}}).Reload(ctx, target); err != nil {
		t.Fatalf("CommandReloader: %v", err)
	}
	if err := (NopReloader{}).Reload(ctx, target); err != nil {
		t.Fatalf("NopReloader: %v", err)
	}
	want := []string{
		"systemctl reload-or-restart chef-client.service",
		"pkill -HUP chef-client",
	}
	if diff := cmp.Diff(want, target.commandLines()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	if err := (&CommandReloader{}).Reload(ctx, target); err == nil {
		t.Errorf("expected error for empty command")
	}

	target.run = func([]string) ([]byte, error) { return nil, errors.New("boom") }
	if err := (&SystemdReloader{Unit: "chef.service"}).Reload(ctx, target); err == nil || !strings.Contains(err.Error(), "chef.service") {
		t.Errorf("expected wrapped unit error, got %v", err)
	}
}

func TestLocalTarget(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	target := NewLocalTarget(root)

	if err := target.MkdirAll(ctx, "/etc/chef/client.d", 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	info, err := target.Stat(ctx, "/etc/chef/client.d")
	if err != nil || !info.IsDir() {
		t.Fatalf("Stat: %v", err)
	}

	if err := target.WriteFile(ctx, "/etc/chef/client.rb", []byte("a\n"), 0640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := target.WriteFile(ctx, "/etc/chef/client.rb", []byte("b\n"), 0640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := target.ReadFile(ctx, "/etc/chef/client.rb")
	if err != nil || string(data) != "b\n" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	fi, err := os.Stat(filepath.Join(root, "etc/chef/client.rb"))
	if err != nil {
		t.Fatalf("os.Stat: %v", err)
	}
	if fi.Mode().Perm() != 0640 {
		t.Errorf("mode = %o, want 640", fi.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Join(root, "etc/chef"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".client.rb.") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	if _, err := target.ReadFile(ctx, "/missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if target.Name() != "local:"+root {
		t.Errorf("Name = %q", target.Name())
	}
}

func TestLocalTarget_Run(t *testing.T) {
	target := NewLocalTarget("")
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	out, err := target.Run(context.Background(), "/bin/sh", "-c", "echo hello")
	if err != nil || strings.TrimSpace(string(out)) != "hello" {
		t.Fatalf("Run = %q, %v", out, err)
	}

	_, err = target.Run(context.Background(), "/bin/sh", "-c", "echo nope >&2; exit 3")
	if ExitCode(err) != 3 {
		t.Fatalf("ExitCode = %d (%v), want 3", ExitCode(err), err)
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error should carry output: %v", err)
	}
}
