package converge

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/clientrb/pkg/render"
)

func TestBuildPlan_DefaultLayout(t *testing.T) {
	tree := treeFromYAML(t, "")
	doc, err := render.Render(tree)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	plan, err := BuildPlan(tree, doc, PlanOptions{})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	want := []string{
		"directory[/var/run]",
		"directory[/var/chef/cache]",
		"directory[/var/chef/backup]",
		"directory[/var/log/chef]",
		"directory[/etc/chef]",
		"directory[/etc/chef/client.d]",
		"template[/etc/chef/client.rb]",
		"reload[client_config]",
	}
	if diff := cmp.Diff(want, plan.Graph.Order()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	tmpl, _ := plan.Step("template[/etc/chef/client.rb]")
	if diff := cmp.Diff([]string{"reload[client_config]"}, tmpl.Notifies); diff != "" {
		t.Errorf("template notifies mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"directory[/etc/chef]", "directory[/etc/chef/client.d]"}, tmpl.Requires); diff != "" {
		t.Errorf("template requires mismatch (-want +got):\n%s", diff)
	}
	reload, _ := plan.Step("reload[client_config]")
	if !reload.Delayed {
		t.Errorf("reload step should be delayed")
	}
	if !plan.ReloadEnabled {
		t.Errorf("reload should be enabled by default")
	}
}

func TestBuildPlan_AttributeOverrides(t *testing.T) {
	tree := treeFromYAML(t, `
chef_client:
  conf_dir: /opt/chef/etc
  run_path: /run/chef
  log_dir: /var/chef/cache
  reload_config: false
  load_gems:
    chef-handler-sns: {}
    chef-vault:
      version: "4.1.0"
`)
	doc, err := render.Render(tree)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	plan, err := BuildPlan(tree, doc, PlanOptions{Backup: true, GemBinary: "/usr/bin/gem"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	want := []string{
		"directory[/run/chef]",
		"directory[/var/chef/cache]",
		"directory[/var/chef/backup]",
		"directory[/opt/chef/etc]",
		"directory[/opt/chef/etc/client.d]",
		"chef_gem[chef-handler-sns]",
		"chef_gem[chef-vault]",
		"template[/opt/chef/etc/client.rb]",
		"reload[client_config]",
	}
	if diff := cmp.Diff(want, plan.Graph.Order()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	if plan.ReloadEnabled {
		t.Errorf("reload_config false should disable reload")
	}
	tmpl, _ := plan.Step("template[/opt/chef/etc/client.rb]")
	if len(tmpl.Notifies) != 0 {
		t.Errorf("template should notify nothing, got %v", tmpl.Notifies)
	}
	if plan.Template.BackupDir != DefaultBackupPath {
		t.Errorf("BackupDir = %q, want %q", plan.Template.BackupDir, DefaultBackupPath)
	}

	gem, _ := plan.Step("chef_gem[chef-vault]")
	if g := gem.Resource.(*Gem); g.Version != "4.1.0" || g.Binary != "/usr/bin/gem" {
		t.Errorf("unexpected gem resource: %+v", g)
	}
}

func TestBuildPlan_ConfigPathOverride(t *testing.T) {
	tree := treeFromYAML(t, "")
	doc, _ := render.Render(tree)
	plan, err := BuildPlan(tree, doc, PlanOptions{ConfigPath: "/tmp/client.rb"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.ConfigPath != "/tmp/client.rb" {
		t.Errorf("ConfigPath = %q", plan.ConfigPath)
	}
	if _, ok := plan.Step("template[/tmp/client.rb]"); !ok {
		t.Errorf("template step not found")
	}
}

func TestBuildPlan_Errors(t *testing.T) {
	tree := treeFromYAML(t, "chef_client:\n  reload_config: sometimes\n")
	doc, _ := render.Render(treeFromYAML(t, ""))
	if _, err := BuildPlan(tree, doc, PlanOptions{}); err == nil {
		t.Errorf("expected type mismatch for non-boolean reload_config")
	}
	if _, err := BuildPlan(tree, nil, PlanOptions{}); err == nil {
		t.Errorf("expected error for nil document")
	}
}

func TestBuildGraph(t *testing.T) {
	dir := func(p string, requires ...string) *Step {
		return &Step{Resource: &Directory{Path: p}, Requires: requires}
	}

	tests := []struct {
		name     string
		steps    []*Step
		want     [][]string
		wantCode string
	}{
		{
			name:  "independent steps share a level in declaration order",
			steps: []*Step{dir("/b"), dir("/a"), dir("/c")},
			want:  [][]string{{"directory[/b]", "directory[/a]", "directory[/c]"}},
		},
		{
			name:  "require edges create levels",
			steps: []*Step{dir("/c", "directory[/b]"), dir("/b", "directory[/a]"), dir("/a")},
			want:  [][]string{{"directory[/a]"}, {"directory[/b]"}, {"directory[/c]"}},
		},
		{
			name:     "cycle",
			steps:    []*Step{dir("/a", "directory[/b]"), dir("/b", "directory[/a]")},
			wantCode: ErrCodeCycle,
		},
		{
			name:     "missing dependency",
			steps:    []*Step{dir("/a", "directory[/nope]")},
			wantCode: ErrCodeInvalidGraph,
		},
		{
			name:     "duplicate ids",
			steps:    []*Step{dir("/a"), dir("/a")},
			wantCode: ErrCodeInvalidGraph,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := buildGraph(tt.steps)
			if tt.wantCode != "" {
				if CodeOf(err) != tt.wantCode {
					t.Fatalf("error code = %q (%v), want %q", CodeOf(err), err, tt.wantCode)
				}
				if !IsPermanent(err) {
					t.Errorf("graph errors should be permanent")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildGraph: %v", err)
			}
			if diff := cmp.Diff(tt.want, g.Levels); diff != "" {
				t.Errorf("levels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGraph_ToDOT(t *testing.T) {
	tree := treeFromYAML(t, "")
	doc, _ := render.Render(tree)
	plan, err := BuildPlan(tree, doc, PlanOptions{})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	dot := plan.Graph.ToDOT()
	for _, want := range []string{
		"digraph converge {",
		`"template[/etc/chef/client.rb]" -> "reload[client_config]" [style=dashed, color=blue];`,
		`"directory[/etc/chef]" -> "template[/etc/chef/client.rb]" [style=solid, color=black];`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT output missing %q:\n%s", want, dot)
		}
	}
}
