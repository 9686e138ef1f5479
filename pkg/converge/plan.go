package converge

import (
	"fmt"
	"path"
	"time"

	"github.com/openfroyo/clientrb/pkg/attributes"
	"github.com/openfroyo/clientrb/pkg/render"
)

// Attribute paths read when building a plan.
const (
	PathReloadConfig = "chef_client.reload_config"
	PathRunPath      = "chef_client.run_path"
	PathCachePath    = "chef_client.cache_path"
	PathBackupPath   = "chef_client.backup_path"
	PathLogDir       = "chef_client.log_dir"
)

// Directory defaults.
const (
	DefaultRunPath    = "/var/run"
	DefaultCachePath  = "/var/chef/cache"
	DefaultBackupPath = "/var/chef/backup"
	DefaultLogDir     = "/var/log/chef"
	DropInDirName     = "client.d"
	ConfigFileName    = "client.rb"
)

// ReloadStepName names the reload resource in every plan.
const ReloadStepName = "client_config"

// Step is a resource placed in the plan with its relationships.
type Step struct {
	Resource

	// Requires lists step IDs that must succeed first.
	Requires []string

	// Notifies lists step IDs queued as delayed actions when this step
	// reports a change.
	Notifies []string

	// Delayed steps never run on their own; they run once at the end of a
	// converge when notified.
	Delayed bool
}

// Plan is the ordered set of steps for one converge.
type Plan struct {
	Steps []*Step
	Graph *Graph

	// ConfigPath is the client.rb location on the target.
	ConfigPath string

	// Template is the client.rb step, kept for reporting the change decision.
	Template *Template

	// ReloadEnabled is false when chef_client.reload_config is false.
	ReloadEnabled bool

	byID map[string]*Step
}

// Step returns the step with the given ID.
func (p *Plan) Step(id string) (*Step, bool) {
	s, ok := p.byID[id]
	return s, ok
}

// PlanOptions tunes plan construction.
type PlanOptions struct {
	// ConfigPath overrides <conf_dir>/client.rb.
	ConfigPath string

	// GemBinary overrides DefaultGemBinary.
	GemBinary string

	// Reloader is invoked by the reload step; nil means NopReloader.
	Reloader Reloader

	// Backup keeps a copy of the replaced client.rb in the backup directory.
	Backup bool

	// Now stamps backups.
	Now func() time.Time
}

// BuildPlan lays out the resources for tree and its rendered document:
// directories first, then gems, then client.rb, then the reload handler
// notified by client.rb.
func BuildPlan(tree *attributes.Tree, doc *render.Document, opts PlanOptions) (*Plan, error) {
	if doc == nil {
		return nil, fmt.Errorf("plan requires a rendered document")
	}
	if tree == nil {
		tree = attributes.NewTree(nil)
	}

	confDir, err := stringOr(tree, render.PathConfDir, render.DefaultConfDir)
	if err != nil {
		return nil, err
	}
	runPath, err := stringOr(tree, PathRunPath, DefaultRunPath)
	if err != nil {
		return nil, err
	}
	cachePath, err := stringOr(tree, PathCachePath, DefaultCachePath)
	if err != nil {
		return nil, err
	}
	backupPath, err := stringOr(tree, PathBackupPath, DefaultBackupPath)
	if err != nil {
		return nil, err
	}
	logDir, err := stringOr(tree, PathLogDir, DefaultLogDir)
	if err != nil {
		return nil, err
	}
	reload, present, err := tree.Bool(PathReloadConfig)
	if err != nil {
		return nil, err
	}
	reloadEnabled := !present || reload

	gems, _, err := tree.Gems(render.PathLoadGems)
	if err != nil {
		return nil, err
	}

	dropIn := path.Join(confDir, DropInDirName)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = path.Join(confDir, ConfigFileName)
	}

	p := &Plan{ConfigPath: configPath, ReloadEnabled: reloadEnabled, byID: make(map[string]*Step)}

	dirs := []*Directory{
		{Path: runPath, Mode: DefaultDirMode},
		{Path: cachePath, Mode: DefaultDirMode},
		{Path: backupPath, Mode: DefaultDirMode},
		{Path: logDir, Mode: DefaultDirMode},
		{Path: confDir, Mode: DefaultDirMode},
		{Path: dropIn, Mode: DefaultDirMode},
	}
	for _, d := range dirs {
		// Attribute overrides may point two directories at one path.
		if _, dup := p.byID[d.ID()]; dup {
			continue
		}
		p.add(&Step{Resource: d})
	}

	templateRequires := []string{resourceID(TypeDirectory, confDir), resourceID(TypeDirectory, dropIn)}
	for _, g := range gems {
		gem := &Gem{Name: g.Name, Version: g.Version, Binary: opts.GemBinary}
		p.add(&Step{Resource: gem})
		templateRequires = append(templateRequires, gem.ID())
	}

	tmpl := &Template{Path: configPath, Mode: 0644, Document: doc, Now: opts.Now}
	if opts.Backup {
		tmpl.BackupDir = backupPath
		templateRequires = append(templateRequires, resourceID(TypeDirectory, backupPath))
	}
	p.Template = tmpl

	reloader := opts.Reloader
	if reloader == nil {
		reloader = NopReloader{}
	}
	reloadStep := &Step{Resource: &Reload{Name: ReloadStepName, Reloader: reloader}, Delayed: true}

	tmplStep := &Step{Resource: tmpl, Requires: dedupe(templateRequires)}
	if reloadEnabled {
		tmplStep.Notifies = []string{reloadStep.ID()}
	}
	p.add(tmplStep)
	p.add(reloadStep)

	graph, err := buildGraph(p.Steps)
	if err != nil {
		return nil, err
	}
	p.Graph = graph
	return p, nil
}

func (p *Plan) add(s *Step) {
	p.Steps = append(p.Steps, s)
	p.byID[s.ID()] = s
}

func stringOr(tree *attributes.Tree, attrPath, def string) (string, error) {
	s, ok, err := tree.String(attrPath)
	if err != nil {
		return "", err
	}
	if !ok || s == "" {
		return def, nil
	}
	return s, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
