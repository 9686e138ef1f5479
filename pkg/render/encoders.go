package render

import (
	"fmt"
	"strings"

	"github.com/openfroyo/clientrb/pkg/attributes"
)

// Attribute paths read by the encoders.
const (
	PathConfig         = "chef_client.config"
	PathLoadGems       = "chef_client.load_gems"
	PathConfDir        = "chef_client.conf_dir"
	PathConfigDEnabled = "chef_client.config_d_enabled"
	PathDisabledPlugin = "ohai.disabled_plugins"
)

// Identity defaults.
const (
	DefaultChefServerURL        = "https://localhost:443"
	DefaultValidationClientName = "chef-validator"
	DefaultConfDir              = "/etc/chef"
)

// HandlerKinds lists handler registries in render order.
var HandlerKinds = []string{"exception", "report", "start"}

// ProxyKinds lists proxy settings in render order.
var ProxyKinds = []string{"http_proxy", "https_proxy", "no_proxy"}

// reservedKeys are the chef_client.config keys owned by a dedicated encoder.
var reservedKeys = map[string]bool{
	"chef_server_url":        true,
	"validation_client_name": true,
	"node_name":              true,
	"log_level":              true,
	"ssl_verify_mode":        true,
	"exception_handlers":     true,
	"report_handlers":        true,
	"start_handlers":         true,
	"http_proxy":             true,
	"https_proxy":            true,
	"no_proxy":               true,
}

// Encoder produces the lines for one configuration concern.
type Encoder func(*attributes.Tree) ([]string, error)

func configPath(key string) string {
	return PathConfig + "." + key
}

// IdentityEncoder emits chef_server_url and validation_client_name, plus
// node_name when set. With defaults disabled, a missing identity setting is
// a MissingRequiredDefault error.
func IdentityEncoder(useDefaults bool) Encoder {
	return func(tree *attributes.Tree) ([]string, error) {
		settings := []struct {
			key string
			def string
		}{
			{key: "chef_server_url", def: DefaultChefServerURL},
			{key: "validation_client_name", def: DefaultValidationClientName},
		}

		var lines []string
		for _, s := range settings {
			path := configPath(s.key)
			v, ok, err := tree.String(path)
			if err != nil {
				return nil, err
			}
			if !ok {
				if !useDefaults {
					return nil, attributes.NewMissingRequiredDefault(path)
				}
				v = s.def
			}
			lines = append(lines, s.key+" "+Quote(v))
		}

		nodeName, ok, err := tree.String(configPath("node_name"))
		if err != nil {
			return nil, err
		}
		if ok {
			lines = append(lines, "node_name "+Quote(nodeName))
		}
		return lines, nil
	}
}

// symbolDirective emits `<key> :<sym>` when the key is set.
func symbolDirective(key string) Encoder {
	return func(tree *attributes.Tree) ([]string, error) {
		path := configPath(key)
		v, ok, err := tree.String(path)
		if err != nil || !ok {
			return nil, err
		}
		sym, err := symbolFor(path, v)
		if err != nil {
			return nil, err
		}
		return []string{key + " " + sym}, nil
	}
}

// LogLevel emits `log_level :<level>`.
func LogLevel(tree *attributes.Tree) ([]string, error) {
	return symbolDirective("log_level")(tree)
}

// SSLVerifyMode emits `ssl_verify_mode :<mode>`.
func SSLVerifyMode(tree *attributes.Tree) ([]string, error) {
	return symbolDirective("ssl_verify_mode")(tree)
}

// Passthrough emits every other chef_client.config key in declaration order.
func Passthrough(tree *attributes.Tree) ([]string, error) {
	cfg, ok, err := tree.Mapping(PathConfig)
	if err != nil || !ok {
		return nil, err
	}

	var lines []string
	for _, p := range cfg.Pairs() {
		if reservedKeys[p.Key] {
			continue
		}
		path := configPath(p.Key)
		val, err := literal(path, p.Value)
		if err != nil {
			return nil, err
		}
		if p.Value.Kind() == attributes.KindMapping {
			lines = append(lines, p.Key+"("+val+")")
			continue
		}
		lines = append(lines, p.Key+" "+val)
	}
	return lines, nil
}

// Requires emits a single block requiring every load_gems require_name in
// declaration order.
func Requires(tree *attributes.Tree) ([]string, error) {
	gems, ok, err := tree.Gems(PathLoadGems)
	if err != nil || !ok || len(gems) == 0 {
		return nil, err
	}
	names := make([]string, len(gems))
	for i, g := range gems {
		names[i] = g.RequireName
	}
	return []string{
		QuoteList(names) + ".each do |lib|",
		"  require lib",
		"end",
	}, nil
}

// Handlers emits one registration line per handler, exception handlers
// first, then report, then start.
func Handlers(tree *attributes.Tree) ([]string, error) {
	var lines []string
	for _, kind := range HandlerKinds {
		registry := kind + "_handlers"
		specs, _, err := tree.Handlers(configPath(registry))
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			lines = append(lines, registry+" << "+spec.ClassName+".new("+strings.Join(spec.Arguments, ",")+")")
		}
	}
	return lines, nil
}

// Proxies emits the directive and both environment variable spellings for
// each proxy setting that is present.
func Proxies(tree *attributes.Tree) ([]string, error) {
	var lines []string
	for _, kind := range ProxyKinds {
		v, ok, err := tree.String(configPath(kind))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		q := Quote(v)
		lines = append(lines,
			kind+" "+q,
			"ENV['"+kind+"'] = "+q,
			"ENV['"+strings.ToUpper(kind)+"'] = "+q,
		)
	}
	return lines, nil
}

// Ohai emits the disabled plugin list as symbols in input order.
func Ohai(tree *attributes.Tree) ([]string, error) {
	plugins, ok, err := tree.StringList(PathDisabledPlugin)
	if err != nil || !ok || len(plugins) == 0 {
		return nil, err
	}
	syms := make([]string, len(plugins))
	for i, p := range plugins {
		sym, err := symbolFor(fmt.Sprintf("%s[%d]", PathDisabledPlugin, i), p)
		if err != nil {
			return nil, err
		}
		syms[i] = sym
	}
	return []string{"Ohai::Config[:disabled_plugins] = [" + strings.Join(syms, ",") + "]"}, nil
}

// DropIn emits the client.d include block when config_d_enabled is true.
func DropIn(tree *attributes.Tree) ([]string, error) {
	enabled, _, err := tree.Bool(PathConfigDEnabled)
	if err != nil || !enabled {
		return nil, err
	}
	confDir, ok, err := tree.String(PathConfDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		confDir = DefaultConfDir
	}
	return []string{
		"Dir.glob(File.join(" + Quote(confDir) + ", \"client.d\", \"*.rb\")).each do |conf|",
		"  Chef::Config.from_file(conf)",
		"end",
	}, nil
}
