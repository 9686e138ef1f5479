package attributes

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleTree() *Tree {
	return NewTree(MappingOf(
		Pair{Key: "chef_client", Value: Map(MappingOf(
			Pair{Key: "config", Value: Map(MappingOf(
				Pair{Key: "log_level", Value: String(":debug")},
				Pair{Key: "verbose_logging", Value: Bool(true)},
				Pair{Key: "interval", Value: Int(1800)},
				Pair{Key: "exception_handlers", Value: Handlers(HandlerSpec{ClassName: " Foo::Bar "})},
				Pair{Key: "report_handlers", Value: Handlers(HandlerSpec{ClassName: ""})},
				Pair{Key: "start_handlers", Value: List()},
			))},
			Pair{Key: "load_gems", Value: Map(MappingOf(
				Pair{Key: "zeta-handler", Value: Map(NewMapping())},
				Pair{Key: "chef-handler-updated-resources", Value: Map(MappingOf(
					Pair{Key: "require_name", Value: String("chef/handler/updated_resources")},
					Pair{Key: "version", Value: String("0.1")},
				))},
			))},
		))},
		Pair{Key: "ohai", Value: Map(MappingOf(
			Pair{Key: "disabled_plugins", Value: List("passwd", "dmi")},
		))},
	))
}

func TestTree_Lookup(t *testing.T) {
	tree := sampleTree()

	tests := []struct {
		name    string
		path    string
		present bool
	}{
		{name: "leaf", path: "chef_client.config.log_level", present: true},
		{name: "mapping", path: "chef_client.config", present: true},
		{name: "missing leaf", path: "chef_client.config.node_name", present: false},
		{name: "through scalar", path: "chef_client.config.log_level.x", present: false},
		{name: "missing root", path: "nope", present: false},
		{name: "empty path", path: "", present: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tree.Lookup(tt.path)
			if ok != tt.present {
				t.Errorf("Lookup(%q) present = %v, want %v", tt.path, ok, tt.present)
			}
		})
	}
}

func TestTree_TypedAccessors(t *testing.T) {
	tree := sampleTree()

	s, ok, err := tree.String("chef_client.config.log_level")
	if err != nil || !ok || s != ":debug" {
		t.Errorf("String = %q, %v, %v", s, ok, err)
	}

	_, ok, err = tree.String("chef_client.config.missing")
	if err != nil || ok {
		t.Errorf("missing key should be absent without error, got %v, %v", ok, err)
	}

	_, ok, err = tree.String("ohai.disabled_plugins")
	if !ok {
		t.Errorf("expected present")
	}
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Path != "ohai.disabled_plugins" {
		t.Errorf("expected error naming path, got %v", err)
	}

	b, ok, err := tree.Bool("chef_client.config.verbose_logging")
	if err != nil || !ok || !b {
		t.Errorf("Bool = %v, %v, %v", b, ok, err)
	}

	if _, _, err := tree.Bool("chef_client.config.interval"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected type mismatch for int read as bool, got %v", err)
	}

	list, _, err := tree.StringList("ohai.disabled_plugins")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"passwd", "dmi"}, list); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestTree_NonMappingParentIsTypeMismatch(t *testing.T) {
	tree := NewTree(MappingOf(
		Pair{Key: "chef_client", Value: List("x")},
		Pair{Key: "ohai", Value: String("oops")},
	))

	tests := []struct {
		name   string
		read   func() (bool, error)
		prefix string
	}{
		{name: "string under list", prefix: "chef_client", read: func() (bool, error) {
			_, ok, err := tree.String("chef_client.config.log_level")
			return ok, err
		}},
		{name: "mapping under list", prefix: "chef_client", read: func() (bool, error) {
			_, ok, err := tree.Mapping("chef_client.config")
			return ok, err
		}},
		{name: "bool under list", prefix: "chef_client", read: func() (bool, error) {
			_, ok, err := tree.Bool("chef_client.reload_config")
			return ok, err
		}},
		{name: "list under string", prefix: "ohai", read: func() (bool, error) {
			_, ok, err := tree.StringList("ohai.disabled_plugins")
			return ok, err
		}},
		{name: "handlers under list", prefix: "chef_client", read: func() (bool, error) {
			_, ok, err := tree.Handlers("chef_client.config.report_handlers")
			return ok, err
		}},
		{name: "gems under list", prefix: "chef_client", read: func() (bool, error) {
			_, ok, err := tree.Gems("chef_client.load_gems")
			return ok, err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.read()
			if !ok {
				t.Errorf("expected present")
			}
			var aerr *Error
			if !errors.As(err, &aerr) || aerr.Kind != KindTypeMismatch || aerr.Path != tt.prefix {
				t.Fatalf("expected type mismatch at %q, got %v", tt.prefix, err)
			}
		})
	}

	// A missing intermediate key stays absent.
	if _, ok, err := tree.String("knife.config.editor"); ok || err != nil {
		t.Errorf("missing parent should be absent, got %v, %v", ok, err)
	}
}

func TestTree_Handlers(t *testing.T) {
	tree := sampleTree()

	specs, ok, err := tree.Handlers("chef_client.config.exception_handlers")
	if err != nil || !ok {
		t.Fatalf("unexpected: %v, %v", ok, err)
	}
	want := []HandlerSpec{{ClassName: "Foo::Bar", Arguments: []string{}}}
	if diff := cmp.Diff(want, specs); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}

	_, _, err = tree.Handlers("chef_client.config.report_handlers")
	if !errors.Is(err, ErrMalformedHandlerSpec) {
		t.Errorf("expected malformed handler spec, got %v", err)
	}

	specs, ok, err = tree.Handlers("chef_client.config.start_handlers")
	if err != nil || !ok || len(specs) != 0 {
		t.Errorf("empty list should be an empty handler list, got %v, %v, %v", specs, ok, err)
	}

	_, _, err = tree.Handlers("chef_client.config.log_level")
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", err)
	}
}

func TestTree_Gems(t *testing.T) {
	gems, ok, err := sampleTree().Gems("chef_client.load_gems")
	if err != nil || !ok {
		t.Fatalf("unexpected: %v, %v", ok, err)
	}
	want := []GemSpec{
		{Name: "zeta-handler", RequireName: "zeta-handler"},
		{Name: "chef-handler-updated-resources", RequireName: "chef/handler/updated_resources", Version: "0.1"},
	}
	if diff := cmp.Diff(want, gems); diff != "" {
		t.Errorf("gems mismatch (-want +got):\n%s", diff)
	}
}

func TestTree_NeverMutatesInput(t *testing.T) {
	root := MappingOf(Pair{Key: "a", Value: String("1")})
	tree := NewTree(root)
	root.Set("a", String("2"))

	s, _, _ := tree.String("a")
	if s != "1" {
		t.Errorf("tree observed caller mutation: %q", s)
	}

	r := tree.Root()
	r.Set("a", String("3"))
	s, _, _ = tree.String("a")
	if s != "1" {
		t.Errorf("Root() exposed internal state: %q", s)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(NewMissingRequiredDefault("x")) != KindMissingRequiredDefault {
		t.Errorf("expected missing required default kind")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Errorf("expected empty kind for plain errors")
	}
	wrapped := NewLoadError("f.yaml", errors.New("boom"))
	if !errors.Is(wrapped, ErrLoad) {
		t.Errorf("expected load error to match sentinel")
	}
	if got := wrapped.Error(); got != "[load] f.yaml: failed to load attributes: boom" {
		t.Errorf("unexpected message %q", got)
	}
}
