package attributes

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMapping_SetKeepsPosition(t *testing.T) {
	m := MappingOf(
		Pair{Key: "b", Value: String("1")},
		Pair{Key: "a", Value: String("2")},
		Pair{Key: "c", Value: String("3")},
	)
	m.Set("a", String("replaced"))

	if diff := cmp.Diff([]string{"b", "a", "c"}, m.Keys()); diff != "" {
		t.Errorf("key order mismatch (-want +got):\n%s", diff)
	}
	v, ok := m.Get("a")
	if !ok {
		t.Fatal("expected key a")
	}
	if s, _ := v.AsString(); s != "replaced" {
		t.Errorf("expected replaced value, got %q", s)
	}
}

func TestMapping_Merge(t *testing.T) {
	base := MappingOf(
		Pair{Key: "chef_client", Value: Map(MappingOf(
			Pair{Key: "conf_dir", Value: String("/etc/chef")},
			Pair{Key: "reload_config", Value: Bool(true)},
		))},
		Pair{Key: "ohai", Value: Map(MappingOf(
			Pair{Key: "disabled_plugins", Value: List("passwd")},
		))},
	)
	overlay := MappingOf(
		Pair{Key: "chef_client", Value: Map(MappingOf(
			Pair{Key: "reload_config", Value: Bool(false)},
			Pair{Key: "log_dir", Value: String("/srv/log")},
		))},
		Pair{Key: "ohai", Value: Map(MappingOf(
			Pair{Key: "disabled_plugins", Value: List("dmi")},
		))},
	)

	base.Merge(overlay)
	tree := NewTree(base)

	reload, _, err := tree.Bool("chef_client.reload_config")
	if err != nil || reload {
		t.Errorf("expected reload_config=false, got %v (err=%v)", reload, err)
	}
	cc, _, _ := tree.Mapping("chef_client")
	if diff := cmp.Diff([]string{"conf_dir", "reload_config", "log_dir"}, cc.Keys()); diff != "" {
		t.Errorf("merged key order mismatch (-want +got):\n%s", diff)
	}
	plugins, _, _ := tree.StringList("ohai.disabled_plugins")
	if diff := cmp.Diff([]string{"dmi"}, plugins); diff != "" {
		t.Errorf("lists should replace, not append (-want +got):\n%s", diff)
	}
}

func TestMapping_CloneIsDeep(t *testing.T) {
	inner := MappingOf(Pair{Key: "k", Value: String("v")})
	m := MappingOf(Pair{Key: "inner", Value: Map(inner)})

	cp := m.Clone()
	inner.Set("k", String("changed"))
	inner.Set("extra", String("x"))

	v, _ := cp.Get("inner")
	got, _ := v.AsMapping()
	if got.Len() != 1 {
		t.Fatalf("expected clone to keep 1 key, got %d", got.Len())
	}
	s, _ := mustGet(t, got, "k").AsString()
	if s != "v" {
		t.Errorf("expected clone to keep original value, got %q", s)
	}
}

func TestMapping_NilSafe(t *testing.T) {
	var m *Mapping
	if m.Len() != 0 {
		t.Errorf("expected 0 length")
	}
	if _, ok := m.Get("x"); ok {
		t.Errorf("expected missing key")
	}
	if m.Keys() != nil || m.Pairs() != nil {
		t.Errorf("expected nil keys and pairs")
	}
	if m.Clone().Len() != 0 {
		t.Errorf("expected empty clone")
	}
}

func mustGet(t *testing.T, m *Mapping, key string) Value {
	t.Helper()
	v, ok := m.Get(key)
	if !ok {
		t.Fatalf("missing key %q", key)
	}
	return v
}

func TestMapping_ZeroValue(t *testing.T) {
	var m Mapping
	m.Set("a", String("b"))
	m.Set("c", Int(1))
	m.Set("a", String("d"))

	if diff := cmp.Diff([]string{"a", "c"}, m.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if v, ok := m.Get("a"); !ok {
		t.Error("expected key a")
	} else if s, _ := v.AsString(); s != "d" {
		t.Errorf("a = %q, want d", s)
	}
}
