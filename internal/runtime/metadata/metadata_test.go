package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneNil(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil || len(cloned) != 0 {
		t.Fatalf("expected empty non-nil map, got %#v", cloned)
	}
}

func TestWithFromAndWithAll(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With(KeyFrom, "inventory")
	if base.From() != "" {
		t.Fatal("expected base map to remain unchanged")
	}
	if enriched.From() != "inventory" {
		t.Fatalf("expected sender label, got %q", enriched.From())
	}

	merged := enriched.WithAll(Metadata{"foo": "override"})
	if merged.Get("foo") != "override" {
		t.Fatalf("expected merged entry to win, got %q", merged.Get("foo"))
	}
	if merged.From() != "inventory" {
		t.Fatal("expected existing entries to persist")
	}
}

func TestNewPairsIgnoresDanglingKey(t *testing.T) {
	md := New("key", "value", "dangling")
	if md["key"] != "value" {
		t.Fatalf("expected key to be set")
	}
	if _, ok := md["dangling"]; ok {
		t.Fatal("expected dangling key to be ignored")
	}
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{KeyChannel: "orders"}
	wm := ToWatermill(md)
	if wm[KeyChannel] != "orders" {
		t.Fatalf("expected watermill metadata to copy entries")
	}
	wm[KeyChannel] = "mutation"
	if md[KeyChannel] != "orders" {
		t.Fatal("expected original metadata to be isolated from watermill changes")
	}

	back := FromWatermill(message.Metadata{"event": "order"})
	if back["event"] != "order" {
		t.Fatalf("expected watermill metadata to convert back")
	}
	if FromWatermill(nil) == nil {
		t.Fatal("expected non-nil map for nil input")
	}
}
