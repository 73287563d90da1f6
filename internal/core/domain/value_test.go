package domain

import (
	"testing"
)

func TestFlattenSortsObjectKeysAndIndexesArrays(t *testing.T) {
	tree := Object{
		"zeta": Leaf{V: "last"},
		"alpha": Object{
			"items": Array{Leaf{V: int64(1)}, Leaf{V: int64(2)}},
		},
	}

	leaves := Flatten(tree)
	wantPaths := []string{"alpha.items.0", "alpha.items.1", "zeta"}
	if len(leaves) != len(wantPaths) {
		t.Fatalf("got %d leaves, want %d", len(leaves), len(wantPaths))
	}
	for i, want := range wantPaths {
		if leaves[i].Path != want {
			t.Fatalf("leaves[%d].Path = %q, want %q", i, leaves[i].Path, want)
		}
	}
}

func TestSetAtPathWritesExistingPositions(t *testing.T) {
	tree := Object{
		"level": Leaf{V: int64(5)},
		"nested": Object{
			"items": Array{Leaf{V: "a"}, Leaf{V: "b"}},
		},
	}

	if err := SetAtPath(tree, "level", int64(9)); err != nil {
		t.Fatalf("SetAtPath(level) error = %v", err)
	}
	if got := tree["level"].(Leaf).V; got != int64(9) {
		t.Fatalf("level = %#v", got)
	}

	if err := SetAtPath(tree, "nested.items.1", "c"); err != nil {
		t.Fatalf("SetAtPath(nested.items.1) error = %v", err)
	}
	if got := tree["nested"].(Object)["items"].(Array)[1].(Leaf).V; got != "c" {
		t.Fatalf("items[1] = %#v", got)
	}
}

func TestSetAtPathNeverGrowsTree(t *testing.T) {
	tree := Object{"level": Leaf{V: int64(5)}}

	if err := SetAtPath(tree, "missing", "x"); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if err := SetAtPath(tree, "level.deeper", "x"); err == nil {
		t.Fatal("expected error for path through a leaf")
	}
	if len(tree) != 1 {
		t.Fatalf("tree grew: %v", tree)
	}

	arr := Object{"items": Array{Leaf{V: "a"}}}
	if err := SetAtPath(arr, "items.1", "b"); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}

func TestLeafStringRendering(t *testing.T) {
	cases := []struct {
		leaf Leaf
		want string
	}{
		{Leaf{V: "text"}, "text"},
		{Leaf{V: int64(42)}, "42"},
		{Leaf{V: 21.5}, "21.5"},
		{Leaf{V: float64(3)}, "3"},
		{Leaf{V: true}, "true"},
		{Leaf{V: nil}, "null"},
	}
	for _, tc := range cases {
		if got := tc.leaf.String(); got != tc.want {
			t.Errorf("Leaf(%#v).String() = %q, want %q", tc.leaf.V, got, tc.want)
		}
	}
}

func TestFromJSONNumberTyping(t *testing.T) {
	value, err := FromJSON([]byte(`{"count": 7, "ratio": 0.5, "big": 9007199254740993}`))
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	obj := value.(Object)

	if got := obj["count"].(Leaf).V; got != int64(7) {
		t.Fatalf("count = %#v, want int64(7)", got)
	}
	if got := obj["ratio"].(Leaf).V; got != 0.5 {
		t.Fatalf("ratio = %#v, want float64(0.5)", got)
	}
	// Integers beyond float53 stay exact.
	if got := obj["big"].(Leaf).V; got != int64(9007199254740993) {
		t.Fatalf("big = %#v", got)
	}
}

func TestFromJSONRejectsMalformed(t *testing.T) {
	if _, err := FromJSON([]byte(`{"a":`)); err == nil {
		t.Fatal("expected error for truncated json")
	}
}

func TestToJSONRoundTrip(t *testing.T) {
	original := Object{
		"action": Leaf{V: "set_volume"},
		"level":  Leaf{V: int64(5)},
		"steps":  Array{Leaf{V: "up"}, Leaf{V: "down"}},
	}
	raw, err := ToJSON(original)
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	decoded, err := FromJSON(raw)
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	if !Equal(original, decoded) {
		t.Fatalf("round trip changed the tree: %v vs %v", original, decoded)
	}
}

func TestCloneIsDeep(t *testing.T) {
	original := Object{
		"nested": Object{"level": Leaf{V: int64(5)}},
	}
	copied := Clone(original)

	if err := SetAtPath(copied, "nested.level", int64(9)); err != nil {
		t.Fatalf("SetAtPath() error = %v", err)
	}
	if got := original["nested"].(Object)["level"].(Leaf).V; got != int64(5) {
		t.Fatalf("clone mutation leaked into the original: %#v", got)
	}
}

func TestEqual(t *testing.T) {
	a := Object{"x": Array{Leaf{V: int64(1)}}}
	b := Object{"x": Array{Leaf{V: int64(1)}}}
	if !Equal(a, b) {
		t.Fatal("identical trees reported unequal")
	}
	c := Object{"x": Array{Leaf{V: int64(2)}}}
	if Equal(a, c) {
		t.Fatal("different trees reported equal")
	}
	if Equal(a, Object{"x": Array{Leaf{V: int64(1)}}, "y": Leaf{V: "extra"}}) {
		t.Fatal("extra key not detected")
	}
	if Equal(Leaf{V: int64(1)}, Leaf{V: 1.0}) {
		t.Fatal("int64 and float64 leaves must differ")
	}
}
