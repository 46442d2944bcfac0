package block

import (
	"encoding/json"
	"testing"
)

func TestIDLess(t *testing.T) {
	cases := []struct {
		name string
		a, b ID
		want bool
	}{
		{"lower client wins", ID{1, 5}, ID{2, 0}, true},
		{"higher client loses", ID{2, 0}, ID{1, 5}, false},
		{"same client lower clock wins", ID{1, 2}, ID{1, 3}, true},
		{"equal ids", ID{1, 2}, ID{1, 2}, false},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("%s: %v.Less(%v) = %v, want %v", c.name, c.a, c.b, got, c.want)
		}
	}
}

func TestIDEnd(t *testing.T) {
	id := ID{Client: 1, Clock: 10}
	if got := id.End(4); got != 14 {
		t.Errorf("End(4) = %d, want 14", got)
	}
}

func TestBlockContains(t *testing.T) {
	b := Block{ID: ID{Client: 1, Clock: 10}, Content: "hello"}
	if !b.Contains(ID{Client: 1, Clock: 12}) {
		t.Error("expected clock 12 to fall inside [10,15)")
	}
	if b.Contains(ID{Client: 1, Clock: 10}) {
		t.Error("clock 10 is the block's own start, not strictly inside")
	}
	if b.Contains(ID{Client: 1, Clock: 15}) {
		t.Error("clock 15 is one past the block's end")
	}
	if b.Contains(ID{Client: 2, Clock: 12}) {
		t.Error("different client id can never be contained")
	}
}

func TestBlockCloneIndependence(t *testing.T) {
	left := ID{Client: 1, Clock: 0}
	b := Block{ID: ID{Client: 2, Clock: 0}, LeftOrigin: &left, Content: "x"}
	clone := b.Clone()
	clone.LeftOrigin.Clock = 99
	if b.LeftOrigin.Clock != 0 {
		t.Error("mutating clone's origin pointer leaked back into original")
	}
}

func TestBlockJSONRoundTrip(t *testing.T) {
	left := ID{Client: 1, Clock: 3}
	orig := Block{
		ID:         ID{Client: 2, Clock: 0},
		LeftOrigin: &left,
		Deleted:    true,
		Content:    "hi",
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Block
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != orig.ID || got.Deleted != orig.Deleted || got.Content != orig.Content {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, orig)
	}
	if got.LeftOrigin == nil || *got.LeftOrigin != left {
		t.Errorf("left origin lost in round trip: %+v", got.LeftOrigin)
	}
	if got.RightOrigin != nil {
		t.Errorf("expected nil right origin, got %+v", got.RightOrigin)
	}
}

func TestBlockJSONExplicitNullOrigins(t *testing.T) {
	b := Block{ID: ID{Client: 1, Clock: 0}, Content: "x"}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if string(raw["left_origin"]) != "null" {
		t.Errorf("left_origin = %s, want explicit null", raw["left_origin"])
	}
	if string(raw["right_origin"]) != "null" {
		t.Errorf("right_origin = %s, want explicit null", raw["right_origin"])
	}
}
