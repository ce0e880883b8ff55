package revision

import (
	"testing"

	"github.com/mbme/arhiv-sub000/pkg/arhivid"
)

func rev(pairs ...any) Revision {
	r := Revision{}
	for i := 0; i < len(pairs); i += 2 {
		r[arhivid.InstanceId(pairs[i].(string))] = uint32(pairs[i+1].(int))
	}
	return r
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b Revision
		want Order
	}{
		{"equal empty", Initial(), Initial(), OrderEqual},
		{"before", rev("a", 1), rev("a", 2), OrderBefore},
		{"after", rev("a", 2), rev("a", 1), OrderAfter},
		{"concurrent", rev("a", 1), rev("b", 1), OrderConcurrent},
		{"concurrent mixed", rev("a", 2, "b", 1), rev("a", 1, "b", 2), OrderConcurrent},
		{"before with missing key", rev(), rev("a", 1), OrderBefore},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Compare(c.b); got != c.want {
				t.Errorf("Compare(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestNextRev(t *testing.T) {
	self := arhivid.InstanceId("self")
	next := NextRev([]Revision{rev("self", 1), rev("other", 3)}, self)

	if next.get(self) != 2 {
		t.Errorf("expected self component incremented to 2, got %d", next.get(self))
	}
	if next.get("other") != 3 {
		t.Errorf("expected other component preserved at 3, got %d", next.get("other"))
	}
}

func TestSerializeCanonical(t *testing.T) {
	r := rev("b", 2, "a", 1)
	if got, want := r.Serialize(), `{"a":1,"b":2}`; got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}

	if got, want := Initial().Serialize(), `{}`; got != want {
		t.Errorf("Serialize() of empty = %q, want %q", got, want)
	}
}

func TestFileNameRoundTrip(t *testing.T) {
	r := rev("b", 2, "a", 1)
	name := r.ToFileName()
	if name != "a:1-b:2" {
		t.Errorf("ToFileName() = %q", name)
	}

	parsed, err := FromFileName(name)
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(r) {
		t.Errorf("round trip mismatch: %v != %v", parsed, r)
	}
}

func TestGetLatestRevSingle(t *testing.T) {
	latest := GetLatestRev([]Revision{rev("a", 1), rev("a", 2)})
	if len(latest) != 1 || !latest[0].Equal(rev("a", 2)) {
		t.Fatalf("expected single latest rev {a:2}, got %v", latest)
	}
}

func TestGetLatestRevConflict(t *testing.T) {
	latest := GetLatestRev([]Revision{rev("a", 1), rev("b", 1)})
	if len(latest) != 2 {
		t.Fatalf("expected conflict with 2 latest revs, got %v", latest)
	}
}

func TestGetLatestRevDedup(t *testing.T) {
	latest := GetLatestRev([]Revision{rev("a", 1), rev("a", 1)})
	if len(latest) != 1 {
		t.Fatalf("expected duplicate identical revs collapsed to 1, got %v", latest)
	}
}
