package notification

import (
	"math"
	"testing"
)

func TestParseLegacy(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
	}{
		{"added", "abc added", AddedEvent("abc")},
		{"removed", "abc removed", RemovedEvent("abc")},
		{"uuid added", "3f2b9c1e-0000-4000-8000-000000000001 added", AddedEvent("3f2b9c1e-0000-4000-8000-000000000001")},
		{"deletion is generic", "Deletion: true", Event{Kind: Changed}},
		{"free text", "hello world", Event{Kind: Changed}},
		{"empty", "", Event{Kind: Changed}},
		{"suffix without separator", "unadded", Event{Kind: Changed}},
		// Known grammar defects, asserted as documented.
		{"whitespace item truncated", "p q added", AddedEvent("p")},
		{"item ending in removed", "x removed added", AddedEvent("x")},
		{"legacy queue sentence", "Queue contents changed {item} added to queue.", Event{Kind: Changed}},
		{"tab separator", "a\tb removed", RemovedEvent("a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLegacy(tt.payload)
			if !eventsEqual(got, tt.want) {
				t.Fatalf("ParseLegacy(%q) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestLegacyCodec_Encode(t *testing.T) {
	var c LegacyCodec
	tests := []struct {
		in   Event
		want string
	}{
		{AddedEvent("x"), "x added"},
		{RemovedEvent("x"), "x removed"},
		{ScoredAddedEvent("x", 3), "x added"},
		{DeletedEvent(), "Deletion: true"},
		{Event{Kind: Changed}, "changed"},
	}
	for _, tt := range tests {
		if got := c.Encode(tt.in); got != tt.want {
			t.Errorf("Encode(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLegacyCodec_DeletedDegradesToChanged(t *testing.T) {
	var c LegacyCodec
	got := c.Decode(c.Encode(DeletedEvent()))
	if got.Kind != Changed || got.HasItem {
		t.Fatalf("expected Changed without item, got %v", got)
	}
}

func TestJSONCodec_PreservesWhitespaceItems(t *testing.T) {
	var c JSONCodec
	for _, in := range []Event{
		AddedEvent("p q"),
		RemovedEvent("x removed"),
		ScoredAddedEvent("scored item", 1.5),
		DeletedEvent(),
		{Kind: Changed},
	} {
		wire := c.Encode(in)
		if got := c.Decode(wire); !eventsEqual(got, in) {
			t.Errorf("Decode(Encode(%v)) via %s = %v", in, wire, got)
		}
	}
}

func TestJSONCodec_NonFiniteScoreDropped(t *testing.T) {
	var c JSONCodec
	got := c.Decode(c.Encode(ScoredAddedEvent("x", math.Inf(1))))
	if got.Kind != Added || got.Item != "x" || got.Score != nil {
		t.Fatalf("expected Added(x) without score, got %v", got)
	}
}

func TestJSONCodec_InvalidUTF8ItemForcesResync(t *testing.T) {
	var c JSONCodec
	for _, e := range []Event{AddedEvent("a\xffb"), ScoredAddedEvent("\xc3", 1), RemovedEvent("\xff")} {
		if got := c.Decode(c.Encode(e)); got.Kind != Changed || got.HasItem {
			t.Fatalf("%q: expected Changed without item, got %v", e.Item, got)
		}
	}
}

func TestJSONCodec_Decode(t *testing.T) {
	var c JSONCodec
	tests := []struct {
		name    string
		payload string
		want    Event
	}{
		{"legacy fallback", "abc added", AddedEvent("abc")},
		{"malformed json", "{not json", Event{Kind: Changed}},
		{"added without item", `{"kind":"added"}`, Event{Kind: Changed}},
		{"unknown kind", `{"kind":"exploded","item":"x"}`, Event{Kind: Changed}},
		{"deleted ignores item", `{"kind":"deleted","item":"x"}`, DeletedEvent()},
		{"removed ignores score", `{"kind":"removed","item":"x","score":2}`, RemovedEvent("x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Decode(tt.payload); !eventsEqual(got, tt.want) {
				t.Fatalf("Decode(%q) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	for _, k := range []Kind{Changed, Added, Removed, Deleted} {
		if ParseKind(k.String()) != k {
			t.Errorf("ParseKind(%q) did not round-trip", k.String())
		}
	}
}

func eventsEqual(a, b Event) bool {
	if a.Kind != b.Kind || a.HasItem != b.HasItem || a.Item != b.Item {
		return false
	}
	if (a.Score == nil) != (b.Score == nil) {
		return false
	}
	return a.Score == nil || *a.Score == *b.Score
}
