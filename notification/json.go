package notification

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// wireEvent is the structured payload layout.
type wireEvent struct {
	Kind  string   `json:"kind"`
	Item  *string  `json:"item,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// JSONCodec encodes events as a small JSON object:
//
//	{"kind":"added","item":"p q","score":1.5}
//
// Decode also accepts legacy text lines so a fleet can be migrated one
// process at a time. An item that is not valid UTF-8 cannot be carried
// exactly, so such events are sent as Changed and receivers reload.
type JSONCodec struct{}

// Encode implements Codec.Encode
func (JSONCodec) Encode(e Event) string {
	if e.HasItem && !utf8.ValidString(e.Item) {
		return `{"kind":"changed"}`
	}

	w := wireEvent{Kind: e.Kind.String(), Score: e.Score}
	if e.HasItem {
		item := e.Item
		w.Item = &item
	}
	b, err := json.Marshal(w)
	if err != nil {
		// NaN and infinite scores are not valid JSON numbers. Receivers
		// resync when the score is missing.
		w.Score = nil
		b, _ = json.Marshal(w)
	}
	return string(b)
}

// Decode implements Codec.Decode
func (JSONCodec) Decode(payload string) Event {
	trimmed := strings.TrimSpace(payload)
	if !strings.HasPrefix(trimmed, "{") {
		return ParseLegacy(payload)
	}

	var w wireEvent
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return Event{Kind: Changed}
	}

	e := Event{Kind: ParseKind(w.Kind)}
	switch e.Kind {
	case Added, Removed:
		if w.Item == nil {
			// An item-bearing kind without an item cannot be applied.
			return Event{Kind: Changed}
		}
		e.Item = *w.Item
		e.HasItem = true
		if e.Kind == Added {
			e.Score = w.Score
		}
	}
	return e
}
