// Package notification maps collection mutations onto the payloads exchanged
// over the notification channel and back.
//
// Two wire formats exist. The legacy format is a single free-text line whose
// kind is inferred from its suffix:
//
//	"<item> added"    -> Added, item = text before the first whitespace
//	"<item> removed"  -> Removed, same item rule
//	anything else     -> Changed, no item
//
// The legacy grammar cannot represent items containing whitespace, and an
// item whose own text ends in " added" or " removed" is misclassified. The
// structured format (JSONCodec) carries the kind and item as separate fields
// and has neither problem; it is opt-in because peers that only understand
// the legacy format classify it as Changed.
package notification

import (
	"fmt"
	"strings"
)

// Kind classifies a notification.
type Kind int

const (
	// Changed is the generic, item-less kind. Every payload that cannot be
	// classified more precisely decodes to Changed.
	Changed Kind = iota
	// Added means an item was inserted.
	Added
	// Removed means an item was popped.
	Removed
	// Deleted means the whole collection was removed.
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Deleted:
		return "deleted"
	default:
		return "changed"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to Changed.
func ParseKind(s string) Kind {
	switch s {
	case "added":
		return Added
	case "removed":
		return Removed
	case "deleted":
		return Deleted
	default:
		return Changed
	}
}

// Event is a classified notification.
type Event struct {
	Kind Kind
	// Item is the affected item. Empty when HasItem is false.
	Item    string
	HasItem bool
	// Score accompanies Added events on sorted sets when the wire format can
	// carry it. Nil otherwise.
	Score *float64
}

// AddedEvent builds an Added event for item.
func AddedEvent(item string) Event {
	return Event{Kind: Added, Item: item, HasItem: true}
}

// ScoredAddedEvent builds an Added event carrying the item's score.
func ScoredAddedEvent(item string, score float64) Event {
	e := AddedEvent(item)
	e.Score = &score
	return e
}

// RemovedEvent builds a Removed event for item.
func RemovedEvent(item string) Event {
	return Event{Kind: Removed, Item: item, HasItem: true}
}

// DeletedEvent builds a Deleted event.
func DeletedEvent() Event {
	return Event{Kind: Deleted}
}

func (e Event) String() string {
	if !e.HasItem {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s(%q)", e.Kind, e.Item)
}

// Codec converts events to and from wire payloads. Decode never fails:
// payloads outside the codec's grammar decode to a Changed event.
type Codec interface {
	Encode(Event) string
	Decode(payload string) Event
}

const (
	addedSuffix   = " added"
	removedSuffix = " removed"
)

// LegacyCodec speaks the free-text line format.
type LegacyCodec struct{}

// Encode renders e in the legacy grammar. Deleted has no legacy spelling that
// classifies as such, so it is written as "Deletion: true" which every
// legacy peer reads as Changed. Scores are not representable and are dropped.
func (LegacyCodec) Encode(e Event) string {
	switch e.Kind {
	case Added:
		return e.Item + addedSuffix
	case Removed:
		return e.Item + removedSuffix
	case Deleted:
		return "Deletion: true"
	default:
		return "changed"
	}
}

// Decode implements Codec.Decode using ParseLegacy.
func (LegacyCodec) Decode(payload string) Event {
	return ParseLegacy(payload)
}

// ParseLegacy classifies a legacy text payload. It preserves the grammar's
// known ambiguities: "p q added" yields Added("p"), and an item that is
// itself "x removed" published as added still classifies as Added("x").
func ParseLegacy(payload string) Event {
	var kind Kind
	switch {
	case strings.HasSuffix(payload, addedSuffix):
		kind = Added
	case strings.HasSuffix(payload, removedSuffix):
		kind = Removed
	default:
		return Event{Kind: Changed}
	}
	return Event{Kind: kind, Item: firstToken(payload), HasItem: true}
}

// firstToken returns the text before the first whitespace character.
func firstToken(s string) string {
	if i := strings.IndexFunc(s, isSpace); i >= 0 {
		return s[:i]
	}
	return s
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}
