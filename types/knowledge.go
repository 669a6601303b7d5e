package types

import "time"

// Entity is a named-entity mention extracted from a query.
// It carries only the surface form; it has no identity beyond the turn.
type Entity struct {
	Text string `json:"text"`
}

// KBEntry is one disambiguation candidate returned by an entity or
// property search against the knowledge base.
type KBEntry struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// PropertyValue is the decoded main value of one property claim,
// optionally suffixed with a resolved unit label.
type PropertyValue struct {
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// String renders the value with its unit label when present.
func (p PropertyValue) String() string {
	if p.Unit == "" {
		return p.Value
	}
	return p.Value + " " + p.Unit
}

// KnowledgeSentence is one sentence lifted from an entity summary.
// Sentences are pooled per turn; Entity and Index preserve the
// (extraction order, in-article order) position for deterministic ranking input.
type KnowledgeSentence struct {
	Entity string `json:"entity"` // surface form the sentence was fetched for
	Index  int    `json:"index"`  // position within the entity's summary
	Text   string `json:"text"`
}

// Role identifies the speaker of a dialogue turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DialogueTurn is one utterance in a session. Turns are append-only;
// a turn is never mutated after it is recorded.
type DialogueTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
