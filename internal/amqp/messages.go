package amqp

import (
	"encoding/json"

	"github.com/IvPalmer/vault-sub000/internal/store"
)

// CommitMessage wraps a store commit event for the wire. The consumer
// only needs the event; heavier payloads are fetched from the database
// on its side.
type CommitMessage struct {
	Event store.Event `json:"event"`
}

func NewCommitMessage(event store.Event) *CommitMessage {
	return &CommitMessage{Event: event}
}

func (m *CommitMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func CommitMessageFromJSON(data []byte) (*CommitMessage, error) {
	var msg CommitMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
