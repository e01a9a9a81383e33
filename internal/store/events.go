package store

import (
	"time"

	"github.com/google/uuid"
)

// Event describes one committed write at the persistence boundary.
// Observers registered on a backend receive it after the commit, which
// is how the async backup stays decoupled from the pure computations.
type Event struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"` // e.g. "mapping.updated", "transaction.categorized"
	EntityID int64     `json:"entity_id"`
	At       time.Time `json:"at"`
}

// NewEvent stamps a commit event.
func NewEvent(kind string, entityID int64) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		EntityID: entityID,
		At:       time.Now().UTC(),
	}
}

// Observer is notified after each committed write.
type Observer func(Event)

// Notifier is implemented by backends that publish commit events.
type Notifier interface {
	OnCommit(Observer)
}
