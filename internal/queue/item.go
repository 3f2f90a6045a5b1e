package queue

import "encoding/json"

// Payload travels with an item through the queue. LedgerID is injected once
// the item is linked to its ledger record; redeliveries carry it along.
type Payload struct {
	EntityID string          `json:"entityId,omitempty"`
	LedgerID string          `json:"ledgerId,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// Item is a single delivery of queued work. The queue guarantees it is held
// by exactly one worker at a time; nothing else keeps a live reference.
type Item struct {
	ID           string
	Queue        string
	Name         string // job type
	Data         Payload
	AttemptsMade int
	MaxAttempts  int
}

// WillRetry reports whether another delivery is still pending after a
// failure of the current attempt.
func (it *Item) WillRetry() bool {
	return it.AttemptsMade < it.MaxAttempts
}

// envelope is the wire form of an item.
type envelope struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Data         Payload `json:"data"`
	AttemptsMade int     `json:"attemptsMade"`
	MaxAttempts  int     `json:"maxAttempts"`
	Priority     int     `json:"priority,omitempty"`
	EnqueuedAt   int64   `json:"enqueuedAt"`
}

func (e envelope) item(queue string) *Item {
	return &Item{
		ID:           e.ID,
		Queue:        queue,
		Name:         e.Name,
		Data:         e.Data,
		AttemptsMade: e.AttemptsMade,
		MaxAttempts:  e.MaxAttempts,
	}
}
