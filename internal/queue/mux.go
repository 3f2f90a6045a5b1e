package queue

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/you/jobcore/internal/domain"
)

// Handler executes the business logic for one delivery. A nil error marks
// the attempt completed; any error routes the item through the retry rules.
type Handler interface {
	Handle(ctx context.Context, item *Item) (json.RawMessage, error)
}

type HandlerFunc func(ctx context.Context, item *Item) (json.RawMessage, error)

func (h HandlerFunc) Handle(ctx context.Context, item *Item) (json.RawMessage, error) {
	return h(ctx, item)
}

// Mux dispatches deliveries by job type. Registration is keyed on the closed
// domain.JobType set, so an unregistered or unknown type fails the attempt
// instead of silently vanishing.
type Mux struct {
	data map[domain.JobType]Handler
}

func NewMux() *Mux {
	return &Mux{data: make(map[domain.JobType]Handler)}
}

func (m *Mux) Register(t domain.JobType, h Handler) *Mux {
	m.data[t] = h
	return m
}

func (m *Mux) Handle(ctx context.Context, item *Item) (json.RawMessage, error) {
	t, err := domain.ParseJobType(item.Name)
	if err != nil {
		return nil, err
	}
	h, ok := m.data[t]
	if !ok {
		return nil, errors.WithMessagef(domain.ErrUnknownJobType, "no handler for %s", t)
	}
	return h.Handle(ctx, item)
}
