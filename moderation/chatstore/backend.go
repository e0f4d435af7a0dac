package chatstore

import (
	"context"
	"errors"
)

// Returned by Backend.Load when nothing has been persisted yet.
var ErrNoDocument = errors.New("no persisted document")

// Durable storage for the full moderation state.
//
// Save receives a complete snapshot and must make it durable before returning. Implementations are not expected to be safe for concurrent Save calls; the Store serializes them.
type Backend interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Close() error
}

// Backend which persists nothing. Useful for tests and dry runs.
type NullBackend struct{}

var _ Backend = NullBackend{}

func (NullBackend) Load(ctx context.Context) (*Document, error) {
	return nil, ErrNoDocument
}

func (NullBackend) Save(ctx context.Context, doc *Document) error {
	return nil
}

func (NullBackend) Close() error {
	return nil
}
