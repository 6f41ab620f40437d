package ports

import (
	"context"
	"encoding/json"
)

// Unsubscribe detaches a previously registered subscription. Safe to call
// more than once.
type Unsubscribe func()

// DirectoryStore is path-addressed access to the shared real-time document
// tree. Paths are slash separated: "rooms" is the whole collection,
// "rooms/{id}" one document, "rooms/{id}/{field}" a single field.
//
// Transact is the only safe way to mutate a multi-writer field: fn is applied
// to the current value and retried under compare-and-swap until it commits
// against concurrent writers. A plain Get followed by Set on a shared field
// is a lost-update hazard.
type DirectoryStore interface {
	// Get returns the JSON value at path, or found=false when absent.
	Get(ctx context.Context, path string) (value json.RawMessage, found bool, err error)

	// Set writes the full value at path, replacing whatever was there.
	Set(ctx context.Context, path string, value any) error

	// Update merges the given fields into the document at path.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Transact atomically replaces the value at path with fn(old) and
	// returns the committed value. fn sees nil when the path is absent and
	// may be invoked multiple times.
	Transact(ctx context.Context, path string, fn func(old json.RawMessage) (any, error)) (json.RawMessage, error)

	// Delete removes the value at path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error

	// Subscribe delivers the full snapshot at path once immediately and then
	// after every change, in the store's write order for that path. Consumers
	// must re-render idempotently; snapshots are not diffs.
	Subscribe(ctx context.Context, path string, onChange func(snapshot json.RawMessage)) (Unsubscribe, error)
}
