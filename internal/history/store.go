// Package history manages the versioned state tree: an append-only set of
// snapshot nodes, each pointing at its parent, rooted at a single node
// created when the store is first initialized.
package history

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports a node id that does not exist in the store.
	ErrNotFound = errors.New("history: node not found")
	// ErrStoreUnavailable wraps any I/O failure of the backing store.
	ErrStoreUnavailable = errors.New("history: store unavailable")
	// ErrAmbiguousRoot reports more than one parentless node.
	ErrAmbiguousRoot = errors.New("history: more than one root node")
	// ErrMalformedTree reports a broken parent chain or an undecodable payload.
	ErrMalformedTree = errors.New("history: malformed tree")
	// ErrNoParent is returned by Commit when no parent id is given.
	// Only Initialize may create a parentless node.
	ErrNoParent = errors.New("history: commit requires a parent node")
	// ErrExists reports an attempt to insert a node id twice.
	ErrExists = errors.New("history: node already exists")
	// ErrAmbiguousRef reports an id prefix matching more than one node.
	ErrAmbiguousRef = errors.New("history: ambiguous node reference")
)

// Record is one persisted tree node. ParentID is nil for the root.
// Snapshot is the serialized session.Snapshot payload.
type Record struct {
	NodeID   string
	ParentID *string
	Snapshot []byte
}

// IsRoot reports whether the record has no parent.
func (r Record) IsRoot() bool { return r.ParentID == nil }

// Store is the key-value persistence layer for tree nodes. Implementations
// must make Insert durable before returning and must refuse a non-root
// record whose parent is not already stored.
type Store interface {
	// Insert persists a new record. It fails with ErrExists if the id is
	// taken and ErrNotFound if the parent is missing.
	Insert(ctx context.Context, rec Record) error
	// CreateRoot inserts the parentless rec unless a root already exists.
	// The check and the insert are atomic, also across processes sharing
	// the store. It returns the id of the root now stored, which equals
	// rec.NodeID only when rec was written.
	CreateRoot(ctx context.Context, rec Record) (string, error)
	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)
	// ReplaceRoot overwrites the payload of a parentless record. It returns
	// ErrNotFound if id is not a root.
	ReplaceRoot(ctx context.Context, id string, snapshot []byte) error
	// Roots returns the ids of every parentless record.
	Roots(ctx context.Context) ([]string, error)
	// All returns every record, in no particular order.
	All(ctx context.Context) ([]Record, error)
	Close() error
}

// PrefixSearcher is implemented by stores that can list ids by prefix
// without a full scan.
type PrefixSearcher interface {
	SearchByIDPrefix(ctx context.Context, prefix string, limit int) ([]string, error)
}
