package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"jamsession/looper/internal/session"
)

// IDGenerator produces unique node identifiers.
type IDGenerator func() string

// UUIDv7 returns a generator of RFC 9562 v7 UUIDs. They sort by creation
// time, which keeps sibling forks in commit order when listed by id.
func UUIDv7() IDGenerator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Manager layers tree operations over a Store.
type Manager struct {
	store  Store
	newID  IDGenerator
	logger *slog.Logger

	// mu serializes every write so that a commit is durable before its id
	// is handed out and no two writers interleave.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator overrides the node id strategy.
func WithIDGenerator(gen IDGenerator) Option {
	return func(m *Manager) { m.newID = gen }
}

// WithLogger sets the logger used for commit events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager wraps store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		newID:  UUIDv7(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// Initialize returns the root node id, creating the root with an empty
// session if the store has none. The root's payload is rewritten once with
// its own id before the id is returned. When another process creates the
// root first, its id is returned instead.
func (m *Manager) Initialize(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok, err := m.FindRoot(ctx)
	if err != nil {
		return "", err
	}
	if ok {
		return root, nil
	}

	id := m.newID()
	payload, err := json.Marshal(session.Empty())
	if err != nil {
		return "", fmt.Errorf("history: encoding root: %w", err)
	}
	root, err = m.store.CreateRoot(ctx, Record{NodeID: id, Snapshot: payload})
	if err != nil {
		return "", storeErr("insert root", err)
	}
	if root != id {
		m.logger.Info("history root created elsewhere", "root", root)
		return root, nil
	}

	snap := session.Empty()
	snap.NodeID = id
	if err := m.update(ctx, id, snap); err != nil {
		return "", err
	}
	m.logger.Info("history initialized", "root", id)
	return id, nil
}

// update overwrites the payload of the root node. It is the bootstrap
// exception to node immutability and is only called from Initialize.
func (m *Manager) update(ctx context.Context, id string, snap *session.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("history: encoding root: %w", err)
	}
	if err := m.store.ReplaceRoot(ctx, id, payload); err != nil {
		return storeErr("update root "+id, err)
	}
	return nil
}

// Commit stores a copy of snap as a new child of parentID and returns the
// new node id. The stored payload carries the id; snap itself is not
// modified.
func (m *Manager) Commit(ctx context.Context, snap *session.Snapshot, parentID string) (string, error) {
	if parentID == "" {
		return "", ErrNoParent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Get(ctx, parentID); err != nil {
		return "", storeErr("commit: parent "+parentID, err)
	}

	id := m.newID()
	stored := snap.Clone()
	stored.NodeID = id
	payload, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("history: encoding snapshot: %w", err)
	}

	parent := parentID
	if err := m.store.Insert(ctx, Record{NodeID: id, ParentID: &parent, Snapshot: payload}); err != nil {
		return "", storeErr("commit "+id, err)
	}
	m.logger.Debug("history commit", "node", id, "parent", parentID, "tracks", len(stored.Tracks))
	return id, nil
}

// Get returns the snapshot stored at id.
func (m *Manager) Get(ctx context.Context, id string) (*session.Snapshot, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("get "+id, err)
	}
	return decode(rec)
}

// GetParentID returns the parent of id, or "" when id is the root. A
// missing node is reported as ErrNotFound rather than folded into the
// root case.
func (m *Manager) GetParentID(ctx context.Context, id string) (string, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return "", storeErr("get parent of "+id, err)
	}
	if rec.ParentID == nil {
		return "", nil
	}
	return *rec.ParentID, nil
}

// GetParent returns the parent snapshot of id. ok is false when id is the
// root. A child whose parent row is gone is ErrMalformedTree.
func (m *Manager) GetParent(ctx context.Context, id string) (snap *session.Snapshot, ok bool, err error) {
	parentID, err := m.GetParentID(ctx, id)
	if err != nil || parentID == "" {
		return nil, false, err
	}
	snap, err = m.Get(ctx, parentID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("%w: parent %s of %s is missing", ErrMalformedTree, parentID, id)
	}
	if err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

// FindRoot returns the unique parentless node. ok is false on an empty
// store.
func (m *Manager) FindRoot(ctx context.Context) (id string, ok bool, err error) {
	roots, err := m.store.Roots(ctx)
	if err != nil {
		return "", false, storeErr("find root", err)
	}
	switch len(roots) {
	case 0:
		return "", false, nil
	case 1:
		return roots[0], true, nil
	default:
		return "", false, fmt.Errorf("%w: %d roots (%v)", ErrAmbiguousRoot, len(roots), roots)
	}
}

// Lineage returns the path from id up to the root, id first.
func (m *Manager) Lineage(ctx context.Context, id string) ([]string, error) {
	var path []string
	visited := make(map[string]bool)
	current := id
	for {
		if visited[current] {
			return nil, fmt.Errorf("%w: cycle at %s", ErrMalformedTree, current)
		}
		visited[current] = true

		rec, err := m.store.Get(ctx, current)
		if errors.Is(err, ErrNotFound) && len(path) > 0 {
			return nil, fmt.Errorf("%w: parent %s of %s is missing", ErrMalformedTree, current, path[len(path)-1])
		}
		if err != nil {
			return nil, storeErr("lineage "+current, err)
		}
		path = append(path, current)
		if rec.ParentID == nil {
			return path, nil
		}
		current = *rec.ParentID
	}
}

// MinPrefix is the shortest id prefix Resolve will expand.
const MinPrefix = 6

// Resolve finds a node by full id or by a unique id prefix of at least
// MinPrefix characters.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	// 1. Exact id
	if _, err := m.store.Get(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", storeErr("resolve "+ref, err)
	}
	if len(ref) < MinPrefix {
		return "", fmt.Errorf("history: resolve %s: %w", ref, ErrNotFound)
	}

	// 2. Prefix match
	const limit = 10
	var matches []string
	if ps, ok := m.store.(PrefixSearcher); ok {
		ids, err := ps.SearchByIDPrefix(ctx, ref, limit)
		if err != nil {
			return "", storeErr("resolve "+ref, err)
		}
		matches = ids
	} else {
		recs, err := m.Records(ctx)
		if err != nil {
			return "", err
		}
		for _, r := range recs {
			if strings.HasPrefix(r.NodeID, ref) {
				matches = append(matches, r.NodeID)
			}
		}
		sort.Strings(matches)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("history: resolve %s: %w", ref, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		if len(matches) > limit {
			matches = matches[:limit]
		}
		return "", fmt.Errorf("%w: %q matches %s; use a longer id",
			ErrAmbiguousRef, ref, strings.Join(matches, ", "))
	}
}

// Records returns every stored node.
func (m *Manager) Records(ctx context.Context) ([]Record, error) {
	recs, err := m.store.All(ctx)
	if err != nil {
		return nil, storeErr("list", err)
	}
	return recs, nil
}

func decode(rec Record) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Snapshot, &snap); err != nil {
		return nil, fmt.Errorf("%w: decoding node %s: %v", ErrMalformedTree, rec.NodeID, err)
	}
	if snap.Tracks == nil {
		snap.Tracks = []session.Track{}
	}
	snap.NodeID = rec.NodeID
	return &snap, nil
}

// storeErr keeps ErrNotFound and ErrExists recognisable and classifies
// everything else as ErrStoreUnavailable.
func storeErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExists) {
		return fmt.Errorf("history: %s: %w", op, err)
	}
	return fmt.Errorf("history: %s: %w: %w", op, ErrStoreUnavailable, err)
}
