// Package dispatch runs a resolved command through the handler graph:
// route the operation to a handler, run it (following at most a bounded
// number of declared chain edges), commit at most one new history node,
// and return a single response directive.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"jamsession/looper/internal/session"
)

var (
	// ErrInvalidArguments is returned by a handler whose arguments are
	// missing or malformed. The engine reroutes the request to fallback.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrCapability marks a failed external capability call. Handlers turn
	// it into a spoken failure and never return it to the engine.
	ErrCapability = errors.New("external capability failed")

	// ErrChainBound means a request ran more handlers than the chain bound.
	ErrChainBound = errors.New("handler chain bound exceeded")

	// ErrHandlerContract means a handler returned a result it is not
	// allowed to: mutated and chained at once, an aliased snapshot, an
	// undeclared chain edge, or no directive.
	ErrHandlerContract = errors.New("handler contract violated")

	// ErrTable means the handler table failed validation at startup.
	ErrTable = errors.New("invalid handler table")
)

// HandlerID names a node of the dispatch graph.
type HandlerID string

const (
	HandlerRecord       HandlerID = "record"
	HandlerStopRecord   HandlerID = "stop_recording"
	HandlerSetParameter HandlerID = "set_track_parameter"
	HandlerToggle       HandlerID = "toggle_playback"
	HandlerUndo         HandlerID = "undo"
	HandlerGenerate     HandlerID = "generate_track"
	HandlerAnalyze      HandlerID = "analyze"
	HandlerSuggest      HandlerID = "suggest"
	HandlerLoadState    HandlerID = "load_state"
	HandlerFallback     HandlerID = "fallback"
)

func (h HandlerID) String() string { return string(h) }

// Outcome is how a request finished.
type Outcome int

const (
	OutcomeUnknown   Outcome = iota
	OutcomeCommitted         // a new node was committed
	OutcomeNoOp              // no mutation; response carries the current node
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeNoOp:
		return "no_op"
	default:
		return "unknown"
	}
}

// Input is what a handler sees. Snapshot is the state of NodeID and must be
// treated as read-only.
type Input struct {
	NodeID   string
	Snapshot *session.Snapshot
	Args     map[string]any

	// Analysis is set by a chained predecessor.
	Analysis string
}

// Result is what a handler returns.
//
// A mutating handler sets Mutated and returns a fresh Snapshot that shares
// no memory with the input. A chaining handler sets Next and may pass
// Analysis forward; it must not mutate. NodeID, when set on a non-mutating
// result, is the node the client should move to (undo uses it).
type Result struct {
	Directive Directive
	Snapshot  *session.Snapshot
	Mutated   bool

	Next     HandlerID
	Analysis string

	NodeID string
}

// Handler implements one operation.
type Handler func(ctx context.Context, in Input) (Result, error)

// Tree is the slice of the history manager the engine and the undo handler
// need.
type Tree interface {
	Get(ctx context.Context, id string) (*session.Snapshot, error)
	GetParent(ctx context.Context, id string) (*session.Snapshot, bool, error)
	Commit(ctx context.Context, snap *session.Snapshot, parentID string) (string, error)
}

// Generator renders a prompt into an audio file.
type Generator interface {
	Generate(ctx context.Context, prompt, dest string) error
}

// DefaultMaxChain covers the longest designed chain (analyze then suggest)
// with room for a fallback reroute.
const DefaultMaxChain = 4

// DefaultGenerateTimeout bounds a generation call when none is configured.
const DefaultGenerateTimeout = 60 * time.Second

// Config controls an Engine.
type Config struct {
	MaxChain int
	Logger   *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{MaxChain: DefaultMaxChain}
}
