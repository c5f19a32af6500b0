package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"jamsession/looper/internal/history"
	"jamsession/looper/internal/intent"
	"jamsession/looper/internal/session"
)

// Engine executes requests against the history tree. It keeps no state
// between requests; everything a request needs comes from its node id.
type Engine struct {
	tree     Tree
	table    Table
	maxChain int
	logger   *slog.Logger
}

// NewEngine validates table and returns an engine over tree.
func NewEngine(tree Tree, table Table, cfg Config) (*Engine, error) {
	if tree == nil {
		return nil, errors.New("dispatch: tree is required")
	}
	if cfg.MaxChain == 0 {
		cfg.MaxChain = DefaultMaxChain
	}
	if err := table.Validate(cfg.MaxChain); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{tree: tree, table: table, maxChain: cfg.MaxChain, logger: logger}, nil
}

// Run executes one request starting at nodeID. It returns exactly one
// response and commits at most one node, whose parent is nodeID.
//
// Bad arguments reroute to the default handler. Store failures, tree
// corruption and handler contract violations are returned as errors.
func (e *Engine) Run(ctx context.Context, nodeID string, in intent.Intent) (Response, error) {
	start := time.Now()
	entry := e.table.Route(in.Operation)

	resp, err := e.run(ctx, nodeID, entry, in)
	elapsed := time.Since(start)
	requestDuration.WithLabelValues(entry.String()).Observe(elapsed.Seconds())

	if err != nil {
		dispatchErrors.WithLabelValues(errorClass(err)).Inc()
		e.logger.Error("dispatch failed",
			"operation", in.Operation, "node", nodeID, "chain", resp.Chain, "elapsed", elapsed, "error", err)
		return Response{}, err
	}
	requestsTotal.WithLabelValues(entry.String(), resp.Outcome.String()).Inc()
	e.logger.Info("dispatched",
		"operation", in.Operation,
		"chain", resp.Chain,
		"outcome", resp.Outcome.String(),
		"action", resp.Directive.Action().String(),
		"from", nodeID,
		"node", resp.NodeID,
		"elapsed", elapsed)
	return resp, nil
}

func (e *Engine) run(ctx context.Context, nodeID string, id HandlerID, in intent.Intent) (Response, error) {
	var resp Response
	if nodeID == "" {
		return resp, fmt.Errorf("dispatch: node id is required: %w", history.ErrNotFound)
	}
	snap, err := e.tree.Get(ctx, nodeID)
	if err != nil {
		return resp, fmt.Errorf("loading %s: %w", nodeID, err)
	}

	input := Input{NodeID: nodeID, Snapshot: snap, Args: in.Args}
	rerouted := false

	for step := 0; ; step++ {
		if step >= e.maxChain {
			return resp, fmt.Errorf("%w: %d steps via %v", ErrChainBound, step, resp.Chain)
		}
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		resp.Chain = append(resp.Chain, id)

		handler := e.table.Handlers[id]
		res, err := handler(ctx, input)
		if errors.Is(err, ErrInvalidArguments) && !rerouted && id != e.table.Default {
			e.logger.Debug("rerouting to fallback", "handler", id, "reason", err)
			fallbacksTotal.WithLabelValues(id.String()).Inc()
			id = e.table.Default
			rerouted = true
			continue
		}
		if err != nil {
			return resp, fmt.Errorf("handler %s: %w", id, err)
		}

		if res.Next != "" {
			if res.Mutated {
				return resp, fmt.Errorf("%w: %s both mutated and chained", ErrHandlerContract, id)
			}
			if !e.table.Allows(id, res.Next) {
				return resp, fmt.Errorf("%w: %s chained to undeclared %s", ErrHandlerContract, id, res.Next)
			}
			input.Analysis = res.Analysis
			id = res.Next
			continue
		}

		if res.Directive == nil {
			return resp, fmt.Errorf("%w: %s returned no directive", ErrHandlerContract, id)
		}
		resp.Directive = res.Directive

		if !res.Mutated {
			resp.Outcome = OutcomeNoOp
			resp.NodeID = nodeID
			if res.NodeID != "" {
				resp.NodeID = res.NodeID
			}
			return resp, nil
		}

		if err := checkMutation(snap, res.Snapshot); err != nil {
			return resp, fmt.Errorf("%w: %s: %v", ErrHandlerContract, id, err)
		}
		newID, err := e.tree.Commit(ctx, res.Snapshot, nodeID)
		if err != nil {
			return resp, fmt.Errorf("committing %s result: %w", id, err)
		}
		resp.Outcome = OutcomeCommitted
		resp.NodeID = newID
		return resp, nil
	}
}

// checkMutation rejects a mutated snapshot that is invalid or that shares
// memory with the snapshot it was derived from.
func checkMutation(before, after *session.Snapshot) error {
	if after == nil {
		return errors.New("mutated without a snapshot")
	}
	if after == before {
		return errors.New("returned its input snapshot")
	}
	if len(before.Tracks) > 0 && len(after.Tracks) > 0 && &before.Tracks[0] == &after.Tracks[0] {
		return errors.New("track list aliases the input")
	}
	for i := range before.Tracks {
		if i < len(after.Tracks) && before.Tracks[i].Path != nil && before.Tracks[i].Path == after.Tracks[i].Path {
			return fmt.Errorf("track %d path aliases the input", i)
		}
	}
	return after.Validate()
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, history.ErrNotFound):
		return "not_found"
	case errors.Is(err, history.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, history.ErrAmbiguousRoot), errors.Is(err, history.ErrMalformedTree):
		return "malformed_tree"
	case errors.Is(err, ErrChainBound):
		return "chain_bound"
	case errors.Is(err, ErrHandlerContract):
		return "contract"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
