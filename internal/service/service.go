// Package service ties intent resolution, dispatch and history together
// behind the operations the transports expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"jamsession/looper/internal/dispatch"
	"jamsession/looper/internal/graph"
	"jamsession/looper/internal/history"
	"jamsession/looper/internal/intent"
	"jamsession/looper/internal/session"
)

// Request is one client command.
type Request struct {
	Text   string `json:"text"`
	NodeID string `json:"history_node_id,omitempty"`
}

// Service handles commands for one history tree.
type Service struct {
	tree     *history.Manager
	engine   *dispatch.Engine
	resolver intent.Resolver
	logger   *slog.Logger
	root     string
}

// New initializes the tree (creating the root if needed) and returns a
// service over it.
func New(ctx context.Context, tree *history.Manager, engine *dispatch.Engine, resolver intent.Resolver, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = intent.FastPath{Next: intent.Keyword{}, Logger: logger}
	}
	root, err := tree.Initialize(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing history: %w", err)
	}
	logger.Info("history ready", "root", root)
	return &Service{tree: tree, engine: engine, resolver: resolver, logger: logger, root: root}, nil
}

// Root returns the root node id.
func (s *Service) Root() string { return s.root }

// Command resolves req.Text and dispatches it from req.NodeID. An omitted
// node id starts at the root; an unknown one is history.ErrNotFound.
func (s *Service) Command(ctx context.Context, req Request) (dispatch.Response, error) {
	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = s.root
	}
	snap, err := s.tree.Get(ctx, nodeID)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("loading session %s: %w", nodeID, err)
	}

	in, err := s.resolver.Resolve(ctx, snap.Summary(), req.Text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return dispatch.Response{}, ctxErr
		}
		s.logger.Warn("intent resolution failed", "text", req.Text, "error", err)
		in = intent.Fallback()
	}
	s.logger.Debug("resolved", "text", req.Text, "operation", in.Operation, "args", in.Args)

	return s.engine.Run(ctx, nodeID, in)
}

// Snapshot returns the state stored at id.
func (s *Service) Snapshot(ctx context.Context, id string) (*session.Snapshot, error) {
	return s.tree.Get(ctx, id)
}

// Lineage returns the ids from id back to the root.
func (s *Service) Lineage(ctx context.Context, id string) ([]string, error) {
	return s.tree.Lineage(ctx, id)
}

// Subtree returns id and every node branching from it, breadth first.
func (s *Service) Subtree(ctx context.Context, id string) ([]string, error) {
	snap, err := graph.Load(ctx, s.tree.Store())
	if err != nil {
		return nil, err
	}
	ids := snap.Subtree(id)
	if ids == nil {
		return nil, fmt.Errorf("%w: %s", history.ErrNotFound, id)
	}
	return ids, nil
}

// Check verifies the whole tree and summarizes its shape.
func (s *Service) Check(ctx context.Context, topN int) (*graph.FsckReport, error) {
	snap, err := graph.Load(ctx, s.tree.Store())
	if err != nil {
		return nil, err
	}
	return graph.Check(snap, topN), nil
}

// IsClientError reports whether err is the caller's fault rather than the
// server's.
func IsClientError(err error) bool {
	return errors.Is(err, history.ErrNotFound)
}
