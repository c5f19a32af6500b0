package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jamsession/looper/internal/dispatch"
	"jamsession/looper/internal/history"
	"jamsession/looper/internal/intent"
)

func newService(t *testing.T, resolver intent.Resolver) (*Service, *history.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := 0
	tree := history.NewManager(history.NewMemStore(),
		history.WithLogger(logger),
		history.WithIDGenerator(func() string { n++; return fmt.Sprintf("n%d", n) }))
	engine, err := dispatch.NewEngine(tree, dispatch.NewTable(dispatch.Deps{Tree: tree, Logger: logger}),
		dispatch.Config{Logger: logger})
	require.NoError(t, err)
	svc, err := New(context.Background(), tree, engine, resolver, logger)
	require.NoError(t, err)
	return svc, tree
}

func TestCommand_DefaultsToRoot(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	resp, err := svc.Command(ctx, Request{Text: "record"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.ActionStartRecording, resp.Directive.Action())
	assert.Equal(t, svc.Root(), resp.NodeID)

	resp, err = svc.Command(ctx, Request{Text: "stop_recording"})
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeCommitted, resp.Outcome)
	assert.NotEqual(t, svc.Root(), resp.NodeID)

	lineage, err := svc.Lineage(ctx, resp.NodeID)
	require.NoError(t, err)
	assert.Equal(t, []string{resp.NodeID, svc.Root()}, lineage)
}

func TestCommand_FollowsNode(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	first, err := svc.Command(ctx, Request{Text: "stop_recording"})
	require.NoError(t, err)
	second, err := svc.Command(ctx, Request{Text: "set volume of track 0 to 50%", NodeID: first.NodeID})
	require.NoError(t, err)
	require.Equal(t, dispatch.OutcomeCommitted, second.Outcome)

	snap, err := svc.Snapshot(ctx, second.NodeID)
	require.NoError(t, err)
	require.Len(t, snap.Tracks, 1)
	assert.InDelta(t, 0.5, snap.Tracks[0].Volume, 1e-9)

	back, err := svc.Command(ctx, Request{Text: "undo", NodeID: second.NodeID})
	require.NoError(t, err)
	assert.Equal(t, first.NodeID, back.NodeID)
	assert.Equal(t, dispatch.OutcomeNoOp, back.Outcome)
}

func TestCommand_UnknownNode(t *testing.T) {
	svc, tree := newService(t, nil)
	before, err := tree.Records(context.Background())
	require.NoError(t, err)

	_, err = svc.Command(context.Background(), Request{Text: "record", NodeID: "nope"})
	require.ErrorIs(t, err, history.ErrNotFound)
	assert.True(t, IsClientError(err))

	after, err := tree.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestCommand_ResolverErrorFallsBack(t *testing.T) {
	var gotSummary string
	resolver := intent.ResolverFunc(func(_ context.Context, summary, _ string) (intent.Intent, error) {
		gotSummary = summary
		return intent.Intent{}, errors.New("model offline")
	})
	svc, _ := newService(t, resolver)

	resp, err := svc.Command(context.Background(), Request{Text: "make it sparkle"})
	require.NoError(t, err)
	speak, ok := resp.Directive.(dispatch.Speak)
	require.True(t, ok, "directive = %T", resp.Directive)
	assert.Equal(t, dispatch.MsgNotUnderstood, speak.Text)
	assert.Equal(t, svc.Root(), resp.NodeID)
	assert.NotEmpty(t, gotSummary)
}

func TestCommand_CanceledDuringResolve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	resolver := intent.ResolverFunc(func(ctx context.Context, _, _ string) (intent.Intent, error) {
		cancel()
		return intent.Intent{}, ctx.Err()
	})
	svc, _ := newService(t, resolver)

	_, err := svc.Command(ctx, Request{Text: "anything"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_ReusesRoot(t *testing.T) {
	svc, tree := newService(t, nil)
	engine, err := dispatch.NewEngine(tree, dispatch.NewTable(dispatch.Deps{Tree: tree}), dispatch.DefaultConfig())
	require.NoError(t, err)

	again, err := New(context.Background(), tree, engine, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, svc.Root(), again.Root())
}

func TestCheck(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	_, err := svc.Command(ctx, Request{Text: "stop_recording"})
	require.NoError(t, err)
	_, err = svc.Command(ctx, Request{Text: "stop_recording"})
	require.NoError(t, err)

	report, err := svc.Check(ctx, 10)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, 3, report.Tree.TotalNodes)
	assert.Equal(t, 1, report.Tree.ForkCount)
}

func TestSubtree(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	a, err := svc.Command(ctx, Request{Text: "stop_recording"})
	require.NoError(t, err)
	b, err := svc.Command(ctx, Request{Text: "stop_recording", NodeID: a.NodeID})
	require.NoError(t, err)
	c, err := svc.Command(ctx, Request{Text: "stop_recording"})
	require.NoError(t, err)

	ids, err := svc.Subtree(ctx, svc.Root())
	require.NoError(t, err)
	assert.Equal(t, []string{svc.Root(), a.NodeID, c.NodeID, b.NodeID}, ids)

	ids, err = svc.Subtree(ctx, a.NodeID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.NodeID, b.NodeID}, ids)

	_, err = svc.Subtree(ctx, "nope")
	assert.ErrorIs(t, err, history.ErrNotFound)
}
