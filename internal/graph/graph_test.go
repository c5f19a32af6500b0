package graph

import (
	"context"
	"fmt"
	"testing"

	"jamsession/looper/internal/history"
	"jamsession/looper/internal/session"
)

func strPtr(s string) *string { return &s }

// quickSnapshot builds a tree from child->parent pairs; an empty parent
// marks a root. Payloads are well-formed and stamped with their own id.
func quickSnapshot(links [][2]string) *TreeSnapshot {
	var nodes []*NodeInfo
	for _, l := range links {
		n := &NodeInfo{ID: l[0], PayloadOK: true, PayloadID: l[0]}
		if l[1] != "" {
			n.ParentID = strPtr(l[1])
		}
		nodes = append(nodes, n)
	}
	return NewSnapshot(nodes)
}

// root
// ├── a
// │   ├── a1
// │   └── a2
// │       └── a2x
// └── b
func sampleTree() *TreeSnapshot {
	return quickSnapshot([][2]string{
		{"root", ""}, {"a", "root"}, {"b", "root"},
		{"a1", "a"}, {"a2", "a"}, {"a2x", "a2"},
	})
}

// --- Snapshot Tests ---

func TestNewSnapshot_Children(t *testing.T) {
	snap := sampleTree()
	if got := snap.Children["root"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("root children = %v, want [a b]", got)
	}
	if _, ok := snap.Children["b"]; !ok {
		t.Error("leaf should still have a children entry")
	}
	if len(snap.Roots) != 1 || snap.Roots[0] != "root" {
		t.Errorf("roots = %v", snap.Roots)
	}
	if len(snap.Dangling) != 0 {
		t.Errorf("dangling = %v", snap.Dangling)
	}
}

func TestSubtree(t *testing.T) {
	snap := sampleTree()
	got := snap.Subtree("a")
	want := []string{"a", "a1", "a2", "a2x"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Subtree(a) = %v, want %v", got, want)
	}
	if snap.Subtree("ghost") != nil {
		t.Error("Subtree of a missing node should be nil")
	}
}

func TestFromRecords(t *testing.T) {
	recs := []history.Record{
		{NodeID: "r", Snapshot: []byte(`{"history_node_id":"r","tracks":[],"next_track_id":0}`)},
		{NodeID: "c", ParentID: strPtr("r"), Snapshot: []byte(`{"history_node_id":"c","tracks":[{"id":"track_0"}],"next_track_id":1}`)},
		{NodeID: "bad", ParentID: strPtr("r"), Snapshot: []byte(`not json`)},
	}
	snap := FromRecords(recs)
	c := snap.Nodes["c"]
	if !c.PayloadOK || c.PayloadID != "c" || c.Tracks != 1 || c.NextTrackID != 1 {
		t.Errorf("parsed node = %+v", c)
	}
	if snap.Nodes["bad"].PayloadOK {
		t.Error("undecodable payload should be flagged")
	}
	if *c.ParentID != "r" {
		t.Errorf("parent = %s", *c.ParentID)
	}
}

// --- Report Tests ---

func TestReport_Empty(t *testing.T) {
	r := ComputeReport(NewSnapshot(nil), 10)
	if r.TotalNodes != 0 || r.Root != "" || r.MaxDepth != 0 || r.LeafCount != 0 {
		t.Errorf("empty tree report = %+v", r)
	}
}

func TestReport_Shape(t *testing.T) {
	r := ComputeReport(sampleTree(), 10)
	if r.TotalNodes != 6 || r.Root != "root" {
		t.Errorf("totals = %d root=%s", r.TotalNodes, r.Root)
	}
	if r.LeafCount != 3 {
		t.Errorf("leaves = %d %v, want 3", r.LeafCount, r.LeafIDs)
	}
	if r.ForkCount != 2 || r.Forks[0].NodeID != "a" || r.Forks[1].NodeID != "root" {
		t.Errorf("forks = %+v", r.Forks)
	}
	if r.MaxDepth != 3 || r.DeepestNode != "a2x" {
		t.Errorf("depth = %d at %s, want 3 at a2x", r.MaxDepth, r.DeepestNode)
	}
}

func TestReport_TopNCaps(t *testing.T) {
	links := [][2]string{{"root", ""}}
	for i := range 20 {
		links = append(links, [2]string{fmt.Sprintf("n%02d", i), "root"})
	}
	r := ComputeReport(quickSnapshot(links), 5)
	if r.LeafCount != 20 || len(r.LeafIDs) != 5 {
		t.Errorf("leaf count = %d, listed = %d", r.LeafCount, len(r.LeafIDs))
	}
	if r.Forks[0].Children != 20 {
		t.Errorf("root fork children = %d", r.Forks[0].Children)
	}
}

// --- Verify Tests ---

func kinds(ps []Problem) map[ProblemKind]int {
	out := map[ProblemKind]int{}
	for _, p := range ps {
		out[p.Kind]++
	}
	return out
}

func TestVerify_HealthyTree(t *testing.T) {
	if ps := Verify(sampleTree()); len(ps) != 0 {
		t.Errorf("healthy tree reported %v", ps)
	}
}

func TestVerify_Problems(t *testing.T) {
	tests := []struct {
		name string
		snap *TreeSnapshot
		want map[ProblemKind]int
	}{
		{"empty", NewSnapshot(nil), map[ProblemKind]int{ProblemNoRoot: 1}},
		{"two roots", quickSnapshot([][2]string{{"r1", ""}, {"r2", ""}}), map[ProblemKind]int{ProblemMultipleRoots: 2}},
		{"missing parent", quickSnapshot([][2]string{{"r", ""}, {"x", "gone"}}),
			map[ProblemKind]int{ProblemMissingParent: 1, ProblemUnreachable: 1}},
		{"cycle", quickSnapshot([][2]string{{"r", ""}, {"a", "b"}, {"b", "a"}}),
			map[ProblemKind]int{ProblemCycle: 1, ProblemUnreachable: 2}},
		{"self parent", quickSnapshot([][2]string{{"r", ""}, {"s", "s"}}),
			map[ProblemKind]int{ProblemCycle: 1, ProblemUnreachable: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kinds(Verify(tt.snap))
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("problems = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerify_Payloads(t *testing.T) {
	snap := NewSnapshot([]*NodeInfo{
		{ID: "r", PayloadOK: true, PayloadID: "r"},
		{ID: "a", ParentID: strPtr("r"), PayloadOK: true, PayloadID: "zzz"},
		{ID: "b", ParentID: strPtr("r"), PayloadOK: true},
		{ID: "c", ParentID: strPtr("r")},
	})
	got := kinds(Verify(snap))
	if got[ProblemIDMismatch] != 2 || got[ProblemBadPayload] != 1 || len(got) != 2 {
		t.Errorf("problems = %v", got)
	}
}

func TestCheck_LiveHistory(t *testing.T) {
	ctx := context.Background()
	m := history.NewManager(history.NewMemStore())
	root, err := m.Initialize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	child, _ := m.Commit(ctx, &session.Snapshot{NextTrackID: 1, Tracks: []session.Track{{ID: "track_0", Volume: 1}}}, root)
	m.Commit(ctx, session.Empty(), root)
	m.Commit(ctx, session.Empty(), child)

	snap, err := Load(ctx, m.Store())
	if err != nil {
		t.Fatal(err)
	}
	report := Check(snap, 10)
	if !report.OK || len(report.Problems) != 0 {
		t.Errorf("live history has problems: %+v", report.Problems)
	}
	if report.Tree.TotalNodes != 4 || report.Tree.Root != root || report.Tree.MaxDepth != 2 || report.Tree.ForkCount != 1 {
		t.Errorf("tree = %+v", report.Tree)
	}
	if report.Tree.MaxTracks != 1 {
		t.Errorf("max tracks = %d", report.Tree.MaxTracks)
	}
	if report.Components != 1 || report.Reachable != 4 {
		t.Errorf("components = %d reachable = %d", report.Components, report.Reachable)
	}
}

func TestCheck_Components(t *testing.T) {
	tests := []struct {
		name       string
		snap       *TreeSnapshot
		components int
		reachable  int
	}{
		{"healthy", sampleTree(), 1, 6},
		{"orphan", quickSnapshot([][2]string{{"r", ""}, {"a", "r"}, {"x", "gone"}}), 2, 2},
		{"two roots", quickSnapshot([][2]string{{"r1", ""}, {"r2", ""}, {"c", "r1"}}), 2, 0},
		{"empty", NewSnapshot(nil), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Check(tt.snap, 10)
			if r.Components != tt.components || r.Reachable != tt.reachable {
				t.Errorf("components = %d reachable = %d, want %d and %d",
					r.Components, r.Reachable, tt.components, tt.reachable)
			}
		})
	}
}

// --- UnionFind Tests ---

func TestUnionFind(t *testing.T) {
	uf := NewUnionFind([]string{"a", "b", "c", "d"})
	if uf.Components() != 4 {
		t.Fatalf("components = %d", uf.Components())
	}
	if !uf.Union("a", "b") || !uf.Union("c", "d") || !uf.Union("a", "d") {
		t.Fatal("first unions should merge")
	}
	if uf.Union("b", "c") {
		t.Error("b and c are already connected")
	}
	if uf.Components() != 1 || uf.Size("c") != 4 || !uf.Connected("a", "c") {
		t.Errorf("components=%d size=%d", uf.Components(), uf.Size("c"))
	}
}
