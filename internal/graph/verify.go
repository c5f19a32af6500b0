package graph

import "fmt"

// ProblemKind classifies an integrity problem.
type ProblemKind string

const (
	ProblemNoRoot        ProblemKind = "no_root"
	ProblemMultipleRoots ProblemKind = "multiple_roots"
	ProblemMissingParent ProblemKind = "missing_parent"
	ProblemCycle         ProblemKind = "cycle"
	ProblemUnreachable   ProblemKind = "unreachable"
	ProblemBadPayload    ProblemKind = "bad_payload"
	ProblemIDMismatch    ProblemKind = "id_mismatch"
)

func (k ProblemKind) String() string { return string(k) }

// Problem is one integrity violation.
type Problem struct {
	Kind   ProblemKind `json:"kind"`
	NodeID string      `json:"node_id,omitempty"`
	Detail string      `json:"detail"`
}

// Verify checks the tree invariants: exactly one root, every parent
// present, no cycles, every node reachable from the root, and every payload
// decodable and stamped with its own node id.
func Verify(snap *TreeSnapshot) []Problem {
	problems, _ := verify(snap)
	return problems
}

// verify returns the problems and the parent-link components it built.
func verify(snap *TreeSnapshot) ([]Problem, *UnionFind) {
	var problems []Problem
	add := func(kind ProblemKind, id, format string, args ...any) {
		problems = append(problems, Problem{Kind: kind, NodeID: id, Detail: fmt.Sprintf(format, args...)})
	}

	switch len(snap.Roots) {
	case 0:
		add(ProblemNoRoot, "", "no node without a parent among %d nodes", len(snap.Nodes))
	case 1:
	default:
		for _, id := range snap.Roots {
			add(ProblemMultipleRoots, id, "one of %d parentless nodes", len(snap.Roots))
		}
	}

	for _, id := range snap.Dangling {
		add(ProblemMissingParent, id, "parent %s does not exist", *snap.Nodes[id].ParentID)
	}

	ids := snap.NodeIDs()
	uf := NewUnionFind(ids)
	for _, id := range ids {
		n := snap.Nodes[id]
		if n.ParentID == nil {
			continue
		}
		if _, ok := snap.Nodes[*n.ParentID]; !ok {
			continue
		}
		if !uf.Union(id, *n.ParentID) {
			add(ProblemCycle, id, "parent link to %s closes a loop", *n.ParentID)
		}
	}

	if len(snap.Roots) == 1 {
		root := snap.Roots[0]
		for _, id := range ids {
			if !uf.Connected(id, root) {
				add(ProblemUnreachable, id, "not connected to root %s", root)
			}
		}
	}

	for _, id := range ids {
		n := snap.Nodes[id]
		switch {
		case !n.PayloadOK:
			add(ProblemBadPayload, id, "snapshot payload does not decode")
		case n.PayloadID == "":
			add(ProblemIDMismatch, id, "payload carries no node id")
		case n.PayloadID != id:
			add(ProblemIDMismatch, id, "payload claims to be %s", n.PayloadID)
		}
	}
	return problems, uf
}

// FsckReport bundles the integrity check with the tree summary.
// Components counts the pieces the parent links split the nodes into; a
// healthy tree has exactly one. Reachable is the size of the root's piece
// and is zero unless there is a single root.
type FsckReport struct {
	OK         bool        `json:"ok"`
	Problems   []Problem   `json:"problems"`
	Components int         `json:"components"`
	Reachable  int         `json:"reachable"`
	Tree       *TreeReport `json:"tree"`
}

// Check runs Verify and ComputeReport.
func Check(snap *TreeSnapshot, topN int) *FsckReport {
	problems, uf := verify(snap)
	if problems == nil {
		problems = []Problem{}
	}
	r := &FsckReport{
		OK:         len(problems) == 0,
		Problems:   problems,
		Components: uf.Components(),
		Tree:       ComputeReport(snap, topN),
	}
	if len(snap.Roots) == 1 {
		r.Reachable = uf.Size(snap.Roots[0])
	}
	return r
}
