// Package graph analyzes the shape of the history tree: branch structure,
// depth, and integrity.
package graph

import (
	"encoding/json"
	"sort"

	"jamsession/looper/internal/history"
)

// NodeInfo is a lightweight node representation decoupled from store types.
type NodeInfo struct {
	ID       string
	ParentID *string

	// Parsed from the payload. PayloadOK is false when it did not decode.
	PayloadOK   bool
	PayloadID   string
	Tracks      int
	NextTrackID int
}

// TreeSnapshot holds the tree with precomputed child lists.
type TreeSnapshot struct {
	Nodes    map[string]*NodeInfo
	Children map[string][]string // parent -> children, sorted
	Roots    []string            // nodes without a parent, sorted
	Dangling []string            // nodes whose parent is not in the tree, sorted
}

// NewSnapshot builds a TreeSnapshot from raw nodes.
func NewSnapshot(nodes []*NodeInfo) *TreeSnapshot {
	nodeMap := make(map[string]*NodeInfo, len(nodes))
	for _, n := range nodes {
		nodeMap[n.ID] = n
	}

	children := make(map[string][]string, len(nodes))
	var roots, dangling []string
	for _, n := range nodes {
		if _, ok := children[n.ID]; !ok {
			children[n.ID] = nil // ensure entry exists
		}
		if n.ParentID == nil {
			roots = append(roots, n.ID)
			continue
		}
		if _, ok := nodeMap[*n.ParentID]; !ok {
			dangling = append(dangling, n.ID)
			continue
		}
		children[*n.ParentID] = append(children[*n.ParentID], n.ID)
	}
	for id := range children {
		sort.Strings(children[id])
	}
	sort.Strings(roots)
	sort.Strings(dangling)

	return &TreeSnapshot{
		Nodes:    nodeMap,
		Children: children,
		Roots:    roots,
		Dangling: dangling,
	}
}

// payload is the subset of a stored snapshot the analyses read.
type payload struct {
	NodeID      string            `json:"history_node_id"`
	Tracks      []json.RawMessage `json:"tracks"`
	NextTrackID int               `json:"next_track_id"`
}

// FromRecords builds a TreeSnapshot from store records.
func FromRecords(recs []history.Record) *TreeSnapshot {
	nodes := make([]*NodeInfo, 0, len(recs))
	for _, r := range recs {
		n := &NodeInfo{ID: r.NodeID}
		if r.ParentID != nil {
			p := *r.ParentID
			n.ParentID = &p
		}
		var p payload
		if err := json.Unmarshal(r.Snapshot, &p); err == nil {
			n.PayloadOK = true
			n.PayloadID = p.NodeID
			n.Tracks = len(p.Tracks)
			n.NextTrackID = p.NextTrackID
		}
		nodes = append(nodes, n)
	}
	return NewSnapshot(nodes)
}

// NodeIDs returns a sorted list of all node IDs.
func (s *TreeSnapshot) NodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subtree returns id and every node below it, in breadth-first order.
func (s *TreeSnapshot) Subtree(id string) []string {
	if _, ok := s.Nodes[id]; !ok {
		return nil
	}
	visited := map[string]bool{id: true}
	out := []string{id}
	for i := 0; i < len(out); i++ {
		for _, c := range s.Children[out[i]] {
			if !visited[c] {
				visited[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
