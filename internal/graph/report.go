package graph

import "sort"

// ForkInfo is a node with more than one child.
type ForkInfo struct {
	NodeID   string `json:"node_id"`
	Children int    `json:"children"`
}

// TreeReport summarizes the shape of the history tree.
type TreeReport struct {
	TotalNodes  int        `json:"total_nodes"`
	Root        string     `json:"root,omitempty"`
	LeafCount   int        `json:"leaf_count"`
	LeafIDs     []string   `json:"leaf_ids"`
	ForkCount   int        `json:"fork_count"`
	Forks       []ForkInfo `json:"forks"`
	MaxDepth    int        `json:"max_depth"`
	DeepestNode string     `json:"deepest_node,omitempty"`
	MaxTracks   int        `json:"max_tracks"`
}

// ComputeReport walks the tree from its roots. Lists are capped at topN.
func ComputeReport(snap *TreeSnapshot, topN int) *TreeReport {
	r := &TreeReport{TotalNodes: len(snap.Nodes)}
	if len(snap.Roots) == 1 {
		r.Root = snap.Roots[0]
	}

	var leaves []string
	var forks []ForkInfo
	for _, id := range snap.NodeIDs() {
		kids := len(snap.Children[id])
		switch {
		case kids == 0:
			leaves = append(leaves, id)
		case kids > 1:
			forks = append(forks, ForkInfo{NodeID: id, Children: kids})
		}
		if n := snap.Nodes[id].Tracks; n > r.MaxTracks {
			r.MaxTracks = n
		}
	}
	sort.Slice(forks, func(i, j int) bool {
		if forks[i].Children != forks[j].Children {
			return forks[i].Children > forks[j].Children
		}
		return forks[i].NodeID < forks[j].NodeID
	})
	r.LeafCount, r.ForkCount = len(leaves), len(forks)
	if len(leaves) > topN {
		leaves = leaves[:topN]
	}
	if len(forks) > topN {
		forks = forks[:topN]
	}
	r.LeafIDs, r.Forks = leaves, forks

	// Breadth-first from every root; depth of a root is 0.
	depth := make(map[string]int, len(snap.Nodes))
	queue := append([]string(nil), snap.Roots...)
	for _, id := range queue {
		depth[id] = 0
	}
	for i := 0; i < len(queue); i++ {
		id := queue[i]
		d := depth[id]
		if d > r.MaxDepth || (d == r.MaxDepth && (r.DeepestNode == "" || id < r.DeepestNode)) {
			r.MaxDepth, r.DeepestNode = d, id
		}
		for _, c := range snap.Children[id] {
			if _, seen := depth[c]; !seen {
				depth[c] = d + 1
				queue = append(queue, c)
			}
		}
	}
	return r
}
