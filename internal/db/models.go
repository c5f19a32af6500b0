package db

// Node represents a row in the state_tree table
type Node struct {
	NodeID    string  `json:"node_id"`
	ParentID  *string `json:"parent_id"`
	Snapshot  string  `json:"state_snapshot"` // JSON payload
	CreatedAt int64   `json:"created_at"`     // Unix millis
}
