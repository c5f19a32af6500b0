package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jamsession/looper/internal/history"
)

var _ history.Store = (*DB)(nil)

// scanNode scans a row into a Node. The row must have all 4 columns in standard order.
func scanNode(scanner interface{ Scan(dest ...any) error }) (Node, error) {
	var n Node
	err := scanner.Scan(&n.NodeID, &n.ParentID, &n.Snapshot, &n.CreatedAt)
	return n, err
}

func (n Node) record() history.Record {
	return history.Record{NodeID: n.NodeID, ParentID: n.ParentID, Snapshot: []byte(n.Snapshot)}
}

// Insert adds a node. The parent (if any) must already be stored.
func (d *DB) Insert(ctx context.Context, rec history.Record) error {
	return d.runTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM state_tree WHERE node_id = ?`, rec.NodeID).Scan(&exists)
		if err == nil {
			return history.ErrExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if rec.ParentID != nil {
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM state_tree WHERE node_id = ?`, *rec.ParentID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("parent %s: %w", *rec.ParentID, history.ErrNotFound)
			}
			if err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO state_tree (node_id, parent_id, state_snapshot, created_at)
			VALUES (?, ?, ?, ?)
		`, rec.NodeID, rec.ParentID, string(rec.Snapshot), time.Now().UnixMilli())
		return err
	})
}

// CreateRoot inserts rec as the root unless a parentless node exists. The
// conditional insert and the lookup share one transaction, and a writer
// that loses the race is retried by runTx and then finds the winner's root.
func (d *DB) CreateRoot(ctx context.Context, rec history.Record) (string, error) {
	var root string
	err := d.runTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO state_tree (node_id, parent_id, state_snapshot, created_at)
			SELECT ?, NULL, ?, ?
			WHERE NOT EXISTS (SELECT 1 FROM state_tree WHERE parent_id IS NULL)
		`, rec.NodeID, string(rec.Snapshot), time.Now().UnixMilli())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			root = rec.NodeID
			return nil
		}
		return tx.QueryRowContext(ctx, `
			SELECT node_id FROM state_tree WHERE parent_id IS NULL ORDER BY node_id LIMIT 1
		`).Scan(&root)
	})
	if err != nil {
		return "", err
	}
	return root, nil
}

// Get returns a single node by ID, or history.ErrNotFound
func (d *DB) Get(ctx context.Context, id string) (history.Record, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT node_id, parent_id, state_snapshot, created_at
		FROM state_tree WHERE node_id = ?
	`, id)

	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Record{}, history.ErrNotFound
	}
	if err != nil {
		return history.Record{}, err
	}
	return n.record(), nil
}

// ReplaceRoot rewrites the payload of the parentless node id.
func (d *DB) ReplaceRoot(ctx context.Context, id string, snapshot []byte) error {
	return d.runTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE state_tree SET state_snapshot = ?
			WHERE node_id = ? AND parent_id IS NULL
		`, string(snapshot), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return history.ErrNotFound
		}
		return nil
	})
}

// Roots returns the ids of all nodes without a parent
func (d *DB) Roots(ctx context.Context) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT node_id FROM state_tree WHERE parent_id IS NULL ORDER BY node_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// All returns every node ordered by creation time
func (d *DB) All(ctx context.Context) ([]history.Record, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT node_id, parent_id, state_snapshot, created_at
		FROM state_tree ORDER BY created_at, rowid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []history.Record
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, n.record())
	}
	return recs, rows.Err()
}
