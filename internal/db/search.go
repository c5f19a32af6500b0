package db

import (
	"context"
	"strings"
)

// likeEscaper escapes LIKE wildcards so a prefix matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchByIDPrefix returns up to limit node ids starting with prefix, in id
// order. Limit <= 0 means no limit.
func (d *DB) SearchByIDPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.conn.QueryContext(ctx, `
		SELECT node_id FROM state_tree
		WHERE node_id LIKE ?1 || '%' ESCAPE '\'
		ORDER BY node_id
		LIMIT ?2
	`, likeEscaper.Replace(prefix), limit)
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
