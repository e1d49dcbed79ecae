package index

import (
	"context"
	"strings"
)

// DefaultSearchLimit bounds result sets when the caller passes no limit.
const DefaultSearchLimit = 50

// bm25 weights per FTS column (id, name, description, source, format,
// projects, data_types). Name matches dominate, id is unindexed.
const bm25Weights = "0, 10.0, 5.0, 3.0, 3.0, 2.0, 2.0"

// Search runs a catalog query and returns ranked entries. Full-text terms
// rank by BM25 with ties broken by most recent modification; filter-only
// queries order by modification time alone.
func (ix *Index) Search(ctx context.Context, queryText string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	q := parseQuery(queryText)

	var conds []string
	var args []any
	for _, f := range q.filters {
		if f.op == opContains {
			conds = append(conds, "d."+f.column+` LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(f.text)+"%")
		} else {
			conds = append(conds, "d."+f.column+" "+f.op.sql()+" ?")
			args = append(args, f.number)
		}
	}

	var sb strings.Builder
	if len(q.match) > 0 {
		sb.WriteString(`
			SELECT d.payload, d.created_at, d.updated_at
			FROM datasets_fts
			JOIN datasets d ON d.id = datasets_fts.id
			WHERE datasets_fts MATCH ?`)
		args = append([]any{strings.Join(q.match, " ")}, args...)
		for _, c := range conds {
			sb.WriteString(" AND " + c)
		}
		sb.WriteString(" ORDER BY bm25(datasets_fts, " + bm25Weights + "), d.updated_at DESC")
	} else {
		sb.WriteString(`
			SELECT d.payload, d.created_at, d.updated_at
			FROM datasets d`)
		if len(conds) > 0 {
			sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
		}
		sb.WriteString(" ORDER BY d.updated_at DESC, d.id ASC")
	}
	sb.WriteString(" LIMIT ?")
	args = append(args, limit)

	rows, err := ix.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	return entries, nil
}
