package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
)

// ChangeFilter narrows a change log query.
// Sealed: only the filters in this file implement it.
type ChangeFilter interface {
	changeFilter()
}

// PathIs keeps changes to exactly one field path.
type PathIs string

// PathUnder keeps changes to a path and everything nested below it, so
// "pallets" matches "pallets[0].gross" and "pallets[1].boxes[0].weight".
type PathUnder string

// CauseIn keeps changes whose cause is one of the listed causes.
// An empty list matches nothing.
type CauseIn []engine.Cause

// AfterSeq keeps changes with seq strictly greater than the value.
type AfterSeq int64

func (PathIs) changeFilter()    {}
func (PathUnder) changeFilter() {}
func (CauseIn) changeFilter()   {}
func (AfterSeq) changeFilter()  {}

// ChangeQuery selects part of a document's change log.
// Filters are combined with AND. Limit <= 0 means no limit.
type ChangeQuery struct {
	DocumentID string
	Filters    []ChangeFilter
	Limit      int
}

// compile renders the query as parameterized SQL.
// Values are never interpolated, and the result is always ordered by seq.
func (q ChangeQuery) compile() (string, []any, error) {
	where := []string{"document_id = ?"}
	params := []any{q.DocumentID}

	for _, f := range q.Filters {
		clause, args, err := compileChangeFilter(f)
		if err != nil {
			return "", nil, err
		}
		where = append(where, clause)
		params = append(params, args...)
	}

	sql := `SELECT seq, path, value, "values", cause FROM field_changes WHERE ` +
		strings.Join(where, " AND ") +
		" ORDER BY seq ASC"
	if q.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, q.Limit)
	}
	return sql, params, nil
}

func compileChangeFilter(f ChangeFilter) (string, []any, error) {
	switch f := f.(type) {
	case PathIs:
		return "path = ?", []any{string(f)}, nil
	case PathUnder:
		// substr instead of LIKE: field names contain '_', a LIKE wildcard.
		p := string(f)
		return "(path = ? OR substr(path, 1, ?) = ? OR substr(path, 1, ?) = ?)",
			[]any{p, len(p) + 1, p + ".", len(p) + 1, p + "["}, nil
	case CauseIn:
		if len(f) == 0 {
			return "1 = 0", nil, nil
		}
		marks := make([]string, len(f))
		args := make([]any, len(f))
		for i, c := range f {
			marks[i] = "?"
			args[i] = string(c)
		}
		return "cause IN (" + strings.Join(marks, ", ") + ")", args, nil
	case AfterSeq:
		return "seq > ?", []any{int64(f)}, nil
	case nil:
		return "", nil, fmt.Errorf("nil change filter")
	default:
		return "", nil, fmt.Errorf("unsupported change filter: %T", f)
	}
}

// QueryChanges returns the changes matching q ordered by seq ASC.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) QueryChanges(ctx context.Context, q ChangeQuery) ([]engine.Change, error) {
	sql, params, err := q.compile()
	if err != nil {
		return nil, fmt.Errorf("compile change query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}
