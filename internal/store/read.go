package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
)

// Reference is one stored reference-data fixture.
type Reference struct {
	Endpoint string `json:"endpoint"`
	Query    string `json:"query,omitempty"`
	Body     string `json:"body"`
	Seq      int64  `json:"seq"`
}

// ReadReference returns the stored body for (endpoint, query).
// found is false, with a nil error, when no fixture exists.
//
// Implements refdata.FixtureSource.
func (s *Store) ReadReference(ctx context.Context, endpoint, query string) ([]byte, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM reference_data
		WHERE endpoint = ? AND query = ?
	`, endpoint, query).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read reference %s?%s: %w", endpoint, query, err)
	}
	return []byte(body), true, nil
}

// ListReferences returns every fixture ordered by endpoint then query.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListReferences(ctx context.Context) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, query, body, seq
		FROM reference_data
		ORDER BY endpoint COLLATE BINARY ASC, query COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	refs := []Reference{}
	for rows.Next() {
		var r Reference
		if err := rows.Scan(&r.Endpoint, &r.Query, &r.Body, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return refs, nil
}

// ReadChanges returns a document's change log ordered by seq ASC.
// Returns an empty slice (not nil) if no changes exist.
func (s *Store) ReadChanges(ctx context.Context, documentID string) ([]engine.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, path, value, "values", cause
		FROM field_changes
		WHERE document_id = ?
		ORDER BY seq ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

// ReadPathChanges returns the change log of one field path ordered by seq ASC.
func (s *Store) ReadPathChanges(ctx context.Context, documentID, path string) ([]engine.Change, error) {
	return s.QueryChanges(ctx, ChangeQuery{DocumentID: documentID, Filters: []ChangeFilter{PathIs(path)}})
}

func scanChanges(rows *sql.Rows) ([]engine.Change, error) {
	changes := []engine.Change{}
	for rows.Next() {
		var (
			c      engine.Change
			values string
			cause  string
		)
		if err := rows.Scan(&c.Seq, &c.Path, &c.Value, &values, &cause); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		v, err := unmarshalValues(values)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", c.Seq, err)
		}
		c.Values = v
		c.Cause = engine.Cause(cause)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

// LastSeq returns the highest stored change seq of a document, or 0.
// Used to continue a document's log with engine.NewClockAt.
func (s *Store) LastSeq(ctx context.Context, documentID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM field_changes WHERE document_id = ?
	`, documentID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// ReadSubmission returns the latest submitted snapshot of a document.
// found is false when the document was never submitted.
func (s *Store) ReadSubmission(ctx context.Context, documentID string) (*engine.Snapshot, int64, bool, error) {
	var (
		seq  int64
		data string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, snapshot FROM submissions
		WHERE document_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, documentID).Scan(&seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("read submission: %w", err)
	}
	snap, err := unmarshalSnapshot(data)
	if err != nil {
		return nil, 0, false, err
	}
	return snap, seq, true, nil
}
