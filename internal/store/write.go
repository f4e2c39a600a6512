package store

import (
	"context"
	"fmt"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"
)

// WriteReference stores a reference-data body for (endpoint, query).
// query is the canonical query string produced by refdata.Request.Query.
// Writing the same key again replaces the body (upsert) and bumps its seq.
func (s *Store) WriteReference(ctx context.Context, endpoint, query string, body []byte) error {
	compact, err := compactBody(body)
	if err != nil {
		return fmt.Errorf("write reference %s?%s: %w", endpoint, query, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reference_data (endpoint, query, body, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM reference_data))
		ON CONFLICT(endpoint, query) DO UPDATE SET
			body = excluded.body,
			seq = excluded.seq
	`, endpoint, query, compact)
	if err != nil {
		return fmt.Errorf("write reference %s?%s: %w", endpoint, query, err)
	}
	return nil
}

// DeleteReference removes one fixture. Deleting a missing key is not an error.
func (s *Store) DeleteReference(ctx context.Context, endpoint, query string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM reference_data WHERE endpoint = ? AND query = ?`,
		endpoint, query,
	); err != nil {
		return fmt.Errorf("delete reference: %w", err)
	}
	return nil
}

// WriteChanges appends change log entries for a document in one transaction.
// Uses ON CONFLICT(document_id, seq) DO NOTHING for idempotency: re-writing
// an already stored change is silently ignored.
func (s *Store) WriteChanges(ctx context.Context, documentID string, changes []engine.Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write changes: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO field_changes (document_id, seq, path, value, "values", cause)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, seq) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write changes: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		values, err := marshalValues(c.Values)
		if err != nil {
			return fmt.Errorf("write change %d: %w", c.Seq, err)
		}
		if _, err := stmt.ExecContext(ctx, documentID, c.Seq, c.Path, c.Value, values, string(c.Cause)); err != nil {
			return fmt.Errorf("write change %d: %w", c.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write changes: commit: %w", err)
	}
	return nil
}

// WriteSubmission stores the snapshot of a submit at change log position seq.
func (s *Store) WriteSubmission(ctx context.Context, seq int64, specHash string, snap *engine.Snapshot) error {
	data, err := marshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("write submission: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (document_id, seq, spec_hash, snapshot)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id, seq) DO UPDATE SET snapshot = excluded.snapshot
	`, snap.DocumentID, seq, specHash, data)
	if err != nil {
		return fmt.Errorf("write submission: %w", err)
	}
	return nil
}
