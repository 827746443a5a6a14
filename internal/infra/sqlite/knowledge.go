// Knowledge-entry sync metadata persistence. Implements
// domain.KnowledgeStore.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cartella-shop/cartella/internal/domain"
)

// GetEntry retrieves sync metadata for a catalog item, or
// domain.ErrEntryNotFound.
func (d *DB) GetEntry(ctx context.Context, localID string) (*domain.KnowledgeEntry, error) {
	var e domain.KnowledgeEntry
	var status string
	var synced sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT local_id, remote_id, fingerprint, status, last_synced_at
		FROM knowledge_entries WHERE local_id = ?
	`, localID).Scan(&e.LocalID, &e.RemoteID, &e.Fingerprint, &status, &synced)
	if err == sql.ErrNoRows {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", localID, err)
	}
	e.Status = domain.SyncStatus(status)
	if synced.Valid {
		e.LastSyncedAt = parseTime(synced.String)
	}
	return &e, nil
}

// UpsertEntry inserts or replaces an entry's sync metadata.
func (d *DB) UpsertEntry(ctx context.Context, e domain.KnowledgeEntry) error {
	var synced any
	if !e.LastSyncedAt.IsZero() {
		synced = formatTime(e.LastSyncedAt)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO knowledge_entries (local_id, remote_id, fingerprint, status, last_synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			remote_id      = excluded.remote_id,
			fingerprint    = excluded.fingerprint,
			status         = excluded.status,
			last_synced_at = excluded.last_synced_at
	`, e.LocalID, e.RemoteID, e.Fingerprint, string(e.Status), synced)
	if err != nil {
		return fmt.Errorf("upsert entry %s: %w", e.LocalID, err)
	}
	return nil
}

// DeleteEntry removes an entry's sync metadata. Deleting a missing entry
// is a no-op.
func (d *DB) DeleteEntry(ctx context.Context, localID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", localID, err)
	}
	return nil
}

// ListEntries returns all knowledge entries ordered by local ID.
func (d *DB) ListEntries(ctx context.Context) ([]domain.KnowledgeEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT local_id, remote_id, fingerprint, status, last_synced_at
		FROM knowledge_entries ORDER BY local_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []domain.KnowledgeEntry
	for rows.Next() {
		var e domain.KnowledgeEntry
		var status string
		var synced sql.NullString
		if err := rows.Scan(&e.LocalID, &e.RemoteID, &e.Fingerprint, &status, &synced); err != nil {
			return nil, err
		}
		e.Status = domain.SyncStatus(status)
		if synced.Valid {
			e.LastSyncedAt = parseTime(synced.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetStatus updates only the sync status of an entry.
func (d *DB) SetStatus(ctx context.Context, localID string, status domain.SyncStatus) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE knowledge_entries SET status = ? WHERE local_id = ?`, string(status), localID)
	if err != nil {
		return fmt.Errorf("set status %s: %w", localID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}
