package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Source types.
const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// Source is a place notes are imported from, either a local path or a Git URL.
type Source struct {
	ID          int64        `json:"id"`
	UserID      string       `json:"user_id"`
	Path        string       `json:"path"`
	Type        string       `json:"type"`
	LastScanned sql.NullTime `json:"-"`
}

// InsertSource stores a new source for the user and returns its ID.
func (q *Queries) InsertSource(ctx context.Context, userID, path, sourceType string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO sources (user_id, path, type)
		VALUES (?, ?, ?)
	`, userID, path, sourceType)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("source %s: %w", path, ErrDuplicate)
		}
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// ListSources returns the sources of one user, or of every user when userID
// is empty.
func (q *Queries) ListSources(ctx context.Context, userID string) ([]Source, error) {
	query := `SELECT id, user_id, path, type, last_scanned FROM sources`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	rows, err := q.q.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.UserID, &s.Path, &s.Type, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (q *Queries) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`, at.UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes one of the user's sources and, through the foreign
// key, the flashcards imported from it.
func (q *Queries) DeleteSource(ctx context.Context, userID string, sourceID int64) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM sources WHERE id = ? AND user_id = ?`, sourceID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete source %d: %w", sourceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %d: %w", sourceID, ErrNotFound)
	}
	return nil
}
