package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/cardwise/internal/domain"
)

// EnsureUser creates the user record if it does not exist yet.
func (q *Queries) EnsureUser(ctx context.Context, userID string) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO users (id, points, level, created_at)
		VALUES (?, 0, 1, ?)
		ON CONFLICT (id) DO NOTHING
	`, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}
	return nil
}

// GetUserProgress returns the points and level of a user.
func (q *Queries) GetUserProgress(ctx context.Context, userID string) (domain.UserProgress, error) {
	up := domain.UserProgress{UserID: userID}
	err := q.q.QueryRowContext(ctx, `SELECT points, level FROM users WHERE id = ?`, userID).
		Scan(&up.Points, &up.Level)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return up, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return up, fmt.Errorf("failed to get progress for user %s: %w", userID, err)
	}
	return up, nil
}

// SaveUserProgress stores points and, when writeLevel is set, the level.
func (q *Queries) SaveUserProgress(ctx context.Context, up domain.UserProgress, writeLevel bool) error {
	var res sql.Result
	var err error
	if writeLevel {
		res, err = q.q.ExecContext(ctx, `UPDATE users SET points = ?, level = ? WHERE id = ?`,
			up.Points, up.Level, up.UserID)
	} else {
		res, err = q.q.ExecContext(ctx, `UPDATE users SET points = ? WHERE id = ?`, up.Points, up.UserID)
	}
	if err != nil {
		return fmt.Errorf("failed to save progress for user %s: %w", up.UserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", up.UserID, ErrNotFound)
	}
	return nil
}
