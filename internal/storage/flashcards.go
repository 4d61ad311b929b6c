package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/conorfennell/cardwise/internal/domain"
	"github.com/conorfennell/cardwise/internal/scheduler"
)

const flashcardColumns = `id, user_id, course_id, module_id, lesson_id, note_id, source_id, hash,
	question, answer, context, ease_factor, interval_days, repetitions,
	last_reviewed, next_review, last_outcome, version, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlashcard(row rowScanner) (domain.Flashcard, error) {
	var f domain.Flashcard
	var sourceID sql.NullInt64
	var lastReviewed, nextReview sql.NullTime
	err := row.Scan(
		&f.ID, &f.UserID, &f.CourseID, &f.ModuleID, &f.LessonID, &f.NoteID, &sourceID, &f.Hash,
		&f.Question, &f.Answer, &f.Context, &f.EaseFactor, &f.Interval, &f.Repetitions,
		&lastReviewed, &nextReview, &f.LastOutcome, &f.Version, &f.CreatedAt,
	)
	if err != nil {
		return f, err
	}
	f.SourceID = sourceID.Int64
	if lastReviewed.Valid {
		t := lastReviewed.Time.UTC()
		f.LastReviewed = &t
	}
	if nextReview.Valid {
		t := nextReview.Time.UTC()
		f.NextReview = &t
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return f, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullSource(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// InsertFlashcard stores a new flashcard and returns it with its id, version
// and creation time filled in. Review state is stored as given.
func (q *Queries) InsertFlashcard(ctx context.Context, f domain.Flashcard) (domain.Flashcard, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Version = 1
	f.CreatedAt = time.Now().UTC()
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO flashcards (`+flashcardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, f.UserID, f.CourseID, f.ModuleID, f.LessonID, f.NoteID, nullSource(f.SourceID), f.Hash,
		f.Question, f.Answer, f.Context, f.EaseFactor, f.Interval, f.Repetitions,
		nullTime(f.LastReviewed), nullTime(f.NextReview), f.LastOutcome, f.Version, f.CreatedAt,
	)
	if err != nil {
		return f, fmt.Errorf("failed to insert flashcard %s: %w", f.Hash, err)
	}
	return f, nil
}

// GetFlashcard returns one of the user's flashcards.
func (q *Queries) GetFlashcard(ctx context.Context, userID, id string) (domain.Flashcard, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+flashcardColumns+`
		FROM flashcards WHERE id = ? AND user_id = ?
	`, id, userID)
	f, err := scanFlashcard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return f, fmt.Errorf("flashcard %s: %w", id, ErrNotFound)
		}
		return f, fmt.Errorf("failed to get flashcard %s: %w", id, err)
	}
	return f, nil
}

// FindFlashcardByHash returns the user's flashcard with the given content
// hash, or ErrNotFound.
func (q *Queries) FindFlashcardByHash(ctx context.Context, userID, hash string) (domain.Flashcard, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+flashcardColumns+`
		FROM flashcards WHERE user_id = ? AND hash = ?
	`, userID, hash)
	f, err := scanFlashcard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return f, fmt.Errorf("flashcard hash %s: %w", hash, ErrNotFound)
		}
		return f, fmt.Errorf("failed to find flashcard by hash %s: %w", hash, err)
	}
	return f, nil
}

// ListFlashcards returns every card in scope. Rows that cannot be read are
// logged and left out.
func (q *Queries) ListFlashcards(ctx context.Context, scope domain.Scope) ([]domain.Flashcard, error) {
	where := []string{"user_id = ?"}
	args := []any{scope.UserID}
	if scope.CourseID != "" {
		where = append(where, "course_id = ?")
		args = append(args, scope.CourseID)
	}
	if scope.ModuleID != "" {
		where = append(where, "module_id = ?")
		args = append(args, scope.ModuleID)
	}
	if scope.LessonID != "" {
		where = append(where, "lesson_id = ?")
		args = append(args, scope.LessonID)
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+flashcardColumns+`
		FROM flashcards WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list flashcards for user %s: %w", scope.UserID, err)
	}
	return collectFlashcards(ctx, rows)
}

// ListDueFlashcards returns up to limit cards in scope that are due at now,
// never-reviewed cards first and then by next review time. limit <= 0 means
// no limit. Due-ness is decided by scheduler.IsDue rather than in SQL, as
// stored timestamps do not compare reliably as text.
func (q *Queries) ListDueFlashcards(ctx context.Context, scope domain.Scope, now time.Time, limit int) ([]domain.Flashcard, error) {
	cards, err := q.ListFlashcards(ctx, scope)
	if err != nil {
		return nil, err
	}
	due, _ := scheduler.Partition(cards, now)
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].NextReview, due[j].NextReview
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ListFlashcardsBySource returns the cards imported from a source.
func (q *Queries) ListFlashcardsBySource(ctx context.Context, sourceID int64) ([]domain.Flashcard, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+flashcardColumns+`
		FROM flashcards WHERE source_id = ?
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for source ID %d: %w", sourceID, err)
	}
	return collectFlashcards(ctx, rows)
}

func collectFlashcards(ctx context.Context, rows *sql.Rows) ([]domain.Flashcard, error) {
	defer rows.Close()
	var cards []domain.Flashcard
	for rows.Next() {
		f, err := scanFlashcard(rows)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("id", f.ID).Msg("skipping-unreadable-flashcard")
			continue
		}
		cards = append(cards, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read flashcard rows: %w", err)
	}
	return cards, nil
}

// UpdateFlashcardState writes the review state of f if the stored row still
// has f.Version. On success the returned card carries the new version.
func (q *Queries) UpdateFlashcardState(ctx context.Context, f domain.Flashcard) (domain.Flashcard, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE flashcards
		SET ease_factor = ?, interval_days = ?, repetitions = ?, last_reviewed = ?,
			next_review = ?, last_outcome = ?, version = version + 1
		WHERE id = ? AND user_id = ? AND version = ?
	`,
		f.EaseFactor, f.Interval, f.Repetitions, nullTime(f.LastReviewed),
		nullTime(f.NextReview), f.LastOutcome,
		f.ID, f.UserID, f.Version,
	)
	if err != nil {
		return f, fmt.Errorf("failed to update flashcard state for %s: %w", f.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return f, fmt.Errorf("failed to update flashcard state for %s: %w", f.ID, err)
	}
	if n == 0 {
		if _, err := q.GetFlashcard(ctx, f.UserID, f.ID); err != nil {
			return f, err
		}
		return f, fmt.Errorf("flashcard %s at version %d: %w", f.ID, f.Version, ErrConflict)
	}
	f.Version++
	return f, nil
}

// DeleteFlashcard removes one of the user's flashcards.
func (q *Queries) DeleteFlashcard(ctx context.Context, userID, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM flashcards WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete flashcard %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("flashcard %s: %w", id, ErrNotFound)
	}
	return nil
}

// MoveFlashcard reassigns one of the user's flashcards to another source and
// note. Review state and history are untouched.
func (q *Queries) MoveFlashcard(ctx context.Context, userID, id string, sourceID int64, noteID string) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE flashcards SET source_id = ?, note_id = ?
		WHERE id = ? AND user_id = ?
	`, nullSource(sourceID), noteID, id, userID)
	if err != nil {
		return fmt.Errorf("failed to move flashcard %s to source %d: %w", id, sourceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("flashcard %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertReviewLog appends a grading event.
func (q *Queries) InsertReviewLog(ctx context.Context, rl domain.ReviewLog) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO review_logs (card_id, user_id, outcome, reviewed_at, interval_days, ease_factor, repetitions)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rl.CardID, rl.UserID, rl.Outcome, rl.ReviewedAt.UTC(), rl.Interval, rl.EaseFactor, rl.Repetitions)
	if err != nil {
		return 0, fmt.Errorf("failed to insert review log for %s: %w", rl.CardID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get review log id for %s: %w", rl.CardID, err)
	}
	return id, nil
}

// ListReviewLogs returns a card's grading history, oldest first.
func (q *Queries) ListReviewLogs(ctx context.Context, userID, cardID string) ([]domain.ReviewLog, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, card_id, user_id, outcome, reviewed_at, interval_days, ease_factor, repetitions
		FROM review_logs WHERE user_id = ? AND card_id = ?
		ORDER BY reviewed_at, id
	`, userID, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review logs for %s: %w", cardID, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		var rl domain.ReviewLog
		if err := rows.Scan(&rl.ID, &rl.CardID, &rl.UserID, &rl.Outcome, &rl.ReviewedAt,
			&rl.Interval, &rl.EaseFactor, &rl.Repetitions); err != nil {
			return nil, fmt.Errorf("failed to scan review log row for %s: %w", cardID, err)
		}
		rl.ReviewedAt = rl.ReviewedAt.UTC()
		logs = append(logs, rl)
	}
	return logs, rows.Err()
}
