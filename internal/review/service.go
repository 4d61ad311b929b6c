// Package review runs grading and progress queries for a user by feeding
// stored flashcards through the scheduler and progress packages.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/conorfennell/cardwise/internal/domain"
	"github.com/conorfennell/cardwise/internal/progress"
	"github.com/conorfennell/cardwise/internal/scheduler"
	"github.com/conorfennell/cardwise/internal/storage"
)

// Store is the persistence a Service needs. *storage.Queries satisfies it.
type Store interface {
	EnsureUser(ctx context.Context, userID string) error
	GetUserProgress(ctx context.Context, userID string) (domain.UserProgress, error)
	SaveUserProgress(ctx context.Context, up domain.UserProgress, writeLevel bool) error
	GetFlashcard(ctx context.Context, userID, id string) (domain.Flashcard, error)
	ListFlashcards(ctx context.Context, scope domain.Scope) ([]domain.Flashcard, error)
	ListDueFlashcards(ctx context.Context, scope domain.Scope, now time.Time, limit int) ([]domain.Flashcard, error)
	UpdateFlashcardState(ctx context.Context, f domain.Flashcard) (domain.Flashcard, error)
	InsertReviewLog(ctx context.Context, rl domain.ReviewLog) (int64, error)
	ListReviewLogs(ctx context.Context, userID, cardID string) ([]domain.ReviewLog, error)
}

// TxStore is a Store that can run a unit of work atomically.
type TxStore interface {
	Store
	InTx(ctx context.Context, fn func(q *storage.Queries) error) error
}

type nower interface {
	Now() time.Time
}

// RealNower reads the wall clock.
type RealNower struct{}

func (RealNower) Now() time.Time {
	return time.Now().UTC()
}

// Service grades cards and reports progress.
type Service struct {
	store     TxStore
	scheduler *scheduler.Scheduler
	ladder    progress.Ladder
	points    progress.PointTable
	Nower     nower
}

// NewService wires a Service. Nower defaults to the wall clock.
func NewService(store TxStore, sched *scheduler.Scheduler, ladder progress.Ladder, points progress.PointTable) *Service {
	return &Service{
		store:     store,
		scheduler: sched,
		ladder:    ladder,
		points:    points,
		Nower:     RealNower{},
	}
}

// GradeResult is everything that changed because of one grade.
type GradeResult struct {
	Card      domain.Flashcard
	Log       domain.ReviewLog
	Awarded   int64
	Points    int64
	Level     int
	LeveledUp bool
}

// Grade applies outcome to one of the user's cards and persists the new card
// state, a review log entry and the user's points in a single transaction.
// A concurrent grade of the same card fails with storage.ErrConflict.
func (s *Service) Grade(ctx context.Context, userID, cardID string, outcome scheduler.Outcome) (GradeResult, error) {
	var res GradeResult
	// Reject before reading anything.
	awarded, err := s.points.PointsFor(outcome)
	if err != nil {
		return res, err
	}
	now := s.Nower.Now()

	err = s.store.InTx(ctx, func(q *storage.Queries) error {
		return s.grade(ctx, q, userID, cardID, outcome, awarded, now, &res)
	})
	if err != nil {
		return GradeResult{}, err
	}

	log.Ctx(ctx).Info().Str("user", userID).Str("card", cardID).
		Stringer("outcome", outcome).
		Int("interval", res.Card.Interval).
		Float64("ease", res.Card.EaseFactor).
		Int64("points", res.Points).
		Bool("leveled-up", res.LeveledUp).
		Msg("card-graded")
	return res, nil
}

func (s *Service) grade(ctx context.Context, q Store, userID, cardID string, outcome scheduler.Outcome,
	awarded int64, now time.Time, res *GradeResult) error {

	card, err := q.GetFlashcard(ctx, userID, cardID)
	if err != nil {
		return err
	}
	graded, err := s.scheduler.Grade(card, outcome, now)
	if err != nil {
		if errors.Is(err, scheduler.ErrInvalidCard) {
			log.Ctx(ctx).Error().Err(err).Str("card", cardID).Msg("corrupt-card-state")
		}
		return err
	}
	graded, err = q.UpdateFlashcardState(ctx, graded)
	if err != nil {
		return err
	}

	rl := domain.ReviewLog{
		CardID:      graded.ID,
		UserID:      userID,
		Outcome:     int(outcome),
		ReviewedAt:  now,
		Interval:    graded.Interval,
		EaseFactor:  graded.EaseFactor,
		Repetitions: graded.Repetitions,
	}
	if rl.ID, err = q.InsertReviewLog(ctx, rl); err != nil {
		return err
	}

	if err := q.EnsureUser(ctx, userID); err != nil {
		return err
	}
	up, err := q.GetUserProgress(ctx, userID)
	if err != nil {
		return err
	}
	newPoints, newLevel := s.ladder.ApplyPoints(up.Points, up.Level, awarded)
	leveledUp := newLevel != up.Level
	err = q.SaveUserProgress(ctx, domain.UserProgress{UserID: userID, Points: newPoints, Level: newLevel}, leveledUp)
	if err != nil {
		return err
	}

	*res = GradeResult{
		Card:      graded,
		Log:       rl,
		Awarded:   awarded,
		Points:    newPoints,
		Level:     newLevel,
		LeveledUp: newLevel > up.Level,
	}
	return nil
}

// Due returns up to limit cards in scope that are due now, never-reviewed
// cards first and then by next review time. limit <= 0 means no limit.
func (s *Service) Due(ctx context.Context, scope domain.Scope, limit int) ([]domain.Flashcard, error) {
	return s.store.ListDueFlashcards(ctx, scope, s.Nower.Now(), limit)
}

// Snapshot is the progress of a scope together with the user's points.
type Snapshot struct {
	progress.Summary
	Points int64 `json:"points"`
	Level  int   `json:"level"`
}

// Progress summarises the cards in scope at the current time.
func (s *Service) Progress(ctx context.Context, scope domain.Scope) (Snapshot, error) {
	cards, err := s.store.ListFlashcards(ctx, scope)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Summary: progress.Summarize(cards, s.Nower.Now()), Level: 1}

	up, err := s.store.GetUserProgress(ctx, scope.UserID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return Snapshot{}, err
	default:
		snap.Points = up.Points
		snap.Level = s.ladder.LevelFor(up.Points)
	}
	return snap, nil
}

// Card returns one of the user's cards with its review history.
func (s *Service) Card(ctx context.Context, userID, cardID string) (domain.Flashcard, []domain.ReviewLog, error) {
	card, err := s.store.GetFlashcard(ctx, userID, cardID)
	if err != nil {
		return card, nil, err
	}
	logs, err := s.store.ListReviewLogs(ctx, userID, cardID)
	if err != nil {
		return card, nil, fmt.Errorf("failed to load history: %w", err)
	}
	return card, logs, nil
}

// Preview shows what each outcome would do to the card, without saving.
func (s *Service) Preview(ctx context.Context, userID, cardID string) (map[scheduler.Outcome]domain.Flashcard, error) {
	card, err := s.store.GetFlashcard(ctx, userID, cardID)
	if err != nil {
		return nil, err
	}
	return s.scheduler.Preview(card, s.Nower.Now())
}
