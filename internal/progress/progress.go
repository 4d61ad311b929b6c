// Package progress rolls flashcard review state up into summaries and
// turns review outcomes into points and levels.
package progress

import (
	"time"

	"github.com/conorfennell/cardwise/internal/domain"
	"github.com/conorfennell/cardwise/internal/scheduler"
)

// Summary is a snapshot of a card set, valid only at the time it was taken.
type Summary struct {
	Total        int `json:"total"`
	Reviewed     int `json:"reviewed"`
	ToReview     int `json:"to_review"`
	DueForReview int `json:"due_for_review"`
	// RetentionRate is the percentage of reviewed cards whose last grade
	// passed. Zero when nothing has been reviewed.
	RetentionRate float64 `json:"retention_rate"`
}

// Summarize counts the cards in scope at now. It does not modify cards and
// is safe to call concurrently.
func Summarize(cards []domain.Flashcard, now time.Time) Summary {
	var s Summary
	var passed int
	s.Total = len(cards)
	for _, c := range cards {
		if c.Reviewed() {
			s.Reviewed++
			if scheduler.Outcome(c.LastOutcome).Passed() {
				passed++
			}
		}
		if scheduler.IsDue(c, now) {
			s.DueForReview++
		}
	}
	s.ToReview = s.Total - s.Reviewed
	if s.Reviewed > 0 {
		s.RetentionRate = float64(passed) * 100 / float64(s.Reviewed)
	}
	return s
}
