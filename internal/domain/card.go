package domain

import "time"

// Card is a single question-answer-context entry as parsed from a note.
type Card struct {
	Question string
	Answer   string
	Context  string
	Hash     string
}

// Flashcard is a card owned by a user together with its review state.
type Flashcard struct {
	ID       string
	UserID   string
	CourseID string
	ModuleID string
	LessonID string
	NoteID   string
	SourceID int64
	Hash     string

	Question string
	Answer   string
	Context  string

	EaseFactor   float64
	Interval     int // days
	Repetitions  int
	LastReviewed *time.Time // nil before the first review
	NextReview   *time.Time // nil means due immediately
	// LastOutcome is the ordinal of the most recent grade, 0 before the first review.
	LastOutcome int

	// Version is bumped on every persisted state change.
	Version   int64
	CreatedAt time.Time
}

// Reviewed reports whether the card has been graded at least once.
func (f Flashcard) Reviewed() bool {
	return f.LastReviewed != nil
}

// ReviewLog records a single grading event for a flashcard.
// Outcome follows the review ordinals:
// 1: Again (Incorrect)
// 2: Hard
// 3: Good
// 4: Easy
type ReviewLog struct {
	ID          int64
	CardID      string
	UserID      string
	Outcome     int
	ReviewedAt  time.Time
	Interval    int
	EaseFactor  float64
	Repetitions int
}

// Scope narrows a set of flashcards to one user and, optionally, a course,
// module or lesson within it. Empty fields match everything.
type Scope struct {
	UserID   string
	CourseID string
	ModuleID string
	LessonID string
}

// UserProgress is the points and level kept on a user record.
type UserProgress struct {
	UserID string
	Points int64
	Level  int
}
