// Package scheduler computes SM-2 style review schedules for flashcards.
//
// The scheduler is pure: every operation takes the review time explicitly and
// returns new values without touching the input card. Persisting the result
// and serialising concurrent grades of the same card is up to the caller.
package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/cardwise/internal/domain"
)

const day = 24 * time.Hour

// Params holds the tuning constants of the algorithm.
type Params struct {
	InitialEase    float64 // ease given to a card on its first review
	EaseFloor      float64 // ease never drops below this
	FailInterval   int     // days until the next review after Again
	FailPenalty    float64 // ease subtracted on Again
	FirstInterval  int     // days after the first successful review
	SecondInterval int     // days after the second consecutive successful review
	MaxInterval    int     // upper bound for any interval, in days

	// Ease adjustments applied on passing outcomes.
	HardAdjust float64
	GoodAdjust float64
	EasyAdjust float64
}

// DefaultParams returns the classic SM-2 constants.
func DefaultParams() Params {
	return Params{
		InitialEase:    2.5,
		EaseFloor:      1.3,
		FailInterval:   1,
		FailPenalty:    0.2,
		FirstInterval:  1,
		SecondInterval: 6,
		MaxInterval:    36500,
		HardAdjust:     -0.15,
		GoodAdjust:     0,
		EasyAdjust:     0.15,
	}
}

// Validate checks that the parameters describe a usable schedule.
func (p Params) Validate() error {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	switch {
	case !finite(p.EaseFloor) || p.EaseFloor <= 0:
		return fmt.Errorf("%w: ease floor %v must be positive", ErrInvalidParams, p.EaseFloor)
	case !finite(p.InitialEase) || p.InitialEase < p.EaseFloor:
		return fmt.Errorf("%w: initial ease %v below floor %v", ErrInvalidParams, p.InitialEase, p.EaseFloor)
	case !finite(p.FailPenalty) || p.FailPenalty < 0:
		return fmt.Errorf("%w: fail penalty %v must not be negative", ErrInvalidParams, p.FailPenalty)
	case p.FailInterval < 1 || p.FirstInterval < 1 || p.SecondInterval < 1:
		return fmt.Errorf("%w: fixed intervals must be at least one day", ErrInvalidParams)
	case p.MaxInterval < p.SecondInterval || p.MaxInterval < p.FailInterval:
		return fmt.Errorf("%w: maximum interval %d is shorter than a fixed interval", ErrInvalidParams, p.MaxInterval)
	case !finite(p.HardAdjust) || !finite(p.GoodAdjust) || !finite(p.EasyAdjust):
		return fmt.Errorf("%w: ease adjustments must be finite", ErrInvalidParams)
	}
	return nil
}

// Scheduler grades flashcards with a fixed set of Params.
// It holds no mutable state and is safe for concurrent use.
type Scheduler struct {
	params Params
}

// New returns a Scheduler for p, or an error wrapping ErrInvalidParams.
func New(p Params) (*Scheduler, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{params: p}, nil
}

// Params returns the parameters the scheduler was built with.
func (s *Scheduler) Params() Params {
	return s.params
}

// Check reports whether the card's review state is within its valid domain.
// A never-reviewed card may carry a zero ease factor; it is initialised on
// its first grade.
func (s *Scheduler) Check(card domain.Flashcard) error {
	if card.Interval < 0 {
		return fmt.Errorf("%w: card %s has negative interval %d", ErrInvalidCard, card.ID, card.Interval)
	}
	if card.Repetitions < 0 {
		return fmt.Errorf("%w: card %s has negative repetitions %d", ErrInvalidCard, card.ID, card.Repetitions)
	}
	if math.IsNaN(card.EaseFactor) || math.IsInf(card.EaseFactor, 0) {
		return fmt.Errorf("%w: card %s has non-finite ease factor", ErrInvalidCard, card.ID)
	}
	uninitialised := card.EaseFactor == 0 && !card.Reviewed()
	if !uninitialised && card.EaseFactor < s.params.EaseFloor {
		return fmt.Errorf("%w: card %s ease factor %.3f below floor %.3f",
			ErrInvalidCard, card.ID, card.EaseFactor, s.params.EaseFloor)
	}
	if card.LastReviewed != nil && card.NextReview != nil && card.NextReview.Before(*card.LastReviewed) {
		return fmt.Errorf("%w: card %s next review precedes last review", ErrInvalidCard, card.ID)
	}
	return nil
}

// Grade applies one review to the card and returns its new state.
// The input card is not modified. It fails with ErrInvalidOutcome or
// ErrInvalidCard before computing anything.
func (s *Scheduler) Grade(card domain.Flashcard, outcome Outcome, now time.Time) (domain.Flashcard, error) {
	if !outcome.IsValid() {
		return domain.Flashcard{}, fmt.Errorf("%w: %d", ErrInvalidOutcome, int(outcome))
	}
	if err := s.Check(card); err != nil {
		return domain.Flashcard{}, err
	}

	p := s.params
	c := card
	ease := c.EaseFactor
	if ease == 0 && !c.Reviewed() {
		ease = p.InitialEase
	}

	if outcome.Passed() {
		c.Repetitions++
		c.Interval = s.passInterval(c.Repetitions, card.Interval, ease)
		ease += s.adjustment(outcome)
	} else {
		c.Repetitions = 0
		c.Interval = p.FailInterval
		ease -= p.FailPenalty
	}
	c.EaseFactor = math.Max(ease, p.EaseFloor)

	reviewed := now
	next := now.Add(time.Duration(c.Interval) * day)
	c.LastReviewed = &reviewed
	c.NextReview = &next
	c.LastOutcome = int(outcome)
	return c, nil
}

// Preview returns the state the card would have after each possible outcome.
func (s *Scheduler) Preview(card domain.Flashcard, now time.Time) (map[Outcome]domain.Flashcard, error) {
	out := make(map[Outcome]domain.Flashcard, 4)
	for _, o := range Outcomes() {
		c, err := s.Grade(card, o, now)
		if err != nil {
			return nil, err
		}
		out[o] = c
	}
	return out, nil
}

// passInterval is the interval after the reps-th consecutive success, using
// the ease the card had before this review.
func (s *Scheduler) passInterval(reps, previous int, ease float64) int {
	p := s.params
	var ivl int
	switch reps {
	case 1:
		ivl = p.FirstInterval
	case 2:
		ivl = p.SecondInterval
	default:
		ivl = int(math.Min(math.Round(float64(previous)*ease), float64(p.MaxInterval)))
	}
	return min(max(ivl, 1), p.MaxInterval)
}

func (s *Scheduler) adjustment(o Outcome) float64 {
	switch o {
	case Hard:
		return s.params.HardAdjust
	case Easy:
		return s.params.EasyAdjust
	default:
		return s.params.GoodAdjust
	}
}

// IsDue reports whether the card should be shown at now: it has never been
// scheduled, or its next review time has arrived.
func IsDue(card domain.Flashcard, now time.Time) bool {
	return card.NextReview == nil || !card.NextReview.After(now)
}

// Partition splits cards into those due at now and the rest, keeping order.
func Partition(cards []domain.Flashcard, now time.Time) (due, notDue []domain.Flashcard) {
	for _, c := range cards {
		if IsDue(c, now) {
			due = append(due, c)
		} else {
			notDue = append(notDue, c)
		}
	}
	return due, notDue
}
