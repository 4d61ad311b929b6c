package scheduler

import "errors"

// Use errors.Is to check: errors.Is(err, scheduler.ErrInvalidCard)
var (
	ErrInvalidOutcome = errors.New("scheduler: invalid outcome")
	ErrInvalidCard    = errors.New("scheduler: invalid card state")
	ErrInvalidParams  = errors.New("scheduler: invalid parameters")
)
