package scheduler

import (
	"encoding"
	"fmt"
	"strconv"
	"strings"
)

// Outcome is the user's grade for a single review.
type Outcome int

const (
	Again Outcome = 1 // Failed to recall.
	Hard  Outcome = 2 // Recalled with significant difficulty.
	Good  Outcome = 3 // Recalled with some effort.
	Easy  Outcome = 4 // Recalled effortlessly.
)

var outcomeNames = [...]string{Again: "again", Hard: "hard", Good: "good", Easy: "easy"}

var (
	_ fmt.Stringer             = Outcome(0)
	_ encoding.TextMarshaler   = Outcome(0)
	_ encoding.TextUnmarshaler = (*Outcome)(nil)
)

// Outcomes lists every valid outcome in ascending order.
func Outcomes() []Outcome {
	return []Outcome{Again, Hard, Good, Easy}
}

// IsValid reports whether o is one of Again, Hard, Good or Easy.
func (o Outcome) IsValid() bool {
	return o >= Again && o <= Easy
}

// Passed reports whether the outcome counts as a successful recall.
func (o Outcome) Passed() bool {
	return o >= Hard && o <= Easy
}

func (o Outcome) String() string {
	if o.IsValid() {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ParseOutcome accepts an outcome name ("again", "Good", ...) or its ordinal ("1".."4").
func ParseOutcome(s string) (Outcome, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for o := Again; o <= Easy; o++ {
		if outcomeNames[o] == s {
			return o, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Outcome(n).IsValid() {
		return Outcome(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if !o.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOutcome, int(o))
	}
	return []byte(outcomeNames[o]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	v, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
