package progress

import (
	"fmt"
	"math"

	"github.com/conorfennell/cardwise/internal/scheduler"
)

// DefaultLevelBase is the points needed to reach level 2. Each further level
// needs twice the previous threshold.
const DefaultLevelBase int64 = 100

// Ladder maps cumulative points to levels using doubling thresholds.
type Ladder struct {
	Base int64
}

// DefaultLadder uses thresholds 100, 200, 400, 800, ...
func DefaultLadder() Ladder {
	return Ladder{Base: DefaultLevelBase}
}

// LevelFor returns 1 plus the number of thresholds that points meets or
// exceeds. It is non-decreasing in points.
func (l Ladder) LevelFor(points int64) int {
	base := l.Base
	if base <= 0 {
		base = DefaultLevelBase
	}
	level := 1
	for threshold := base; points >= threshold; threshold *= 2 {
		level++
		if threshold > math.MaxInt64/2 {
			break
		}
	}
	return level
}

// ApplyPoints adds delta to the current points and recomputes the level.
// The sum saturates at the int64 bounds instead of wrapping. The caller may
// skip persisting the level when it is unchanged.
func (l Ladder) ApplyPoints(currentPoints int64, currentLevel int, delta int64) (newPoints int64, newLevel int) {
	newPoints = addSaturating(currentPoints, delta)
	return newPoints, l.LevelFor(newPoints)
}

func addSaturating(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

// LevelFor uses the default ladder.
func LevelFor(points int64) int {
	return DefaultLadder().LevelFor(points)
}

// ApplyPoints uses the default ladder.
func ApplyPoints(currentPoints int64, currentLevel int, delta int64) (int64, int) {
	return DefaultLadder().ApplyPoints(currentPoints, currentLevel, delta)
}

// PointTable is the number of points awarded for each outcome.
type PointTable map[scheduler.Outcome]int64

// DefaultPointTable awards nothing for a failed recall.
func DefaultPointTable() PointTable {
	return PointTable{
		scheduler.Again: 0,
		scheduler.Hard:  5,
		scheduler.Good:  10,
		scheduler.Easy:  15,
	}
}

// PointsFor returns the award for o. Unknown outcomes are an error.
func (t PointTable) PointsFor(o scheduler.Outcome) (int64, error) {
	if !o.IsValid() {
		return 0, fmt.Errorf("%w: %d", scheduler.ErrInvalidOutcome, int(o))
	}
	return t[o], nil
}
