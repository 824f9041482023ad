package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultKeyframeInterval is how many turns separate stored world snapshots.
const DefaultKeyframeInterval = 50

// ErrEmptyMatch is returned when a match has no deltas at all.
var ErrEmptyMatch = errors.New("match has no turns")

// Options tune a Match.
type Options struct {
	// KeyframeInterval controls snapshot spacing. Zero selects the default.
	KeyframeInterval int
	// Clock measures the compute budget. Nil selects the real clock.
	Clock clockwork.Clock
}

// Match holds the recorded deltas and a cursor over the computed turns.
//
// Match is not safe for concurrent use; the playback loop owns it.
type Match struct {
	clock    clockwork.Clock
	deltas   []Delta
	interval int

	current   *World
	target    int
	farthest  int
	keyframes []*World
}

// New builds a match over deltas, computing turn 0 eagerly.
func New(minCorner, maxCorner Vec2, deltas []Delta, opts Options) (*Match, error) {
	if len(deltas) == 0 {
		return nil, ErrEmptyMatch
	}
	for i, delta := range deltas {
		if delta.Turn != i {
			return nil, fmt.Errorf("delta %d is labelled turn %d", i, delta.Turn)
		}
		if err := delta.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.KeyframeInterval <= 0 {
		opts.KeyframeInterval = DefaultKeyframeInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	world := NewWorld(minCorner, maxCorner)
	world.Apply(deltas[0])
	return &Match{
		clock:     opts.Clock,
		deltas:    deltas,
		interval:  opts.KeyframeInterval,
		current:   world,
		keyframes: []*World{world.Clone()},
	}, nil
}

// Current returns the realized world. Callers must treat it as read-only.
func (m *Match) Current() *World { return m.current }

// CurrentTurn returns the realized turn.
func (m *Match) CurrentTurn() int { return m.current.Turn }

// FarthestTurn returns the highest turn ever computed.
func (m *Match) FarthestTurn() int { return m.farthest }

// DeltaCount is the number of recorded turns.
func (m *Match) DeltaCount() int { return len(m.deltas) }

// NextDelta returns the delta taking turn to turn+1, if one exists.
func (m *Match) NextDelta(turn int) (*Delta, bool) {
	next := turn + 1
	if turn < 0 || next >= len(m.deltas) {
		return nil, false
	}
	return &m.deltas[next], true
}

// SeekTo redirects the cursor. The target is clamped into the recorded range;
// the work happens in Compute.
func (m *Match) SeekTo(turn int) {
	if turn < 0 {
		turn = 0
	}
	if last := len(m.deltas) - 1; turn > last {
		turn = last
	}
	m.target = turn
}

// Compute moves the realized turn toward the target, stopping once the budget
// has been spent. A non-positive budget makes no progress.
func (m *Match) Compute(budget time.Duration) {
	if budget <= 0 {
		return
	}
	start := m.clock.Now()
	m.jump()
	for m.current.Turn < m.target && m.clock.Since(start) < budget {
		m.step()
	}
}

// jump restores the keyframe closest to the target when that saves work.
func (m *Match) jump() {
	switch {
	case m.target < m.current.Turn:
		m.restore(m.keyframes[m.target/m.interval])
	case m.target > m.current.Turn:
		reach := m.target
		if reach > m.farthest {
			reach = m.farthest
		}
		if k := reach / m.interval; k*m.interval > m.current.Turn {
			m.restore(m.keyframes[k])
		}
	}
}

func (m *Match) restore(keyframe *World) {
	m.current = keyframe.Clone()
}

func (m *Match) step() {
	next := m.current.Turn + 1
	m.current.Apply(m.deltas[next])
	if next > m.farthest {
		m.farthest = next
		if next%m.interval == 0 {
			m.keyframes = append(m.keyframes, m.current.Clone())
		}
	}
}
