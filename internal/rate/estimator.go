// Package rate converts timestamped event weights into a smoothed events-per-second figure.
package rate

import (
	"math"
	"time"
)

const (
	// DefaultHalfLife is how long it takes for a sample's influence to halve.
	DefaultHalfLife = 500 * time.Millisecond
	// DefaultDepth caps the number of samples an estimator remembers.
	DefaultDepth = 100
)

type sample struct {
	at     time.Time
	weight float64
}

// Estimator keeps an exponentially decayed sum over a bounded ring of samples.
// The reported rate is sum·ln2/halfLife, so a steady stream of r events per
// second converges on r once the ring spans several half-lives.
//
// Estimator is not safe for concurrent use.
type Estimator struct {
	halfLife float64
	ring     []sample
	head     int
	count    int
	sum      float64
	last     time.Time
}

// New builds an estimator. Non-positive arguments fall back to the defaults.
func New(halfLife time.Duration, depth int) *Estimator {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Estimator{
		halfLife: halfLife.Seconds(),
		ring:     make([]sample, depth),
	}
}

// Update records weight at the provided instant. Timestamps earlier than the
// previous sample are treated as simultaneous with it.
func (e *Estimator) Update(at time.Time, weight float64) {
	if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		weight = 0
	}
	if e.count > 0 {
		if at.Before(e.last) {
			at = e.last
		}
		e.sum *= e.decay(at.Sub(e.last))
	}
	if e.count == len(e.ring) {
		oldest := e.ring[e.head]
		e.sum -= oldest.weight * e.decay(at.Sub(oldest.at))
		if e.sum < 0 {
			e.sum = 0
		}
		e.count--
		e.head = (e.head + 1) % len(e.ring)
	}
	e.ring[(e.head+e.count)%len(e.ring)] = sample{at: at, weight: weight}
	e.count++
	e.sum += weight
	e.last = at
}

// Rate reports the smoothed rate as of the most recent sample. It is 0 before
// any sample has been recorded.
func (e *Estimator) Rate() float64 {
	if e.count == 0 {
		return 0
	}
	return e.sum * math.Ln2 / e.halfLife
}

// Samples returns how many samples are currently remembered.
func (e *Estimator) Samples() int { return e.count }

func (e *Estimator) decay(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	return math.Exp2(-elapsed.Seconds() / e.halfLife)
}
