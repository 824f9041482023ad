// Package frameclock provides the render frame cadence driving playback.
package frameclock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultFrameRateHz is used when a non-positive rate is configured.
const DefaultFrameRateHz = 60

const taskBacklog = 64

// Loop delivers frame ticks at a fixed target frequency. Callbacks requested
// through RequestTick fire once on the next tick; tasks submitted with Post run
// on the same goroutine, so state touched only from callbacks and tasks needs no locking.
type Loop struct {
	clock    clockwork.Clock
	interval time.Duration
	monitor  *Monitor

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]func(time.Time)

	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	started  bool
}

// NewLoop configures a loop that targets the provided frames per second.
func NewLoop(clock clockwork.Clock, targetHz float64) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if targetHz <= 0 {
		targetHz = DefaultFrameRateHz
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / DefaultFrameRateHz
	}
	return &Loop{
		clock:    clock,
		interval: interval,
		monitor:  NewMonitor(),
		pending:  make(map[uint64]func(time.Time)),
		tasks:    make(chan func(), taskBacklog),
		done:     make(chan struct{}),
	}
}

// Interval exposes the configured frame spacing.
func (l *Loop) Interval() time.Duration { return l.interval }

// Monitor returns the frame cost monitor.
func (l *Loop) Monitor() *Monitor { return l.monitor }

// RequestTick schedules fn for the next frame. The returned function cancels
// the request if it has not fired yet; calling it more than once is harmless.
func (l *Loop) RequestTick(fn func(now time.Time)) func() {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.pending[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}
}

// Post queues task to run on the loop goroutine. It reports false once the
// loop has stopped.
func (l *Loop) Post(task func()) bool {
	if task == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- task:
		return true
	case <-l.done:
		return false
	}
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		return
	default:
	}
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	l.mu.Unlock()

	ticker := l.clock.NewTicker(l.interval)
	go func() {
		defer l.stopOnce.Do(func() { close(l.done) })
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case task := <-l.tasks:
				task()
			case now := <-ticker.Chan():
				l.fire(now)
			}
		}
	}()
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	started := l.started
	l.mu.Unlock()
	if !started {
		l.stopOnce.Do(func() { close(l.done) })
		return
	}
	cancel()
	<-l.done
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) fire(now time.Time) {
	//1.- Detach the pending callbacks so anything they request lands on the next frame.
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	callbacks := l.pending
	l.pending = make(map[uint64]func(time.Time))
	l.mu.Unlock()

	//2.- Run them in request order and record how long the frame took.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	start := l.clock.Now()
	for _, id := range ids {
		callbacks[id](now)
	}
	l.monitor.Observe(l.clock.Since(start))
}
