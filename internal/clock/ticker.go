package clock

import (
	"sync"
	"time"
)

// Ticker delivers ticks until stopped. Once Stop returns no further tick is delivered.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates tickers; sessions take one so tests can drive time.
type TickerFactory func(d time.Duration) Ticker

// NewTicker wraps time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }

func (r *realTicker) Stop() { r.t.Stop() }

// ManualTicker is a Ticker fired by hand. Its channel is unbuffered, so Tick
// returns only once the consumer has received the tick.
type ManualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		ch:      make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

func (m *ManualTicker) C() <-chan time.Time { return m.ch }

func (m *ManualTicker) Stop() {
	m.once.Do(func() { close(m.stopped) })
}

// Tick delivers one tick. It reports false if the ticker was stopped before
// the tick was received.
func (m *ManualTicker) Tick() bool {
	select {
	case <-m.stopped:
		return false
	default:
	}
	select {
	case m.ch <- time.Now():
		return true
	case <-m.stopped:
		return false
	}
}

// Stopped reports whether Stop was called.
func (m *ManualTicker) Stopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}

// ManualTickers is a TickerFactory that hands out ManualTickers and remembers
// them in creation order.
type ManualTickers struct {
	mu      sync.Mutex
	created []*ManualTicker
}

func NewManualTickers() *ManualTickers {
	return &ManualTickers{}
}

// New implements TickerFactory.
func (f *ManualTickers) New(time.Duration) Ticker {
	t := NewManualTicker()
	f.mu.Lock()
	f.created = append(f.created, t)
	f.mu.Unlock()
	return t
}

// Get returns the i-th created ticker, or nil.
func (f *ManualTickers) Get(i int) *ManualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.created) {
		return nil
	}
	return f.created[i]
}

// Len returns how many tickers were created.
func (f *ManualTickers) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}
