package logging

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

type eventKey struct {
	component string
	event     string
}

type eventTally struct {
	count     int64
	firstSeen time.Time
	lastSeen  time.Time
	attrs     []slog.Attr
}

// Aggregator counts repetitive events (one per capture poll, prompt probe,
// rate-limited status read) and writes one "event_summary" record per
// event every interval instead of one record per occurrence.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	tallies map[eventKey]*eventTally

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewAggregator returns an aggregator flushing every intervalSecs seconds.
// A nil logger drops every summary.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		now:      time.Now,
		tallies:  make(map[eventKey]*eventTally),
		stop:     make(chan struct{}),
	}
}

// Start launches the periodic flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop ends the flush goroutine and writes whatever is still pending.
// Calling it more than once is harmless.
func (a *Aggregator) Stop() {
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()
	a.Flush()
}

// Record counts one occurrence. Attrs from the latest call replace earlier ones.
func (a *Aggregator) Record(component, event string, attrs ...slog.Attr) {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	k := eventKey{component: component, event: event}
	t, ok := a.tallies[k]
	if !ok {
		t = &eventTally{firstSeen: now}
		a.tallies[k] = t
	}
	t.count++
	t.lastSeen = now
	if len(attrs) > 0 {
		t.attrs = attrs
	}
}

// Pending reports the unflushed count for one event.
func (a *Aggregator) Pending(component, event string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tallies[eventKey{component: component, event: event}]; ok {
		return t.count
	}
	return 0
}

func (a *Aggregator) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Flush()
		case <-a.stop:
			return
		}
	}
}

// Flush writes one summary per pending event, ordered by component then event.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if len(a.tallies) == 0 {
		a.mu.Unlock()
		return
	}
	pending := a.tallies
	a.tallies = make(map[eventKey]*eventTally)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}

	keys := make([]eventKey, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].component != keys[j].component {
			return keys[i].component < keys[j].component
		}
		return keys[i].event < keys[j].event
	})

	for _, k := range keys {
		t := pending[k]
		args := []any{
			slog.String("component", k.component),
			slog.String("event", k.event),
			slog.Int64("count", t.count),
			slog.Duration("span", t.lastSeen.Sub(t.firstSeen)),
		}
		for _, attr := range t.attrs {
			args = append(args, attr)
		}
		a.logger.Info("event_summary", args...)
	}
}
