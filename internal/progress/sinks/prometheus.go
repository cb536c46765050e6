package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/forkcrawl/internal/progress"
)

const (
	resultComplete = "complete"
	resultAborted  = "aborted"
)

// PrometheusSink exports run, round and fork/join activity as Prometheus
// collectors.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec

	rounds        prometheus.Counter
	urlsVisited   prometheus.Counter
	roundDuration prometheus.Histogram
	forks         prometheus.Counter
	merges        prometheus.Counter
	aborts        prometheus.Counter
	outstanding   prometheus.Gauge

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkcrawl_runs_started_total",
			Help: "Total crawl runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forkcrawl_runs_finished_total",
			Help: "Total crawl runs finished partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forkcrawl_runs_active",
			Help: "Crawl runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forkcrawl_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}, []string{"result"}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkcrawl_rounds_total",
			Help: "Parse rounds completed across all tasks.",
		}),
		urlsVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkcrawl_urls_visited_total",
			Help: "URLs handed to handlers after budget reservation.",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forkcrawl_round_duration_seconds",
			Help:    "Time spent parsing one batch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		forks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkcrawl_forks_total",
			Help: "Worker tasks forked for delegated batches.",
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkcrawl_merges_total",
			Help: "Handler merges applied to root handlers.",
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forkcrawl_aborts_total",
			Help: "Runs aborted by a handler or cancellation.",
		}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forkcrawl_tasks_outstanding",
			Help: "Join counter of the most recently reporting run.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsActive,
		s.runDuration,
		s.rounds,
		s.urlsVisited,
		s.roundDuration,
		s.forks,
		s.merges,
		s.aborts,
		s.outstanding,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRoundDone:
		s.rounds.Inc()
		s.urlsVisited.Add(float64(evt.Items))
		if evt.Dur > 0 {
			s.roundDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageFork:
		s.forks.Inc()
	case progress.StageMerge:
		s.merges.Inc()
	case progress.StageAbort:
		s.aborts.Inc()
		s.tracker.abort(evt.RunID)
	case progress.StageRunDone:
		result := resultComplete
		if s.tracker.aborted(evt.RunID) {
			result = resultAborted
		}
		s.runsFinished.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.finish(evt.RunID) {
			s.runsActive.Dec()
		}
	}
	if evt.Stage != progress.StageRunStart && evt.Stage != progress.StageRunDone {
		s.outstanding.Set(float64(evt.Outstanding))
	}
	if evt.Stage == progress.StageRunDone {
		s.outstanding.Set(0)
	}
}

// Close implements progress.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runState struct {
	aborted bool
}

type runTracker struct {
	mu   sync.Mutex
	runs map[[16]byte]*runState
}

func newRunTracker() *runTracker {
	return &runTracker{runs: make(map[[16]byte]*runState)}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.runs[id]; ok {
		return false
	}
	t.runs[id] = &runState{}
	return true
}

func (t *runTracker) abort(id [16]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.runs[id]; ok {
		st.aborted = true
	}
}

func (t *runTracker) aborted(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.runs[id]
	return ok && st.aborted
}

func (t *runTracker) finish(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.runs[id]; !ok {
		return false
	}
	delete(t.runs, id)
	return true
}
