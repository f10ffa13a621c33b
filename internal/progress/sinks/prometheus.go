package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Eli-Gooding/research-v1-sub000/internal/progress"
)

// PrometheusSink exports research pipeline metrics. It owns all collectors
// for jobs started/completed/running, stage durations, category outcomes,
// and completion-service spend.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	stageDuration *prometheus.HistogramVec
	categoriesDone *prometheus.CounterVec

	promptTokens     prometheus.Counter
	completionTokens prometheus.Counter
	completionCost   prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "research_jobs_started_total",
			Help: "Total research jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_jobs_completed_total",
			Help: "Total research jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "research_jobs_running",
			Help: "Current number of running research jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "research_job_runtime_seconds",
			Help:    "Wall time per completed research job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "research_stage_duration_seconds",
			Help:    "Stage duration partitioned by stage name.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		categoriesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "research_categories_completed_total",
			Help: "Category analyses completed partitioned by category and result.",
		}, []string{"category", "result"}),
		promptTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "research_prompt_tokens_total",
			Help: "Prompt tokens consumed by the completion service.",
		}),
		completionTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "research_completion_tokens_total",
			Help: "Completion tokens produced by the completion service.",
		}),
		completionCost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "research_completion_cost_dollars_total",
			Help: "Estimated completion-service spend in dollars.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.stageDuration,
		s.categoriesDone,
		s.promptTokens,
		s.completionTokens,
		s.completionCost,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	if evt.PromptTokens > 0 {
		s.promptTokens.Add(float64(evt.PromptTokens))
	}
	if evt.CompletionTokens > 0 {
		s.completionTokens.Add(float64(evt.CompletionTokens))
	}
	if evt.Cost > 0 {
		s.completionCost.Add(evt.Cost)
	}

	switch evt.Kind {
	case progress.KindJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.KindStageDone:
		if evt.Dur > 0 {
			s.stageDuration.WithLabelValues(evt.Stage).Observe(evt.Dur.Seconds())
		}
	case progress.KindCategoryDone:
		result := evt.Result
		if result == "" {
			result = "success"
		}
		s.categoriesDone.WithLabelValues(evt.Category, result).Inc()
	case progress.KindJobDone, progress.KindJobError:
		label := "success"
		if evt.Kind == progress.KindJobError {
			label = "error"
		}
		s.jobsCompleted.WithLabelValues(label).Inc()
		if evt.Dur > 0 {
			s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.JobID) {
			s.jobsRunning.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
