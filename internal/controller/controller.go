// Package controller orchestrates one nightly run: resolve the active
// symbol universe, fan Phase A (raw fetch) messages out onto the queue,
// wait at the barrier until every symbol has either landed a raw series or
// exhausted its retries, then fan Phase B (derived compute) messages out
// over whatever symbols cleared the barrier.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sentinel-quant/nightly-compute/internal/domain"
	"github.com/sentinel-quant/nightly-compute/internal/metrics"
	"github.com/sentinel-quant/nightly-compute/internal/queue"
	"github.com/sentinel-quant/nightly-compute/internal/repository"
	"github.com/sentinel-quant/nightly-compute/internal/timekeeping"
	"github.com/sentinel-quant/nightly-compute/pkg/logger"
)

// Controller owns one run at a time. A second run is refused while one is
// in flight rather than queued, since overlapping runs would race on the
// same business date's rows.
type Controller struct {
	repo    *repository.Repository
	q       queue.Queue
	clock   *timekeeping.Clock
	metrics *metrics.Registry
	log     zerolog.Logger

	mu            sync.Mutex
	current       *domain.RunState
	symbols       []domain.ActiveSymbol // the universe fanned out for the current run, retained for the barrier
	eligibleCount int                   // symbols fanned out to Phase B after the barrier; 0 until AdvanceToDerived runs
}

func New(repo *repository.Repository, q queue.Queue, clock *timekeeping.Clock, log zerolog.Logger) *Controller {
	return &Controller{
		repo:  repo,
		q:     q,
		clock: clock,
		log:   log.With().Str("component", "controller").Logger(),
	}
}

// WithMetrics attaches a metrics registry. Optional: a Controller built
// without one simply doesn't record run-level Prometheus gauges.
func (c *Controller) WithMetrics(m *metrics.Registry) *Controller {
	c.metrics = m
	return c
}

// Schedule registers the nightly trigger in the pipeline's configured
// timezone. cronExpr follows robfig/cron's standard five-field syntax.
func (c *Controller) Schedule(cronExpr string) (*cron.Cron, error) {
	sched := cron.New(cron.WithLocation(c.clock.Location()))
	_, err := sched.AddFunc(cronExpr, func() {
		ctx := context.Background()
		if err := c.StartRun(ctx); err != nil {
			c.log.Error().Err(err).Msg("nightly run failed to start")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule nightly trigger: %w", err)
	}
	sched.Start()
	return sched, nil
}

// CurrentRun returns a snapshot of the in-flight run, or nil if none is
// running. Used by the run-progress stream.
func (c *Controller) CurrentRun() *domain.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// StartRun resolves the active universe and fans Phase A out over the
// queue. The business date is captured once here and carried through every
// message of the run, even if the run itself crosses local midnight.
func (c *Controller) StartRun(ctx context.Context) error {
	c.mu.Lock()
	if c.current != nil && c.current.Phase != "done" && c.current.Phase != "failed" {
		c.mu.Unlock()
		return fmt.Errorf("run %s already in progress", c.current.CorrelationID)
	}
	c.mu.Unlock()

	correlationID := uuid.NewString()
	businessDate := c.clock.Today()
	runLog := logger.WithCorrelationID(c.log, correlationID).With().Str("business_date", timekeeping.FormatDate(businessDate)).Logger()

	symbols, err := c.repo.ListActiveSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list active symbols: %w", err)
	}
	if len(symbols) == 0 {
		runLog.Warn().Msg("no active symbols, skipping run")
		return nil
	}

	state := &domain.RunState{
		CorrelationID: correlationID,
		BusinessDate:  businessDate,
		StartedAt:     c.clock.Now(),
		Phase:         "raw",
		TotalSymbols:  len(symbols),
	}
	c.mu.Lock()
	c.current = state
	c.symbols = symbols
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RunSymbols.WithLabelValues("total").Set(float64(len(symbols)))
		c.metrics.RunSymbols.WithLabelValues("raw_completed").Set(0)
		c.metrics.RunSymbols.WithLabelValues("raw_failed").Set(0)
		c.metrics.RunSymbols.WithLabelValues("derived_completed").Set(0)
		c.metrics.RunSymbols.WithLabelValues("derived_failed").Set(0)
	}

	runLog.Info().Int("symbols", len(symbols)).Msg("starting nightly run, phase A (raw)")

	for _, sym := range symbols {
		msg := queue.Message{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			Phase:         queue.PhaseRaw,
			Priority:      queue.PriorityNormal,
			DisplaySymbol: sym.DisplaySymbol,
			BusinessDate:  businessDate,
			EnqueuedAt:    c.clock.Now(),
		}
		if err := c.q.Enqueue(msg); err != nil {
			runLog.Error().Err(err).Str("symbol", sym.DisplaySymbol).Msg("failed to enqueue raw fetch")
		}
	}

	return nil
}

// AdvanceToDerived is the barrier: it is called once Phase A has drained
// (queue empty of PhaseRaw messages for this run, per the worker's
// completion callback) and fans Phase B out over every symbol that has a
// stored raw series for this business date. Symbols whose raw fetch
// exhausted retries are skipped — their artifact stays absent and the read
// API reports PrecomputeMissing for them rather than blocking the rest of
// the run.
func (c *Controller) AdvanceToDerived(ctx context.Context, correlationID string, symbols []domain.ActiveSymbol, businessDate time.Time) error {
	c.mu.Lock()
	if c.current != nil && c.current.CorrelationID == correlationID {
		c.current.Phase = "barrier"
	}
	c.mu.Unlock()

	eligible := make([]domain.ActiveSymbol, 0, len(symbols))
	for _, sym := range symbols {
		ok, err := c.repo.HasRaw(ctx, sym.DisplaySymbol, businessDate)
		if err != nil {
			c.log.Error().Err(err).Str("symbol", sym.DisplaySymbol).Msg("failed to check raw existence at barrier")
			continue
		}
		if ok {
			eligible = append(eligible, sym)
		}
	}

	c.mu.Lock()
	if c.current != nil && c.current.CorrelationID == correlationID {
		c.current.Phase = "derived"
	}
	c.mu.Unlock()

	c.log.Info().Str("correlation_id", correlationID).Int("eligible", len(eligible)).Int("total", len(symbols)).Msg("barrier cleared, phase B (derived)")

	c.mu.Lock()
	if c.current != nil && c.current.CorrelationID == correlationID {
		c.eligibleCount = len(eligible)
	}
	c.mu.Unlock()

	if len(eligible) == 0 {
		c.FinishRun(correlationID, true)
		return nil
	}

	for _, sym := range eligible {
		msg := queue.Message{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			Phase:         queue.PhaseDerived,
			Priority:      queue.PriorityNormal,
			DisplaySymbol: sym.DisplaySymbol,
			BusinessDate:  businessDate,
			EnqueuedAt:    c.clock.Now(),
		}
		if err := c.q.Enqueue(msg); err != nil {
			c.log.Error().Err(err).Str("symbol", sym.DisplaySymbol).Msg("failed to enqueue derived compute")
		}
	}
	return nil
}

// FinishRun marks the current run done or failed and records final counts.
func (c *Controller) FinishRun(correlationID string, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.CorrelationID != correlationID {
		return
	}
	now := c.clock.Now()
	c.current.FinishedAt = &now
	if failed {
		c.current.Phase = "failed"
	} else {
		c.current.Phase = "done"
	}
}

// RecordRawResult updates the run's raw-phase counters, called by the
// worker after each Phase A message completes or dead-letters. Once every
// symbol has either completed or exhausted its attempts, it triggers the
// barrier transition into Phase B on the caller's goroutine.
func (c *Controller) RecordRawResult(correlationID string, success bool) {
	c.mu.Lock()
	if c.current == nil || c.current.CorrelationID != correlationID {
		c.mu.Unlock()
		return
	}
	if success {
		c.current.RawCompleted++
	} else {
		c.current.RawFailed++
	}
	drained := c.current.Phase == "raw" && c.current.RawCompleted+c.current.RawFailed >= c.current.TotalSymbols
	symbols := c.symbols
	businessDate := c.current.BusinessDate
	if drained {
		c.current.Phase = "barrier" // claimed immediately, inside the lock, so a concurrent call can't double-trigger
	}
	if c.metrics != nil {
		c.metrics.RunSymbols.WithLabelValues("raw_completed").Set(float64(c.current.RawCompleted))
		c.metrics.RunSymbols.WithLabelValues("raw_failed").Set(float64(c.current.RawFailed))
	}
	c.mu.Unlock()

	if drained {
		if err := c.AdvanceToDerived(context.Background(), correlationID, symbols, businessDate); err != nil {
			c.log.Error().Err(err).Str("correlation_id", correlationID).Msg("barrier transition failed")
		}
	}
}

// RecordDerivedResult updates the run's derived-phase counters, and calls
// FinishRun once every symbol fanned out to Phase B has either completed or
// exhausted its attempts.
func (c *Controller) RecordDerivedResult(correlationID string, success bool) {
	c.mu.Lock()
	if c.current == nil || c.current.CorrelationID != correlationID {
		c.mu.Unlock()
		return
	}
	if success {
		c.current.DerivedCompleted++
	} else {
		c.current.DerivedFailed++
	}
	drained := c.current.Phase == "derived" && c.current.DerivedCompleted+c.current.DerivedFailed >= c.eligibleCount
	if c.metrics != nil {
		c.metrics.RunSymbols.WithLabelValues("derived_completed").Set(float64(c.current.DerivedCompleted))
		c.metrics.RunSymbols.WithLabelValues("derived_failed").Set(float64(c.current.DerivedFailed))
	}
	c.mu.Unlock()

	if drained {
		c.FinishRun(correlationID, false)
	}
}

// RequestOnDemandReport queues a single symbol's raw-fetch-then-derive
// chain outside the nightly run, piggybacking on the same worker pool
// (§3.6). The worker advances it from raw to derived itself once the raw
// step lands; this call only enqueues the first step and records the job.
func (c *Controller) RequestOnDemandReport(ctx context.Context, displaySymbol string) (string, error) {
	if _, err := c.repo.Resolve(ctx, displaySymbol); err != nil {
		return "", fmt.Errorf("resolve %s for on-demand report: %w", displaySymbol, err)
	}

	jobID := uuid.NewString()
	businessDate := c.clock.Today()
	now := c.clock.Now()

	job := domain.JobStatus{
		JobID:       jobID,
		Symbol:      displaySymbol,
		Status:      "queued",
		RequestedAt: now,
	}
	if err := c.repo.CreateJobStatus(ctx, job); err != nil {
		return "", fmt.Errorf("create job status for %s: %w", displaySymbol, err)
	}

	msg := queue.Message{
		ID:            jobID,
		CorrelationID: jobID,
		Phase:         queue.PhaseRaw,
		Priority:      queue.PriorityHigh,
		DisplaySymbol: displaySymbol,
		BusinessDate:  businessDate,
		EnqueuedAt:    now,
		JobID:         jobID,
	}
	if err := c.q.Enqueue(msg); err != nil {
		return "", fmt.Errorf("enqueue on-demand report for %s: %w", displaySymbol, err)
	}
	return jobID, nil
}
