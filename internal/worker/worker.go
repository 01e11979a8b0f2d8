// Package worker pulls messages off the queue and executes one phase of
// one symbol's nightly work: Phase A fetches and stores a raw series,
// Phase B reads that raw series back and computes everything derived from
// it. Every write is an idempotent upsert, so redelivery after a crash
// mid-message reprocesses safely rather than duplicating rows.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sentinel-quant/nightly-compute/internal/analytics"
	"github.com/sentinel-quant/nightly-compute/internal/domain"
	"github.com/sentinel-quant/nightly-compute/internal/errs"
	"github.com/sentinel-quant/nightly-compute/internal/fetcher"
	"github.com/sentinel-quant/nightly-compute/internal/metrics"
	"github.com/sentinel-quant/nightly-compute/internal/queue"
	"github.com/sentinel-quant/nightly-compute/internal/repository"
	"github.com/sentinel-quant/nightly-compute/internal/timekeeping"
	"github.com/sentinel-quant/nightly-compute/pkg/logger"
)

// CompletionReporter is satisfied by the controller; the worker reports
// per-message outcomes back to it so the run's progress counters and the
// barrier decision stay accurate without the worker needing queue-wide
// visibility.
type CompletionReporter interface {
	RecordRawResult(correlationID string, success bool)
	RecordDerivedResult(correlationID string, success bool)
}

// Pool runs concurrency workers draining q until the context is canceled.
type Pool struct {
	q           queue.Queue
	repo        *repository.Repository
	fetch       *fetcher.Client
	clock       *timekeeping.Clock
	reporter    CompletionReporter
	metrics     *metrics.Registry
	concurrency int
	budget      time.Duration
	visibility  time.Duration
	log         zerolog.Logger
}

type Config struct {
	Concurrency       int
	Budget            time.Duration
	VisibilityTimeout time.Duration
}

func New(q queue.Queue, repo *repository.Repository, fetch *fetcher.Client, clock *timekeeping.Clock, reporter CompletionReporter, cfg Config, log zerolog.Logger) *Pool {
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 8
	}
	budget := cfg.Budget
	if budget == 0 {
		budget = 4 * time.Minute
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 5 * time.Minute
	}

	return &Pool{
		q:           q,
		repo:        repo,
		fetch:       fetch,
		clock:       clock,
		reporter:    reporter,
		concurrency: concurrency,
		budget:      budget,
		visibility:  visibility,
		log:         log.With().Str("component", "worker").Logger(),
	}
}

// WithMetrics attaches a metrics registry. Optional: a Pool built without
// one simply doesn't record job-level Prometheus metrics.
func (p *Pool) WithMetrics(m *metrics.Registry) *Pool {
	p.metrics = m
	return p
}

// Run blocks, draining the queue with cfg.Concurrency goroutines until ctx
// is canceled.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < p.concurrency; i++ {
		go func(id int) {
			p.loop(ctx, id)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < p.concurrency; i++ {
		<-done
	}
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	log := p.log.With().Int("worker_id", workerID).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(p.q.Size()))
		}

		msgs, err := p.q.Receive(1, p.visibility)
		if err != nil {
			log.Error().Err(err).Msg("receive failed")
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		msg := msgs[0]
		p.process(ctx, log, msg)
	}
}

// process runs one message against the worker's wall-clock budget, leaving
// at least 20% of the budget as finalization margin so a message that
// blows the budget still gets its failure recorded and nacked cleanly
// instead of being killed mid-write.
func (p *Pool) process(ctx context.Context, log zerolog.Logger, msg queue.Message) {
	msgLog := logger.WithCorrelationID(log, msg.CorrelationID).With().
		Str("symbol", msg.DisplaySymbol).
		Str("phase", string(msg.Phase)).
		Int("attempt", msg.Attempt).
		Logger()

	workBudget := time.Duration(float64(p.budget) * 0.8)
	procCtx, cancel := context.WithTimeout(ctx, workBudget)
	defer cancel()

	start := time.Now()
	var err error
	switch msg.Phase {
	case queue.PhaseRaw:
		err = p.processRaw(procCtx, msg)
	case queue.PhaseDerived:
		err = p.processDerived(procCtx, msg)
	default:
		err = fmt.Errorf("unknown phase %q", msg.Phase)
	}

	if p.metrics != nil {
		p.metrics.JobDuration.WithLabelValues(string(msg.Phase)).Observe(time.Since(start).Seconds())
	}

	if procCtx.Err() != nil && err == nil {
		err = errs.ErrTimeout
	}

	if err != nil {
		msgLog.Error().Err(err).Msg("message processing failed")
		if nackErr := p.q.Nack(msg.ID); nackErr != nil {
			msgLog.Error().Err(nackErr).Msg("nack failed")
		}
		p.reportFailure(msg, err)
		return
	}

	if ackErr := p.q.Ack(msg.ID); ackErr != nil {
		msgLog.Error().Err(ackErr).Msg("ack failed")
	}
	if p.metrics != nil {
		p.metrics.JobsProcessed.WithLabelValues(string(msg.Phase)).Inc()
	}
	p.reportSuccess(msg)
}

func (p *Pool) reportSuccess(msg queue.Message) {
	if msg.JobID != "" {
		p.advanceJob(msg)
	}
	if p.reporter == nil {
		return
	}
	switch msg.Phase {
	case queue.PhaseRaw:
		p.reporter.RecordRawResult(msg.CorrelationID, true)
	case queue.PhaseDerived:
		p.reporter.RecordDerivedResult(msg.CorrelationID, true)
	}
}

func (p *Pool) reportFailure(msg queue.Message, cause error) {
	// Only a dead-lettered (attempt exhausted) message is a final failure
	// for the run's counters; a message that will be redelivered isn't
	// "failed" yet.
	if msg.Attempt < msg.MaxAttempts {
		return
	}
	if p.metrics != nil {
		p.metrics.JobsFailed.WithLabelValues(string(msg.Phase)).Inc()
	}
	if msg.Phase == queue.PhaseDerived {
		p.writeFailedArtifact(context.Background(), msg, cause)
	}
	if msg.JobID != "" {
		now := p.clock.Now()
		if err := p.repo.UpdateJobStatus(context.Background(), msg.JobID, "failed", &now); err != nil {
			p.log.Error().Err(err).Str("job_id", msg.JobID).Msg("failed to mark on-demand job failed")
		}
	}
	if p.reporter == nil {
		return
	}
	switch msg.Phase {
	case queue.PhaseRaw:
		p.reporter.RecordRawResult(msg.CorrelationID, false)
	case queue.PhaseDerived:
		p.reporter.RecordDerivedResult(msg.CorrelationID, false)
	}
}

// writeFailedArtifact records a terminal failure of the derived phase
// (§4.4 state machine step 5, §7 timeout row) so the artifact row reflects
// what actually happened instead of staying stuck at pending.
func (p *Pool) writeFailedArtifact(ctx context.Context, msg queue.Message, cause error) {
	alias, err := p.repo.Resolve(ctx, msg.DisplaySymbol)
	if err != nil {
		p.log.Error().Err(err).Str("symbol", msg.DisplaySymbol).Msg("failed to resolve symbol while writing failed artifact")
		return
	}
	artifact := domain.Artifact{
		SecurityID:    alias.SecurityID,
		DisplaySymbol: msg.DisplaySymbol,
		BusinessDate:  msg.BusinessDate,
		Status:        domain.ArtifactFailed,
		ErrorMessage:  cause.Error(),
		ComputedAt:    p.clock.Now(),
		ExpiresAt:     p.clock.NextBusinessDayAt08(msg.BusinessDate),
	}
	if err := p.repo.UpsertArtifact(ctx, artifact); err != nil {
		p.log.Error().Err(err).Str("symbol", msg.DisplaySymbol).Msg("failed to write failed artifact")
	}
}

// advanceJob moves an on-demand job to its next step: a completed raw fetch
// enqueues the matching derived-compute message (the same chain the nightly
// barrier drives for a whole run, collapsed to one symbol); a completed
// derived compute marks the job done.
func (p *Pool) advanceJob(msg queue.Message) {
	ctx := context.Background()
	switch msg.Phase {
	case queue.PhaseRaw:
		if err := p.repo.UpdateJobStatus(ctx, msg.JobID, "computing", nil); err != nil {
			p.log.Error().Err(err).Str("job_id", msg.JobID).Msg("failed to advance on-demand job status")
		}
		derived := queue.Message{
			ID:            msg.JobID + "-derived",
			CorrelationID: msg.CorrelationID,
			Phase:         queue.PhaseDerived,
			Priority:      queue.PriorityHigh,
			DisplaySymbol: msg.DisplaySymbol,
			BusinessDate:  msg.BusinessDate,
			EnqueuedAt:    p.clock.Now(),
			JobID:         msg.JobID,
		}
		if err := p.q.Enqueue(derived); err != nil {
			p.log.Error().Err(err).Str("job_id", msg.JobID).Msg("failed to enqueue derived step of on-demand job")
		}
	case queue.PhaseDerived:
		now := p.clock.Now()
		if err := p.repo.UpdateJobStatus(ctx, msg.JobID, "completed", &now); err != nil {
			p.log.Error().Err(err).Str("job_id", msg.JobID).Msg("failed to complete on-demand job")
		}
	}
}

// processRaw fetches and stores one symbol's daily series.
func (p *Pool) processRaw(ctx context.Context, msg queue.Message) error {
	from := msg.BusinessDate.AddDate(-1, 0, -30) // extra lookback pads the 365-day raw window (§3.2)
	obs, err := p.fetch.FetchDaily(ctx, msg.DisplaySymbol, from, msg.BusinessDate)
	if err != nil {
		return err
	}
	if len(obs) == 0 {
		return errs.NewFetchError(msg.DisplaySymbol, errs.KindEmpty, fmt.Errorf("no observations returned"))
	}

	seen := make(map[string]bool, len(obs))
	for _, o := range obs {
		key := o.Date.Format("2006-01-02")
		if seen[key] {
			return errs.InvariantViolation(msg.CorrelationID, fmt.Sprintf("duplicate observation date %s for %s", key, msg.DisplaySymbol))
		}
		seen[key] = true
	}

	series := domain.RawSeries{
		DisplaySymbol: msg.DisplaySymbol,
		BusinessDate:  msg.BusinessDate,
		Observations:  obs,
		EarliestDate:  obs[0].Date,
		LatestDate:    obs[len(obs)-1].Date,
		RowCount:      len(obs),
		FetchedAt:     p.clock.Now(),
		Source:        "provider",
		ExpiresAt:     p.clock.NextBusinessDayAt08(msg.BusinessDate),
	}

	return p.repo.StoreRaw(ctx, series)
}

// processDerived computes indicators, percentiles, comparative features,
// and the final artifact from a previously stored raw series. It refuses
// to run ahead of a missing raw series — the barrier should prevent this,
// but the check stays as a defense against a controller bug letting a
// derived message through before its raw counterpart landed.
func (p *Pool) processDerived(ctx context.Context, msg queue.Message) error {
	start := time.Now()

	alias, err := p.repo.Resolve(ctx, msg.DisplaySymbol)
	if err != nil {
		return err
	}

	expiresAt := p.clock.NextBusinessDayAt08(msg.BusinessDate)
	pending := domain.Artifact{
		SecurityID:    alias.SecurityID,
		DisplaySymbol: msg.DisplaySymbol,
		BusinessDate:  msg.BusinessDate,
		Status:        domain.ArtifactPending,
		ComputedAt:    p.clock.Now(),
		ExpiresAt:     expiresAt,
	}
	if err := p.repo.UpsertArtifact(ctx, pending); err != nil {
		return err
	}

	series, err := p.repo.GetRaw(ctx, msg.DisplaySymbol, msg.BusinessDate)
	if err != nil {
		if err == errs.ErrNotFound {
			return errs.InvariantViolation(msg.CorrelationID, fmt.Sprintf("derived phase ran before raw series existed for %s", msg.DisplaySymbol))
		}
		return err
	}

	ind := analytics.ComputeIndicators(msg.DisplaySymbol, series.Observations)
	cmp := analytics.ComputeComparative(msg.DisplaySymbol, series.Observations, nil, 0.02)

	history, err := p.repo.ListIndicatorHistory(ctx, msg.DisplaySymbol, msg.BusinessDate, analytics.DefaultLookbackDays)
	if err != nil {
		return err
	}
	pct := analytics.ComputePercentiles(msg.DisplaySymbol, history, ind)

	classification := analytics.Classify(ind, cmp)

	artifact := domain.Artifact{
		SecurityID:    alias.SecurityID,
		DisplaySymbol: msg.DisplaySymbol,
		BusinessDate:  msg.BusinessDate,
		Narrative:     narrativeFor(msg.DisplaySymbol, classification),
		Payload: map[string]any{
			"indicators":   ind,
			"comparative":  cmp,
			"percentiles":  pct,
			"risk_regime":  classification.Risk,
			"momentum":     classification.Momentum,
			"trend":        classification.Trend,
			"volume_state": classification.Volume,
		},
		LatencyMS:  time.Since(start).Milliseconds(),
		Status:     domain.ArtifactCompleted,
		ComputedAt: p.clock.Now(),
		ExpiresAt:  expiresAt,
	}

	return p.repo.StoreDerived(ctx, ind, cmp, pct, artifact)
}

func narrativeFor(symbol string, c analytics.Classification) string {
	return fmt.Sprintf("%s is in a %s trend with %s %s momentum and %s risk; volume is %s.",
		symbol, c.Trend, strings.ToLower(string(c.Momentum.Strength)), strings.ToLower(string(c.Momentum.Direction)), c.Risk, c.Volume)
}

// HealthSnapshot reports the host resources backing this worker process,
// together with queue depth; the worker's own health endpoint serves it.
type HealthSnapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	QueueDepth    int
}

func (p *Pool) Health() HealthSnapshot {
	snap := HealthSnapshot{QueueDepth: p.q.Size()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}
	return snap
}
