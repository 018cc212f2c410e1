package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope     = "lembremed/sync"
	spanReconcile = "sync.reconcile"
	spanRearm     = "sync.rearm"
	metricCreated = "lembremed.sync.records.created"
	metricRemoved = "lembremed.sync.records.removed"
	metricErrors  = "lembremed.sync.errors"
	metricRearmed = "lembremed.sync.records.rearmed"

	// sweepSchedule keeps continuous interval chains and long treatments
	// alive: the nightly pass re-arms every active record, healing any
	// trigger that drifted into the past while the process slept.
	sweepSchedule = "@daily"
)

// Engine orchestrates the reminder lifecycle: a startup re-arm pass, the
// remote polling loop, and the nightly maintenance sweep. Create one with
// [NewEngine] and start it with [Engine.Run].
type Engine struct {
	reconciler   *Reconciler
	records      RecordStore
	sched        Scheduler
	owner        string
	pollInterval time.Duration
	log          *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer     trace.Tracer
	cntCreated metric.Int64Counter
	cntRemoved metric.Int64Counter
	cntErrors  metric.Int64Counter
	cntRearmed metric.Int64Counter
}

// NewEngine creates an Engine for one owner.
func NewEngine(reconciler *Reconciler, records RecordStore, sched Scheduler, owner string, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		reconciler:   reconciler,
		records:      records,
		sched:        sched,
		owner:        owner,
		pollInterval: pollInterval,
		log:          logger,

		tracer:     tracer,
		cntCreated: mustCounter(metricCreated, "Number of reminder records created during reconcile"),
		cntRemoved: mustCounter(metricRemoved, "Number of sources whose records were removed during reconcile"),
		cntErrors:  mustCounter(metricErrors, "Number of errors encountered during reconcile"),
		cntRearmed: mustCounter(metricRearmed, "Number of records re-armed by startup and sweep passes"),
	}
}

// reconcile runs one full reconcile pass, recording a trace span and metrics.
func (e *Engine) reconcile(ctx context.Context) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanReconcile)
	defer span.End()

	stats, err := e.reconciler.Run(ctx, e.owner)

	if stats.Created > 0 {
		e.cntCreated.Add(ctx, int64(stats.Created))
	}
	if stats.Removed > 0 {
		e.cntRemoved.Add(ctx, int64(stats.Removed))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.Int("sync.created", stats.Created),
		attribute.Int("sync.removed", stats.Removed),
		attribute.Int("sync.skipped", stats.Skipped),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

// Rearm arms a wake-up for every active record. Run at startup — in-process
// timers do not survive a restart — and by the nightly sweep. The scheduler
// heals past-due triggers as part of arming, so a record is never left
// pointing at the past.
func (e *Engine) Rearm(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, spanRearm)
	defer span.End()

	recs, err := e.records.AllActive(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	armed := 0
	for _, rec := range recs {
		if _, err := e.sched.Arm(ctx, rec); err != nil {
			e.log.Error("arming record", "record_id", rec.ID, "error", err)
			continue
		}
		armed++
	}

	if armed > 0 {
		e.cntRearmed.Add(ctx, int64(armed))
	}
	span.SetAttributes(attribute.Int("rearm.records", armed))
	e.log.Info("re-arm pass complete", "records", armed)
	return nil
}

// RunOnce performs a single reconcile pass and returns.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	return e.reconcile(ctx)
}

// Run starts the engine: the startup re-arm pass, an immediate reconcile,
// the polling loop, and the nightly sweep. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Rearm(ctx); err != nil {
		e.log.Error("startup re-arm failed", "error", err)
	}

	if _, err := e.reconcile(ctx); err != nil {
		e.log.Error("initial reconcile failed", "error", err)
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(sweepSchedule, func() {
		e.log.Info("maintenance sweep starting")
		if err := e.Rearm(ctx); err != nil {
			e.log.Error("maintenance sweep failed", "error", err)
		}
		if _, err := e.reconcile(ctx); err != nil {
			e.log.Error("sweep reconcile failed", "error", err)
		}
	}); err != nil {
		e.log.Error("registering maintenance sweep", "error", err)
	} else {
		sweeper.Start()
		defer sweeper.Stop()
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.reconcile(ctx); err != nil {
				e.log.Error("reconcile failed", "error", err)
			}
		}
	}
}
