// Package pipeline sequences extraction, overlap deletion and warehouse
// writes for the two sync jobs.
//
// # Jobs
//
// Load backfills a date window. Before each table is written the rows it
// would duplicate are deleted, which makes re-running the same load
// idempotent:
//   - insight tables: account_id IN accounts AND <date column> BETWEEN start AND end
//   - dimension tables: account_id IN accounts
//
// With write mode truncate every table uses the account-only predicate.
// The physical write is always an append.
//
// Update catches up from the watermark (the latest date in insights_ads)
// to yesterday. Dimension tables are replaced and insights are appended.
//
// # Basic Usage
//
//	orch := pipeline.New(extractor, warehouse.NewWriter(sink, logger),
//	    pipeline.WithLocation(cfg.Sync.Location()),
//	    pipeline.WithLogger(logger),
//	)
//	report, err := orch.Update(ctx, pipeline.UpdateRequest{AccountIDs: ids})
//
// Tables are written independently: a failure leaves the tables written
// before it in place.
package pipeline

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/metasync/pkg/extract"
	"github.com/ajitpratap0/metasync/pkg/logger"
	"github.com/ajitpratap0/metasync/pkg/metaads"
	"github.com/ajitpratap0/metasync/pkg/metrics"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
	"github.com/ajitpratap0/metasync/pkg/warehouse"
)

// Extractor produces validated frames for a batch of accounts.
type Extractor interface {
	ExtractAccounts(ctx context.Context, accountIDs []string, tables []schema.LogicalTable, window models.DateRange) (*extract.Result, error)
}

// Orchestrator runs load and update jobs.
type Orchestrator struct {
	extractor Extractor
	writer    *warehouse.Writer
	location  *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLocation sets the zone "yesterday" is computed in.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		o.location = loc
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an orchestrator. The default location is UTC-3.
func New(extractor Extractor, writer *warehouse.Writer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor: extractor,
		writer:    writer,
		location:  time.FixedZone("UTC-3", -3*60*60),
		now:       time.Now,
		logger:    logger.Get(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "pipeline"))
	return o
}

// Yesterday returns the day before now in the orchestrator's location.
func (o *Orchestrator) Yesterday() civil.Date {
	return models.Yesterday(o.now(), o.location)
}

// begin tags ctx with a job id and returns the job's logger.
func (o *Orchestrator) begin(ctx context.Context, job string) (context.Context, *zap.Logger) {
	if id, _ := ctx.Value(logger.JobIDKey).(string); id == "" {
		ctx = logger.WithJobID(ctx, uuid.NewString())
	}
	return ctx, logger.FromContext(ctx, o.logger).With(zap.String("job", job))
}

// finish records the job outcome.
func (o *Orchestrator) finish(log *zap.Logger, report *Report, timer *metrics.Timer, err error) {
	report.Duration = time.Duration(timer.Seconds() * float64(time.Second))
	metrics.JobDuration.WithLabelValues(report.Job, metrics.JobStatus(err)).Observe(timer.Seconds())
	if err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("duration", report.Duration))
		return
	}
	log.Info("job completed",
		zap.Duration("duration", report.Duration),
		zap.Int64("rows_written", report.RowsWritten()),
		zap.Int64("rows_deleted", report.RowsDeleted()),
		zap.Bool("no_op", report.NoOp))
}

func normalizeAccounts(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = metaads.NormalizeAccountID(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, syncerrors.New(syncerrors.ErrorTypeConfig, "at least one ad account id is required")
	}
	return out, nil
}
