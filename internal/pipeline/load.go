package pipeline

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/metasync/pkg/metrics"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/observability"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
	"github.com/ajitpratap0/metasync/pkg/warehouse"
)

// LoadRequest describes a backfill.
type LoadRequest struct {
	AccountIDs []string
	// Tables defaults to campaigns, adsets, ads and insights_ads
	Tables []schema.LogicalTable
	// Window defaults to the first of the current month through yesterday
	Window *models.DateRange
	// WriteMode defaults to append
	WriteMode string
}

// Load extracts the requested tables for every account over the window,
// deletes the destination rows each table would duplicate and appends the
// new rows. An invalid write mode fails before any I/O.
func (o *Orchestrator) Load(ctx context.Context, req LoadRequest) (report *Report, err error) {
	if req.WriteMode == "" {
		req.WriteMode = string(warehouse.ModeAppend)
	}
	mode, err := warehouse.ParseWriteMode(req.WriteMode)
	if err != nil {
		return nil, err
	}
	accounts, err := normalizeAccounts(req.AccountIDs)
	if err != nil {
		return nil, err
	}
	tables := req.Tables
	if len(tables) == 0 {
		tables = schema.DefaultTables()
	}
	window := models.MonthToDate(o.now(), o.location)
	if req.Window != nil {
		window = *req.Window
	}
	if err := window.Validate(); err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "invalid load window")
	}

	ctx, log := o.begin(ctx, "load")
	log = log.With(zap.Strings("accounts", accounts), zap.Stringer("window", window), zap.String("write_mode", string(mode)))
	ctx, span := observability.StartSpan(ctx, "pipeline.load",
		attribute.StringSlice("accounts", accounts),
		attribute.String("window", window.String()),
		attribute.String("write_mode", string(mode)))

	report = &Report{Job: "load", AccountIDs: accounts, Window: window}
	timer := metrics.NewTimer()
	defer func() {
		o.finish(log, report, timer, err)
		observability.EndSpan(span, err)
	}()

	log.Info("load started")
	if err := o.writer.EnsureDataset(ctx); err != nil {
		return report, err
	}

	result, err := o.extractor.ExtractAccounts(ctx, accounts, tables, window)
	if err != nil {
		return report, err
	}

	for _, table := range result.Tables() {
		spec, _ := schema.Lookup(table)
		filter := warehouse.Filter{AccountIDs: accounts}
		if mode == warehouse.ModeAppend && spec.IsInsight() {
			filter.DateColumn = spec.DateColumn
			filter.Window = &window
		}

		deleted, err := o.clear(ctx, log, string(table), filter)
		if err != nil {
			return report, err
		}
		written, err := o.writer.Write(ctx, string(table), result.Frame(table), spec.Schema, warehouse.ModeAppend)
		if err != nil {
			return report, err
		}
		report.Tables = append(report.Tables, TableReport{
			Table:   table,
			Mode:    warehouse.ModeAppend,
			Deleted: deleted,
			Written: written,
		})
	}
	return report, nil
}

// clear deletes the rows matching filter when there are any. A missing
// table holds no rows.
func (o *Orchestrator) clear(ctx context.Context, log *zap.Logger, table string, filter warehouse.Filter) (int64, error) {
	sink := o.writer.Sink()

	count, err := sink.Count(ctx, table, filter)
	if errors.Is(err, warehouse.ErrTableNotFound) {
		log.Debug("table does not exist yet, nothing to delete", zap.String("table", table))
		return 0, nil
	}
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.TypeOf(err), "failed to count rows to overwrite").
			WithDetail("table", table)
	}
	if count == 0 {
		return 0, nil
	}

	deleted, err := sink.Delete(ctx, table, filter)
	if err != nil {
		if errors.Is(err, warehouse.ErrTableNotFound) {
			return 0, nil
		}
		return 0, syncerrors.Wrap(err, syncerrors.TypeOf(err), "failed to delete rows to overwrite").
			WithDetail("table", table)
	}
	metrics.RowsDeleted.WithLabelValues(table).Add(float64(deleted))
	log.Info("rows deleted before reload",
		zap.String("table", table),
		zap.Int64("rows", deleted),
		zap.Stringer("filter", filter))
	return deleted, nil
}
