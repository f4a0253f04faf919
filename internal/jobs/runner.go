// Package jobs builds the per-run collaborators of a sync job (Graph API
// client, warehouse sink, orchestrator) from configuration plus request
// overrides, and runs load or update with them.
package jobs

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/metasync/internal/pipeline"
	"github.com/ajitpratap0/metasync/pkg/config"
	"github.com/ajitpratap0/metasync/pkg/extract"
	"github.com/ajitpratap0/metasync/pkg/logger"
	"github.com/ajitpratap0/metasync/pkg/metaads"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/retry"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
	"github.com/ajitpratap0/metasync/pkg/warehouse"

	// registered warehouse drivers
	_ "github.com/ajitpratap0/metasync/pkg/warehouse/bigquery"
	_ "github.com/ajitpratap0/metasync/pkg/warehouse/sqlsink"
)

// Params are the inputs of one run. Empty fields fall back to the
// configuration.
type Params struct {
	AccountIDs []string
	Token      string
	ProjectID  string
	Dataset    string
	// CredentialsJSON is a service account key for the warehouse
	CredentialsJSON []byte
	Start           string
	End             string
	Tables          []string
	WriteMode       string
}

// SourceFactory creates an authenticated Graph API source for token.
type SourceFactory func(ctx context.Context, token string) (extract.Source, error)

// SinkFactory opens a warehouse sink.
type SinkFactory func(ctx context.Context, cfg warehouse.Config) (warehouse.Sink, error)

// Runner executes jobs against fresh collaborators per run.
type Runner struct {
	cfg       *config.Config
	newSource SourceFactory
	openSink  SinkFactory
	logger    *zap.Logger
	pipeOpts  []pipeline.Option
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSourceFactory replaces how Graph API sources are created.
func WithSourceFactory(f SourceFactory) Option {
	return func(r *Runner) {
		r.newSource = f
	}
}

// WithSinkFactory replaces how warehouse sinks are opened.
func WithSinkFactory(f SinkFactory) Option {
	return func(r *Runner) {
		r.openSink = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithPipelineOptions are passed to every orchestrator the runner builds.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(r *Runner) {
		r.pipeOpts = append(r.pipeOpts, opts...)
	}
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: logger.Get()}
	for _, opt := range opts {
		opt(r)
	}
	if r.newSource == nil {
		r.newSource = r.graphSource
	}
	if r.openSink == nil {
		r.openSink = func(ctx context.Context, wc warehouse.Config) (warehouse.Sink, error) {
			return warehouse.Open(ctx, wc, r.logger)
		}
	}
	return r
}

// graphSource creates a Graph API client and checks its token.
func (r *Runner) graphSource(ctx context.Context, token string) (extract.Source, error) {
	client, err := metaads.NewClient(token, r.cfg.Meta, retry.FromConfig(r.cfg.Retry), metaads.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	if err := client.Validate(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Load runs a backfill.
func (r *Runner) Load(ctx context.Context, p Params) (*pipeline.Report, error) {
	req := pipeline.LoadRequest{
		AccountIDs: r.accounts(p),
		Tables:     schema.ParseTables(p.Tables),
		WriteMode:  p.WriteMode,
	}
	if req.WriteMode == "" {
		req.WriteMode = r.cfg.Sync.WriteMode
	}
	if len(req.Tables) == 0 {
		req.Tables = schema.ParseTables(r.cfg.Sync.Tables)
	}
	if p.Start != "" || p.End != "" {
		if p.Start == "" || p.End == "" {
			return nil, syncerrors.New(syncerrors.ErrorTypeConfig, "start and end must be given together")
		}
		window, err := models.NewDateRange(p.Start, p.End)
		if err != nil {
			return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "invalid load window")
		}
		req.Window = &window
	}
	// fail on a bad write mode before anything is opened
	if _, err := warehouse.ParseWriteMode(req.WriteMode); err != nil {
		return nil, err
	}

	var report *pipeline.Report
	err := r.run(ctx, p, func(orch *pipeline.Orchestrator) error {
		var err error
		report, err = orch.Load(ctx, req)
		return err
	})
	return report, err
}

// Update runs an incremental catch-up.
func (r *Runner) Update(ctx context.Context, p Params) (*pipeline.Report, error) {
	var report *pipeline.Report
	err := r.run(ctx, p, func(orch *pipeline.Orchestrator) error {
		var err error
		report, err = orch.Update(ctx, pipeline.UpdateRequest{AccountIDs: r.accounts(p)})
		return err
	})
	return report, err
}

// run opens the collaborators for p, hands an orchestrator to fn and
// closes the sink afterwards.
func (r *Runner) run(ctx context.Context, p Params, fn func(*pipeline.Orchestrator) error) error {
	if len(r.accounts(p)) == 0 {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "at least one ad account id is required")
	}
	token := p.Token
	if token == "" {
		token = r.cfg.Meta.AccessToken
	}

	source, err := r.newSource(ctx, token)
	if err != nil {
		return err
	}
	sink, err := r.openSink(ctx, r.warehouseConfig(p))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			r.logger.Warn("failed to close warehouse sink", zap.Error(cerr))
		}
	}()

	ex := extract.New(source,
		extract.WithMaxConcurrency(r.cfg.Extract.MaxConcurrency),
		extract.WithLogger(r.logger))
	opts := append([]pipeline.Option{
		pipeline.WithLocation(r.cfg.Sync.Location()),
		pipeline.WithLogger(r.logger),
	}, r.pipeOpts...)
	return fn(pipeline.New(ex, warehouse.NewWriter(sink, r.logger), opts...))
}

func (r *Runner) accounts(p Params) []string {
	if len(p.AccountIDs) > 0 {
		return p.AccountIDs
	}
	return r.cfg.Sync.AccountIDs
}

func (r *Runner) warehouseConfig(p Params) warehouse.Config {
	wc := warehouse.ConfigFrom(r.cfg.Warehouse)
	if p.ProjectID != "" {
		wc.ProjectID = p.ProjectID
	}
	if p.Dataset != "" {
		wc.Dataset = p.Dataset
	}
	if len(p.CredentialsJSON) > 0 {
		wc.CredentialsJSON = p.CredentialsJSON
	}
	wc.Dataset = strings.TrimSpace(wc.Dataset)
	return wc
}
