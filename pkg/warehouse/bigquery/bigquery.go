// Package bigquery is the BigQuery warehouse sink. Frames are written with
// load jobs from newline-delimited JSON, uploaded directly or staged as
// gzipped objects in GCS, and filters run as parameterized standard SQL.
package bigquery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	jsonpool "github.com/ajitpratap0/metasync/pkg/json"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
	"github.com/ajitpratap0/metasync/pkg/warehouse"
)

// loadJobTimeout bounds how long a single load job may run.
const loadJobTimeout = 10 * time.Minute

func init() {
	warehouse.Register("bigquery", func(ctx context.Context, cfg warehouse.Config, logger *zap.Logger) (warehouse.Sink, error) {
		return New(ctx, cfg, logger)
	})
}

// Sink writes to one BigQuery dataset.
type Sink struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	location  string
	staging   *stager
	logger    *zap.Logger
}

// New creates a BigQuery client for cfg.ProjectID. Credentials come from
// cfg.CredentialsJSON, then cfg.CredentialsFile, then the application
// default credentials.
func New(ctx context.Context, cfg warehouse.Config, logger *zap.Logger) (*Sink, error) {
	if cfg.ProjectID == "" {
		return nil, syncerrors.New(syncerrors.ErrorTypeConfig, "bigquery project id is required")
	}

	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "failed to create BigQuery client")
	}

	location := cfg.Location
	if location == "" {
		location = "US"
	}
	client.Location = location

	s := &Sink{
		client:    client,
		projectID: cfg.ProjectID,
		datasetID: cfg.Dataset,
		location:  location,
		logger:    logger.With(zap.String("dataset", cfg.Dataset)),
	}
	if cfg.StagingBucket != "" {
		s.staging, err = newStager(ctx, cfg.StagingBucket, cfg.StagingPrefix, opts, s.logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return s, nil
}

// EnsureDataset creates the dataset in the configured location unless it
// already exists.
func (s *Sink) EnsureDataset(ctx context.Context) error {
	ds := s.client.Dataset(s.datasetID)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to read dataset metadata")
	}

	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: s.location}); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
			return nil
		}
		return syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to create dataset")
	}
	s.logger.Info("dataset created", zap.String("location", s.location))
	return nil
}

// Load runs a load job for frame. Truncate replaces the table; append
// permits new nullable columns.
func (s *Sink) Load(ctx context.Context, table string, frame *models.Frame, ts *schema.TableSchema, mode warehouse.WriteMode) (int64, error) {
	data, err := encodeRows(frame, ts)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeInternal, "failed to encode rows")
	}

	source, cleanup, err := s.loadSource(ctx, table, data, toBigQuerySchema(ts))
	if err != nil {
		return 0, err
	}
	defer cleanup()

	loader := s.client.Dataset(s.datasetID).Table(table).LoaderFrom(source)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	if mode == warehouse.ModeTruncate {
		loader.WriteDisposition = bigquery.WriteTruncate
	} else {
		loader.WriteDisposition = bigquery.WriteAppend
		loader.SchemaUpdateOptions = []string{"ALLOW_FIELD_ADDITION"}
	}
	loader.Labels = map[string]string{
		"source": "metasync",
		"table":  table,
		"mode":   string(mode),
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "failed to submit load job")
	}

	jobCtx, cancel := context.WithTimeout(ctx, loadJobTimeout)
	defer cancel()

	status, err := job.Wait(jobCtx)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeTimeout, "load job failed or timed out").
			WithDetail("job_id", job.ID())
	}
	if status.Err() != nil {
		for i, jobErr := range status.Errors {
			s.logger.Error("load job error detail",
				zap.String("table", table),
				zap.Int("error_index", i),
				zap.String("message", jobErr.Message),
				zap.String("reason", jobErr.Reason),
				zap.String("location", jobErr.Location))
		}
		return 0, syncerrors.Wrap(status.Err(), syncerrors.ErrorTypeWarehouse, "load job failed").
			WithDetail("job_id", job.ID())
	}

	rows := int64(frame.Len())
	if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
		rows = stats.OutputRows
	}
	s.logger.Debug("load job completed",
		zap.String("table", table),
		zap.String("job_id", job.ID()),
		zap.Int64("rows", rows))
	return rows, nil
}

// loadSource returns where a load job reads data from: a staged GCS
// object when a staging bucket is configured, the bytes themselves
// otherwise.
func (s *Sink) loadSource(ctx context.Context, table string, data []byte, bqSchema bigquery.Schema) (bigquery.LoadSource, func(), error) {
	if s.staging == nil {
		source := bigquery.NewReaderSource(bytes.NewReader(data))
		source.SourceFormat = bigquery.JSON
		source.Schema = bqSchema
		return source, func() {}, nil
	}

	ref, cleanup, err := s.staging.stage(ctx, table, data)
	if err != nil {
		return nil, nil, err
	}
	ref.Schema = bqSchema
	return ref, cleanup, nil
}

// Count returns the number of rows in table matching f.
func (s *Sink) Count(ctx context.Context, table string, f warehouse.Filter) (int64, error) {
	where, params, err := whereClause(f)
	if err != nil {
		return 0, err
	}

	q := s.client.Query(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", s.tableRef(table), where))
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return 0, s.queryError(err, table, "count")
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		return 0, s.queryError(err, table, "count")
	}
	n, _ := row[0].(int64)
	return n, nil
}

// Delete removes the rows of table matching f.
func (s *Sink) Delete(ctx context.Context, table string, f warehouse.Filter) (int64, error) {
	where, params, err := whereClause(f)
	if err != nil {
		return 0, err
	}

	q := s.client.Query(fmt.Sprintf("DELETE FROM %s WHERE %s", s.tableRef(table), where))
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, s.queryError(err, table, "delete")
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, s.queryError(err, table, "delete")
	}
	if err := status.Err(); err != nil {
		return 0, s.queryError(err, table, "delete")
	}

	var n int64
	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		n = stats.NumDMLAffectedRows
	}
	return n, nil
}

// MaxDate returns MAX(column) of table.
func (s *Sink) MaxDate(ctx context.Context, table, column string) (civil.Date, bool, error) {
	if !warehouse.ValidIdentifier(column) {
		return civil.Date{}, false, syncerrors.Newf(syncerrors.ErrorTypeInternal, "invalid column name %q", column)
	}

	q := s.client.Query(fmt.Sprintf("SELECT MAX(%s) FROM %s", column, s.tableRef(table)))
	it, err := q.Read(ctx)
	if err != nil {
		return civil.Date{}, false, s.queryError(err, table, "max")
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		if errors.Is(err, iterator.Done) {
			return civil.Date{}, false, nil
		}
		return civil.Date{}, false, s.queryError(err, table, "max")
	}
	return dateValue(row[0])
}

// Close releases the clients.
func (s *Sink) Close() error {
	if s.staging != nil {
		if err := s.staging.close(); err != nil {
			s.logger.Warn("failed to close GCS client", zap.Error(err))
		}
	}
	return s.client.Close()
}

func (s *Sink) tableRef(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, table)
}

func (s *Sink) queryError(err error, table, op string) error {
	if isNotFound(err) {
		return warehouse.TableNotFound(table, err)
	}
	return syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, op+" query failed").
		WithDetail("table", table)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// whereClause renders f with named parameters.
func whereClause(f warehouse.Filter) (string, []bigquery.QueryParameter, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}

	where := "account_id IN UNNEST(@accounts)"
	params := []bigquery.QueryParameter{{Name: "accounts", Value: f.AccountIDs}}
	if f.Windowed() {
		where += fmt.Sprintf(" AND %s BETWEEN @start AND @end", f.DateColumn)
		params = append(params,
			bigquery.QueryParameter{Name: "start", Value: f.Window.Start},
			bigquery.QueryParameter{Name: "end", Value: f.Window.End},
		)
	}
	return where, params, nil
}

func toBigQuerySchema(ts *schema.TableSchema) bigquery.Schema {
	out := make(bigquery.Schema, 0, len(ts.Columns))
	for _, c := range ts.Columns {
		out = append(out, &bigquery.FieldSchema{
			Name: c.Name,
			Type: fieldType(c.Type),
			// a new column added on append has to be nullable
			Required: false,
		})
	}
	return out
}

func fieldType(t schema.FieldType) bigquery.FieldType {
	switch t {
	case schema.TypeInteger:
		return bigquery.IntegerFieldType
	case schema.TypeFloat:
		return bigquery.FloatFieldType
	case schema.TypeBoolean:
		return bigquery.BooleanFieldType
	case schema.TypeTimestamp:
		return bigquery.TimestampFieldType
	case schema.TypeDate:
		return bigquery.DateFieldType
	default:
		return bigquery.StringFieldType
	}
}

// encodeRows renders the frame as NDJSON with the schema's columns.
func encodeRows(frame *models.Frame, ts *schema.TableSchema) ([]byte, error) {
	rows := make([]map[string]interface{}, len(frame.Rows))
	for i, r := range frame.Rows {
		row := make(map[string]interface{}, len(ts.Columns))
		for _, c := range ts.Columns {
			row[c.Name] = jsonValue(r[c.Name])
		}
		rows[i] = row
	}
	return jsonpool.MarshalLines(rows)
}

func jsonValue(v interface{}) interface{} {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05.999999") + " UTC"
	case civil.Date:
		return x.String()
	default:
		return v
	}
}

func dateValue(v bigquery.Value) (civil.Date, bool, error) {
	switch x := v.(type) {
	case nil:
		return civil.Date{}, false, nil
	case civil.Date:
		return x, true, nil
	case time.Time:
		return civil.DateOf(x.UTC()), true, nil
	case string:
		d, err := civil.ParseDate(x)
		if err != nil {
			return civil.Date{}, false, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "unexpected max date value")
		}
		return d, true, nil
	default:
		return civil.Date{}, false, syncerrors.Newf(syncerrors.ErrorTypeWarehouse,
			"unexpected max date type %T", v).WithDetail("value", strconv.Quote(fmt.Sprint(v)))
	}
}
