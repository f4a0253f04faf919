// Package sqlsink implements the warehouse sink over database/sql for
// DuckDB, SQLite and Postgres. It backs local runs and integration tests.
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/duckdb/duckdb-go/v2" // register the duckdb driver
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register the pure Go sqlite driver

	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
	"github.com/ajitpratap0/metasync/pkg/warehouse"
)

func init() {
	for _, d := range []dialect{sqliteDialect, duckdbDialect, postgresDialect} {
		warehouse.Register(d.name, func(ctx context.Context, cfg warehouse.Config, logger *zap.Logger) (warehouse.Sink, error) {
			return open(ctx, d, cfg, logger)
		})
	}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Sink stores each dataset as a schema (or, for sqlite, a table prefix).
type Sink struct {
	db      *sql.DB
	d       dialect
	dataset string
	logger  *zap.Logger
}

func open(ctx context.Context, d dialect, cfg warehouse.Config, logger *zap.Logger) (*Sink, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = d.defaultDSN
	}
	if dsn == "" && d.name == postgresDialect.name {
		return nil, syncerrors.New(syncerrors.ErrorTypeConfig, "postgres warehouse requires a dsn")
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "failed to open database")
	}
	if d.singleConns {
		// an in-memory sqlite database lives in a single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "failed to connect to database")
	}

	return &Sink{
		db:      db,
		d:       d,
		dataset: cfg.Dataset,
		logger:  logger.With(zap.String("dataset", cfg.Dataset)),
	}, nil
}

// DB exposes the connection for inspection.
func (s *Sink) DB() *sql.DB {
	return s.db
}

// EnsureDataset creates the dataset schema if the dialect has schemas.
func (s *Sink) EnsureDataset(ctx context.Context) error {
	if s.d.prefixTables {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(s.dataset)); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to create schema").
			WithDetail("dataset", s.dataset)
	}
	return nil
}

// Load creates table from ts if needed and writes frame in one
// transaction. Truncate deletes existing rows first; append adds any
// declared column the table is missing.
func (s *Sink) Load(ctx context.Context, table string, frame *models.Frame, ts *schema.TableSchema, mode warehouse.WriteMode) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.columns(ctx, tx, table)
	if err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		if err := s.createTable(ctx, tx, table, ts); err != nil {
			return 0, err
		}
	} else if err := s.addColumns(ctx, tx, table, ts, existing); err != nil {
		return 0, err
	}

	if mode == warehouse.ModeTruncate {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.tableName(table)); err != nil {
			return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to truncate table").
				WithDetail("table", table)
		}
	}

	n, err := s.insert(ctx, tx, table, frame, ts)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to commit load").
			WithDetail("table", table)
	}
	return n, nil
}

// Count returns the number of rows of table matching f.
func (s *Sink) Count(ctx context.Context, table string, f warehouse.Filter) (int64, error) {
	where, args, err := s.where(f)
	if err != nil {
		return 0, err
	}
	if err := s.requireTable(ctx, table); err != nil {
		return 0, err
	}

	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", s.tableName(table), where)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "count query failed").
			WithDetail("table", table)
	}
	return n, nil
}

// Delete removes the rows of table matching f.
func (s *Sink) Delete(ctx context.Context, table string, f warehouse.Filter) (int64, error) {
	where, args, err := s.where(f)
	if err != nil {
		return 0, err
	}
	if err := s.requireTable(ctx, table); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", s.tableName(table), where), args...)
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "delete failed").
			WithDetail("table", table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to read deleted row count")
	}
	return n, nil
}

// MaxDate returns MAX(column) of table.
func (s *Sink) MaxDate(ctx context.Context, table, column string) (civil.Date, bool, error) {
	if !warehouse.ValidIdentifier(column) {
		return civil.Date{}, false, syncerrors.Newf(syncerrors.ErrorTypeInternal, "invalid column name %q", column)
	}
	if err := s.requireTable(ctx, table); err != nil {
		return civil.Date{}, false, err
	}

	var v interface{}
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", quote(column), s.tableName(table))
	if err := s.db.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return civil.Date{}, false, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "max query failed").
			WithDetail("table", table)
	}
	return dateValue(v)
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) tableName(table string) string {
	if s.d.prefixTables {
		return quote(s.rawTableName(table))
	}
	return quote(s.dataset) + "." + quote(table)
}

func (s *Sink) rawTableName(table string) string {
	if s.d.prefixTables {
		return s.dataset + "_" + table
	}
	return table
}

// columns lists the existing columns of table; none means it is absent.
func (s *Sink) columns(ctx context.Context, q querier, table string) ([]string, error) {
	args := []interface{}{s.rawTableName(table)}
	if !s.d.prefixTables {
		args = []interface{}{s.dataset, table}
	}

	rows, err := q.QueryContext(ctx, s.d.columnsSQL, args...)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to inspect table").
			WithDetail("table", table)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to inspect table")
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to inspect table")
	}
	return cols, nil
}

func (s *Sink) requireTable(ctx context.Context, table string) error {
	cols, err := s.columns(ctx, s.db, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return warehouse.TableNotFound(table, nil)
	}
	return nil
}

func (s *Sink) createTable(ctx context.Context, q querier, table string, ts *schema.TableSchema) error {
	defs := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		defs[i] = quote(c.Name) + " " + s.d.columnType(c.Type)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.tableName(table), strings.Join(defs, ", "))
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to create table").
			WithDetail("table", table)
	}
	s.logger.Info("table created", zap.String("table", table), zap.Int("columns", len(defs)))
	return nil
}

func (s *Sink) addColumns(ctx context.Context, q querier, table string, ts *schema.TableSchema, existing []string) error {
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[strings.ToLower(c)] = true
	}
	for _, c := range ts.Columns {
		if have[strings.ToLower(c.Name)] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", s.tableName(table), quote(c.Name), s.d.columnType(c.Type))
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to add column").
				WithDetail("table", table).
				WithDetail("column", c.Name)
		}
		s.logger.Info("column added", zap.String("table", table), zap.String("column", c.Name))
	}
	return nil
}

func (s *Sink) insert(ctx context.Context, tx *sql.Tx, table string, frame *models.Frame, ts *schema.TableSchema) (int64, error) {
	names := make([]string, len(ts.Columns))
	for i, c := range ts.Columns {
		names[i] = quote(c.Name)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.tableName(table), strings.Join(names, ", "), strings.Join(s.d.placeholders(1, len(names)), ", ")))
	if err != nil {
		return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to prepare insert").
			WithDetail("table", table)
	}
	defer stmt.Close()

	args := make([]interface{}, len(ts.Columns))
	for i, row := range frame.Rows {
		for j, c := range ts.Columns {
			args[j] = s.d.value(row[c.Name])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "insert failed").
				WithDetail("table", table).
				WithDetail("row", i)
		}
	}
	return int64(len(frame.Rows)), nil
}

func (s *Sink) where(f warehouse.Filter) (string, []interface{}, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}

	args := make([]interface{}, 0, len(f.AccountIDs)+2)
	for _, id := range f.AccountIDs {
		args = append(args, id)
	}
	where := fmt.Sprintf("account_id IN (%s)", strings.Join(s.d.placeholders(1, len(f.AccountIDs)), ", "))

	if f.Windowed() {
		p := s.d.placeholders(len(args)+1, 2)
		where += fmt.Sprintf(" AND %s BETWEEN %s AND %s", quote(f.DateColumn), p[0], p[1])
		args = append(args, s.d.value(f.Window.Start), s.d.value(f.Window.End))
	}
	return where, args, nil
}

func dateValue(v interface{}) (civil.Date, bool, error) {
	switch x := v.(type) {
	case nil:
		return civil.Date{}, false, nil
	case time.Time:
		return civil.DateOf(x.UTC()), true, nil
	case []byte:
		return parseDate(string(x))
	case string:
		return parseDate(x)
	default:
		return civil.Date{}, false, syncerrors.Newf(syncerrors.ErrorTypeWarehouse, "unexpected max date type %T", v)
	}
}

func parseDate(s string) (civil.Date, bool, error) {
	if len(s) > 10 {
		s = s[:10]
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, false, syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "unexpected max date value")
	}
	return d, true, nil
}
