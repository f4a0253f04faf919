// Package warehouse defines the destination sink contract, the driver
// registry and the Writer that loads validated frames into a sink.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/ajitpratap0/metasync/pkg/config"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

// WriteMode is how a load treats existing table contents.
type WriteMode string

const (
	// ModeAppend adds rows and allows new columns
	ModeAppend WriteMode = "append"
	// ModeTruncate replaces the table's contents
	ModeTruncate WriteMode = "truncate"
)

// ParseWriteMode validates a write mode name.
func ParseWriteMode(s string) (WriteMode, error) {
	switch WriteMode(s) {
	case ModeAppend, ModeTruncate:
		return WriteMode(s), nil
	default:
		return "", syncerrors.Newf(syncerrors.ErrorTypeConfig, "invalid write mode %q: must be append or truncate", s).
			WithDetail("write_mode", s)
	}
}

// ErrTableNotFound is wrapped by sink errors for tables that do not exist.
var ErrTableNotFound = errors.New("table not found")

// TableNotFound returns a not-found error for table that matches
// ErrTableNotFound with errors.Is.
func TableNotFound(table string, cause error) error {
	msg := fmt.Sprintf("table %s does not exist", table)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return syncerrors.Wrap(ErrTableNotFound, syncerrors.ErrorTypeNotFound, msg).
		WithDetail("table", table)
}

// Filter selects rows by account and, optionally, by an inclusive date
// window on DateColumn.
type Filter struct {
	AccountIDs []string
	DateColumn string
	Window     *models.DateRange
}

// Windowed reports whether the filter restricts dates.
func (f Filter) Windowed() bool {
	return f.Window != nil && f.DateColumn != ""
}

// Validate checks that the filter selects at least one account and that
// its date column is a plain identifier.
func (f Filter) Validate() error {
	if len(f.AccountIDs) == 0 {
		return syncerrors.New(syncerrors.ErrorTypeInternal, "filter requires at least one account id")
	}
	if f.Window != nil && !ValidIdentifier(f.DateColumn) {
		return syncerrors.New(syncerrors.ErrorTypeInternal, "filter date column is not a valid identifier").
			WithDetail("column", f.DateColumn)
	}
	return nil
}

func (f Filter) String() string {
	s := "account_id IN (" + strings.Join(f.AccountIDs, ",") + ")"
	if f.Windowed() {
		s += fmt.Sprintf(" AND %s BETWEEN %s AND %s", f.DateColumn, f.Window.Start, f.Window.End)
	}
	return s
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used unquoted as a dataset,
// table or column name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Sink is a destination warehouse.
type Sink interface {
	// EnsureDataset creates the dataset (or schema) if it does not exist.
	EnsureDataset(ctx context.Context) error
	// Load writes frame into table, creating the table from s if needed.
	// It returns the number of rows written.
	Load(ctx context.Context, table string, frame *models.Frame, s *schema.TableSchema, mode WriteMode) (int64, error)
	// Count returns the number of rows matching f.
	Count(ctx context.Context, table string, f Filter) (int64, error)
	// Delete removes the rows matching f and returns how many were removed.
	Delete(ctx context.Context, table string, f Filter) (int64, error)
	// MaxDate returns the largest value of column. ok is false when the
	// table is empty.
	MaxDate(ctx context.Context, table, column string) (max civil.Date, ok bool, err error)
	Close() error
}

// Config locates a sink.
type Config struct {
	Driver    string
	ProjectID string
	Dataset   string
	Location  string
	// CredentialsJSON takes precedence over CredentialsFile; with neither
	// the driver's default credentials are used
	CredentialsJSON []byte
	CredentialsFile string
	DSN             string
	// StagingBucket and StagingPrefix locate intermediate load files for
	// drivers that stage through object storage
	StagingBucket string
	StagingPrefix string
}

// ConfigFrom builds a sink Config from the warehouse configuration section.
func ConfigFrom(c config.WarehouseConfig) Config {
	return Config{
		Driver:          c.Driver,
		ProjectID:       c.ProjectID,
		Dataset:         c.Dataset,
		Location:        c.Location,
		CredentialsFile: c.CredentialsFile,
		DSN:             c.DSN,
		StagingBucket:   c.StagingBucket,
		StagingPrefix:   c.StagingPrefix,
	}
}

// Factory opens a sink.
type Factory func(ctx context.Context, cfg Config, logger *zap.Logger) (Sink, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// Register makes a sink driver available by name. It panics on duplicate
// names, which only happens through a programming error in init.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("warehouse: driver %s already registered", name))
	}
	drivers[name] = factory
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open creates a sink with the driver named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Sink, error) {
	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, syncerrors.Newf(syncerrors.ErrorTypeConfig, "unknown warehouse driver %q", cfg.Driver).
			WithDetail("available", strings.Join(Drivers(), ","))
	}
	if !ValidIdentifier(cfg.Dataset) {
		return nil, syncerrors.Newf(syncerrors.ErrorTypeConfig, "invalid dataset name %q", cfg.Dataset)
	}

	sink, err := factory(ctx, cfg, logger.With(zap.String("driver", cfg.Driver)))
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.TypeOf(err), "failed to open warehouse").
			WithDetail("driver", cfg.Driver)
	}
	return sink, nil
}
