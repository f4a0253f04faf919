package warehouse

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/metasync/pkg/logger"
	"github.com/ajitpratap0/metasync/pkg/metrics"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/observability"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

// Writer loads frames into a sink.
type Writer struct {
	sink   Sink
	logger *zap.Logger

	mu      sync.Mutex
	ensured bool
}

// NewWriter creates a writer over sink.
func NewWriter(sink Sink, log *zap.Logger) *Writer {
	if log == nil {
		log = logger.Get()
	}
	return &Writer{
		sink:   sink,
		logger: log.With(zap.String("component", "warehouse")),
	}
}

// Sink returns the underlying sink.
func (w *Writer) Sink() Sink {
	return w.sink
}

// EnsureDataset creates the destination dataset once per writer. A failed
// attempt is retried on the next call.
func (w *Writer) EnsureDataset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ensured {
		return nil
	}
	if err := w.sink.EnsureDataset(ctx); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to ensure dataset")
	}
	w.ensured = true
	return nil
}

// Write loads frame into table with mode. An invalid mode fails before the
// sink is touched, and a frame without rows is skipped.
func (w *Writer) Write(ctx context.Context, table string, frame *models.Frame, s *schema.TableSchema, mode WriteMode) (int64, error) {
	if _, err := ParseWriteMode(string(mode)); err != nil {
		return 0, err
	}
	log := logger.FromContext(ctx, w.logger).With(
		zap.String("table", table),
		zap.String("mode", string(mode)))

	if err := w.EnsureDataset(ctx); err != nil {
		return 0, err
	}

	if frame.Len() == 0 {
		log.Info("no rows to load")
		return 0, nil
	}

	ctx, span := observability.StartSpan(ctx, "warehouse.write",
		attribute.String("table", table),
		attribute.String("mode", string(mode)),
		attribute.Int("rows", frame.Len()))

	n, err := w.sink.Load(ctx, table, frame, s, mode)
	if err != nil {
		err = syncerrors.Wrap(err, syncerrors.ErrorTypeWarehouse, "failed to load table").
			WithDetail("table", table).
			WithDetail("mode", string(mode))
		observability.EndSpan(span, err)
		return 0, err
	}
	observability.EndSpan(span, nil)

	metrics.RowsWritten.WithLabelValues(table, string(mode)).Add(float64(n))
	log.Info("table loaded", zap.Int64("rows", n))
	return n, nil
}
