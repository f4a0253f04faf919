package warehouse

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

type loadCall struct {
	table string
	rows  int
	mode  WriteMode
}

type recordingSink struct {
	ensureCalls int
	ensureErr   error
	loads       []loadCall
	loadErr     error
}

func (s *recordingSink) EnsureDataset(ctx context.Context) error {
	s.ensureCalls++
	return s.ensureErr
}

func (s *recordingSink) Load(ctx context.Context, table string, frame *models.Frame, _ *schema.TableSchema, mode WriteMode) (int64, error) {
	if s.loadErr != nil {
		return 0, s.loadErr
	}
	s.loads = append(s.loads, loadCall{table, frame.Len(), mode})
	return int64(frame.Len()), nil
}

func (s *recordingSink) Count(ctx context.Context, table string, f Filter) (int64, error) {
	return 0, nil
}

func (s *recordingSink) Delete(ctx context.Context, table string, f Filter) (int64, error) {
	return 0, nil
}

func (s *recordingSink) MaxDate(ctx context.Context, table, column string) (civil.Date, bool, error) {
	return civil.Date{}, false, nil
}

func (s *recordingSink) Close() error { return nil }

func twoRows() *models.Frame {
	return &models.Frame{
		Columns: []string{"account_id", "id"},
		Rows: []models.Row{
			{"account_id": "111", "id": "c1"},
			{"account_id": "111", "id": "c2"},
		},
	}
}

func TestWriter_Write(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, zaptest.NewLogger(t))

	n, err := w.Write(context.Background(), "campaigns", twoRows(), nil, ModeTruncate)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []loadCall{{"campaigns", 2, ModeTruncate}}, sink.loads)

	_, err = w.Write(context.Background(), "ads", twoRows(), nil, ModeAppend)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.ensureCalls)
}

func TestWriter_SkipsEmptyFrames(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := &recordingSink{}
	w := NewWriter(sink, zap.New(core))

	for _, f := range []*models.Frame{nil, {}, models.NewFrame("id")} {
		n, err := w.Write(context.Background(), "campaigns", f, nil, ModeAppend)
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	assert.Empty(t, sink.loads)
	assert.Equal(t, 3, logs.FilterMessage("no rows to load").Len())
}

func TestWriter_InvalidModeTouchesNothing(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, zaptest.NewLogger(t))

	_, err := w.Write(context.Background(), "campaigns", twoRows(), nil, WriteMode("upsert"))
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeConfig))
	assert.Zero(t, sink.ensureCalls)
	assert.Empty(t, sink.loads)
}

func TestWriter_EnsureFailureIsRetried(t *testing.T) {
	sink := &recordingSink{ensureErr: errors.New("permission denied")}
	w := NewWriter(sink, zaptest.NewLogger(t))

	_, err := w.Write(context.Background(), "campaigns", twoRows(), nil, ModeAppend)
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeWarehouse))

	sink.ensureErr = nil
	_, err = w.Write(context.Background(), "campaigns", twoRows(), nil, ModeAppend)
	require.NoError(t, err)
	assert.Equal(t, 2, sink.ensureCalls)
}

func TestWriter_LoadError(t *testing.T) {
	sink := &recordingSink{loadErr: errors.New("quota exceeded")}
	w := NewWriter(sink, zaptest.NewLogger(t))

	_, err := w.Write(context.Background(), "ads", twoRows(), nil, ModeAppend)
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeWarehouse))
	assert.Contains(t, err.Error(), "table=ads")
	assert.Contains(t, err.Error(), "quota exceeded")
}
