package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/metasync/pkg/config"
	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

func TestParseWriteMode(t *testing.T) {
	m, err := ParseWriteMode("append")
	require.NoError(t, err)
	assert.Equal(t, ModeAppend, m)

	m, err = ParseWriteMode("truncate")
	require.NoError(t, err)
	assert.Equal(t, ModeTruncate, m)

	for _, bad := range []string{"", "APPEND", "replace"} {
		_, err := ParseWriteMode(bad)
		require.Error(t, err, bad)
		assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeConfig))
	}
}

func TestTableNotFound(t *testing.T) {
	err := TableNotFound("insights_ads", errors.New("404"))
	assert.ErrorIs(t, err, ErrTableNotFound)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeNotFound))
	assert.Contains(t, err.Error(), "insights_ads")
}

func TestFilter(t *testing.T) {
	window, err := models.NewDateRange("2025-01-01", "2025-01-31")
	require.NoError(t, err)

	f := Filter{AccountIDs: []string{"111", "222"}}
	assert.False(t, f.Windowed())
	assert.NoError(t, f.Validate())
	assert.Equal(t, "account_id IN (111,222)", f.String())

	f.DateColumn = "date"
	f.Window = &window
	assert.True(t, f.Windowed())
	assert.Equal(t, "account_id IN (111,222) AND date BETWEEN 2025-01-01 AND 2025-01-31", f.String())

	assert.Error(t, Filter{}.Validate())
	assert.Error(t, Filter{AccountIDs: []string{"1"}, DateColumn: "date; DROP", Window: &window}.Validate())
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("meta_ads"))
	assert.True(t, ValidIdentifier("_x1"))
	assert.False(t, ValidIdentifier(""))
	assert.False(t, ValidIdentifier("1abc"))
	assert.False(t, ValidIdentifier("a-b"))
	assert.False(t, ValidIdentifier("a.b"))
}

func TestRegistry(t *testing.T) {
	var got Config
	Register("test-registry", func(ctx context.Context, cfg Config, _ *zap.Logger) (Sink, error) {
		got = cfg
		return &recordingSink{}, nil
	})
	assert.Contains(t, Drivers(), "test-registry")
	assert.Panics(t, func() {
		Register("test-registry", nil)
	})

	cfg := ConfigFrom(config.WarehouseConfig{Driver: "test-registry", ProjectID: "p", Dataset: "meta_ads", Location: "US"})
	sink, err := Open(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, sink)
	assert.Equal(t, "p", got.ProjectID)

	_, err = Open(context.Background(), Config{Driver: "nope", Dataset: "x"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeConfig))

	cfg.Dataset = "bad-name"
	_, err = Open(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}
