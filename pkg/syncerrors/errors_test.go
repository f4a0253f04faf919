package syncerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestWrap_PreservesStackOfStructuredCause(t *testing.T) {
	inner := New(ErrorTypeConnection, "dial failed")
	outer := Wrap(inner, ErrorTypeExtraction, "fetch failed")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, errors.Is(outer, inner))
}

func TestIsType_WalksChain(t *testing.T) {
	inner := New(ErrorTypeNotFound, "table missing")
	outer := Wrap(inner, ErrorTypeWarehouse, "count failed")

	assert.True(t, IsType(outer, ErrorTypeWarehouse))
	assert.True(t, IsType(outer, ErrorTypeNotFound))
	assert.False(t, IsType(outer, ErrorTypeConfig))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeConfig))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeConfig, TypeOf(New(ErrorTypeConfig, "bad")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
}

func TestError_FormatsDetailsSorted(t *testing.T) {
	err := New(ErrorTypeExtraction, "retries exhausted").
		WithDetail("endpoint", "act_1/campaigns").
		WithDetail("attempts", 5)

	assert.Equal(t, "extraction: retries exhausted (attempts=5, endpoint=act_1/campaigns)", err.Error())
}
