package bigquery

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat(`{"account_id":"111","spend":1.5}`+"\n", 100))

	var buf bytes.Buffer
	require.NoError(t, compress(&buf, data))
	assert.Less(t, buf.Len(), len(data))

	r, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStagingObjectName(t *testing.T) {
	s := &stager{name: "bucket", prefix: "metasync/loads"}

	a := s.objectName("insights_ads")
	b := s.objectName("insights_ads")
	assert.True(t, strings.HasPrefix(a, "metasync/loads/insights_ads/"))
	assert.True(t, strings.HasSuffix(a, ".json.gz"))
	assert.NotEqual(t, a, b)

	s.prefix = ""
	assert.True(t, strings.HasPrefix(s.objectName("ads"), "ads/"))
}
