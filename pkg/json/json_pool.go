// Package json wraps goccy/go-json with pooled buffers and the decoding
// conventions used for Graph API payloads.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// Number is a JSON number literal kept as text.
type Number = gojson.Number

// RawMessage is an undecoded JSON value.
type RawMessage = gojson.RawMessage

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool. Oversized buffers are dropped.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1<<20 {
		return
	}
	bufferPool.Put(buf)
}

// Marshal encodes v.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// Decode reads one JSON value from r into v. Numbers inside interface
// values are kept as Number so large integers survive intact.
func Decode(r io.Reader, v interface{}) error {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// LineEncoder writes newline-delimited JSON.
type LineEncoder struct {
	enc   *gojson.Encoder
	count int
}

// NewLineEncoder creates an NDJSON encoder writing to w.
func NewLineEncoder(w io.Writer) *LineEncoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &LineEncoder{enc: enc}
}

// Encode writes v followed by a newline.
func (e *LineEncoder) Encode(v interface{}) error {
	if err := e.enc.Encode(v); err != nil {
		return err
	}
	e.count++
	return nil
}

// Count returns the number of values written.
func (e *LineEncoder) Count() int {
	return e.count
}

// MarshalLines renders values as NDJSON into a single byte slice.
func MarshalLines[T any](values []T) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := NewLineEncoder(buf)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
