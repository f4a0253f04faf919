package bigquery

import (
	"context"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/metasync/pkg/syncerrors"
)

// stager uploads load files to a GCS bucket so BigQuery can read them from
// there.
type stager struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
	logger *zap.Logger
}

func newStager(ctx context.Context, bucket, prefix string, opts []option.ClientOption, logger *zap.Logger) (*stager, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &stager{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: prefix,
		logger: logger.With(zap.String("staging_bucket", bucket)),
	}, nil
}

// objectName returns a unique object path for a load file of table.
func (s *stager) objectName(table string) string {
	return path.Join(s.prefix, table, uuid.NewString()+".json.gz")
}

// stage writes data gzipped to a new object and returns a GCS reference to
// it along with a function that deletes the object.
func (s *stager) stage(ctx context.Context, table string, data []byte) (*bigquery.GCSReference, func(), error) {
	name := s.objectName(table)
	obj := s.bucket.Object(name)

	w := obj.NewWriter(ctx)
	w.ContentType = "application/gzip"
	if err := compress(w, data); err != nil {
		_ = w.Close()
		return nil, nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "failed to write staging object").
			WithDetail("object", name)
	}
	if err := w.Close(); err != nil {
		return nil, nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConnection, "failed to upload staging object").
			WithDetail("object", name)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.name, name)
	s.logger.Debug("load file staged", zap.String("uri", uri), zap.Int("bytes", len(data)))

	ref := bigquery.NewGCSReference(uri)
	ref.SourceFormat = bigquery.JSON
	ref.Compression = bigquery.Gzip

	cleanup := func() {
		// the load may have been cancelled with ctx
		if err := obj.Delete(context.Background()); err != nil {
			s.logger.Warn("failed to delete staging object", zap.String("uri", uri), zap.Error(err))
		}
	}
	return ref, cleanup, nil
}

func (s *stager) close() error {
	return s.client.Close()
}

// compress gzips data into w.
func compress(w io.Writer, data []byte) error {
	gz := gzip.NewWriter(w)
	if _, err := gz.Write(data); err != nil {
		_ = gz.Close()
		return err
	}
	return gz.Close()
}
