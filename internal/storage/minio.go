package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MinioBlobs stores blobs as objects in one MinIO (or any S3-compatible) bucket.
type MinioBlobs struct {
	client     *minio.Client
	bucketName string
}

// NewMinioBlobs connects to endpoint and creates the bucket when missing.
func NewMinioBlobs(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioBlobs, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucketName, err)
		}
	}
	return &MinioBlobs{client: client, bucketName: bucketName}, nil
}

func (m *MinioBlobs) Put(ctx context.Context, name string, r io.Reader, size int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "minio.put", trace.WithAttributes(
		attribute.String("object_key", name),
		attribute.Int64("size_bytes", size),
	))
	defer span.End()

	if err := ValidName(name); err != nil {
		return 0, err
	}
	info, err := m.client.PutObject(ctx, m.bucketName, name, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("put object: %w", err)
	}
	return info.Size, nil
}

func (m *MinioBlobs) Open(ctx context.Context, name string) (io.ReadSeekCloser, BlobInfo, error) {
	ctx, span := tracer.Start(ctx, "minio.open", trace.WithAttributes(attribute.String("object_key", name)))
	defer span.End()

	if err := ValidName(name); err != nil {
		return nil, BlobInfo{}, err
	}
	object, err := m.client.GetObject(ctx, m.bucketName, name, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, BlobInfo{}, fmt.Errorf("get object: %w", err)
	}
	stat, err := object.Stat()
	if err != nil {
		_ = object.Close()
		if isMissingObject(err) {
			return nil, BlobInfo{}, ErrBlobNotFound
		}
		span.RecordError(err)
		return nil, BlobInfo{}, fmt.Errorf("stat object: %w", err)
	}
	return object, BlobInfo{Name: name, Size: stat.Size, ModTime: stat.LastModified}, nil
}

func (m *MinioBlobs) Remove(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "minio.remove", trace.WithAttributes(attribute.String("object_key", name)))
	defer span.End()

	if err := ValidName(name); err != nil {
		return err
	}
	if _, err := m.client.StatObject(ctx, m.bucketName, name, minio.StatObjectOptions{}); err != nil {
		if isMissingObject(err) {
			return ErrBlobNotFound
		}
		span.RecordError(err)
		return fmt.Errorf("stat object: %w", err)
	}
	if err := m.client.RemoveObject(ctx, m.bucketName, name, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func isMissingObject(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
