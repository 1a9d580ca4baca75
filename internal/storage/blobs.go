package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrBlobNotFound is returned when no blob exists under a name.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrInvalidName is returned for names that are not a single safe path segment.
	ErrInvalidName = errors.New("invalid blob name")
)

const maxNameLength = 255

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// BlobStore keeps uploaded files addressed by their stored name.
type BlobStore interface {
	// Put stores r under name. size may be -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) (int64, error)
	Open(ctx context.Context, name string) (io.ReadSeekCloser, BlobInfo, error)
	Remove(ctx context.Context, name string) error
}

// ValidName checks that name is a plain file name with no path components.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case len(name) > maxNameLength:
		return ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidName
	}
	return nil
}

// DiskBlobs stores blobs as files in one directory.
type DiskBlobs struct {
	dir string
}

func NewDiskBlobs(dir string) (*DiskBlobs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskBlobs{dir: dir}, nil
}

func (d *DiskBlobs) Dir() string {
	return d.dir
}

func (d *DiskBlobs) Put(ctx context.Context, name string, r io.Reader, size int64) (written int64, err error) {
	_, span := tracer.Start(ctx, "disk.put", trace.WithAttributes(
		attribute.String("name", name),
		attribute.Int64("size_bytes", size),
	))
	defer span.End()

	if err := ValidName(name); err != nil {
		return 0, err
	}
	path := filepath.Join(d.dir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("create blob: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close blob: %w", closeErr)
		}
		if err != nil {
			span.RecordError(err)
			_ = os.Remove(path)
		}
	}()

	written, err = io.Copy(file, r)
	if err != nil {
		return written, fmt.Errorf("write blob: %w", err)
	}
	return written, nil
}

func (d *DiskBlobs) Open(ctx context.Context, name string) (io.ReadSeekCloser, BlobInfo, error) {
	_, span := tracer.Start(ctx, "disk.open", trace.WithAttributes(attribute.String("name", name)))
	defer span.End()

	if err := ValidName(name); err != nil {
		return nil, BlobInfo{}, err
	}
	file, err := os.Open(filepath.Join(d.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, BlobInfo{}, ErrBlobNotFound
		}
		span.RecordError(err)
		return nil, BlobInfo{}, fmt.Errorf("open blob: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		span.RecordError(err)
		return nil, BlobInfo{}, fmt.Errorf("stat blob: %w", err)
	}
	if stat.IsDir() {
		_ = file.Close()
		return nil, BlobInfo{}, ErrBlobNotFound
	}
	return file, BlobInfo{Name: name, Size: stat.Size(), ModTime: stat.ModTime()}, nil
}

func (d *DiskBlobs) Remove(ctx context.Context, name string) error {
	_, span := tracer.Start(ctx, "disk.remove", trace.WithAttributes(attribute.String("name", name)))
	defer span.End()

	if err := ValidName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(d.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBlobNotFound
		}
		span.RecordError(err)
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}
