// Package store reads benchmark sources and writes report artifacts, on the
// local filesystem or in an S3-compatible bucket.
package store

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ogulcanaydogan/medcert/internal/errs"
)

// Reader fetches the bytes behind a benchmark source.
type Reader interface {
	Read(ctx context.Context, source string) ([]byte, error)
}

// Sources resolves local paths directly and s3:// URIs through Objects.
type Sources struct {
	Objects *ObjectStore
}

func (s Sources) Read(ctx context.Context, source string) ([]byte, error) {
	if IsObjectURI(source) {
		if s.Objects == nil {
			return nil, errs.Configuration("read source", "object store not configured for %s", source)
		}
		bucket, key, err := ParseObjectURI(source)
		if err != nil {
			return nil, err
		}
		return s.Objects.Get(ctx, bucket, key)
	}
	return ReadLocal(source)
}

// ReadLocal reads path, mapping a missing file to a not-found error.
func ReadLocal(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("read source", "test data file not found: %s", path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

// EnsureDir creates the report output directory.
func EnsureDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}
