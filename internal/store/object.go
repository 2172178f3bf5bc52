package store

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ogulcanaydogan/medcert/internal/config"
	"github.com/ogulcanaydogan/medcert/internal/errs"
)

const objectScheme = "s3://"

// ObjectStore is a thin wrapper over an S3-compatible bucket client.
type ObjectStore struct {
	client *minio.Client
}

// NewObjectStore returns nil, nil when cfg is not configured.
func NewObjectStore(cfg config.ObjectStoreConfig) (*ObjectStore, error) {
	if !cfg.Configured() {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Configuration("object store", "create client for %s: %v", cfg.Endpoint, err)
	}
	return &ObjectStore{client: client}, nil
}

func IsObjectURI(s string) bool {
	return strings.HasPrefix(s, objectScheme)
}

// ParseObjectURI splits s3://bucket/key. The key may be empty.
func ParseObjectURI(uri string) (bucket, key string, err error) {
	if !IsObjectURI(uri) {
		return "", "", errs.InvalidInput("parse object uri", "%q is not an s3:// uri", uri)
	}
	rest := strings.TrimPrefix(uri, objectScheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errs.InvalidInput("parse object uri", "%q has no bucket", uri)
	}
	return bucket, key, nil
}

func (s *ObjectStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errs.Transport("get object", err)
	}
	defer obj.Close()
	raw, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errs.NotFound("get object", "test data object not found: s3://%s/%s", bucket, key)
		}
		return nil, errs.Transport("get object", err)
	}
	return raw, nil
}

func (s *ObjectStore) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errs.Transport("put object", err)
	}
	return nil
}

// Upload puts each local file under the prefix named by uri and returns the
// resulting object URIs.
func (s *ObjectStore) Upload(ctx context.Context, uri string, files map[string][]byte) ([]string, error) {
	bucket, prefix, err := ParseObjectURI(uri)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		key := path.Join(prefix, name)
		if err := s.Put(ctx, bucket, key, files[name], contentTypeFor(name)); err != nil {
			return out, err
		}
		out = append(out, objectScheme+bucket+"/"+key)
	}
	return out, nil
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}
