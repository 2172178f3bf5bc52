// Package report renders a finished evaluation record into a detailed JSON
// report, a markdown summary and a PDF certificate.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ogulcanaydogan/medcert/internal/hash"
	"github.com/ogulcanaydogan/medcert/internal/logging"
	"github.com/ogulcanaydogan/medcert/internal/store"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	"go.uber.org/zap"
)

// Artifact formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "md"
	FormatPDF      = "pdf"
)

// Uploader puts rendered files under an object-store prefix.
type Uploader interface {
	Upload(ctx context.Context, uri string, files map[string][]byte) ([]string, error)
}

type Emitter struct {
	OutputDir string
	// Formats defaults to all three.
	Formats   []string
	UploadURI string
	Uploader  Uploader
	Generator string
	Logger    *zap.Logger
	Now       func() time.Time
}

// Emit writes the configured artifacts for rec and uploads them when an
// upload URI is set.
func (e *Emitter) Emit(ctx context.Context, rec types.EvaluationRecord) (types.Artifacts, error) {
	log := logging.OrNop(e.Logger)
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	dir, err := store.EnsureDir(e.OutputDir)
	if err != nil {
		return types.Artifacts{}, err
	}

	rec.Artifacts = types.Artifacts{}
	digest, err := hash.DigestJSON(rec)
	if err != nil {
		return types.Artifacts{}, fmt.Errorf("digest record: %w", err)
	}
	doc := Document{
		Certificate: NewCertificate(rec, digest, e.Generator, now()),
		Evaluation:  rec,
	}
	arts := types.Artifacts{RecordDigest: digest}

	formats := e.Formats
	if len(formats) == 0 {
		formats = []string{FormatJSON, FormatMarkdown, FormatPDF}
	}
	files := map[string][]byte{}
	for _, f := range formats {
		var (
			name string
			raw  []byte
		)
		switch f {
		case FormatJSON:
			name = "report_" + rec.EvaluationID + ".json"
			raw, err = MarshalJSON(doc)
		case FormatMarkdown:
			name = "summary_" + rec.EvaluationID + ".md"
			raw = []byte(BuildMarkdown(doc))
		case FormatPDF:
			name = "certificate_" + rec.EvaluationID + ".pdf"
			raw, err = BuildPDF(doc)
		default:
			return arts, fmt.Errorf("unknown report format %q", f)
		}
		if err != nil {
			return arts, err
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return arts, fmt.Errorf("write %s: %w", path, err)
		}
		files[name] = raw
		switch f {
		case FormatJSON:
			arts.ReportPath = path
		case FormatMarkdown:
			arts.SummaryPath = path
		case FormatPDF:
			arts.CertificatePath = path
		}
		log.Info("wrote report artifact", zap.String("path", path))
	}

	if e.UploadURI != "" {
		if e.Uploader == nil {
			log.Warn("upload uri set without object store, skipping upload", zap.String("uri", e.UploadURI))
			return arts, nil
		}
		uploaded, err := e.Uploader.Upload(ctx, e.UploadURI, files)
		arts.Uploaded = uploaded
		if err != nil {
			return arts, err
		}
		log.Info("uploaded report artifacts", zap.Strings("objects", uploaded))
	}
	return arts, nil
}

var _ Uploader = (*store.ObjectStore)(nil)
