// Package results streams a job's output objects to the client as a single
// zip archive.
package results

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/kiranshivaraju/batchflow/internal/objectstore"
	"github.com/kiranshivaraju/batchflow/pkg/models"
)

// Archiver bundles a job's outputs from the object store into a zip stream.
type Archiver struct {
	objects      objectstore.Store
	outputBucket string
	logger       *slog.Logger
}

func NewArchiver(objects objectstore.Store, outputBucket string, logger *slog.Logger) *Archiver {
	return &Archiver{
		objects:      objects,
		outputBucket: outputBucket,
		logger:       logger,
	}
}

// Stream writes a zip archive of all objects under the job's result prefix
// to w. Objects are streamed one at a time, never buffered whole. An object
// that cannot be retrieved is logged and skipped so one bad object does not
// sink the rest of the download; the archive is always finalized.
func (a *Archiver) Stream(ctx context.Context, w io.Writer, job *models.Job) error {
	entries, err := a.objects.ListPrefix(ctx, a.outputBucket, job.ResultPrefix())
	if err != nil {
		return fmt.Errorf("listing results: %w", err)
	}

	zw := zip.NewWriter(w)
	for _, entry := range entries {
		if err := a.addEntry(ctx, zw, entry); err != nil {
			a.logger.Warn("skipping result object",
				"job_id", job.ID,
				"key", entry.Key,
				"error", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

func (a *Archiver) addEntry(ctx context.Context, zw *zip.Writer, entry objectstore.Entry) error {
	obj, err := a.objects.GetObject(ctx, a.outputBucket, entry.Key)
	if err != nil {
		return err
	}
	defer obj.Close()

	fw, err := zw.Create(path.Base(entry.Key))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, obj); err != nil {
		return err
	}
	return nil
}
