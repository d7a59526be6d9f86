package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/kuitang/handover-verify/internal/obs"
	"github.com/kuitang/handover-verify/internal/verify"
)

// Uploader copies each run's screenshots to the store under runs/<run_id>/ and
// records the public URLs on the result.
type Uploader struct {
	store *Store
}

// NewUploader creates an Uploader writing to store.
func NewUploader(store *Store) *Uploader {
	return &Uploader{store: store}
}

// RunKey is the object key for a file produced by run runID.
func RunKey(runID, file string) string {
	return path.Join("runs", runID, filepath.Base(file))
}

// Record implements verify.Sink. Every file is attempted; errors are joined.
func (u *Uploader) Record(ctx context.Context, res *verify.Result) error {
	files := append([]string(nil), res.Screenshots...)
	if res.ErrorShot != "" {
		files = append(files, res.ErrorShot)
	}

	var uploadErrs []error
	for _, file := range files {
		url, err := u.UploadFile(ctx, RunKey(res.RunID, file), file)
		if err != nil {
			uploadErrs = append(uploadErrs, err)
			continue
		}
		res.Artifacts = append(res.Artifacts, url)
	}
	if len(files) > 0 {
		obs.From(ctx).Info("artifacts_uploaded", "pkg", "artifacts", "bucket", u.store.BucketName(), "count", len(res.Artifacts), "failed", len(uploadErrs))
	}
	return errors.Join(uploadErrs...)
}

// UploadFile reads a local file and stores it under key, returning its public URL.
func (u *Uploader) UploadFile(ctx context.Context, key, file string) (string, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("artifacts: read %s: %w", file, err)
	}
	if err := u.store.Put(ctx, key, content, contentType(file)); err != nil {
		return "", err
	}
	return u.store.PublicURL(key), nil
}
