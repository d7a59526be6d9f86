package artifacts

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kuitang/handover-verify/internal/verify"
)

// readObject fetches key straight from the bucket behind store.
func readObject(t *testing.T, store *Store, key string) (string, string) {
	t.Helper()
	out, err := store.s3Client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(store.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		t.Fatalf("GetObject %s: %v", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(data), aws.ToString(out.ContentType)
}

func TestStore_Put(t *testing.T) {
	t.Parallel()
	store := TestStore(t, "verify-artifacts")

	if err := store.Put(context.Background(), "runs/abc/verification.png", []byte("png"), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	body, ct := readObject(t, store, "runs/abc/verification.png")
	if body != "png" || ct != "image/png" {
		t.Fatalf("stored %q (%s)", body, ct)
	}
}

func TestUploader_RecordUploadsScreenshotsAndErrorShot(t *testing.T) {
	t.Parallel()
	store := TestStore(t, "verify-artifacts")
	dir := t.TempDir()
	shot := filepath.Join(dir, "01_initial_load.png")
	errShot := filepath.Join(dir, "verification_error.png")
	for _, f := range []string{shot, errShot} {
		if err := os.WriteFile(f, []byte(filepath.Base(f)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	res := &verify.Result{RunID: "run-1", Screenshots: []string{shot}, ErrorShot: errShot}
	if err := NewUploader(store).Record(context.Background(), res); err != nil {
		t.Fatalf("Record: %v", err)
	}
	want := []string{
		store.PublicURL("runs/run-1/01_initial_load.png"),
		store.PublicURL("runs/run-1/verification_error.png"),
	}
	if len(res.Artifacts) != 2 || res.Artifacts[0] != want[0] || res.Artifacts[1] != want[1] {
		t.Fatalf("artifacts = %v, want %v", res.Artifacts, want)
	}

	if got, _ := readObject(t, store, "runs/run-1/verification_error.png"); got != "verification_error.png" {
		t.Fatalf("uploaded content = %q", got)
	}
}

func TestUploader_MissingFileDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	store := TestStore(t, "verify-artifacts")
	dir := t.TempDir()
	present := filepath.Join(dir, "verification.png")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := &verify.Result{RunID: "run-2", Screenshots: []string{filepath.Join(dir, "gone.png"), present}}
	err := NewUploader(store).Record(context.Background(), res)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("artifacts = %v", res.Artifacts)
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]string{
		"a.PNG":       "image/png",
		"report.html": "text/html; charset=utf-8",
		"report.md":   "text/markdown; charset=utf-8",
		"blob":        "application/octet-stream",
	} {
		if got := contentType(name); got != want {
			t.Fatalf("contentType(%q) = %q, want %q", name, got, want)
		}
	}
}
