package files_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apierrors "github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository/files"
)

func newRepo(t *testing.T, max int64) (*files.FileRepo, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := files.NewFileRepository(files.FileConfig{
		BasePath:         dir,
		MaxFileSize:      max,
		AllowedMimeTypes: []string{"image/jpeg"},
	})
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}
	return repo, dir
}

func TestSaveAndOpen(t *testing.T) {
	repo, _ := newRepo(t, 1024)
	ctx := context.Background()

	n, err := repo.Save(ctx, "100.jpg", strings.NewReader("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes written, got %d", n)
	}

	rc, size, err := repo.Open(ctx, "100.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "jpeg-bytes" || size != 10 {
		t.Fatalf("expected jpeg-bytes (10), got %q (%d)", body, size)
	}
}

func TestSave_TooLargeLeavesNothingBehind(t *testing.T) {
	repo, dir := newRepo(t, 4)

	_, err := repo.Save(context.Background(), "big.jpg", bytes.NewReader(make([]byte, 5)))
	apiErr := apierrors.AsAPIError(err)
	if apiErr.Type != apierrors.ErrorTypePayloadTooLarge {
		t.Fatalf("expected payload too large, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files after rejected save, got %d", len(entries))
	}
}

func TestSave_EmptyRejected(t *testing.T) {
	repo, _ := newRepo(t, 4)
	if _, err := repo.Save(context.Background(), "e.jpg", strings.NewReader("")); !errors.Is(err, repository.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRefsMustBeFlat(t *testing.T) {
	repo, _ := newRepo(t, 1024)
	ctx := context.Background()
	for _, ref := range []string{"", "../x.jpg", "a/b.jpg", ".hidden"} {
		if _, err := repo.Save(ctx, ref, strings.NewReader("x")); !errors.Is(err, repository.ErrInvalidInput) {
			t.Errorf("ref %q: expected ErrInvalidInput, got %v", ref, err)
		}
	}
}

func TestOpenMissing(t *testing.T) {
	repo, _ := newRepo(t, 1024)
	_, _, err := repo.Open(context.Background(), "nope.jpg")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Delete(context.Background(), "nope.jpg"); err != nil {
		t.Fatalf("deleting a missing file should be a no-op, got %v", err)
	}
}

func TestDeleteOldFiles_HonoursKeep(t *testing.T) {
	repo, dir := newRepo(t, 1024)
	ctx := context.Background()

	for _, ref := range []string{"1.jpg", "2.jpg", "3.jpg"} {
		if _, err := repo.Save(ctx, ref, strings.NewReader(ref)); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	for _, ref := range []string{"1.jpg", "2.jpg"} {
		if err := os.Chtimes(filepath.Join(dir, ref), old, old); err != nil {
			t.Fatal(err)
		}
	}

	n, err := repo.DeleteOldFiles(ctx, time.Now().Add(-time.Hour), func(ref string) bool { return ref == "2.jpg" })
	if err != nil {
		t.Fatalf("DeleteOldFiles: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}
	for ref, want := range map[string]bool{"1.jpg": false, "2.jpg": true, "3.jpg": true} {
		_, err := os.Stat(filepath.Join(dir, ref))
		if exists := err == nil; exists != want {
			t.Errorf("%s: exists=%v, want %v", ref, exists, want)
		}
	}
}

func TestIsAllowedMimeType(t *testing.T) {
	repo, _ := newRepo(t, 1024)
	if !repo.IsAllowedMimeType("image/jpeg") {
		t.Fatal("expected image/jpeg to be allowed")
	}
	if repo.IsAllowedMimeType("text/plain") {
		t.Fatal("expected text/plain to be rejected")
	}
}
