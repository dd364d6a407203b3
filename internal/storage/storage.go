// Package storage is the object-storage collaborator used for avatars,
// attachments and wallpapers. Upload failures are surfaced to the caller and
// never retried here.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Store interface {
	// Upload writes the blob and returns a durable public reference.
	Upload(ctx context.Context, path string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
}

// DiskStore keeps blobs under a local directory and serves them by relative
// reference.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

func (s *DiskStore) Upload(ctx context.Context, path string, r io.Reader) (string, error) {
	clean := filepath.Clean(path)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid upload path %q", path)
	}

	dst := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		os.Remove(dst)
		return "", err
	}

	return "/media/" + filepath.ToSlash(clean), nil
}

func (s *DiskStore) Delete(ctx context.Context, ref string) error {
	rel := strings.TrimPrefix(ref, "/media/")
	clean := filepath.Clean(rel)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("invalid storage ref %q", ref)
	}
	return os.Remove(filepath.Join(s.root, clean))
}
