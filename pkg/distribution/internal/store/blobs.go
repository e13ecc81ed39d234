package store

import (
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

const incompleteSuffix = ".incomplete"

var (
	digestPattern = regexp.MustCompile(`^sha256:[0-9a-fA-F]{64}$`)
	hexPattern    = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// parseDigest validates a "sha256:<hex>" string and returns it in
// canonical lowercase form.
func parseDigest(s string) (digest.Digest, error) {
	if !digestPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	return digest.Digest(strings.ToLower(s)), nil
}

// BlobPath returns the file path for a digest, or "" if the digest is not a
// well-formed sha256 digest.
func (s *LocalStore) BlobPath(dgst string) string {
	d, err := parseDigest(dgst)
	if err != nil {
		return ""
	}
	path, err := s.blobPath(d)
	if err != nil {
		return ""
	}
	return path
}

// blobPath returns the path to the blob for the given digest.
func (s *LocalStore) blobPath(d digest.Digest) (string, error) {
	dir := s.BlobsDir()
	path := filepath.Join(dir, d.Encoded())

	cleanRootPath := filepath.Clean(dir)
	cleanPath := filepath.Clean(path)
	relPath, err := filepath.Rel(cleanRootPath, cleanPath)
	if err != nil || strings.HasPrefix(relPath, "..") || strings.ContainsRune(relPath, filepath.Separator) {
		return "", fmt.Errorf("path traversal attempt detected: %s", path)
	}
	return cleanPath, nil
}

// HasBlob reports whether a complete blob exists for the digest.
func (s *LocalStore) HasBlob(dgst string) bool {
	path := s.BlobPath(dgst)
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// BlobSize returns the on-disk size of a blob.
func (s *LocalStore) BlobSize(dgst string) (int64, error) {
	path := s.BlobPath(dgst)
	if path == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDigest, dgst)
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrBlobNotFound, dgst)
	} else if err != nil {
		return 0, fmt.Errorf("stat blob %s: %w", dgst, err)
	}
	return info.Size(), nil
}

// WriteBlob streams r into the store under dgst and returns the number of
// bytes written. If the blob is already present this is a no-op and r is not
// read. Content is written to an incomplete file and only renamed into place
// once its digest has been verified; on any failure the incomplete file is
// removed.
func (s *LocalStore) WriteBlob(dgst string, r io.Reader) (int64, error) {
	d, err := parseDigest(dgst)
	if err != nil {
		return 0, err
	}
	if s.HasBlob(dgst) {
		return 0, nil
	}
	path, err := s.blobPath(d)
	if err != nil {
		return 0, fmt.Errorf("get blob path: %w", err)
	}
	tmp := incompletePath(path)

	f, err := createFile(tmp)
	if err != nil {
		return 0, fmt.Errorf("create blob file: %w", err)
	}

	verifier := d.Verifier()
	n, err := io.Copy(io.MultiWriter(f, verifier), r)
	f.Close() // Rename will fail on Windows if the file is still open.
	if err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("copy blob %q to store: %w", d.String(), err)
	}
	if !verifier.Verified() {
		os.Remove(tmp)
		return n, fmt.Errorf("%w: blob %s", ErrDigestMismatch, d.String())
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("rename blob file: %w", err)
	}
	return n, nil
}

// VerifyBlob recomputes the SHA-256 of a stored blob and compares it with
// its digest.
func (s *LocalStore) VerifyBlob(dgst string) error {
	d, err := parseDigest(dgst)
	if err != nil {
		return err
	}
	path, err := s.blobPath(d)
	if err != nil {
		return fmt.Errorf("get blob path: %w", err)
	}
	actual, err := SHA256File(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, dgst)
	} else if err != nil {
		return err
	}
	if actual != d {
		return fmt.Errorf("%w: blob %s has digest %s", ErrDigestMismatch, d, actual)
	}
	return nil
}

// SHA256File computes the sha256 digest of the file at path.
func SHA256File(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	d, err := digest.SHA256.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return d, nil
}

// RemoveBlob deletes the blob with the given digest.
func (s *LocalStore) RemoveBlob(dgst string) error {
	path := s.BlobPath(dgst)
	if path == "" {
		return fmt.Errorf("%w: %q", ErrInvalidDigest, dgst)
	}
	if err := os.Remove(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, dgst)
	} else if err != nil {
		return fmt.Errorf("remove blob %s: %w", dgst, err)
	}
	return nil
}

// createFile is a wrapper around os.Create that creates any parent directories as needed.
func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory %q: %w", filepath.Dir(path), err)
	}
	return os.Create(path)
}

// incompletePath returns the path to the incomplete file for the given path.
func incompletePath(path string) string {
	return path + incompleteSuffix
}
