package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/sirupsen/logrus"
)

const (
	manifestsDir = "manifests"
	blobsDir     = "blobs"
)

var (
	ErrManifestNotFound = fmt.Errorf("manifest not found: %w", errdefs.ErrNotFound)
	ErrBlobNotFound     = fmt.Errorf("blob not found: %w", errdefs.ErrNotFound)
	ErrDigestMismatch   = fmt.Errorf("digest mismatch: %w", errdefs.ErrDataLoss)
	ErrInvalidDigest    = fmt.Errorf("invalid digest: %w", errdefs.ErrInvalidArgument)
)

// Options configures a LocalStore.
type Options struct {
	RootPath string
	Logger   *logrus.Entry
}

// LocalStore keeps manifests and content-addressed blobs under a root
// directory:
//
//	<root>/manifests/<registry>/<namespace>/<repository>/<tag>
//	<root>/blobs/<sha256 hex>
type LocalStore struct {
	mu          sync.Mutex
	rootPath    string
	initialized bool
	log         *logrus.Entry
}

// New returns a store rooted at opts.RootPath. The directory layout is
// created lazily by Initialize.
func New(opts Options) (*LocalStore, error) {
	if opts.RootPath == "" {
		return nil, fmt.Errorf("store root path is required: %w", errdefs.ErrInvalidArgument)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LocalStore{
		rootPath: filepath.Clean(opts.RootPath),
		log:      log.WithField("component", "store"),
	}, nil
}

// Initialize creates the manifests and blobs directories. It is safe to call
// repeatedly and from multiple goroutines.
func (s *LocalStore) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	for _, dir := range []string{filepath.Join(s.rootPath, manifestsDir), filepath.Join(s.rootPath, blobsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create store directory %q: %w", dir, err)
		}
	}
	s.initialized = true
	return nil
}

// SetRootPath moves the store to a new root. Initialize must be called again
// before writing.
func (s *LocalStore) SetRootPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootPath = filepath.Clean(path)
	s.initialized = false
}

// RootPath returns the store root.
func (s *LocalStore) RootPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootPath
}

// ManifestsDir returns the directory holding manifests.
func (s *LocalStore) ManifestsDir() string {
	return filepath.Join(s.RootPath(), manifestsDir)
}

// BlobsDir returns the directory holding blobs.
func (s *LocalStore) BlobsDir() string {
	return filepath.Join(s.RootPath(), blobsDir)
}
