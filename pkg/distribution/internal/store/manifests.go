package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/moby/sys/atomicwriter"
)

// ManifestPath returns the file path of the manifest for mp, or "" if the
// components would resolve outside the manifests directory.
func (s *LocalStore) ManifestPath(mp types.ModelPath) string {
	for _, c := range []string{mp.Registry, mp.Namespace, mp.Repository, mp.Tag} {
		if c == "" || c == "." || c == ".." {
			return ""
		}
	}
	root := s.ManifestsDir()
	path := filepath.Join(root, mp.Registry, filepath.FromSlash(mp.Namespace), mp.Repository, mp.Tag)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return path
}

// ReadManifest loads the stored manifest for mp.
func (s *LocalStore) ReadManifest(mp types.ModelPath) (*types.Manifest, error) {
	path := s.ManifestPath(mp)
	if path == "" {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidModelName, mp)
	}
	m, err := ReadManifestFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, mp)
	}
	return m, err
}

// ReadManifestFile loads a manifest from an arbitrary path.
func ReadManifestFile(path string) (*types.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	m, err := types.ParseManifest(f)
	if err != nil {
		return nil, fmt.Errorf("read manifest %q: %w", path, err)
	}
	return m, nil
}

// WriteManifest persists the manifest for mp, replacing any existing one
// atomically.
func (s *LocalStore) WriteManifest(mp types.ModelPath, m *types.Manifest) error {
	path := s.ManifestPath(mp)
	if path == "" {
		return fmt.Errorf("%w: %s", types.ErrInvalidModelName, mp)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %q: %w", path, err)
	}
	return nil
}

// DeleteManifest removes the manifest for mp and any directories left empty.
func (s *LocalStore) DeleteManifest(mp types.ModelPath) error {
	path := s.ManifestPath(mp)
	if path == "" {
		return fmt.Errorf("%w: %s", types.ErrInvalidModelName, mp)
	}
	if err := os.Remove(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrManifestNotFound, mp)
	} else if err != nil {
		return fmt.Errorf("remove manifest: %w", err)
	}

	root := s.ManifestsDir()
	for dir := filepath.Dir(path); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Manifests returns every readable manifest in the store keyed by model
// path. Unreadable manifests are skipped with a warning.
func (s *LocalStore) Manifests() (map[types.ModelPath]*types.Manifest, error) {
	root := s.ManifestsDir()
	out := make(map[types.ModelPath]*types.Manifest)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		mp, ok := modelPathFromRel(rel)
		if !ok {
			return nil
		}
		m, err := ReadManifestFile(path)
		if err != nil {
			s.log.WithError(err).Warnf("Skipping unreadable manifest %s", path)
			return nil
		}
		out[mp] = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	return out, nil
}

// modelPathFromRel reconstructs a model path from a path relative to the
// manifests directory: registry/namespace.../repository/tag.
func modelPathFromRel(rel string) (types.ModelPath, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 4 {
		return types.ModelPath{}, false
	}
	n := len(parts)
	return types.ModelPath{
		Scheme:     types.DefaultScheme,
		Registry:   parts[0],
		Namespace:  strings.Join(parts[1:n-2], "/"),
		Repository: parts[n-2],
		Tag:        parts[n-1],
	}, true
}
