package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// IncompleteGracePeriod is how long an incomplete download may go without a
// write before PruneLayers treats it as abandoned.
const IncompleteGracePeriod = 15 * time.Minute

// PruneLayers removes every file in the blobs directory whose name is not a
// bare 64-character lowercase hex digest, including abandoned incomplete
// downloads. Incomplete files written to within IncompleteGracePeriod belong
// to a download in progress and are kept. It returns the number of files
// removed.
func (s *LocalStore) PruneLayers() (int, error) {
	entries, err := s.blobEntries()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if hexPattern.MatchString(e.Name()) {
			continue
		}
		if inProgress(e) {
			s.log.Debugf("Keeping in-progress download %s", e.Name())
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.BlobsDir(), e.Name())); err != nil {
			s.log.WithError(err).Warnf("Failed to remove %s", e.Name())
			continue
		}
		removed++
	}
	return removed, nil
}

// DeleteUnusedLayers removes blobs whose digest is not in used. Keys may be
// given with or without the "sha256:" prefix.
func (s *LocalStore) DeleteUnusedLayers(used map[string]struct{}) (int, error) {
	keep := make(map[string]struct{}, len(used))
	for d := range used {
		keep[strings.ToLower(strings.TrimPrefix(d, "sha256:"))] = struct{}{}
	}

	entries, err := s.blobEntries()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !hexPattern.MatchString(name) || !e.Type().IsRegular() {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.BlobsDir(), name)); err != nil {
			s.log.WithError(err).Warnf("Failed to remove unused blob %s", name)
			continue
		}
		s.log.Debugf("Removed unused blob sha256:%s", name)
		removed++
	}
	return removed, nil
}

// UsedDigests returns the set of blob digests referenced by any stored
// manifest.
func (s *LocalStore) UsedDigests() (map[string]struct{}, error) {
	manifests, err := s.Manifests()
	if err != nil {
		return nil, err
	}
	used := make(map[string]struct{})
	for _, m := range manifests {
		for _, d := range m.Digests() {
			used[strings.ToLower(d)] = struct{}{}
		}
	}
	return used, nil
}

// Size returns the total size in bytes of regular files in the blobs
// directory.
func (s *LocalStore) Size() (int64, error) {
	entries, err := s.blobEntries()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

func inProgress(e os.DirEntry) bool {
	if !strings.HasSuffix(e.Name(), incompleteSuffix) {
		return false
	}
	info, err := e.Info()
	if err != nil {
		// vanished, most likely renamed into place
		return true
	}
	return time.Since(info.ModTime()) < IncompleteGracePeriod
}

func (s *LocalStore) blobEntries() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(s.BlobsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read blobs directory: %w", err)
	}
	return entries, nil
}
