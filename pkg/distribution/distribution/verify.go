package distribution

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// VerifyModel recomputes the digest of every blob of a stored model.
func (c *Client) VerifyModel(ctx context.Context, name string) error {
	mp := c.ParseModelName(name)
	manifest, err := c.store.ReadManifest(mp)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, dgst := range manifest.Digests() {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.store.VerifyBlob(dgst); err != nil {
				return fmt.Errorf("verifying %s: %w", mp, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warnln("Verification failed:", err)
		return err
	}
	c.log.Infof("Verified %d blobs of %s", len(manifest.Digests()), mp)
	return nil
}

// CleanupUnusedBlobs removes malformed blob files and blobs no manifest
// references.
func (c *Client) CleanupUnusedBlobs() (int, error) {
	pruned, err := c.store.PruneLayers()
	if err != nil {
		return pruned, fmt.Errorf("pruning blobs: %w", err)
	}
	used, err := c.store.UsedDigests()
	if err != nil {
		return pruned, fmt.Errorf("collecting referenced blobs: %w", err)
	}
	removed, err := c.store.DeleteUnusedLayers(used)
	if err != nil {
		return pruned + removed, fmt.Errorf("removing unused blobs: %w", err)
	}
	c.log.Infof("Removed %d blobs", pruned+removed)
	return pruned + removed, nil
}

// GetCacheSize returns the number of bytes held in the blob store.
func (c *Client) GetCacheSize() (int64, error) {
	return c.store.Size()
}

// SetMaxCacheSize changes the cache limit. Zero or less disables it.
func (c *Client) SetMaxCacheSize(size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxCacheSize = size
}

// MaxCacheSize returns the cache limit in bytes.
func (c *Client) MaxCacheSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxCacheSize
}

// CacheOverLimit reports whether the blob store exceeds the cache limit.
// Nothing is evicted automatically.
func (c *Client) CacheOverLimit() (bool, error) {
	limit := c.MaxCacheSize()
	if limit <= 0 {
		return false, nil
	}
	size, err := c.GetCacheSize()
	if err != nil {
		return false, err
	}
	return size > limit, nil
}
