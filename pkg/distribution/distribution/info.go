package distribution

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/docker/model-distribution/pkg/distribution/internal/store"
	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/docker/model-distribution/pkg/gguf"
)

// GetModelInfo describes a stored model. Details that need the config blob
// or the weights are filled in only when those blobs are present.
func (c *Client) GetModelInfo(name string) (*types.ModelInfo, error) {
	mp := c.ParseModelName(name)
	manifest, err := c.store.ReadManifest(mp)
	if err != nil {
		return nil, err
	}

	info := &types.ModelInfo{
		Name:   mp.Repository,
		Tag:    mp.Tag,
		Digest: manifest.Config.Digest,
		Size:   manifest.TotalSize(),
	}
	if info.Digest == "" {
		if d, err := store.SHA256File(c.store.ManifestPath(mp)); err == nil {
			info.Digest = d.String()
		}
	}

	if manifest.HasConfig() {
		cfg, err := c.readConfig(manifest.Config.Digest)
		if err != nil {
			c.log.Warnf("Reading config of %s: %v", mp, err)
		} else {
			info.Format = cfg.ModelFormat
			info.Families = cfg.ModelFamilies
			if len(info.Families) == 0 && cfg.ModelFamily != "" {
				info.Families = []string{cfg.ModelFamily}
			}
			info.QuantizationLevel = cfg.FileType
		}
	}

	path, err := c.GetModelPath(name)
	if err != nil {
		c.log.Debugf("No weights for %s: %v", mp, err)
		return info, nil
	}
	if summary, err := gguf.Summarize(path); err != nil {
		c.log.Warnf("Summarizing %s: %v", mp, err)
	} else {
		info.ParameterSize = summary.Parameters
		if info.QuantizationLevel == "" {
			info.QuantizationLevel = summary.Quantization
		}
		if info.Format == "" {
			info.Format = "gguf"
		}
	}

	p := gguf.New(gguf.WithLogger(c.log))
	if err := p.ParseFile(path); err != nil {
		c.log.Warnf("Parsing %s: %v", mp, err)
		return info, nil
	}
	defer p.Close()
	info.Metadata = p.MetadataStrings()
	if len(info.Families) == 0 {
		if arch := strings.TrimSpace(p.Architecture().Name); arch != "" {
			info.Families = []string{arch}
		}
	}
	return info, nil
}

func (c *Client) readConfig(dgst string) (*types.ConfigFile, error) {
	path := c.store.BlobPath(dgst)
	if path == "" {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidDigest, dgst)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrBlobNotFound, dgst)
		}
		return nil, err
	}
	var cfg types.ConfigFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", dgst, err)
	}
	return &cfg, nil
}
