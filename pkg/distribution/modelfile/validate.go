package modelfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/docker/model-distribution/pkg/gguf"
)

const (
	MinAdapterSize = 1 << 20
	MaxAdapterSize = 2 << 30

	MaxAdapterScale   = 10.0
	MaxAdapterTensors = 10000
	MaxAdapterKVs     = 1000

	minAdapterVersion = 3
)

// ValidateLoRAAdapter sanity checks an adapter file without fully parsing
// it. The returned error wraps ErrInvalidAdapter and names the failed check.
func ValidateLoRAAdapter(a types.LoRAAdapter) error {
	if a.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidAdapter)
	}
	if a.Scale <= 0 || a.Scale > MaxAdapterScale {
		return fmt.Errorf("%w: scale %g outside (0, %g]", ErrInvalidAdapter, a.Scale, MaxAdapterScale)
	}

	fi, err := os.Stat(a.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", ErrInvalidAdapter, a.Path)
		}
		return fmt.Errorf("%w: %v", ErrInvalidAdapter, err)
	}
	// blobs are stored without an extension, so their content is checked instead
	if !strings.EqualFold(filepath.Ext(a.Path), ".gguf") && a.Digest == "" {
		return fmt.Errorf("%w: %s is not a .gguf file", ErrInvalidAdapter, a.Path)
	}
	if size := fi.Size(); size < MinAdapterSize || size > MaxAdapterSize {
		return fmt.Errorf("%w: size %d outside [%d, %d]", ErrInvalidAdapter, size, MinAdapterSize, MaxAdapterSize)
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAdapter, err)
	}
	defer f.Close()
	h, err := gguf.ReadHeader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAdapter, err)
	}
	switch {
	case h.Version < minAdapterVersion:
		return fmt.Errorf("%w: GGUF version %d", ErrInvalidAdapter, h.Version)
	case h.TensorCount == 0 || h.TensorCount > MaxAdapterTensors:
		return fmt.Errorf("%w: %d tensors", ErrInvalidAdapter, h.TensorCount)
	case h.MetadataKVCount > MaxAdapterKVs:
		return fmt.Errorf("%w: %d metadata entries", ErrInvalidAdapter, h.MetadataKVCount)
	}
	return nil
}
