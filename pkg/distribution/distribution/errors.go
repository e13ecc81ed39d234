package distribution

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/model-distribution/pkg/distribution/internal/store"
	"github.com/docker/model-distribution/pkg/distribution/types"
)

var (
	ErrInvalidReference = types.ErrInvalidModelName
	ErrModelNotFound    = store.ErrManifestNotFound // model not found in store
	ErrBlobNotFound     = store.ErrBlobNotFound
	ErrDigestMismatch   = store.ErrDigestMismatch
	ErrIncompleteModel  = fmt.Errorf("model is missing blobs: %w", errdefs.ErrNotFound)
	ErrInvalidConfig    = fmt.Errorf("invalid configuration: %w", errdefs.ErrInvalidArgument)
)
