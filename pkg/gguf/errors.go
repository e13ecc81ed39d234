package gguf

import (
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	ErrInvalidMagic        = fmt.Errorf("invalid GGUF magic: %w", errdefs.ErrInvalidArgument)
	ErrUnsupportedVersion  = fmt.Errorf("unsupported GGUF version: %w", errdefs.ErrInvalidArgument)
	ErrTruncated           = fmt.Errorf("truncated GGUF data: %w", errdefs.ErrInvalidArgument)
	ErrTooLarge            = fmt.Errorf("GGUF field exceeds limit: %w", errdefs.ErrInvalidArgument)
	ErrUnknownType         = fmt.Errorf("unknown GGUF value type: %w", errdefs.ErrInvalidArgument)
	ErrMissingArchitecture = fmt.Errorf("missing %s: %w", KeyArchitecture, errdefs.ErrInvalidArgument)
	ErrNotParsed           = fmt.Errorf("GGUF file not parsed: %w", errdefs.ErrFailedPrecondition)
)
