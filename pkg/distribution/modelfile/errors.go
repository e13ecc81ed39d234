package modelfile

import (
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	ErrInvalidDirective = fmt.Errorf("invalid Modelfile directive: %w", errdefs.ErrInvalidArgument)
	ErrInvalidAdapter   = fmt.Errorf("invalid LoRA adapter: %w", errdefs.ErrInvalidArgument)
	ErrInvalidConfig    = fmt.Errorf("invalid Modelfile configuration: %w", errdefs.ErrInvalidArgument)
)
