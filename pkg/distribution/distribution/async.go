package distribution

import (
	"context"
	"io"
	"sync"
)

// PullHandle tracks a pull running in the background.
type PullHandle struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	result *PullResult
	err    error
}

// PullModelAsync starts PullModel in a new goroutine. The pull stops when
// ctx is done or Cancel is called.
func (c *Client) PullModelAsync(ctx context.Context, name string, progressWriter io.Writer) *PullHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &PullHandle{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(h.done)
		defer cancel()
		result, err := c.PullModel(ctx, name, progressWriter)
		h.mu.Lock()
		h.result, h.err = result, err
		h.mu.Unlock()
	}()
	return h
}

// Done is closed when the pull finishes.
func (h *PullHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the pull finishes and returns its outcome.
func (h *PullHandle) Wait() (*PullResult, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// Cancel stops the pull. Partially downloaded blobs are discarded.
func (h *PullHandle) Cancel() {
	h.cancel()
}
