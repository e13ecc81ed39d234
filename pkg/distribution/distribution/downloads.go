package distribution

import (
	"context"
	"io"
	"sync"

	"github.com/docker/model-distribution/pkg/distribution/internal/progress"
)

// blobFlight is the context a shared blob download runs under, counted by
// the callers still waiting for it.
type blobFlight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// joinDownload registers the caller as a waiter on the download of dgst and
// returns the context that download runs under, plus a func to call once the
// caller stops waiting. The context keeps ctx's values but not its
// cancellation; it is cancelled when the last waiter leaves.
func (c *Client) joinDownload(ctx context.Context, dgst string) (context.Context, func()) {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()
	f, ok := c.flights[dgst]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &blobFlight{ctx: fctx, cancel: cancel}
		if c.flights == nil {
			c.flights = make(map[string]*blobFlight)
		}
		c.flights[dgst] = f
	}
	f.waiters++

	var once sync.Once
	return f.ctx, func() {
		once.Do(func() {
			c.flightsMu.Lock()
			defer c.flightsMu.Unlock()
			f.waiters--
			if f.waiters == 0 {
				f.cancel()
				delete(c.flights, dgst)
			}
		})
	}
}

// callerOutput forwards progress of a download to the caller that started
// it, until that caller stops waiting.
type callerOutput struct {
	mu sync.Mutex
	w  io.Writer
	cb progress.Func
}

func (o *callerOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.w == nil {
		return len(p), nil
	}
	return o.w.Write(p)
}

func (o *callerOutput) report(downloaded, total int64, speed float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cb != nil {
		o.cb(downloaded, total, speed)
	}
}

func (o *callerOutput) targets() (writer, callback bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w != nil, o.cb != nil
}

func (o *callerOutput) detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.w = nil
	o.cb = nil
}
