package progress

import (
	"context"
	"io"
	"time"
)

// Update is a snapshot of a transfer.
type Update struct {
	Complete int64
	Total    int64
	// Speed is the rate over the trailing DefaultSpeedWindow, in bytes per
	// second.
	Speed float64
}

// Func receives updates synchronously from the goroutine doing the reading.
type Func func(downloaded, total int64, speed float64)

// Reader wraps an io.Reader to track reading progress. It stops with the
// context's error as soon as the context is done, so a cancelled transfer
// ends between chunks.
type Reader struct {
	ctx          context.Context
	reader       io.Reader
	progressChan chan<- Update
	callback     Func
	total        int64
	complete     int64
	start        time.Time
	now          func() time.Time
	meter        *Meter
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithUpdates sends updates to ch. Intermediate updates are dropped when the
// channel is full; the final update is always delivered.
func WithUpdates(ch chan<- Update) ReaderOption {
	return func(r *Reader) {
		r.progressChan = ch
	}
}

// WithCallback invokes fn after every successful read.
func WithCallback(fn Func) ReaderOption {
	return func(r *Reader) {
		r.callback = fn
	}
}

// NewReader returns a reader over r that expects total bytes.
func NewReader(ctx context.Context, r io.Reader, total int64, opts ...ReaderOption) *Reader {
	pr := &Reader{
		ctx:    ctx,
		reader: r,
		total:  total,
		now:    time.Now,
	}
	for _, o := range opts {
		o(pr)
	}
	pr.start = pr.now()
	return pr
}

// Complete returns the number of bytes read so far.
func (pr *Reader) Complete() int64 {
	return pr.complete
}

func (pr *Reader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := pr.reader.Read(p)
	pr.complete += int64(n)
	if n == 0 && err == nil {
		return n, err
	}

	u := pr.update()
	if n > 0 && pr.callback != nil {
		pr.callback(u.Complete, u.Total, u.Speed)
	}
	if pr.progressChan != nil {
		if err == io.EOF {
			pr.progressChan <- u
		} else if n > 0 {
			select {
			case pr.progressChan <- u:
			default: // if the progress channel is full, it skips sending rather than blocking the Read() call.
			}
		}
	}
	return n, err
}

func (pr *Reader) update() Update {
	if pr.meter == nil {
		pr.meter = NewMeter(DefaultSpeedWindow)
		pr.meter.Observe(pr.start, 0)
	}
	return Update{
		Complete: pr.complete,
		Total:    pr.total,
		Speed:    pr.meter.Observe(pr.now(), pr.complete),
	}
}

// Speed returns bytes per second, computed from whole milliseconds as
// downloaded*1000/elapsed. It is zero until a millisecond has elapsed.
func Speed(downloaded int64, elapsed time.Duration) float64 {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return float64(downloaded) * 1000 / float64(ms)
}
