package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/go-units"
)

// UpdateInterval defines how often progress updates should be sent
const UpdateInterval = 100 * time.Millisecond

// MinBytesForUpdate defines the minimum number of bytes that need to be transferred
// before sending a progress update
const MinBytesForUpdate = 1024 * 1024 // 1MB

const (
	TypeProgress = "progress"
	TypeSuccess  = "success"
	TypeWarning  = "warning"
	TypeError    = "error"

	ModePull = "pull"
)

type Layer struct {
	ID      string `json:"id"`
	Size    uint64 `json:"size"`
	Current uint64 `json:"current"`
}

// Message represents a structured message for progress reporting
type Message struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Total   uint64  `json:"total"`
	Pulled  uint64  `json:"pulled"`
	Speed   float64 `json:"speed,omitempty"`
	Layer   Layer   `json:"layer"`
	Mode    string  `json:"mode"`
}

type Reporter struct {
	progress  chan Update
	done      chan struct{}
	err       error
	out       io.Writer
	format    progressF
	layer     Layer
	imageSize uint64
	mode      string
}

type progressF func(update Update) string

func PullMsg(update Update) string {
	msg := fmt.Sprintf("Downloaded: %s", units.HumanSize(float64(update.Complete)))
	if update.Speed > 0 {
		msg += fmt.Sprintf(" (%s/s)", units.HumanSize(update.Speed))
	}
	return msg
}

// NewProgressReporter returns a reporter for one layer of a transfer whose
// overall size is imageSize.
func NewProgressReporter(w io.Writer, msgF progressF, imageSize int64, layerID string, layerSize int64, mode string) *Reporter {
	return &Reporter{
		out:       w,
		progress:  make(chan Update, 1),
		done:      make(chan struct{}),
		format:    msgF,
		layer:     Layer{ID: layerID, Size: safeUint64(layerSize)},
		imageSize: safeUint64(imageSize),
		mode:      mode,
	}
}

// safeUint64 converts an int64 to uint64, ensuring the value is non-negative
func safeUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// Updates returns a channel for receiving progress Updates. It is the responsibility of the caller to close
// the channel when they are done sending Updates. Should only be called once per Reporter instance.
func (r *Reporter) Updates() chan<- Update {
	go func() {
		var lastComplete int64
		var lastUpdate time.Time

		for p := range r.progress {
			if r.out == nil || r.err != nil {
				continue // If we fail to write progress, don't try again
			}
			now := time.Now()
			incrementalBytes := p.Complete - lastComplete

			// Only update if enough time has passed or enough bytes downloaded or finished
			if now.Sub(lastUpdate) >= UpdateInterval ||
				incrementalBytes >= MinBytesForUpdate ||
				safeUint64(p.Complete) == r.layer.Size {
				layer := r.layer
				layer.Current = safeUint64(p.Complete)
				if err := write(r.out, Message{
					Type:    TypeProgress,
					Message: r.format(p),
					Total:   r.imageSize,
					Pulled:  layer.Current,
					Speed:   p.Speed,
					Layer:   layer,
					Mode:    r.mode,
				}); err != nil {
					r.err = err
				}
				lastUpdate = now
				lastComplete = p.Complete
			}
		}
		close(r.done) // Close the done channel when progress is complete
	}()
	return r.progress
}

// Wait waits for the progress Reporter to finish and returns any error encountered.
func (r *Reporter) Wait() error {
	<-r.done
	return r.err
}

// WriteProgress writes a progress update message
func WriteProgress(w io.Writer, msg string, imageSize, layerSize, current uint64, layerID string, mode string) error {
	return write(w, Message{
		Type:    TypeProgress,
		Message: msg,
		Total:   imageSize,
		Pulled:  current,
		Layer: Layer{
			ID:      layerID,
			Size:    layerSize,
			Current: current,
		},
		Mode: mode,
	})
}

// WriteSuccess writes a success message
func WriteSuccess(w io.Writer, message string) error {
	return write(w, Message{
		Type:    TypeSuccess,
		Message: message,
	})
}

// WriteError writes an error message
func WriteError(w io.Writer, message string) error {
	return write(w, Message{
		Type:    TypeError,
		Message: message,
	})
}

// WriteWarning writes a warning message
func WriteWarning(w io.Writer, message string) error {
	return write(w, Message{
		Type:    TypeWarning,
		Message: message,
	})
}

// write writes a JSON-formatted progress message to the writer
func write(w io.Writer, msg Message) error {
	if w == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
