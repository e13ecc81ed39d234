package progress

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

const testLayerID = "sha256:c7790a0a70161f1bfd441cf157313e9efb8fcd1f0831193101def035ead23b32"

func parseMessages(t *testing.T, buf *bytes.Buffer) []Message {
	t.Helper()
	var messages []Message
	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}
		messages = append(messages, msg)
	}
	return messages
}

func TestMessages(t *testing.T) {
	t.Run("writeProgress", func(t *testing.T) {
		var buf bytes.Buffer
		update := Update{Complete: 1000 * 1000}

		err := WriteProgress(&buf, PullMsg(update), 2017, 2016, uint64(update.Complete), testLayerID, ModePull)
		if err != nil {
			t.Fatalf("Failed to write progress message: %v", err)
		}

		var msg Message
		if err := json.Unmarshal(buf.Bytes(), &msg); err != nil {
			t.Fatalf("Failed to parse JSON: %v", err)
		}

		if msg.Type != TypeProgress {
			t.Errorf("Expected type %q, got %q", TypeProgress, msg.Type)
		}
		if msg.Mode != ModePull {
			t.Errorf("Expected mode %q, got %q", ModePull, msg.Mode)
		}
		if msg.Message != "Downloaded: 1MB" {
			t.Errorf("Expected message 'Downloaded: 1MB', got '%s'", msg.Message)
		}
		if msg.Total != uint64(2017) {
			t.Errorf("Expected total 2017, got %d", msg.Total)
		}
		if msg.Layer.ID != testLayerID {
			t.Errorf("Expected layer ID to be %s, got %s", testLayerID, msg.Layer.ID)
		}
		if msg.Layer.Size != uint64(2016) {
			t.Errorf("Expected layer size to be %d, got %d", 2016, msg.Layer.Size)
		}
		if msg.Layer.Current != uint64(1000000) {
			t.Errorf("Expected layer current to be %d, got %d", 1000000, msg.Layer.Current)
		}
	})

	t.Run("writeSuccess", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteSuccess(&buf, "Model pulled successfully"); err != nil {
			t.Fatalf("Failed to write success message: %v", err)
		}
		msgs := parseMessages(t, &buf)
		if len(msgs) != 1 || msgs[0].Type != TypeSuccess || msgs[0].Message != "Model pulled successfully" {
			t.Errorf("unexpected messages: %+v", msgs)
		}
	})

	t.Run("writeError", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteError(&buf, "Error: something went wrong"); err != nil {
			t.Fatalf("Failed to write error message: %v", err)
		}
		msgs := parseMessages(t, &buf)
		if len(msgs) != 1 || msgs[0].Type != TypeError || msgs[0].Message != "Error: something went wrong" {
			t.Errorf("unexpected messages: %+v", msgs)
		}
	})

	t.Run("nil writer", func(t *testing.T) {
		if err := WriteWarning(nil, "ignored"); err != nil {
			t.Fatalf("expected nil writer to be ignored, got %v", err)
		}
	})
}

func TestPullMsgIncludesSpeed(t *testing.T) {
	got := PullMsg(Update{Complete: 2_000_000, Speed: 500_000})
	if got != "Downloaded: 2MB (500kB/s)" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestProgressEmissionScenarios(t *testing.T) {
	tests := []struct {
		name          string
		updates       []Update
		delays        []time.Duration
		expectedCount int
		description   string
		layerSize     int64
	}{
		{
			name: "time-based updates",
			updates: []Update{
				{Complete: 100},  // First update always sent
				{Complete: 100},  // Sent after interval
				{Complete: 1000}, // Sent after interval
			},
			delays: []time.Duration{
				UpdateInterval + 100*time.Millisecond,
				UpdateInterval + 100*time.Millisecond,
			},
			expectedCount: 3,
			description:   "should emit updates based on time interval",
			layerSize:     100,
		},
		{
			name: "byte-based updates",
			updates: []Update{
				{Complete: MinBytesForUpdate},
				{Complete: MinBytesForUpdate * 2},
			},
			delays: []time.Duration{
				10 * time.Millisecond,
			},
			expectedCount: 2,
			description:   "should emit update based on byte threshold",
			layerSize:     MinBytesForUpdate + 1,
		},
		{
			name: "no updates - too frequent",
			updates: []Update{
				{Complete: 100},
				{Complete: 100},
				{Complete: 100},
			},
			delays: []time.Duration{
				10 * time.Millisecond,
				10 * time.Millisecond,
			},
			expectedCount: 1,
			description:   "should not emit updates if too frequent",
			layerSize:     200,
		},
		{
			name: "finish update",
			updates: []Update{
				{Complete: 100},
				{Complete: 100},
				{Complete: 200}, // Too frequent, but finished
			},
			delays: []time.Duration{
				10 * time.Millisecond,
				10 * time.Millisecond,
			},
			expectedCount: 2,
			description:   "should emit updates if finished",
			layerSize:     200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			reporter := NewProgressReporter(&buf, PullMsg, 0, testLayerID, tt.layerSize, ModePull)
			updates := reporter.Updates()

			for i, update := range tt.updates {
				updates <- update
				if i < len(tt.delays) {
					time.Sleep(tt.delays[i])
				}
			}
			close(updates)

			if err := reporter.Wait(); err != nil {
				t.Fatalf("Reporter.Wait() failed: %v", err)
			}

			messages := parseMessages(t, &buf)
			if len(messages) != tt.expectedCount {
				t.Errorf("%s: expected %d messages, got %d", tt.description, tt.expectedCount, len(messages))
			}
			for i, msg := range messages {
				if msg.Type != TypeProgress {
					t.Errorf("message %d: expected type %q, got %q", i, TypeProgress, msg.Type)
				}
				if msg.Layer.ID != testLayerID {
					t.Errorf("message %d: expected layer ID to be set", i)
				}
				if msg.Layer.Size != uint64(tt.layerSize) {
					t.Errorf("message %d: expected layer size %d, got %d", i, tt.layerSize, msg.Layer.Size)
				}
			}
		})
	}
}
