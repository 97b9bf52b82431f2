package alert

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// RecordSink persists a recording request for later retrieval of
// footage around the alert.
type RecordSink interface {
	SaveRecording(cameraID, alertID string, at time.Time, duration time.Duration) error
}

// RecordChannel writes a recording request to the sink.
// Config keys: duration_seconds (optional, default 30).
type RecordChannel struct {
	Sink RecordSink
}

// NewRecordChannel creates a record channel over the given sink.
func NewRecordChannel(sink RecordSink) *RecordChannel {
	return &RecordChannel{Sink: sink}
}

func (c *RecordChannel) Type() string { return "record" }

func (c *RecordChannel) Send(ctx context.Context, cfg map[string]string, a Alert) error {
	if c.Sink == nil {
		return fmt.Errorf("record: no sink configured")
	}

	duration := 30 * time.Second
	if s := cfg["duration_seconds"]; s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs <= 0 {
			return fmt.Errorf("record: invalid duration_seconds %q", s)
		}
		duration = time.Duration(secs) * time.Second
	}

	if err := c.Sink.SaveRecording(a.CameraID, a.ID, a.CreatedAt, duration); err != nil {
		return fmt.Errorf("record: save request: %w", err)
	}
	return nil
}
