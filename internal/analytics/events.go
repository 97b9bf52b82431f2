// Package analytics derives discrete events from track motion. The only
// event type currently generated is line_crossing: a track centroid
// moving across a configured line segment between two frames.
package analytics

import (
	"time"

	"github.com/google/uuid"
)

// EventTypeLineCrossing is emitted when a track centroid crosses a
// configured line between consecutive frames.
const EventTypeLineCrossing = "line_crossing"

// Event is a derived occurrence computed from track motion. Events are
// immutable once emitted.
type Event struct {
	ID        string         `json:"event_id"`
	Type      string         `json:"event_type"`
	CameraID  string         `json:"camera_id"`
	TrackID   int64          `json:"track_id"`
	Class     string         `json:"class_name"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func newEventID() string {
	return uuid.NewString()
}
