package analytics

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/perimeter.watch/internal/geom"
	"github.com/banshee-data/perimeter.watch/internal/track"
)

// DefaultRecentLimit bounds the in-memory recent event ring.
const DefaultRecentLimit = 100

// Generator detects line crossings for one camera. State is limited to
// the previous centroid per track; entries for tracks that have left
// the live set are purged on every Derive call, so memory stays
// proportional to the live track count.
type Generator struct {
	mu          sync.RWMutex
	cameraID    string
	lines       map[string]geom.Line
	prev        map[int64]geom.Point
	recent      []Event // newest first, bounded by recentLimit
	recentLimit int
}

// NewGenerator creates an event generator for one camera.
func NewGenerator(cameraID string) *Generator {
	return &Generator{
		cameraID:    cameraID,
		lines:       make(map[string]geom.Line),
		prev:        make(map[int64]geom.Point),
		recentLimit: DefaultRecentLimit,
	}
}

// AddLine registers a line for crossing detection. Duplicate IDs are
// rejected so two rules cannot silently reference different geometry
// under one name.
func (g *Generator) AddLine(line geom.Line) error {
	if line.ID == "" {
		return fmt.Errorf("line id must not be empty")
	}
	if line.P1 == line.P2 {
		return fmt.Errorf("line %q is degenerate: endpoints coincide", line.ID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.lines[line.ID]; exists {
		return fmt.Errorf("line %q already exists", line.ID)
	}
	g.lines[line.ID] = line
	return nil
}

// RemoveLine removes a line. Removing an unknown line is not an error.
func (g *Generator) RemoveLine(lineID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.lines, lineID)
}

// Lines returns the configured lines.
func (g *Generator) Lines() []geom.Line {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]geom.Line, 0, len(g.lines))
	for _, l := range g.lines {
		out = append(out, l)
	}
	return out
}

// Derive inspects the post-update track set and emits one event per
// (track, line) crossing observed in this frame transition. A crossing
// fires at most once per transition: the previous-centroid entry is
// overwritten before the next call, so the same displacement can never
// be re-evaluated.
func (g *Generator) Derive(tracks []track.Track, timestamp time.Time) []Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	var events []Event
	live := make(map[int64]bool, len(tracks))

	for i := range tracks {
		tr := &tracks[i]
		live[tr.ID] = true
		curr := tr.Centroid()

		prev, seen := g.prev[tr.ID]
		g.prev[tr.ID] = curr
		if !seen {
			continue
		}

		for _, line := range g.lines {
			crossed, direction := line.Crossing(prev, curr)
			if !crossed {
				continue
			}
			events = append(events, Event{
				ID:        newEventID(),
				Type:      EventTypeLineCrossing,
				CameraID:  g.cameraID,
				TrackID:   tr.ID,
				Class:     tr.Class,
				Timestamp: timestamp,
				Metadata: map[string]any{
					"line_id":    line.ID,
					"direction":  direction,
					"confidence": tr.Confidence,
				},
			})
		}
	}

	// Purge previous-centroid entries for tracks that no longer exist.
	for id := range g.prev {
		if !live[id] {
			delete(g.prev, id)
		}
	}

	if len(events) > 0 {
		g.recent = append(events, g.recent...)
		if len(g.recent) > g.recentLimit {
			g.recent = g.recent[:g.recentLimit]
		}
	}
	return events
}

// Recent returns up to limit recent events, newest first.
func (g *Generator) Recent(limit int) []Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if limit <= 0 || limit > len(g.recent) {
		limit = len(g.recent)
	}
	out := make([]Event, limit)
	copy(out, g.recent[:limit])
	return out
}
