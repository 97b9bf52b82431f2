// Package track implements online multi-object tracking by IoU
// association. Detections from one camera frame are matched against the
// live track set with an optimal assignment over (1 - IoU) costs.
// Tracks carry an explicit lifecycle, tentative then confirmed then
// deleted, driven by consecutive hits and misses.
package track

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/perimeter.watch/internal/geom"
)

// State is the lifecycle state of a track.
type State string

const (
	StateTentative State = "tentative" // new track, needs confirmation
	StateConfirmed State = "confirmed" // stable track with sufficient hits
	StateDeleted   State = "deleted"   // track removed this frame
)

// Detection is a single-frame observation from the detection source.
type Detection struct {
	Class      string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       geom.BBox `json:"bbox"`
	Timestamp  time.Time `json:"timestamp"`
}

// Track is a persistent identity for an object across frames.
type Track struct {
	ID         int64     `json:"track_id"`
	CameraID   string    `json:"camera_id"`
	Class      string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       geom.BBox `json:"bbox"`
	State      State     `json:"state"`

	// Lifecycle counters. Hits counts consecutive successful matches
	// since creation; Age counts frames since creation;
	// TimeSinceUpdate counts frames since the last successful match.
	Hits            int `json:"hits"`
	Age             int `json:"age"`
	TimeSinceUpdate int `json:"time_since_update"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// History holds recent centroid positions, newest last, bounded by
	// Config.HistoryLimit.
	History []geom.Point `json:"history"`
}

// Centroid returns the centre of the track's current box.
func (t *Track) Centroid() geom.Point {
	return t.BBox.Centroid()
}

// Config holds tracker tuning parameters.
type Config struct {
	IoUThreshold float64 // minimum IoU to accept an association
	MinHits      int     // consecutive hits before confirmation
	MaxAge       int     // frames without a match before deletion
	HistoryLimit int     // centroid history kept per track
}

// DefaultConfig returns production-default tracker parameters.
func DefaultConfig() Config {
	return Config{
		IoUThreshold: 0.3,
		MinHits:      3,
		MaxAge:       30,
		HistoryLimit: 50,
	}
}

// Tracker maintains the track set for a single camera. Track IDs are
// assigned from a per-instance counter and never reused.
type Tracker struct {
	mu       sync.RWMutex
	cameraID string
	tracks   map[int64]*Track
	nextID   int64
	config   Config
}

// New creates a tracker for one camera with the given configuration.
func New(cameraID string, config Config) *Tracker {
	return &Tracker{
		cameraID: cameraID,
		tracks:   make(map[int64]*Track),
		nextID:   1,
		config:   config,
	}
}

// UpdateResult is the per-frame output of the tracker.
type UpdateResult struct {
	// Tracks is a copy of the live track set (tentative and confirmed)
	// after this frame, safe for the caller to retain.
	Tracks []Track
	// Skipped counts malformed detections dropped before association.
	Skipped int
}

// Update processes one frame of detections. An empty detection list is
// a valid input (all tracks age); so is an empty track set (all
// detections spawn tentative tracks). Update never fails: malformed
// detections are dropped and counted in the result.
func (t *Tracker) Update(detections []Detection, timestamp time.Time) UpdateResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result UpdateResult

	valid := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if !d.BBox.Valid() {
			result.Skipped++
			continue
		}
		valid = append(valid, d)
	}

	// Sort track IDs so the cost matrix rows, and therefore the
	// solver's tie-breaking, are deterministic for identical inputs.
	ids := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Cost matrix: rows are tracks, columns are detections. Pairs below
	// the IoU threshold are forbidden so the solver leaves both sides
	// unmatched rather than forcing a bad pairing.
	cost := make([][]float64, len(ids))
	for i, id := range ids {
		row := make([]float64, len(valid))
		for j, d := range valid {
			iou := geom.IoU(t.tracks[id].BBox, d.BBox)
			if iou < t.config.IoUThreshold {
				row[j] = forbiddenCost
			} else {
				row[j] = 1 - iou
			}
		}
		cost[i] = row
	}

	match := assign(cost)

	matchedDet := make([]bool, len(valid))
	for i, id := range ids {
		tr := t.tracks[id]
		tr.Age++

		j := -1
		if i < len(match) {
			j = match[i]
		}

		if j >= 0 {
			d := valid[j]
			matchedDet[j] = true

			tr.BBox = d.BBox
			tr.Class = d.Class
			tr.Confidence = d.Confidence
			tr.LastSeen = d.Timestamp
			tr.Hits++
			tr.TimeSinceUpdate = 0
			tr.appendHistory(t.config.HistoryLimit)

			if tr.State == StateTentative && tr.Hits >= t.config.MinHits {
				tr.State = StateConfirmed
			}
			continue
		}

		// Miss. A tentative track loses its consecutive-hit eligibility
		// and is removed immediately; a confirmed track coasts until
		// TimeSinceUpdate exceeds MaxAge.
		tr.TimeSinceUpdate++
		if tr.State == StateTentative || tr.TimeSinceUpdate > t.config.MaxAge {
			tr.State = StateDeleted
			delete(t.tracks, id)
		}
	}

	for j, d := range valid {
		if !matchedDet[j] {
			t.initTrack(d, timestamp)
		}
	}

	result.Tracks = t.snapshotLocked()
	return result
}

// initTrack creates a tentative track from an unmatched detection.
func (t *Tracker) initTrack(d Detection, timestamp time.Time) *Track {
	tr := &Track{
		ID:         t.nextID,
		CameraID:   t.cameraID,
		Class:      d.Class,
		Confidence: d.Confidence,
		BBox:       d.BBox,
		State:      StateTentative,
		Hits:       1,
		Age:        0,
		FirstSeen:  timestamp,
		LastSeen:   d.Timestamp,
		History:    []geom.Point{d.BBox.Centroid()},
	}
	t.nextID++
	t.tracks[tr.ID] = tr
	return tr
}

// appendHistory pushes the current centroid, trimming to the limit.
func (tr *Track) appendHistory(limit int) {
	tr.History = append(tr.History, tr.BBox.Centroid())
	if limit > 0 && len(tr.History) > limit {
		tr.History = tr.History[len(tr.History)-limit:]
	}
}

// Snapshot returns a copy of the live track set.
func (t *Tracker) Snapshot() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []Track {
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		cp := *tr
		cp.History = append([]geom.Point(nil), tr.History...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LiveIDs returns the IDs of tracks currently in the set, ascending.
func (t *Tracker) LiveIDs() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns track totals by state.
func (t *Tracker) Count() (total, tentative, confirmed int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, tr := range t.tracks {
		total++
		switch tr.State {
		case StateTentative:
			tentative++
		case StateConfirmed:
			confirmed++
		}
	}
	return
}
