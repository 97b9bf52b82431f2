package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/perimeter.watch/internal/alert"
	"github.com/banshee-data/perimeter.watch/internal/analytics"
	"github.com/banshee-data/perimeter.watch/internal/track"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storedEvent(id string, cameraID string, at time.Time) analytics.Event {
	return analytics.Event{
		ID:        id,
		Type:      analytics.EventTypeLineCrossing,
		CameraID:  cameraID,
		TrackID:   7,
		Class:     "person",
		Timestamp: at,
		Metadata:  map[string]any{"line_id": "door", "direction": float64(1)},
	}
}

func TestStore_MigratesOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening an already-migrated database is a no-op.
	s, err = Open(path)
	require.NoError(t, err)
	s.Close()
}

func TestStore_EventsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertEvent(storedEvent("ev-1", "cam-1", base)))
	require.NoError(t, s.InsertEvent(storedEvent("ev-2", "cam-1", base.Add(time.Second))))
	require.NoError(t, s.InsertEvent(storedEvent("ev-3", "cam-2", base.Add(2*time.Second))))

	events, err := s.RecentEvents("", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "ev-3", events[0].ID, "newest first")
	assert.Equal(t, "door", events[0].Metadata["line_id"])
	assert.Equal(t, int64(7), events[0].TrackID)

	events, err = s.RecentEvents("cam-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = s.RecentEvents("", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestStore_AlertLifecycle(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 2, 1, 23, 0, 0, 0, time.UTC)

	a := alert.Alert{
		ID:        "al-1",
		RuleID:    "rule-1",
		RuleName:  "door crossing",
		EventID:   "ev-1",
		EventType: "line_crossing",
		CameraID:  "cam-1",
		TrackID:   7,
		Status:    alert.StatusPending,
		CreatedAt: now,
		Context:   map[string]any{"class": "person"},
	}
	require.NoError(t, s.SaveAlert(a))

	// Delivery finishes: same row updated with final status and audit.
	a.Status = alert.StatusDispatched
	a.Outcomes = []alert.ActionOutcome{{Type: "webhook", Attempts: 2, Succeeded: true, CompletedAt: now}}
	require.NoError(t, s.SaveAlert(a))

	got, err := s.GetAlert("al-1")
	require.NoError(t, err)
	assert.Equal(t, alert.StatusDispatched, got.Status)
	require.Len(t, got.Outcomes, 1)
	assert.Equal(t, 2, got.Outcomes[0].Attempts)
	assert.Equal(t, "person", got.Context["class"])

	require.NoError(t, s.AcknowledgeAlert("al-1", now.Add(time.Minute)))
	got, err = s.GetAlert("al-1")
	require.NoError(t, err)
	assert.Equal(t, alert.StatusAcknowledged, got.Status)

	// Already acknowledged: not a valid transition.
	assert.Error(t, s.AcknowledgeAlert("al-1", now.Add(2*time.Minute)))

	_, err = s.GetAlert("no-such")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.AcknowledgeAlert("no-such", now), ErrNotFound)
}

func TestStore_RecentAlertsFilter(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	for i, status := range []alert.Status{alert.StatusDispatched, alert.StatusFailed, alert.StatusDispatched} {
		require.NoError(t, s.SaveAlert(alert.Alert{
			ID: "al-" + string(rune('a'+i)), RuleID: "r", RuleName: "r", EventID: "e",
			EventType: "line_crossing", CameraID: "cam-1", Status: status,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.RecentAlerts("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	failed, err := s.RecentAlerts(alert.StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "al-b", failed[0].ID)
}

func TestStore_TracksAndRecordings(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	tr := track.Track{
		ID: 1, CameraID: "cam-1", Class: "person", Confidence: 0.9,
		State: track.StateConfirmed, FirstSeen: now, LastSeen: now,
	}
	require.NoError(t, s.UpsertTrack(tr))
	tr.LastSeen = now.Add(time.Second)
	require.NoError(t, s.UpsertTrack(tr))

	require.NoError(t, s.SaveRecording("cam-1", "al-1", now, 30*time.Second))
	require.NoError(t, s.SaveRecording("cam-1", "al-2", now, 30*time.Second))

	n, err := s.RecordingCount("cam-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.RecordingCount("cam-2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
