package rules

import "github.com/banshee-data/perimeter.watch/internal/analytics"

// EventContext flattens an event into the field map rules evaluate
// against. Metadata keys are merged at the top level, so a rule can
// reference "line_id" or "direction" directly; metadata never shadows
// the core fields.
func EventContext(ev analytics.Event) map[string]any {
	ctx := make(map[string]any, len(ev.Metadata)+7)
	for k, v := range ev.Metadata {
		ctx[k] = v
	}
	ctx["event_type"] = ev.Type
	ctx["camera_id"] = ev.CameraID
	ctx["track_id"] = ev.TrackID
	ctx["class"] = ev.Class
	ctx["class_name"] = ev.Class
	ctx["time"] = ev.Timestamp
	ctx["timestamp"] = ev.Timestamp
	return ctx
}
