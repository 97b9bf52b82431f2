// Package api exposes the HTTP surface: detection ingest, camera and
// line management, rule CRUD and alert review.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/perimeter.watch/internal/alert"
	"github.com/banshee-data/perimeter.watch/internal/config"
	"github.com/banshee-data/perimeter.watch/internal/geom"
	"github.com/banshee-data/perimeter.watch/internal/httputil"
	"github.com/banshee-data/perimeter.watch/internal/monitoring"
	"github.com/banshee-data/perimeter.watch/internal/pipeline"
	"github.com/banshee-data/perimeter.watch/internal/rules"
	"github.com/banshee-data/perimeter.watch/internal/store"
	"github.com/banshee-data/perimeter.watch/internal/timeutil"
	"github.com/banshee-data/perimeter.watch/internal/track"
	"github.com/banshee-data/perimeter.watch/internal/version"
)

// ANSI escape codes for request logging.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server holds the handler dependencies.
type Server struct {
	pipeline *pipeline.Manager
	engine   *rules.Engine
	store    *store.Store
	config   *config.TuningConfig
	clock    timeutil.Clock
}

// NewServer creates the API server. store may be nil when running
// without persistence.
func NewServer(p *pipeline.Manager, engine *rules.Engine, st *store.Store, cfg *config.TuningConfig, clock timeutil.Clock) *Server {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{pipeline: p, engine: engine, store: st, config: cfg, clock: clock}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux routes the API endpoints.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/cameras", s.listCameras)
	mux.HandleFunc("POST /api/cameras", s.addCamera)
	mux.HandleFunc("DELETE /api/cameras/{id}", s.removeCamera)
	mux.HandleFunc("POST /api/cameras/{id}/detections", s.submitDetections)
	mux.HandleFunc("GET /api/cameras/{id}/tracks", s.listTracks)
	mux.HandleFunc("GET /api/cameras/{id}/events", s.listCameraEvents)
	mux.HandleFunc("GET /api/cameras/{id}/lines", s.listLines)
	mux.HandleFunc("POST /api/cameras/{id}/lines", s.addLine)
	mux.HandleFunc("DELETE /api/cameras/{id}/lines/{lineID}", s.removeLine)

	mux.HandleFunc("GET /api/events", s.listEvents)

	mux.HandleFunc("GET /api/rules", s.listRules)
	mux.HandleFunc("POST /api/rules", s.upsertRule)
	mux.HandleFunc("DELETE /api/rules/{id}", s.deleteRule)
	mux.HandleFunc("POST /api/rules/{id}/enable", s.setRuleEnabled(true))
	mux.HandleFunc("POST /api/rules/{id}/disable", s.setRuleEnabled(false))

	mux.HandleFunc("GET /api/alerts", s.listAlerts)
	mux.HandleFunc("GET /api/alerts/{id}", s.getAlert)
	mux.HandleFunc("POST /api/alerts/{id}/ack", s.acknowledgeAlert)

	mux.HandleFunc("GET /api/params", s.showParams)
	mux.HandleFunc("GET /api/health", s.health)

	return mux
}

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{"cameras": s.pipeline.Cameras()})
}

func (s *Server) addCamera(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CameraID string `json:"camera_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if err := s.pipeline.AddCamera(req.CameraID); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"camera_id": req.CameraID})
}

func (s *Server) removeCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.RemoveCamera(r.PathValue("id")); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type detectionPayload struct {
	Class      string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
}

type detectionsRequest struct {
	Timestamp  time.Time          `json:"timestamp"`
	Detections []detectionPayload `json:"detections"`
}

func (s *Server) submitDetections(w http.ResponseWriter, r *http.Request) {
	var req detectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	detections := make([]track.Detection, len(req.Detections))
	for i, d := range req.Detections {
		detections[i] = track.Detection{
			Class:      d.Class,
			Confidence: d.Confidence,
			BBox:       geom.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
			Timestamp:  req.Timestamp,
		}
	}

	if err := s.pipeline.Submit(r.PathValue("id"), detections, req.Timestamp); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]int{"accepted": len(detections)})
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.pipeline.TrackSnapshot(r.PathValue("id"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"tracks": tracks})
}

func (s *Server) listCameraEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	events, err := s.pipeline.RecentEvents(r.PathValue("id"), limit)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"events": events})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.InternalServerError(w, "persistence disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	events, err := s.store.RecentEvents(r.URL.Query().Get("camera_id"), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query events: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"events": events})
}

func (s *Server) listLines(w http.ResponseWriter, r *http.Request) {
	lines, err := s.pipeline.Lines(r.PathValue("id"))
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"lines": lines})
}

func (s *Server) addLine(w http.ResponseWriter, r *http.Request) {
	var line geom.Line
	if err := json.NewDecoder(r.Body).Decode(&line); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if err := s.pipeline.AddLine(r.PathValue("id"), line); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, line)
}

func (s *Server) removeLine(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.RemoveLine(r.PathValue("id"), r.PathValue("lineID")); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{"rules": s.engine.Rules()})
}

func (s *Server) upsertRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	stored, err := s.engine.Upsert(rule)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, stored)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Delete(r.PathValue("id")) {
		httputil.NotFound(w, "unknown rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setRuleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !s.engine.SetEnabled(id, enabled) {
			httputil.NotFound(w, "unknown rule")
			return
		}
		rule, _ := s.engine.Get(id)
		httputil.WriteJSONOK(w, rule)
	}
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.InternalServerError(w, "persistence disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	status := alert.Status(r.URL.Query().Get("status"))
	switch status {
	case "", alert.StatusPending, alert.StatusDispatched, alert.StatusFailed, alert.StatusAcknowledged:
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown status %q", status))
		return
	}
	alerts, err := s.store.RecentAlerts(status, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query alerts: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"alerts": alerts})
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.InternalServerError(w, "persistence disabled")
		return
	}
	a, err := s.store.GetAlert(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "unknown alert")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, a)
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.InternalServerError(w, "persistence disabled")
		return
	}
	id := r.PathValue("id")
	err := s.store.AcknowledgeAlert(id, s.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "unknown alert")
		return
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	a, err := s.store.GetAlert(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, a)
}

func (s *Server) showParams(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.config)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return 0, false
	}
	return limit, true
}
