// Package pipeline wires the per-camera processing chain: detections
// in, tracker update, line-crossing derivation, rule evaluation,
// alert dispatch. Each camera is served by exactly one goroutine, so
// tracker and generator state never need cross-frame locking beyond
// their own snapshot guards.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/perimeter.watch/internal/alert"
	"github.com/banshee-data/perimeter.watch/internal/analytics"
	"github.com/banshee-data/perimeter.watch/internal/config"
	"github.com/banshee-data/perimeter.watch/internal/geom"
	"github.com/banshee-data/perimeter.watch/internal/rules"
	"github.com/banshee-data/perimeter.watch/internal/timeutil"
	"github.com/banshee-data/perimeter.watch/internal/track"
)

// frameQueueSize bounds the per-camera backlog. Submitting into a full
// queue fails instead of stalling the caller.
const frameQueueSize = 16

// Persister receives events and track summaries for storage. A nil
// Persister disables persistence.
type Persister interface {
	InsertEvent(ev analytics.Event) error
	UpsertTrack(t track.Track) error
}

type frame struct {
	detections []track.Detection
	timestamp  time.Time
}

type camera struct {
	id        string
	tracker   *track.Tracker
	generator *analytics.Generator
	frames    chan frame
	quit      chan struct{}
}

// Manager owns the camera pipelines and their shared downstream: the
// rule engine, the alert dispatcher and the store.
type Manager struct {
	config     *config.TuningConfig
	clock      timeutil.Clock
	engine     *rules.Engine
	dispatcher *alert.Dispatcher
	persister  Persister

	mu      sync.Mutex
	cameras map[string]*camera
	wg      sync.WaitGroup
	stopped bool
}

// NewManager creates a pipeline manager. persister may be nil.
func NewManager(cfg *config.TuningConfig, clock timeutil.Clock, engine *rules.Engine, dispatcher *alert.Dispatcher, persister Persister) *Manager {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		config:     cfg,
		clock:      clock,
		engine:     engine,
		dispatcher: dispatcher,
		persister:  persister,
		cameras:    make(map[string]*camera),
	}
}

// AddCamera registers a camera and starts its frame loop.
func (m *Manager) AddCamera(id string) error {
	if id == "" {
		return fmt.Errorf("camera id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return fmt.Errorf("pipeline stopped")
	}
	if _, exists := m.cameras[id]; exists {
		return fmt.Errorf("camera %q already registered", id)
	}

	trackerConfig := track.Config{
		IoUThreshold: m.config.GetIoUThreshold(),
		MinHits:      m.config.GetMinHits(),
		MaxAge:       m.config.GetMaxAge(),
		HistoryLimit: m.config.GetCentroidHistory(),
	}
	c := &camera{
		id:        id,
		tracker:   track.New(id, trackerConfig),
		generator: analytics.NewGenerator(id),
		frames:    make(chan frame, frameQueueSize),
		quit:      make(chan struct{}),
	}
	m.cameras[id] = c
	m.wg.Add(1)
	go m.run(c)

	Opsf("camera %s registered", id)
	return nil
}

// RemoveCamera stops a camera's frame loop and drops its state.
func (m *Manager) RemoveCamera(id string) error {
	m.mu.Lock()
	c, ok := m.cameras[id]
	if ok {
		delete(m.cameras, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown camera %q", id)
	}
	close(c.quit)
	Opsf("camera %s removed", id)
	return nil
}

// Cameras returns the registered camera IDs.
func (m *Manager) Cameras() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.cameras))
	for id := range m.cameras {
		out = append(out, id)
	}
	return out
}

func (m *Manager) camera(id string) (*camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cameras[id]
	if !ok {
		return nil, fmt.Errorf("unknown camera %q", id)
	}
	return c, nil
}

// Submit queues one frame of detections for a camera. Fails when the
// camera is unknown or its queue is full; the caller decides whether
// to drop or retry.
func (m *Manager) Submit(cameraID string, detections []track.Detection, timestamp time.Time) error {
	c, err := m.camera(cameraID)
	if err != nil {
		return err
	}
	if timestamp.IsZero() {
		timestamp = m.clock.Now()
	}
	select {
	case c.frames <- frame{detections: detections, timestamp: timestamp}:
		return nil
	default:
		return fmt.Errorf("camera %q frame queue full", cameraID)
	}
}

// TrackSnapshot returns the live tracks of one camera.
func (m *Manager) TrackSnapshot(cameraID string) ([]track.Track, error) {
	c, err := m.camera(cameraID)
	if err != nil {
		return nil, err
	}
	return c.tracker.Snapshot(), nil
}

// RecentEvents returns a camera's recent derived events, newest first.
func (m *Manager) RecentEvents(cameraID string, limit int) ([]analytics.Event, error) {
	c, err := m.camera(cameraID)
	if err != nil {
		return nil, err
	}
	return c.generator.Recent(limit), nil
}

// AddLine registers a crossing line on a camera.
func (m *Manager) AddLine(cameraID string, line geom.Line) error {
	c, err := m.camera(cameraID)
	if err != nil {
		return err
	}
	return c.generator.AddLine(line)
}

// RemoveLine removes a crossing line from a camera.
func (m *Manager) RemoveLine(cameraID, lineID string) error {
	c, err := m.camera(cameraID)
	if err != nil {
		return err
	}
	c.generator.RemoveLine(lineID)
	return nil
}

// Lines returns a camera's configured crossing lines.
func (m *Manager) Lines(cameraID string) ([]geom.Line, error) {
	c, err := m.camera(cameraID)
	if err != nil {
		return nil, err
	}
	return c.generator.Lines(), nil
}

// Stop shuts down every camera loop, processing frames already queued.
// The dispatcher is owned by the caller and is not stopped here.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cams := make([]*camera, 0, len(m.cameras))
	for _, c := range m.cameras {
		cams = append(cams, c)
	}
	m.cameras = make(map[string]*camera)
	m.mu.Unlock()

	for _, c := range cams {
		close(c.quit)
	}
	m.wg.Wait()
}

// run is the per-camera frame loop.
func (m *Manager) run(c *camera) {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(m.config.GetFlushInterval())
	defer ticker.Stop()

	for {
		select {
		case f := <-c.frames:
			m.process(c, f)
		case <-ticker.C():
			m.flush(c)
		case <-c.quit:
			for {
				select {
				case f := <-c.frames:
					m.process(c, f)
				default:
					m.flush(c)
					return
				}
			}
		}
	}
}

// process runs one frame through the chain.
func (m *Manager) process(c *camera, f frame) {
	res := c.tracker.Update(f.detections, f.timestamp)
	if res.Skipped > 0 {
		Diagf("camera %s: skipped %d malformed detections", c.id, res.Skipped)
	}

	events := c.generator.Derive(res.Tracks, f.timestamp)
	for _, ev := range events {
		m.handleEvent(ev)
	}

	Tracef("camera %s: %d detections, %d tracks, %d events",
		c.id, len(f.detections), len(res.Tracks), len(events))
}

func (m *Manager) handleEvent(ev analytics.Event) {
	if m.persister != nil {
		if err := m.persister.InsertEvent(ev); err != nil {
			Opsf("persist event %s: %v", ev.ID, err)
		}
	}
	if m.engine == nil {
		return
	}
	matched := m.engine.Evaluate(rules.EventContext(ev))
	for _, r := range matched {
		Diagf("event %s matched rule %q", ev.ID, r.Name)
		if m.dispatcher == nil {
			continue
		}
		if _, ok := m.dispatcher.Dispatch(r, ev); !ok {
			Opsf("alert for rule %q on event %s rejected by dispatcher", r.Name, ev.ID)
		}
	}
}

// flush persists summaries of the camera's confirmed tracks.
func (m *Manager) flush(c *camera) {
	if m.persister == nil {
		return
	}
	for _, t := range c.tracker.Snapshot() {
		if t.State != track.StateConfirmed {
			continue
		}
		if err := m.persister.UpsertTrack(t); err != nil {
			Opsf("persist track %d on camera %s: %v", t.ID, c.id, err)
		}
	}
}
