package alert

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/perimeter.watch/internal/analytics"
	"github.com/banshee-data/perimeter.watch/internal/httputil"
	"github.com/banshee-data/perimeter.watch/internal/monitoring"
	"github.com/banshee-data/perimeter.watch/internal/rules"
	"github.com/banshee-data/perimeter.watch/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// collector gathers completed alerts for assertions.
type collector struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *collector) add(a Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

func (c *collector) all() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

type fakeSink struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSink) SaveRecording(cameraID, alertID string, at time.Time, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func testEvent() analytics.Event {
	return analytics.Event{
		ID:        "ev-1",
		Type:      analytics.EventTypeLineCrossing,
		CameraID:  "cam-1",
		TrackID:   7,
		Class:     "person",
		Timestamp: time.Now(),
		Metadata:  map[string]any{"line_id": "door", "direction": 1},
	}
}

func webhookRule(optional bool, extra ...rules.Action) rules.Rule {
	r := rules.Rule{
		ID:      "rule-1",
		Name:    "door crossing",
		Enabled: true,
		Actions: []rules.Action{{
			Type:     "webhook",
			Config:   map[string]string{"url": "http://example.com/hook"},
			Optional: optional,
		}},
	}
	r.Actions = append(r.Actions, extra...)
	return r
}

func TestDispatcher_DeliversWebhook(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	client := httputil.NewMockHTTPClient()
	var done collector

	d := NewDispatcher(DispatcherConfig{Workers: 1, MaxAttempts: 3, BackoffBase: time.Second},
		clock, []Channel{NewWebhookChannel(client)}, done.add)
	d.Start()

	a, ok := d.Dispatch(webhookRule(false), testEvent())
	if !ok {
		t.Fatal("Dispatch rejected")
	}
	if a.Status != StatusPending {
		t.Errorf("enqueued alert should be pending, got %s", a.Status)
	}
	d.Stop()

	got := done.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 completed alert, got %d", len(got))
	}
	if got[0].Status != StatusDispatched {
		t.Errorf("expected dispatched, got %s (outcomes %+v)", got[0].Status, got[0].Outcomes)
	}
	if len(got[0].Outcomes) != 1 || got[0].Outcomes[0].Attempts != 1 || !got[0].Outcomes[0].Succeeded {
		t.Errorf("unexpected outcome: %+v", got[0].Outcomes)
	}
	if client.RequestCount() != 1 {
		t.Errorf("expected 1 webhook request, got %d", client.RequestCount())
	}
	if body := string(client.RequestBody(0)); !strings.Contains(body, a.ID) {
		t.Errorf("webhook payload missing alert id: %s", body)
	}
}

func TestDispatcher_FailsAfterMaxAttempts(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	client := httputil.NewMockHTTPClient()
	client.DefaultError = errors.New("connection refused")
	var done collector

	d := NewDispatcher(DispatcherConfig{Workers: 1, MaxAttempts: 3, BackoffBase: time.Second},
		clock, []Channel{NewWebhookChannel(client)}, done.add)
	d.Start()
	d.Dispatch(webhookRule(false), testEvent())
	d.Stop()

	got := done.all()
	if len(got) != 1 || got[0].Status != StatusFailed {
		t.Fatalf("expected failed alert, got %+v", got)
	}
	out := got[0].Outcomes[0]
	if out.Attempts != 3 || out.Succeeded || out.LastError == "" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if client.RequestCount() != 3 {
		t.Errorf("expected 3 delivery attempts, got %d", client.RequestCount())
	}

	// Backoff doubles between attempts: base, then 2x base.
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("unexpected backoff schedule: %v", sleeps)
	}
}

func TestDispatcher_RetrySucceeds(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	client := httputil.NewMockHTTPClient()
	client.AddResponse(500, "oops").AddResponse(500, "oops").AddResponse(200, "")
	var done collector

	d := NewDispatcher(DispatcherConfig{Workers: 1, MaxAttempts: 3, BackoffBase: time.Second},
		clock, []Channel{NewWebhookChannel(client)}, done.add)
	d.Start()
	d.Dispatch(webhookRule(false), testEvent())
	d.Stop()

	got := done.all()
	if got[0].Status != StatusDispatched {
		t.Fatalf("expected dispatched after retry, got %s", got[0].Status)
	}
	if got[0].Outcomes[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", got[0].Outcomes[0].Attempts)
	}
}

func TestDispatcher_ActionFailureIsolated(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	client := httputil.NewMockHTTPClient()
	client.DefaultError = errors.New("webhook endpoint down")
	sink := &fakeSink{}
	var done collector

	rule := webhookRule(false, rules.Action{Type: "record"})

	d := NewDispatcher(DispatcherConfig{Workers: 1, MaxAttempts: 2, BackoffBase: time.Millisecond},
		clock, []Channel{NewWebhookChannel(client), NewRecordChannel(sink)}, done.add)
	d.Start()
	d.Dispatch(rule, testEvent())
	d.Stop()

	got := done.all()
	if got[0].Status != StatusFailed {
		t.Errorf("required webhook failed, alert should be failed, got %s", got[0].Status)
	}
	if len(got[0].Outcomes) != 2 {
		t.Fatalf("expected outcomes for both actions, got %+v", got[0].Outcomes)
	}
	// The record action still ran and succeeded.
	if sink.calls != 1 {
		t.Errorf("expected record sink call despite webhook failure, got %d", sink.calls)
	}
	if !got[0].Outcomes[1].Succeeded {
		t.Errorf("record outcome should be success: %+v", got[0].Outcomes[1])
	}
}

func TestDispatcher_OptionalFailureDoesNotFailAlert(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	client := httputil.NewMockHTTPClient()
	client.DefaultError = errors.New("down")
	sink := &fakeSink{}
	var done collector

	rule := webhookRule(true, rules.Action{Type: "record"})

	d := NewDispatcher(DispatcherConfig{Workers: 1, MaxAttempts: 2, BackoffBase: time.Millisecond},
		clock, []Channel{NewWebhookChannel(client), NewRecordChannel(sink)}, done.add)
	d.Start()
	d.Dispatch(rule, testEvent())
	d.Stop()

	got := done.all()
	if got[0].Status != StatusDispatched {
		t.Errorf("optional failure must not fail the alert, got %s", got[0].Status)
	}
	if !got[0].Outcomes[0].Optional || got[0].Outcomes[0].Succeeded {
		t.Errorf("unexpected optional outcome: %+v", got[0].Outcomes[0])
	}
}

func TestDispatcher_QueueFullFailsImmediately(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	var done collector

	// Workers never started, so the queue fills.
	d := NewDispatcher(DispatcherConfig{QueueSize: 1, Workers: 1},
		clock, []Channel{NewWebhookChannel(httputil.NewMockHTTPClient())}, done.add)

	if _, ok := d.Dispatch(webhookRule(false), testEvent()); !ok {
		t.Fatal("first dispatch should fit the queue")
	}
	a, ok := d.Dispatch(webhookRule(false), testEvent())
	if ok {
		t.Fatal("second dispatch should overflow")
	}
	if a.Status != StatusFailed {
		t.Errorf("overflow alert should be failed, got %s", a.Status)
	}
	if len(done.all()) != 1 {
		t.Errorf("overflow should complete immediately via callback, got %d", len(done.all()))
	}
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	client := httputil.NewMockHTTPClient()
	var done collector

	d := NewDispatcher(DispatcherConfig{QueueSize: 16, Workers: 2},
		clock, []Channel{NewWebhookChannel(client)}, done.add)
	d.Start()
	for i := 0; i < 10; i++ {
		d.Dispatch(webhookRule(false), testEvent())
	}
	d.Stop()

	if n := len(done.all()); n != 10 {
		t.Errorf("expected all 10 alerts completed before Stop returned, got %d", n)
	}

	// Dispatch after Stop is rejected, not deadlocked.
	if _, ok := d.Dispatch(webhookRule(false), testEvent()); ok {
		t.Error("dispatch after Stop should be rejected")
	}
}
