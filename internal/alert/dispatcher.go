package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/perimeter.watch/internal/analytics"
	"github.com/banshee-data/perimeter.watch/internal/monitoring"
	"github.com/banshee-data/perimeter.watch/internal/rules"
	"github.com/banshee-data/perimeter.watch/internal/timeutil"
)

// DispatcherConfig tunes the delivery worker pool.
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
}

// DefaultDispatcherConfig returns the production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:   256,
		Workers:     4,
		MaxAttempts: 3,
		BackoffBase: time.Second,
	}
}

// alertState tracks one alert across its per-action jobs. The worker
// completing the last outstanding action finalizes the alert.
type alertState struct {
	mu       sync.Mutex
	alert    Alert
	pending  int
	outcomes []ActionOutcome
}

type job struct {
	state  *alertState
	action rules.Action
	index  int
}

// Dispatcher executes alert actions asynchronously on a bounded worker
// pool. Enqueueing never blocks the frame loop: when the queue is full
// the alert is recorded as failed immediately.
type Dispatcher struct {
	config   DispatcherConfig
	clock    timeutil.Clock
	channels map[string]Channel

	// onComplete receives every alert with its final status and
	// outcomes, including queue-overflow failures.
	onComplete func(Alert)

	mu      sync.Mutex
	jobs    chan job
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewDispatcher creates a dispatcher over the given channels.
// onComplete may be nil.
func NewDispatcher(config DispatcherConfig, clock timeutil.Clock, channels []Channel, onComplete func(Alert)) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultDispatcherConfig().Workers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultDispatcherConfig().MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultDispatcherConfig().BackoffBase
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	byType := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byType[ch.Type()] = ch
	}
	return &Dispatcher{
		config:     config,
		clock:      clock,
		channels:   byType,
		onComplete: onComplete,
		jobs:       make(chan job, config.QueueSize),
	}
}

// ChannelTypes returns the action type names this dispatcher can
// execute, for rule validation.
func (d *Dispatcher) ChannelTypes() []string {
	out := make([]string, 0, len(d.channels))
	for t := range d.channels {
		out = append(out, t)
	}
	return out
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop drains queued jobs and waits for in-flight deliveries to
// finish. The dispatcher cannot be restarted.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

// Dispatch builds a pending alert for a matched rule and enqueues one
// job per action. Returns the alert as enqueued; ok is false when the
// queue could not take all of the alert's jobs or the dispatcher
// already stopped, in which case the alert carries StatusFailed.
func (d *Dispatcher) Dispatch(r rules.Rule, ev analytics.Event) (Alert, bool) {
	a := Alert{
		ID:        uuid.NewString(),
		RuleID:    r.ID,
		RuleName:  r.Name,
		EventID:   ev.ID,
		EventType: ev.Type,
		CameraID:  ev.CameraID,
		TrackID:   ev.TrackID,
		Status:    StatusPending,
		CreatedAt: d.clock.Now(),
		Context:   rules.EventContext(ev),
	}

	// Rules are validated to carry at least one action; an empty list
	// has nothing to deliver and settles immediately.
	if len(r.Actions) == 0 {
		a.Status = StatusDispatched
		if d.onComplete != nil {
			d.onComplete(a)
		}
		return a, true
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return d.reject(a, "dispatcher stopped")
	}
	// All of an alert's jobs go in together or not at all. Dispatch
	// calls are serialized by d.mu and workers only drain the queue,
	// so a capacity check here guarantees the sends below succeed.
	if len(d.jobs)+len(r.Actions) > cap(d.jobs) {
		d.mu.Unlock()
		return d.reject(a, "dispatch queue full")
	}
	st := &alertState{
		alert:    a,
		pending:  len(r.Actions),
		outcomes: make([]ActionOutcome, len(r.Actions)),
	}
	for i, action := range r.Actions {
		d.jobs <- job{state: st, action: action, index: i}
	}
	d.mu.Unlock()
	return a, true
}

func (d *Dispatcher) reject(a Alert, reason string) (Alert, bool) {
	monitoring.Logf("alert %s for rule %q dropped: %s", a.ID, a.RuleName, reason)
	a.Status = StatusFailed
	a.Outcomes = []ActionOutcome{{
		Type:        "enqueue",
		LastError:   reason,
		CompletedAt: d.clock.Now(),
	}}
	if d.onComplete != nil {
		d.onComplete(a)
	}
	return a, false
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.deliver(j)
	}
}

// deliver executes one action job. Actions of the same alert are
// independent: each runs its own retry loop on whichever worker picks
// it up, and one failing never prevents the others from being
// attempted. The worker finishing the alert's last action settles its
// status: dispatched when all required actions succeeded, failed
// otherwise; optional action failures are recorded but do not fail
// the alert.
func (d *Dispatcher) deliver(j job) {
	outcome := d.runAction(j.action, j.state.alert)

	st := j.state
	st.mu.Lock()
	st.outcomes[j.index] = outcome
	st.pending--
	if st.pending > 0 {
		st.mu.Unlock()
		return
	}
	a := st.alert
	a.Outcomes = st.outcomes
	st.mu.Unlock()

	a.Status = StatusDispatched
	for _, out := range a.Outcomes {
		if !out.Succeeded && !out.Optional {
			a.Status = StatusFailed
			break
		}
	}
	if a.Status == StatusFailed {
		monitoring.Logf("alert %s for rule %q failed delivery", a.ID, a.RuleName)
	}
	if d.onComplete != nil {
		d.onComplete(a)
	}
}

// runAction attempts one action with exponential backoff: the wait
// before attempt n+1 is BackoffBase * 2^(n-1).
func (d *Dispatcher) runAction(action rules.Action, a Alert) ActionOutcome {
	outcome := ActionOutcome{Type: action.Type, Optional: action.Optional}

	ch, ok := d.channels[action.Type]
	if !ok {
		// Rules are validated against ChannelTypes, so this only
		// happens if the channel set changed after registration.
		outcome.LastError = fmt.Sprintf("no channel for action type %q", action.Type)
		outcome.CompletedAt = d.clock.Now()
		return outcome
	}

	backoff := d.config.BackoffBase
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		err := ch.Send(context.Background(), action.Config, a)
		if err == nil {
			outcome.Succeeded = true
			break
		}
		outcome.LastError = err.Error()
		monitoring.Logf("alert %s action %s attempt %d/%d: %v",
			a.ID, action.Type, attempt, d.config.MaxAttempts, err)
		if attempt < d.config.MaxAttempts {
			d.clock.Sleep(backoff)
			backoff *= 2
		}
	}
	outcome.CompletedAt = d.clock.Now()
	return outcome
}
