// Package delivery decides, per subject, whether the push stream or the
// fallback poller is authoritative, and routes observed states to subject
// listeners. It is the only component that talks to both paths.
package delivery

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/Inouye165/React-Photo-App-sub008/internal/events"
	"github.com/Inouye165/React-Photo-App-sub008/internal/jobs"
	"github.com/Inouye165/React-Photo-App-sub008/internal/poll"
)

// Poller is the polling task manager surface the coordinator drives.
type Poller interface {
	Start(subject string, cfg poll.TaskConfig)
	Stop(subject string)
	KickAll()
}

// Listener receives state observations for one watched subject.
type Listener func(state jobs.State)

// Coordinator tracks the pending subject set and applies the first terminal
// observation from either path, cancelling the other.
type Coordinator struct {
	poller Poller
	logger *zap.Logger

	mu        sync.Mutex
	pending   map[string]struct{}
	listeners map[string][]Listener
}

// New creates a Coordinator over the given poller.
func New(poller Poller, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		poller:    poller,
		logger:    logger,
		pending:   make(map[string]struct{}),
		listeners: make(map[string][]Listener),
	}
}

// Watch marks a subject pending and registers a listener for its state.
// A polling task is started immediately; while the stream is healthy the
// task stays armed without issuing queries.
func (c *Coordinator) Watch(subject string, fn Listener) {
	c.mu.Lock()
	c.pending[subject] = struct{}{}
	c.listeners[subject] = append(c.listeners[subject], fn)
	c.mu.Unlock()

	c.logger.Debug("watching subject", zap.String("subject", subject))
	c.poller.Start(subject, poll.TaskConfig{})
}

// Pending returns the subjects still awaiting a terminal observation.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	subjects := make([]string, 0, len(c.pending))
	for s := range c.pending {
		subjects = append(subjects, s)
	}
	return subjects
}

// eventPayload is the portion of a push event the coordinator reads.
type eventPayload struct {
	PhotoID string     `json:"photoId"`
	State   jobs.State `json:"state"`
}

// HandleEvent consumes one deduplicated push event. Events for subjects not
// being watched are ignored.
func (c *Coordinator) HandleEvent(ev events.Event) {
	var p eventPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		c.logger.Warn("undecodable event payload",
			zap.String("event", ev.Name),
			zap.Error(err),
		)
		return
	}
	state := p.State
	if state == "" {
		switch ev.Name {
		case events.AnalysisComplete:
			state = jobs.StateComplete
		case events.AnalysisFailed:
			state = jobs.StateFailed
		case events.AnalysisStarted:
			state = jobs.StateProcessing
		default:
			return
		}
	}
	c.apply(p.PhotoID, state, "stream")
}

// HandleUpdate consumes a state observed by the polling path.
func (c *Coordinator) HandleUpdate(subject string, state jobs.State) {
	c.apply(subject, state, "poll")
}

// StreamDown falls back to polling for every pending subject. Called by the
// stream connector after its failure threshold.
func (c *Coordinator) StreamDown() {
	c.mu.Lock()
	subjects := make([]string, 0, len(c.pending))
	for s := range c.pending {
		subjects = append(subjects, s)
	}
	c.mu.Unlock()

	c.logger.Info("stream down, polling pending subjects",
		zap.Int("subjects", len(subjects)),
	)
	for _, s := range subjects {
		c.poller.Start(s, poll.TaskConfig{})
	}
	c.poller.KickAll()
}

// apply routes one observation. The first terminal observation wins: it
// removes the subject from pending and cancels the losing path, so a
// late terminal report from the other source is a no-op.
func (c *Coordinator) apply(subject string, state jobs.State, source string) {
	c.mu.Lock()
	if _, ok := c.pending[subject]; !ok {
		c.mu.Unlock()
		return
	}
	fns := c.listeners[subject]
	terminal := state.Terminal()
	if terminal {
		delete(c.pending, subject)
		delete(c.listeners, subject)
	}
	c.mu.Unlock()

	if terminal {
		c.logger.Info("subject resolved",
			zap.String("subject", subject),
			zap.String("state", string(state)),
			zap.String("source", source),
		)
		c.poller.Stop(subject)
	}
	for _, fn := range fns {
		fn(state)
	}
}
