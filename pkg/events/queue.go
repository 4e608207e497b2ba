package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// DefaultCapacity bounds the per-session queue. A full queue indicates a
// stalled consumer; producers drop rather than stall the research run.
const DefaultCapacity = 1000

// enqueueTimeout is the try-put threshold: how long a producer may wait on
// a momentarily full queue before the event is dropped.
const enqueueTimeout = 100 * time.Millisecond

// Event is one enriched queue message. Payload keys are flattened next to
// the envelope fields when serialized, matching the caller-visible wire
// shape: {"type": ..., "agent": ..., "timestamp": ..., <payload keys>...}.
type Event struct {
	Type      string
	Agent     string
	Timestamp time.Time
	Payload   map[string]any
}

// MarshalJSON flattens the payload into the envelope object. Payload keys
// never override the envelope fields.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		obj[k] = v
	}
	obj["type"] = e.Type
	obj["agent"] = e.Agent
	obj["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(obj)
}

// Queue is the bounded FIFO between agents and the orchestrator's drain
// loop for one session.
type Queue struct {
	sessionID string
	ch        chan Event
	logger    *slog.Logger
}

// NewQueue creates a queue with the given capacity (DefaultCapacity if <= 0).
func NewQueue(sessionID string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		sessionID: sessionID,
		ch:        make(chan Event, capacity),
		logger:    slog.With("session_id", sessionID),
	}
}

// For returns a Publisher that enriches every event with the agent name.
func (q *Queue) For(agent string) *Publisher {
	return &Publisher{queue: q, agent: agent}
}

// enqueue stamps the event and tries to deliver it, waiting at most
// enqueueTimeout on a full queue before dropping.
func (q *Queue) enqueue(ev Event) {
	ev.Timestamp = time.Now()
	select {
	case q.ch <- ev:
		return
	default:
	}
	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case q.ch <- ev:
	case <-timer.C:
		q.logger.Warn("Event queue full, dropping event", "type", ev.Type, "agent", ev.Agent)
	}
}

// Receive waits up to timeout for the next event. ok is false when the
// timeout elapsed or ctx was cancelled with no event available.
func (q *Queue) Receive(ctx context.Context, timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-q.ch:
		return ev, true
	case <-timer.C:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

// Flush returns all events currently buffered without waiting.
func (q *Queue) Flush() []Event {
	var out []Event
	for {
		select {
		case ev := <-q.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Publisher enqueues events attributed to one agent.
type Publisher struct {
	queue *Queue
	agent string
}

// Publish enqueues an event of the given type with an arbitrary payload.
func (p *Publisher) Publish(eventType string, payload map[string]any) {
	p.queue.enqueue(Event{Type: eventType, Agent: p.agent, Payload: payload})
}

// Thought publishes the agent's narrated reasoning.
func (p *Publisher) Thought(content string) {
	p.Publish(TypeThought, map[string]any{"content": content})
}

// Action publishes a short description of what the agent is doing.
func (p *Publisher) Action(content string) {
	p.Publish(TypeAction, map[string]any{"content": content})
}

// Error publishes a non-fatal error visible to the caller.
func (p *Publisher) Error(content string) {
	p.Publish(TypeError, map[string]any{"content": content})
}

// Warning publishes a caller-visible warning.
func (p *Publisher) Warning(content string) {
	p.Publish(TypeWarning, map[string]any{"content": content})
}

// StepStarted marks the start of a UI-visible step.
func (p *Publisher) StepStarted(stepType, title, subtitle string) {
	p.Publish(TypeResearchStep, map[string]any{
		"step_type": stepType,
		"title":     title,
		"subtitle":  subtitle,
		"status":    StepStarted,
	})
}

// StepCompleted marks the completion of a UI-visible step with stats.
func (p *Publisher) StepCompleted(stepType, title string, stats map[string]any) {
	payload := map[string]any{
		"step_type": stepType,
		"title":     title,
		"status":    StepCompleted,
	}
	if stats != nil {
		payload["stats"] = stats
	}
	p.Publish(TypeResearchStep, payload)
}
