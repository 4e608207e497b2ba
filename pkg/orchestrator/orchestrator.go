// Package orchestrator owns the phase state machine for one research run:
// it schedules agents in sequence, drains their event queue to the caller,
// saves checkpoints at phase boundaries, and polls the cancellation signal.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fathom-research/fathom/pkg/agent"
	"github.com/fathom-research/fathom/pkg/cancel"
	"github.com/fathom-research/fathom/pkg/checkpoint"
	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/state"
)

// drainInterval is the timeout-per-read of the event drain loop; it is
// also the cancellation polling granularity while an agent runs.
const drainInterval = 500 * time.Millisecond

// errCancelled aborts the phase loop after the cancel flag was observed.
var errCancelled = errors.New("research cancelled")

// Agents bundles the five roles the orchestrator schedules.
type Agents struct {
	Planner  agent.Agent
	Searcher agent.Agent
	Analyst  agent.Agent
	Writer   agent.Agent
	Critic   agent.Agent
}

// Options configures one orchestrator run.
type Options struct {
	State  *state.State
	Queue  *events.Queue
	Agents Agents
	Store  checkpoint.Store
	Signal cancel.Signal
	UserID *string
	// Resumed marks a run restored from a checkpoint: the stream opens
	// with research_resumed and re-enters at the saved phase.
	Resumed bool
}

// Orchestrator drives one research session to completion.
type Orchestrator struct {
	st      *state.State
	queue   *events.Queue
	agents  Agents
	store   checkpoint.Store
	signal  cancel.Signal
	userID  *string
	resumed bool
	logger  *slog.Logger
	pub     *events.Publisher
}

// New creates an orchestrator for one session.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		st:      opts.State,
		queue:   opts.Queue,
		agents:  opts.Agents,
		store:   opts.Store,
		signal:  opts.Signal,
		userID:  opts.UserID,
		resumed: opts.Resumed,
		logger:  slog.With("session_id", opts.State.SessionID),
		pub:     opts.Queue.For("orchestrator"),
	}
}

// Run starts the phase loop in the background and returns the caller-facing
// event stream. The channel is closed when the run terminates; the caller
// appends its own stream terminator.
func (o *Orchestrator) Run(ctx context.Context) <-chan events.Event {
	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		o.run(ctx, out)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, out chan<- events.Event) {
	if err := o.signal.Clear(ctx, o.st.SessionID); err != nil {
		o.logger.Warn("Could not clear stale cancel flag", "error", err)
	}

	if o.resumed {
		o.emit(ctx, out, events.Event{
			Type: events.TypeResearchResumed, Agent: "orchestrator", Timestamp: time.Now(),
			Payload: map[string]any{
				"phase":     string(o.st.Phase),
				"iteration": o.st.Iteration,
			},
		})
		o.logger.Info("Research resumed", "phase", o.st.Phase)
	} else {
		o.emit(ctx, out, events.Event{
			Type: events.TypeResearchStart, Agent: "orchestrator", Timestamp: time.Now(),
			Payload: map[string]any{
				"query":          o.st.Query,
				"session_id":     o.st.SessionID,
				"max_iterations": o.st.MaxIterations,
			},
		})
		o.logger.Info("Research started", "query", o.st.Query)
	}

	lastAnnounced := state.Phase("")
	for {
		if ctx.Err() != nil {
			o.finishCancelled(out)
			return
		}
		if o.signal.IsCancelled(ctx, o.st.SessionID) {
			o.finishCancelled(out)
			return
		}

		phase := o.st.Phase
		if phase != lastAnnounced && phase != state.PhaseInit {
			o.emit(ctx, out, events.Event{
				Type: events.TypePhase, Agent: "orchestrator", Timestamp: time.Now(),
				Payload: map[string]any{"phase": string(phase)},
			})
			lastAnnounced = phase
		}

		var err error
		switch phase {
		case state.PhaseInit:
			o.st.Phase = state.PhasePlanning
			continue

		case state.PhasePlanning:
			err = o.runAgent(ctx, out, o.agents.Planner)
			o.advance(state.PhaseResearching, err)

		case state.PhaseResearching:
			err = o.runAgent(ctx, out, o.agents.Searcher)
			o.advance(state.PhaseAnalyzing, err)

		case state.PhaseAnalyzing:
			err = o.runAgent(ctx, out, o.agents.Analyst)
			o.advance(state.PhaseWriting, err)

		case state.PhaseWriting:
			err = o.runAgent(ctx, out, o.agents.Writer)
			o.advance(state.PhaseReviewing, err)

		case state.PhaseReviewing:
			// The critic routes: it mutates the phase itself.
			err = o.runAgent(ctx, out, o.agents.Critic)
			if err == nil && o.st.Phase == state.PhaseReviewing {
				o.st.Phase = state.PhaseCompleted
			}
			if err != nil && !errors.Is(err, errCancelled) {
				o.st.Phase = state.PhaseFailed
			}

		case state.PhaseRevising:
			err = o.runAgent(ctx, out, o.agents.Writer)
			o.advance(state.PhaseReviewing, err)

		case state.PhaseReResearching:
			err = o.runAgent(ctx, out, o.agents.Searcher)
			o.advance(state.PhaseWriting, err)

		case state.PhaseCompleted:
			o.finishCompleted(ctx, out)
			return

		case state.PhaseFailed:
			o.finishFailed(ctx, out)
			return

		default:
			o.logger.Error("Unknown phase, failing run", "phase", phase)
			o.st.Phase = state.PhaseFailed
			continue
		}

		if errors.Is(err, errCancelled) {
			o.finishCancelled(out)
			return
		}
		if err != nil {
			// Recorded here, reported once by finishFailed.
			o.st.AppendError(err.Error())
			o.logger.Error("Agent step failed", "error", err)
		}
		o.saveCheckpoint(out, checkpoint.StatusRunning, "")
	}
}

// advance applies a deterministic transition unless the step failed.
func (o *Orchestrator) advance(next state.Phase, err error) {
	if err == nil {
		o.st.Phase = next
		return
	}
	if !errors.Is(err, errCancelled) {
		o.st.Phase = state.PhaseFailed
	}
}

// runAgent executes one role in a background goroutine while draining the
// event queue with a timeout-per-read loop. The cancel signal is polled on
// a ticker independent of queue traffic, so a busy event stream cannot
// starve the check. Once cancellation is observed the agent's context is
// cancelled, the loop waits for the agent to wind down, and residual
// events are flushed before the error propagates.
func (o *Orchestrator) runAgent(ctx context.Context, out chan<- events.Event, a agent.Agent) error {
	agentCtx, cancelAgent := context.WithCancel(ctx)
	defer cancelAgent()

	done := make(chan error, 1)
	go func() {
		done <- a.Process(agentCtx, o.st)
	}()

	poll := time.NewTicker(drainInterval)
	defer poll.Stop()

	cancelled := false
	var agentErr error
drain:
	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			cancelAgent()
		}
		if cancelled {
			agentErr = <-done
			break drain
		}
		select {
		case <-poll.C:
			if o.signal.IsCancelled(ctx, o.st.SessionID) {
				cancelled = true
				cancelAgent()
				continue
			}
		default:
		}
		if ev, ok := o.queue.Receive(ctx, drainInterval); ok {
			o.emit(ctx, out, ev)
			continue
		}
		select {
		case agentErr = <-done:
			break drain
		default:
		}
	}

	for _, ev := range o.queue.Flush() {
		o.emit(ctx, out, ev)
	}

	if cancelled {
		return errCancelled
	}
	if agentErr != nil {
		// Context loss while an agent was in flight reads as cancellation.
		if errors.Is(agentErr, context.Canceled) || errors.Is(agentErr, context.DeadlineExceeded) {
			return errCancelled
		}
		return fmt.Errorf("%s agent: %w", a.Name(), agentErr)
	}
	return nil
}

func (o *Orchestrator) finishCompleted(ctx context.Context, out chan<- events.Event) {
	o.saveCheckpoint(out, checkpoint.StatusCompleted, "")
	o.emit(ctx, out, events.Event{
		Type: events.TypeResearchComplete, Agent: "orchestrator", Timestamp: time.Now(),
		Payload: map[string]any{
			"session_id":    o.st.SessionID,
			"quality_score": o.st.QualityScore,
			"facts_count":   len(o.st.Facts),
			"charts_count":  len(o.st.Charts),
			"iterations":    o.st.Iteration,
			"report":        o.st.FinalReport,
		},
	})
	o.logger.Info("Research complete",
		"quality_score", o.st.QualityScore, "facts", len(o.st.Facts), "iterations", o.st.Iteration)
}

func (o *Orchestrator) finishFailed(ctx context.Context, out chan<- events.Event) {
	reason := "research run failed"
	if n := len(o.st.Errors); n > 0 {
		reason = o.st.Errors[n-1]
	}
	o.saveCheckpoint(out, checkpoint.StatusFailed, reason)
	o.emit(ctx, out, events.Event{
		Type: events.TypeError, Agent: "orchestrator", Timestamp: time.Now(),
		Payload: map[string]any{"content": reason},
	})
	o.logger.Error("Research failed", "reason", reason)
}

// finishCancelled flushes residual events, records the failed checkpoint,
// and emits the cancellation marker. A detached context is used for the
// checkpoint write: the caller may already be gone.
func (o *Orchestrator) finishCancelled(out chan<- events.Event) {
	ctx := context.Background()
	for _, ev := range o.queue.Flush() {
		o.emit(ctx, out, ev)
	}
	o.saveCheckpoint(out, checkpoint.StatusFailed, "cancelled by user")
	if err := o.signal.Clear(ctx, o.st.SessionID); err != nil {
		o.logger.Warn("Could not clear cancel flag", "error", err)
	}
	o.emit(ctx, out, events.Event{
		Type: events.TypeResearchCancelled, Agent: "orchestrator", Timestamp: time.Now(),
		Payload: map[string]any{
			"session_id": o.st.SessionID,
			"phase":      string(o.st.Phase),
		},
	})
	o.logger.Info("Research cancelled", "phase", o.st.Phase)
}

// saveCheckpoint persists the snapshot; failures are logged and the run
// continues. Uses a detached context so late-run saves survive caller
// disconnects.
func (o *Orchestrator) saveCheckpoint(out chan<- events.Event, status, errorMessage string) {
	ctx, cancelSave := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSave()

	id, err := o.store.Save(ctx, o.st, o.userID)
	if err != nil {
		o.logger.Warn("Checkpoint save failed", "error", err)
		return
	}
	if status != checkpoint.StatusRunning || errorMessage != "" {
		if err := o.store.UpdateStatus(ctx, o.st.SessionID, status, errorMessage); err != nil {
			o.logger.Warn("Checkpoint status update failed", "error", err)
		}
	}
	o.emit(ctx, out, events.Event{
		Type: events.TypeCheckpointSaved, Agent: "orchestrator", Timestamp: time.Now(),
		Payload: map[string]any{
			"checkpoint_id": id,
			"phase":         string(o.st.Phase),
		},
	})
}

// emit forwards one event to the caller stream, giving up when the caller
// is gone.
func (o *Orchestrator) emit(ctx context.Context, out chan<- events.Event, ev events.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
