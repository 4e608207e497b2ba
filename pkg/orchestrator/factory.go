package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fathom-research/fathom/pkg/agent"
	"github.com/fathom-research/fathom/pkg/cancel"
	"github.com/fathom-research/fathom/pkg/checkpoint"
	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/llm"
	"github.com/fathom-research/fathom/pkg/search"
	"github.com/fathom-research/fathom/pkg/state"
)

// Factory wires shared collaborators into per-session orchestrators.
type Factory struct {
	LLM    llm.Client
	Search search.Client
	Runner agent.CodeRunner
	Store  checkpoint.Store
	Signal cancel.Signal

	// ModelFor maps role names to model overrides (nil = client default).
	ModelFor func(role string) string

	SectionConcurrency   int
	MaxSearchDepth       int
	QueueCapacity        int
	DefaultMaxIterations int
}

// StartRequest describes one fresh run.
type StartRequest struct {
	Query         string
	SessionID     string
	MaxIterations int
	UserID        *string
}

// NewRun builds the orchestrator for a fresh session. A missing session id
// is generated; a missing iteration bound falls back to the default.
func (f *Factory) NewRun(req StartRequest) (*Orchestrator, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()[:8]
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = f.DefaultMaxIterations
	}
	st := state.New(req.Query, sessionID, maxIterations)
	return f.build(st, false, req.UserID), nil
}

// Resume loads the saved snapshot and re-enters the state machine at the
// saved phase. checkpoint.ErrNoCheckpoint propagates when none exists.
func (f *Factory) Resume(ctx context.Context, sessionID string, userID *string) (*Orchestrator, error) {
	st, err := f.Store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	// A snapshot saved at a terminal phase re-enters at reviewing so the
	// caller still receives a final verdict and report.
	if st.Phase == state.PhaseCompleted || st.Phase == state.PhaseFailed {
		st.Phase = state.PhaseReviewing
	}
	return f.build(st, true, userID), nil
}

func (f *Factory) build(st *state.State, resumed bool, userID *string) *Orchestrator {
	queue := events.NewQueue(st.SessionID, f.QueueCapacity)
	deps := agent.Deps{
		LLM:                f.LLM,
		Search:             f.Search,
		Runner:             f.Runner,
		Queue:              queue,
		ModelFor:           f.ModelFor,
		SectionConcurrency: f.SectionConcurrency,
		MaxSearchDepth:     f.MaxSearchDepth,
	}
	return New(Options{
		State: st,
		Queue: queue,
		Agents: Agents{
			Planner:  agent.NewPlanner(deps),
			Searcher: agent.NewSearcher(deps),
			Analyst:  agent.NewAnalyst(deps),
			Writer:   agent.NewWriter(deps),
			Critic:   agent.NewCritic(deps),
		},
		Store:   f.Store,
		Signal:  f.Signal,
		UserID:  userID,
		Resumed: resumed,
	})
}
