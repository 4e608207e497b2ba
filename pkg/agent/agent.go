// Package agent implements the five research roles: planner, searcher,
// analyst, writer, critic. Each role reads and mutates the shared research
// state for one phase step and streams progress through its event
// publisher. Agents never call each other; the orchestrator schedules them.
package agent

import (
	"context"

	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/llm"
	"github.com/fathom-research/fathom/pkg/sandbox"
	"github.com/fathom-research/fathom/pkg/search"
	"github.com/fathom-research/fathom/pkg/state"
)

// Agent is one research role.
type Agent interface {
	// Name returns the role name used for event attribution.
	Name() string
	// Process performs one phase step against the shared state. The state
	// reference must not be retained after return. Errors abort the run;
	// recoverable failures are recorded in state.Errors instead.
	Process(ctx context.Context, st *state.State) error
}

// CodeRunner abstracts the sandbox for the analyst.
type CodeRunner interface {
	Execute(ctx context.Context, code string) (sandbox.Result, error)
}

// Deps carries the collaborators shared by all roles.
type Deps struct {
	LLM    llm.Client
	Search search.Client
	Runner CodeRunner
	Queue  *events.Queue

	// ModelFor maps a role name to its model override; nil means the
	// client default for every role.
	ModelFor func(role string) string

	// SectionConcurrency bounds parallel section research (default 3).
	SectionConcurrency int
	// MaxSearchDepth bounds recursive source tracing (default 2).
	MaxSearchDepth int
}

func (d Deps) model(role string) string {
	if d.ModelFor == nil {
		return ""
	}
	return d.ModelFor(role)
}

func (d Deps) sectionConcurrency() int {
	if d.SectionConcurrency <= 0 {
		return 3
	}
	return d.SectionConcurrency
}

func (d Deps) maxSearchDepth() int {
	if d.MaxSearchDepth <= 0 {
		return 2
	}
	return d.MaxSearchDepth
}

// publisher binds the queue to a role name.
func (d Deps) publisher(role string) *events.Publisher {
	return d.Queue.For(role)
}
