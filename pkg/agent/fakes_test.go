package agent

import (
	"context"
	"sync"

	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/llm"
	"github.com/fathom-research/fathom/pkg/sandbox"
	"github.com/fathom-research/fathom/pkg/search"
)

// fakeLLM answers by system prompt. The reply function may be called
// concurrently by the searcher fan-out.
type fakeLLM struct {
	mu    sync.Mutex
	calls []llmCall
	reply func(system, user string) (string, error)
}

type llmCall struct {
	system string
	user   string
}

func (f *fakeLLM) Chat(_ context.Context, system, user string, _ llm.Options) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, llmCall{system: system, user: user})
	f.mu.Unlock()
	return f.reply(system, user)
}

func (f *fakeLLM) callCount(system string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.system == system {
			n++
		}
	}
	return n
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	results []search.Result
}

func (f *fakeSearch) Search(_ context.Context, query string, _ int) []search.Result {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.results
}

func (f *fakeSearch) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// fakeRunner replays scripted results, repeating the last one.
type fakeRunner struct {
	mu      sync.Mutex
	codes   []string
	results []sandbox.Result
}

func (f *fakeRunner) Execute(_ context.Context, code string) (sandbox.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	idx := len(f.codes) - 1
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

func testDeps(llmClient llm.Client, searchClient search.Client, runner CodeRunner) (Deps, *events.Queue) {
	queue := events.NewQueue("test-session", 200)
	return Deps{
		LLM:    llmClient,
		Search: searchClient,
		Runner: runner,
		Queue:  queue,
	}, queue
}

func filterEvents(evs []events.Event, eventType string) []events.Event {
	var out []events.Event
	for _, ev := range evs {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
