package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fathom-research/fathom/pkg/config"
	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/llm"
	"github.com/fathom-research/fathom/pkg/search"
	"github.com/fathom-research/fathom/pkg/state"
)

const (
	// resultsPerQuery is how many hits each search-adapter call requests.
	resultsPerQuery = 8
	// maxTraceQueries bounds the queries taken into one recursion step.
	maxTraceQueries = 2
	// maxSupplementaryQueries bounds the re-research drain.
	maxSupplementaryQueries = 5
	// maxResultsInEvent bounds the raw results projected into events.
	maxResultsInEvent = 5
)

// Searcher runs the concurrent search pipeline: query fan-out per section,
// fact extraction and dedup, knowledge-graph merge, hypothesis scoring,
// and depth-bounded recursive source tracing. In ReResearching it drains
// the critic's pending queries instead.
type Searcher struct {
	deps Deps
	pub  *events.Publisher
}

// NewSearcher creates the searching role.
func NewSearcher(deps Deps) *Searcher {
	return &Searcher{deps: deps, pub: deps.publisher(config.RoleSearcher)}
}

// Name implements Agent.
func (s *Searcher) Name() string { return config.RoleSearcher }

// Process implements Agent.
func (s *Searcher) Process(ctx context.Context, st *state.State) error {
	if st.Phase == state.PhaseReResearching {
		return s.supplementary(ctx, st)
	}
	return s.research(ctx, st)
}

// research fans out over the outline, at most sectionConcurrency sections
// in flight. Sections mutate shared state under the state lock.
func (s *Searcher) research(ctx context.Context, st *state.State) error {
	logger := slog.With("session_id", st.SessionID, "agent", s.Name())
	s.pub.StepStarted("researching", "深度信息检索", fmt.Sprintf("%d 个章节", len(st.Outline)))

	factsBefore := len(st.Facts)
	sem := make(chan struct{}, s.deps.sectionConcurrency())
	var wg sync.WaitGroup
	for i := range st.Outline {
		wg.Add(1)
		go func(sec *state.Section) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			st.Lock()
			sec.Status = state.SectionResearching
			st.Unlock()
			s.researchSection(ctx, st, sec, sec.SearchQueries, 0)
		}(&st.Outline[i])
	}
	wg.Wait()

	s.pub.StepCompleted("researching", "信息检索完成", map[string]any{
		"facts":       len(st.Facts),
		"new_facts":   len(st.Facts) - factsBefore,
		"data_points": len(st.DataPoints),
		"graph_nodes": len(st.KnowledgeGraph.Nodes),
	})
	logger.Info("Research pass complete",
		"facts", len(st.Facts), "data_points", len(st.DataPoints))
	return nil
}

// researchSection runs the per-section pipeline for one query batch:
// search fan-out with incremental events, LLM extraction, state merge,
// then a depth-bounded recursion on trace and follow-up queries.
func (s *Searcher) researchSection(ctx context.Context, st *state.State, sec *state.Section, queries []string, depth int) {
	if depth == 0 {
		s.pub.Action(fmt.Sprintf("检索章节: %s", sec.Title))
	}

	var results []search.Result
	for _, query := range queries {
		if ctx.Err() != nil {
			return
		}
		hits := s.deps.Search.Search(ctx, query, resultsPerQuery)
		s.pub.Publish(events.TypeSearchProgress, map[string]any{
			"query":        query,
			"section_id":   sec.ID,
			"result_count": len(hits),
			"depth":        depth,
		})
		s.pub.Publish(events.TypeSearchResults, map[string]any{
			"query":          query,
			"section_id":     sec.ID,
			"is_incremental": true,
			"results":        projectResults(hits),
		})
		results = append(results, hits...)
	}
	if len(results) == 0 {
		s.pub.Publish(events.TypeObservation, map[string]any{
			"section_id":  sec.ID,
			"facts_added": 0,
			"note":        "no search results",
		})
		return
	}

	extract, err := s.extract(ctx, st, sec, results, searcherSystemPrompt)
	if err != nil {
		slog.Warn("Extraction failed for section, skipping batch",
			"session_id", st.SessionID, "section_id", sec.ID, "error", err)
		st.Lock()
		st.AppendError(fmt.Sprintf("searcher extraction (%s): %v", sec.ID, err))
		st.Unlock()
		return
	}

	stats := s.merge(st, sec, extract, depth, false)
	s.pub.Publish(events.TypeObservation, observationPayload(sec.ID, extract, stats, results))
	if stats.nodesAdded > 0 {
		st.Lock()
		graph := st.KnowledgeGraph
		st.Unlock()
		s.pub.Publish(events.TypeKnowledgeGraph, map[string]any{
			"nodes": graph.Nodes,
			"edges": graph.Edges,
		})
	}

	// Recursive source tracing: bounded by depth, and skipped entirely in
	// later review iterations where targeted re-research takes over.
	next := append(append([]string{}, extract.TraceQueries...), extract.FollowUpQueries...)
	if len(next) > 0 && depth < s.deps.maxSearchDepth() && st.Iteration < st.MaxIterations {
		if len(next) > maxTraceQueries {
			next = next[:maxTraceQueries]
		}
		s.researchSection(ctx, st, sec, next, depth+1)
	}
}

// supplementary drains the critic's pending queries: up to five, facts
// tagged is_supplementary, list cleared afterwards.
func (s *Searcher) supplementary(ctx context.Context, st *state.State) error {
	queries := st.PendingSearchQueries
	if len(queries) > maxSupplementaryQueries {
		queries = queries[:maxSupplementaryQueries]
	}
	s.pub.StepStarted("re_researching", "补充检索", fmt.Sprintf("%d 条查询", len(queries)))

	factsBefore := len(st.Facts)
	for _, query := range queries {
		if ctx.Err() != nil {
			break
		}
		hits := s.deps.Search.Search(ctx, query, resultsPerQuery)
		s.pub.Publish(events.TypeSearchProgress, map[string]any{
			"query":         query,
			"result_count":  len(hits),
			"supplementary": true,
		})
		if len(hits) == 0 {
			continue
		}
		extract, err := s.extractSupplementary(ctx, st, query, hits)
		if err != nil {
			st.AppendError(fmt.Sprintf("supplementary extraction (%q): %v", query, err))
			continue
		}
		stats := s.merge(st, nil, extract, 0, true)
		s.pub.Publish(events.TypeObservation, map[string]any{
			"query":         query,
			"supplementary": true,
			"facts_added":   stats.factsAdded,
			"duplicates":    stats.duplicates,
		})
	}
	st.PendingSearchQueries = nil

	s.pub.StepCompleted("re_researching", "补充检索完成", map[string]any{
		"queries":   len(queries),
		"new_facts": len(st.Facts) - factsBefore,
	})
	return nil
}

// extract asks the model to structure a section's combined results.
func (s *Searcher) extract(ctx context.Context, st *state.State, sec *state.Section, results []search.Result, system string) (*searchExtractResponse, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", st.Query)
	if sec != nil {
		fmt.Fprintf(&b, "Current section (%s): %s. %s\n", sec.ID, sec.Title, sec.Description)
	}
	if len(st.Hypotheses) > 0 {
		b.WriteString("Hypotheses under investigation:\n")
		for _, h := range st.Hypotheses {
			fmt.Fprintf(&b, "- %s: %s\n", h.ID, h.Content)
		}
	}
	b.WriteString("\nSearch results:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.String())
	}

	raw, err := s.deps.LLM.Chat(ctx, system, b.String(), llm.Options{
		Model:    s.deps.model(config.RoleSearcher),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}
	obj, err := llm.ExtractObject(raw)
	if err != nil {
		return nil, err
	}
	var resp searchExtractResponse
	if err := llm.Decode(obj, &resp); err != nil {
		return nil, fmt.Errorf("decoding extraction: %w", err)
	}
	return &resp, nil
}

func (s *Searcher) extractSupplementary(ctx context.Context, st *state.State, query string, results []search.Result) (*searchExtractResponse, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\nFollow-up query: %s\n\nSearch results:\n", st.Query, query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.String())
	}
	raw, err := s.deps.LLM.Chat(ctx, supplementarySystemPrompt, b.String(), llm.Options{
		Model:    s.deps.model(config.RoleSearcher),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}
	obj, err := llm.ExtractObject(raw)
	if err != nil {
		return nil, err
	}
	var resp searchExtractResponse
	if err := llm.Decode(obj, &resp); err != nil {
		return nil, fmt.Errorf("decoding extraction: %w", err)
	}
	return &resp, nil
}

type mergeStats struct {
	factsAdded int
	duplicates int
	dataPoints int
	nodesAdded int
	evidence   int
}

// merge applies one extraction to the state under the fan-out lock.
func (s *Searcher) merge(st *state.State, sec *state.Section, extract *searchExtractResponse, depth int, supplementary bool) mergeStats {
	st.Lock()
	defer st.Unlock()

	var stats mergeStats
	for _, ef := range extract.Facts {
		if ef.Content == "" {
			continue
		}
		fact := state.Fact{
			ID:               fmt.Sprintf("fact_%d", len(st.Facts)+1),
			Content:          ef.Content,
			SourceURL:        ef.SourceURL,
			SourceName:       ef.SourceName,
			SourceType:       normalizeSourceType(ef.SourceType),
			CredibilityScore: clamp01(ef.CredibilityScore),
			RelatedSections:  ef.RelatedSections,
			SearchDepth:      depth,
			IsSupplementary:  supplementary,
		}
		if sec != nil && len(fact.RelatedSections) == 0 {
			fact.RelatedSections = []string{sec.ID}
		}
		// A hypothesis reference is only kept when the hypothesis exists.
		if ef.RelatedHypothesis != "" && st.HypothesisByID(ef.RelatedHypothesis) != nil {
			fact.RelatedHypothesis = ef.RelatedHypothesis
			fact.HypothesisSupport = ef.HypothesisSupport
		}
		if st.AddFact(fact) {
			stats.factsAdded++
		} else {
			stats.duplicates++
		}
	}

	for _, dp := range extract.DataPoints {
		if dp.Name == "" {
			continue
		}
		st.DataPoints = append(st.DataPoints, state.DataPoint{
			ID:         fmt.Sprintf("dp_%d", len(st.DataPoints)+1),
			Name:       dp.Name,
			Value:      dp.Value,
			Unit:       dp.Unit,
			Year:       dp.Year,
			Source:     dp.Source,
			Confidence: clamp01(dp.Confidence),
		})
		stats.dataPoints++
	}

	nodesBefore := len(st.KnowledgeGraph.Nodes)
	nodes := make([]state.GraphNode, 0, len(extract.Entities))
	for _, e := range extract.Entities {
		nodes = append(nodes, state.GraphNode{
			ID:         e.Name,
			Name:       e.Name,
			Type:       e.Type,
			Importance: clamp01(e.Importance),
		})
	}
	edges := make([]state.GraphEdge, 0, len(extract.Relations))
	for _, r := range extract.Relations {
		edges = append(edges, state.GraphEdge{Source: r.Source, Target: r.Target, Relation: r.Relation})
	}
	st.MergeGraph(nodes, edges)
	stats.nodesAdded = len(st.KnowledgeGraph.Nodes) - nodesBefore

	for _, insight := range extract.KeyInsights {
		st.AddInsight(insight)
	}
	for _, ev := range extract.HypothesisEvidence {
		if ev.Evidence == "" {
			continue
		}
		st.AddEvidence(ev.HypothesisID, ev.Evidence, ev.Supports)
		stats.evidence++
	}
	return stats
}

func observationPayload(sectionID string, extract *searchExtractResponse, stats mergeStats, results []search.Result) map[string]any {
	insights := extract.KeyInsights
	if len(insights) > 3 {
		insights = insights[:3]
	}
	return map[string]any{
		"section_id":         sectionID,
		"facts_added":        stats.factsAdded,
		"duplicates_removed": stats.duplicates,
		"data_points":        stats.dataPoints,
		"evidence_updates":   stats.evidence,
		"key_insights":       insights,
		"source_quality":     extract.SourceQuality,
		"top_results":        projectResults(results),
	}
}

func projectResults(results []search.Result) []map[string]any {
	if len(results) > maxResultsInEvent {
		results = results[:maxResultsInEvent]
	}
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"url":       r.URL,
			"title":     r.Title,
			"snippet":   r.Snippet,
			"site_name": r.SiteName,
			"date":      r.Date,
		})
	}
	return out
}

func normalizeSourceType(t string) string {
	switch t {
	case state.SourceOfficial, state.SourceAcademic, state.SourceNews,
		state.SourceReport, state.SourceSelfMedia:
		return t
	default:
		return state.SourceNews
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ Agent = (*Searcher)(nil)
