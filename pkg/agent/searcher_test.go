package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/search"
	"github.com/fathom-research/fathom/pkg/state"
)

func researchState(queries ...string) *state.State {
	st := state.New("新能源汽车市场", "s1", 2)
	st.Phase = state.PhaseResearching
	st.Outline = []state.Section{{
		ID: "sec_1", Title: "市场概况", SectionType: state.SectionMixed,
		SearchQueries: queries, Status: state.SectionPending,
	}}
	return st
}

func sampleHits() []search.Result {
	return []search.Result{
		{URL: "https://a.example/1", Title: "销量报告", Snippet: "1286.6万辆", SiteName: "中汽协"},
		{URL: "https://b.example/2", Title: "行业分析", Snippet: "渗透率40.9%", SiteName: "乘联会"},
	}
}

func TestSearcherResearch(t *testing.T) {
	t.Run("extracts, dedups, and merges one section", func(t *testing.T) {
		extraction := `{
  "facts": [
    {"content": "2024年销量达1286.6万辆", "source_url": "https://a.example/1",
     "source_name": "中汽协", "source_type": "official", "credibility_score": 0.9},
    {"content": "2024年销量为1286.6万辆", "source_url": "https://a.example/1",
     "source_name": "中汽协", "source_type": "official", "credibility_score": 0.9},
    {"content": "2024年销量达1286.6万辆", "source_url": "https://b.example/2",
     "source_name": "乘联会", "source_type": "weird_type", "credibility_score": 1.7}
  ],
  "data_points": [{"name": "销量", "value": 1286.6, "unit": "万辆", "year": 2024, "confidence": 0.9}],
  "entities": [{"name": "比亚迪", "type": "company", "importance": 0.9}],
  "relations": [{"source": "宁德时代", "target": "比亚迪", "relation": "supplies"}],
  "key_insights": ["销量增长强劲"],
  "hypothesis_evidence": [],
  "trace_queries": [],
  "follow_up_queries": []
}`
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return extraction, nil
		}}
		searcher := &fakeSearch{results: sampleHits()}
		deps, queue := testDeps(fake, searcher, nil)
		st := researchState("新能源汽车 2024 销量")

		require.NoError(t, NewSearcher(deps).Process(context.Background(), st))

		// The same fingerprint from the same URL is dropped; a different
		// URL corroborates.
		require.Len(t, st.Facts, 2)
		assert.Equal(t, state.SourceOfficial, st.Facts[0].SourceType)
		assert.Equal(t, state.SourceNews, st.Facts[1].SourceType)
		assert.Equal(t, 1.0, st.Facts[1].CredibilityScore)
		assert.Equal(t, []string{"sec_1"}, st.Facts[0].RelatedSections)

		require.Len(t, st.DataPoints, 1)
		assert.Len(t, st.KnowledgeGraph.Nodes, 1)
		assert.Len(t, st.KnowledgeGraph.Edges, 1)
		assert.Equal(t, []string{"销量增长强劲"}, st.Insights)
		assert.Equal(t, state.SectionResearching, st.Outline[0].Status)

		all := queue.Flush()
		require.Len(t, filterEvents(all, events.TypeSearchProgress), 1)
		results := filterEvents(all, events.TypeSearchResults)
		require.Len(t, results, 1)
		assert.Equal(t, true, results[0].Payload["is_incremental"])
		obs := filterEvents(all, events.TypeObservation)
		require.Len(t, obs, 1)
		assert.Equal(t, 2, obs[0].Payload["facts_added"])
		assert.Equal(t, 1, obs[0].Payload["duplicates_removed"])
	})

	t.Run("hypothesis evidence updates only known hypotheses", func(t *testing.T) {
		extraction := `{
  "facts": [
    {"content": "A 1", "source_url": "u1", "related_hypothesis": "hyp_1", "hypothesis_support": "supports"},
    {"content": "B 2", "source_url": "u2", "related_hypothesis": "hyp_99", "hypothesis_support": "supports"}
  ],
  "hypothesis_evidence": [
    {"hypothesis_id": "hyp_1", "evidence": "渗透率数据", "supports": true},
    {"hypothesis_id": "hyp_99", "evidence": "ignored", "supports": true}
  ]
}`
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return extraction, nil
		}}
		deps, _ := testDeps(fake, &fakeSearch{results: sampleHits()}, nil)
		st := researchState("q")
		st.Hypotheses = []state.Hypothesis{{ID: "hyp_1", Content: "c", Status: state.HypothesisUnverified}}

		require.NoError(t, NewSearcher(deps).Process(context.Background(), st))

		assert.Equal(t, "hyp_1", st.Facts[0].RelatedHypothesis)
		assert.Empty(t, st.Facts[1].RelatedHypothesis)
		assert.Len(t, st.Hypotheses[0].EvidenceFor, 1)
		assert.Equal(t, state.HypothesisPartiallySupported, st.Hypotheses[0].Status)
	})

	t.Run("trace queries recurse up to the depth bound", func(t *testing.T) {
		extraction := `{
  "facts": [{"content": "A 1", "source_url": "u1"}],
  "trace_queries": ["原始报告出处"]
}`
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return extraction, nil
		}}
		searcher := &fakeSearch{results: sampleHits()}
		deps, _ := testDeps(fake, searcher, nil)
		st := researchState("q")

		require.NoError(t, NewSearcher(deps).Process(context.Background(), st))

		// Depth 0, 1, and 2; depth 2 extraction still runs but cannot
		// recurse further.
		assert.Equal(t, 3, searcher.searchCount())
		assert.Equal(t, 3, fake.callCount(searcherSystemPrompt))
		// The repeated fact dedups to the depth-0 insert.
		require.Len(t, st.Facts, 1)
		assert.Equal(t, 0, st.Facts[0].SearchDepth)
	})

	t.Run("no recursion once review iterations started", func(t *testing.T) {
		extraction := `{
  "facts": [{"content": "A 1", "source_url": "u1"}],
  "trace_queries": ["出处"], "follow_up_queries": ["后续"]
}`
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return extraction, nil
		}}
		searcher := &fakeSearch{results: sampleHits()}
		deps, _ := testDeps(fake, searcher, nil)
		st := researchState("q")
		st.Iteration = 2

		require.NoError(t, NewSearcher(deps).Process(context.Background(), st))
		assert.Equal(t, 1, searcher.searchCount())
	})

	t.Run("empty results short-circuit without extraction", func(t *testing.T) {
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return "{}", nil
		}}
		deps, queue := testDeps(fake, &fakeSearch{}, nil)
		st := researchState("q")

		require.NoError(t, NewSearcher(deps).Process(context.Background(), st))
		assert.Empty(t, fake.calls)
		obs := filterEvents(queue.Flush(), events.TypeObservation)
		require.Len(t, obs, 1)
		assert.Equal(t, 0, obs[0].Payload["facts_added"])
	})

	t.Run("extraction failure records the error and continues", func(t *testing.T) {
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return "not json at all", nil
		}}
		deps, _ := testDeps(fake, &fakeSearch{results: sampleHits()}, nil)
		st := researchState("q")

		require.NoError(t, NewSearcher(deps).Process(context.Background(), st))
		assert.Empty(t, st.Facts)
		require.NotEmpty(t, st.Errors)
		assert.Contains(t, st.Errors[0], "searcher extraction")
	})
}

func TestSearcherSupplementary(t *testing.T) {
	extraction := `{"facts": [{"content": "补充 1", "source_url": "u-supp"}]}`

	t.Run("drains at most five pending queries and clears the list", func(t *testing.T) {
		calls := 0
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			assert.Equal(t, supplementarySystemPrompt, system)
			calls++
			return extraction, nil
		}}
		searcher := &fakeSearch{results: []search.Result{{URL: "https://s", Title: "t"}}}
		deps, _ := testDeps(fake, searcher, nil)
		st := state.New("q", "s1", 2)
		st.Phase = state.PhaseReResearching
		st.PendingSearchQueries = []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7"}

		require.NoError(t, NewSearcher(deps).Process(context.Background(), st))

		assert.Equal(t, 5, searcher.searchCount())
		assert.Nil(t, st.PendingSearchQueries)
		// Same fact for every query: one insert, four duplicates.
		require.Len(t, st.Facts, 1)
		assert.True(t, st.Facts[0].IsSupplementary)
	})

	t.Run("queries with no hits are skipped", func(t *testing.T) {
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return "{}", nil
		}}
		deps, _ := testDeps(fake, &fakeSearch{}, nil)
		st := state.New("q", "s1", 2)
		st.Phase = state.PhaseReResearching
		st.PendingSearchQueries = []string{"q1"}

		require.NoError(t, NewSearcher(deps).Process(context.Background(), st))
		assert.Empty(t, st.Facts)
		assert.Nil(t, st.PendingSearchQueries)
	})
}
