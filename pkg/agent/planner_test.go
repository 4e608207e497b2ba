package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/state"
)

const structuredPlan = `{
  "outline": [
    {"title": "市场概况", "description": "overview", "section_type": "qualitative",
     "search_queries": ["新能源汽车 2024 市场"]},
    {"title": "销量数据", "description": "figures", "section_type": "quantitative",
     "requires_data": true, "requires_chart": true, "search_queries": ["新能源汽车 销量 统计"]},
    {"title": "竞争格局", "description": "players", "section_type": "mixed",
     "search_queries": ["新能源汽车 市场份额"]}
  ],
  "hypotheses": ["2024年渗透率超过40%"],
  "research_questions": ["渗透率是多少?"],
  "key_entities": ["比亚迪", "特斯拉"]
}`

func TestPlannerProcess(t *testing.T) {
	t.Run("applies a structured plan with generated ids", func(t *testing.T) {
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return structuredPlan, nil
		}}
		deps, queue := testDeps(fake, nil, nil)
		st := state.New("中国新能源汽车市场", "s1", 2)

		require.NoError(t, NewPlanner(deps).Process(context.Background(), st))

		require.Len(t, st.Outline, 3)
		assert.Equal(t, "sec_1", st.Outline[0].ID)
		assert.Equal(t, "sec_2", st.Outline[1].ID)
		assert.Equal(t, state.SectionPending, st.Outline[0].Status)
		assert.True(t, st.Outline[1].RequiresChart)

		require.Len(t, st.Hypotheses, 1)
		assert.Equal(t, "hyp_1", st.Hypotheses[0].ID)
		assert.Equal(t, state.HypothesisUnverified, st.Hypotheses[0].Status)
		assert.Equal(t, []string{"比亚迪", "特斯拉"}, st.KeyEntities)

		outlineEvents := filterEvents(queue.Flush(), events.TypeOutline)
		require.Len(t, outlineEvents, 1)
	})

	t.Run("decodes the legacy flat shape", func(t *testing.T) {
		flat := `{
  "sec_1_title": "背景", "sec_1_desc": "d1", "sec_1_query": "q1",
  "sec_2_title": "数据", "sec_2_desc": "d2", "sec_2_query": "q2",
  "sec_3_title": "展望", "sec_3_desc": "d3", "sec_3_query": "q3",
  "hypothesis_1": "假设一",
  "questions": "问题一; 问题二;"
}`
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return flat, nil
		}}
		deps, _ := testDeps(fake, nil, nil)
		st := state.New("q", "s1", 2)

		require.NoError(t, NewPlanner(deps).Process(context.Background(), st))

		require.Len(t, st.Outline, 3)
		assert.Equal(t, "背景", st.Outline[0].Title)
		assert.Equal(t, []string{"q1"}, st.Outline[0].SearchQueries)
		assert.Equal(t, state.SectionMixed, st.Outline[0].SectionType)
		require.Len(t, st.Hypotheses, 1)
		assert.Equal(t, []string{"问题一", "问题二"}, st.ResearchQuestions)
	})

	t.Run("retries with the simplified prompt on garbage", func(t *testing.T) {
		attempt := 0
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			attempt++
			if attempt == 1 {
				return "I cannot answer in JSON today.", nil
			}
			return structuredPlan, nil
		}}
		deps, _ := testDeps(fake, nil, nil)
		st := state.New("q", "s1", 2)

		require.NoError(t, NewPlanner(deps).Process(context.Background(), st))

		require.Len(t, fake.calls, 2)
		assert.Equal(t, plannerSystemPrompt, fake.calls[0].system)
		assert.Equal(t, plannerRetryPrompt, fake.calls[1].system)
		assert.Len(t, st.Outline, 3)
		assert.Empty(t, st.Errors)
	})

	t.Run("too-short outline triggers a retry", func(t *testing.T) {
		attempt := 0
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			attempt++
			if attempt == 1 {
				return `{"outline": [{"title": "唯一章节"}]}`, nil
			}
			return structuredPlan, nil
		}}
		deps, _ := testDeps(fake, nil, nil)
		st := state.New("q", "s1", 2)

		require.NoError(t, NewPlanner(deps).Process(context.Background(), st))
		assert.Len(t, st.Outline, 3)
	})

	t.Run("falls back to the stub plan when every attempt fails", func(t *testing.T) {
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return "", fmt.Errorf("model unavailable")
		}}
		deps, _ := testDeps(fake, nil, nil)
		st := state.New("低空经济发展", "s1", 2)

		require.NoError(t, NewPlanner(deps).Process(context.Background(), st))

		require.Len(t, st.Outline, 3)
		assert.Contains(t, st.Outline[0].SearchQueries[0], "低空经济发展")
		require.NotEmpty(t, st.Errors)
		assert.Contains(t, st.Errors[0], "planner")
		// Exhausted the initial attempt plus every retry.
		assert.Len(t, fake.calls, plannerRetries+1)
	})

	t.Run("unknown section types are coerced to mixed", func(t *testing.T) {
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return `{"outline": [
  {"title": "一", "section_type": "narrative"},
  {"title": "二", "section_type": "quantitative"},
  {"title": "三", "section_type": ""}
]}`, nil
		}}
		deps, _ := testDeps(fake, nil, nil)
		st := state.New("q", "s1", 2)

		require.NoError(t, NewPlanner(deps).Process(context.Background(), st))
		assert.Equal(t, state.SectionMixed, st.Outline[0].SectionType)
		assert.Equal(t, state.SectionQuantitative, st.Outline[1].SectionType)
		assert.Equal(t, state.SectionMixed, st.Outline[2].SectionType)
	})
}
