package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/sandbox"
	"github.com/fathom-research/fathom/pkg/state"
)

func analystState(points int) *state.State {
	st := state.New("新能源汽车市场", "s1", 2)
	st.Phase = state.PhaseAnalyzing
	for i := 0; i < points; i++ {
		st.DataPoints = append(st.DataPoints, state.DataPoint{
			ID: "dp", Name: "销量", Value: float64(100 + i), Unit: "万辆", Year: 2020 + i,
		})
	}
	return st
}

func analystLLM(t *testing.T, codeReply, fixReply string) *fakeLLM {
	t.Helper()
	return &fakeLLM{reply: func(system, user string) (string, error) {
		switch system {
		case analystExtractSystemPrompt:
			return "{}", nil
		case analystCodeSystemPrompt:
			return codeReply, nil
		case analystFixSystemPrompt:
			return fixReply, nil
		default:
			t.Errorf("unexpected system prompt: %q", system)
			return "", nil
		}
	}}
}

func TestAnalystProcess(t *testing.T) {
	t.Run("below the data threshold no code runs", func(t *testing.T) {
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return "{}", nil
		}}
		runner := &fakeRunner{results: []sandbox.Result{{Success: true}}}
		deps, _ := testDeps(fake, nil, runner)
		st := analystState(2)

		require.NoError(t, NewAnalyst(deps).Process(context.Background(), st))
		assert.Empty(t, runner.codes)
		// No facts either, so the extraction prompt is skipped too.
		assert.Empty(t, fake.calls)
	})

	t.Run("extraction merges structured output and emits charts", func(t *testing.T) {
		extraction := `{
  "data_points": [{"name": "渗透率", "value": 40.9, "unit": "%", "year": 2024}],
  "entities": [{"name": "比亚迪", "type": "company", "importance": 0.9}],
  "relations": [],
  "insights": ["渗透率连续走高"],
  "charts": [{"title": "销量趋势", "chart_type": "line", "section_id": "sec_1",
              "echarts_option": {"series": [{"type": "line"}]}}]
}`
		fake := &fakeLLM{reply: func(system, user string) (string, error) {
			return extraction, nil
		}}
		deps, queue := testDeps(fake, nil, &fakeRunner{results: []sandbox.Result{{Success: true}}})
		st := state.New("q", "s1", 2)
		st.AddFact(state.Fact{Content: "渗透率40.9%", SourceURL: "u1"})

		require.NoError(t, NewAnalyst(deps).Process(context.Background(), st))

		require.Len(t, st.DataPoints, 1)
		assert.Equal(t, "渗透率", st.DataPoints[0].Name)
		assert.Len(t, st.KnowledgeGraph.Nodes, 1)
		assert.Equal(t, []string{"渗透率连续走高"}, st.Insights)
		require.Len(t, st.Charts, 1)
		assert.Equal(t, "chart_1", st.Charts[0].ID)

		charts := filterEvents(queue.Flush(), events.TypeChart)
		require.Len(t, charts, 1)
		assert.Equal(t, "销量趋势", charts[0].Payload["title"])
	})

	t.Run("successful execution with a figure becomes a chart", func(t *testing.T) {
		fake := analystLLM(t, `{"code": "print(df.describe())"}`, "")
		runner := &fakeRunner{results: []sandbox.Result{
			{Success: true, Output: "ok", ImageBase64: "aW1n"},
		}}
		deps, queue := testDeps(fake, nil, runner)
		st := analystState(3)

		require.NoError(t, NewAnalyst(deps).Process(context.Background(), st))

		require.Len(t, st.CodeExecutions, 1)
		assert.True(t, st.CodeExecutions[0].Success)
		assert.Equal(t, 0, st.CodeExecutions[0].Retries)
		require.NotEmpty(t, st.Charts)
		assert.Equal(t, "image", st.Charts[0].ChartType)
		assert.Equal(t, "aW1n", st.Charts[0].ImageBase64)

		all := queue.Flush()
		assert.Len(t, filterEvents(all, events.TypeCode), 1)
		assert.NotEmpty(t, filterEvents(all, events.TypeCodeResult))
	})

	t.Run("failures self-heal up to the retry bound", func(t *testing.T) {
		fake := analystLLM(t, `{"code": "df.describe("}`, `{"fixed_code": "print(df.describe())"}`)
		runner := &fakeRunner{results: []sandbox.Result{
			{Success: false, Error: "SyntaxError: unexpected EOF"},
			{Success: true, Output: "ok"},
		}}
		deps, queue := testDeps(fake, nil, runner)
		st := analystState(3)

		require.NoError(t, NewAnalyst(deps).Process(context.Background(), st))

		require.Len(t, st.CodeExecutions, 1)
		assert.True(t, st.CodeExecutions[0].Success)
		assert.Equal(t, 1, st.CodeExecutions[0].Retries)
		assert.Equal(t, "print(df.describe())", st.CodeExecutions[0].Code)
		assert.Len(t, filterEvents(queue.Flush(), events.TypeCodeFix), 1)
	})

	t.Run("persistent failures stop after the retry bound", func(t *testing.T) {
		fake := analystLLM(t, `{"code": "df.describe("}`, `{"fixed_code": "still broken"}`)
		runner := &fakeRunner{results: []sandbox.Result{
			{Success: false, Error: "NameError: name 'x' is not defined"},
		}}
		deps, _ := testDeps(fake, nil, runner)
		st := analystState(3)

		require.NoError(t, NewAnalyst(deps).Process(context.Background(), st))

		// Initial run plus one per fix attempt.
		assert.Len(t, runner.codes, maxCodeRetries+1)
		assert.Equal(t, maxCodeRetries, fake.callCount(analystFixSystemPrompt))
		require.Len(t, st.CodeExecutions, 1)
		assert.False(t, st.CodeExecutions[0].Success)
		assert.Equal(t, maxCodeRetries, st.CodeExecutions[0].Retries)
	})

	t.Run("forbidden code is never retried", func(t *testing.T) {
		fake := analystLLM(t, `{"code": "import os"}`, "")
		runner := &fakeRunner{results: []sandbox.Result{
			{Success: false, Error: "Code contains forbidden operations"},
		}}
		deps, _ := testDeps(fake, nil, runner)
		st := analystState(3)

		require.NoError(t, NewAnalyst(deps).Process(context.Background(), st))

		assert.Len(t, runner.codes, 1)
		assert.Zero(t, fake.callCount(analystFixSystemPrompt))
		require.Len(t, st.CodeExecutions, 1)
		assert.False(t, st.CodeExecutions[0].Success)
	})

	t.Run("chart-requiring sections get their own runs", func(t *testing.T) {
		fake := analystLLM(t, `{"code": "plt.bar([1], [2])"}`, "")
		runner := &fakeRunner{results: []sandbox.Result{
			{Success: true, ImageBase64: "aW1n"},
		}}
		deps, _ := testDeps(fake, nil, runner)
		st := analystState(3)
		st.Outline = []state.Section{
			{ID: "sec_1", Title: "数据", RequiresChart: true},
			{ID: "sec_2", Title: "格局", RequiresChart: true},
			{ID: "sec_3", Title: "展望", RequiresChart: true},
		}

		require.NoError(t, NewAnalyst(deps).Process(context.Background(), st))

		// One global run plus at most two section chart runs.
		assert.Len(t, runner.codes, 1+maxSectionCharts)
		sectionIDs := make([]string, 0, len(st.Charts))
		for _, c := range st.Charts {
			sectionIDs = append(sectionIDs, c.SectionID)
		}
		assert.Contains(t, sectionIDs, "sec_1")
		assert.Contains(t, sectionIDs, "sec_2")
		assert.NotContains(t, sectionIDs, "sec_3")
	})

	t.Run("statistics flag high dispersion", func(t *testing.T) {
		fake := analystLLM(t, `{"code": "print(1)"}`, "")
		deps, _ := testDeps(fake, nil, &fakeRunner{results: []sandbox.Result{{Success: true}}})
		st := state.New("q", "s1", 2)
		st.DataPoints = []state.DataPoint{
			{Name: "a", Value: 1, Unit: "亿元"},
			{Name: "b", Value: 2, Unit: "亿元"},
			{Name: "c", Value: 2000, Unit: "亿元"},
		}

		require.NoError(t, NewAnalyst(deps).Process(context.Background(), st))
		require.NotEmpty(t, st.Insights)
		assert.Contains(t, st.Insights[0], "离散度")
	})
}
