package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/fathom-research/fathom/pkg/config"
	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/llm"
	"github.com/fathom-research/fathom/pkg/state"
)

const (
	// minDataPointsForCode is the sandbox trigger threshold.
	minDataPointsForCode = 3
	// maxCodeRetries bounds the self-healing fix loop.
	maxCodeRetries = 3
	// maxSectionCharts bounds per-section chart generation.
	maxSectionCharts = 2
	// maxFactsInPrompt bounds the extraction prompt size.
	maxFactsInPrompt = 40
)

// Analyst combines the extractor subrole (structured data, graph updates,
// ECharts configs from collected facts) with the sandbox subrole
// (statistical analysis code executed with a self-healing fix loop).
type Analyst struct {
	deps Deps
	pub  *events.Publisher
}

// NewAnalyst creates the analysis role.
func NewAnalyst(deps Deps) *Analyst {
	return &Analyst{deps: deps, pub: deps.publisher(config.RoleAnalyst)}
}

// Name implements Agent.
func (a *Analyst) Name() string { return config.RoleAnalyst }

// Process implements Agent.
func (a *Analyst) Process(ctx context.Context, st *state.State) error {
	logger := slog.With("session_id", st.SessionID, "agent", a.Name())
	a.pub.StepStarted("analyzing", "数据分析", fmt.Sprintf("%d 条事实", len(st.Facts)))

	if len(st.Facts) > 0 {
		if err := a.extractStructured(ctx, st); err != nil {
			logger.Warn("Structured extraction failed", "error", err)
			st.AppendError(fmt.Sprintf("analyst extraction: %v", err))
		}
	}

	summary := a.statisticalSummary(st)
	if len(st.DataPoints) >= minDataPointsForCode {
		a.runCodeAnalysis(ctx, st, summary, "")
		a.sectionCharts(ctx, st, summary)
	}

	a.pub.StepCompleted("analyzing", "数据分析完成", map[string]any{
		"data_points": len(st.DataPoints),
		"charts":      len(st.Charts),
		"executions":  len(st.CodeExecutions),
	})
	return nil
}

// extractStructured asks the model for data points, graph updates,
// insights, and ECharts configs over the collected facts.
func (a *Analyst) extractStructured(ctx context.Context, st *state.State) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nCollected facts:\n", st.Query)
	facts := st.Facts
	if len(facts) > maxFactsInPrompt {
		facts = facts[:maxFactsInPrompt]
	}
	for i, f := range facts {
		fmt.Fprintf(&b, "%d. %s (source: %s)\n", i+1, f.Content, f.SourceName)
	}
	b.WriteString("\nOutline sections:\n")
	for _, sec := range st.Outline {
		fmt.Fprintf(&b, "- %s: %s (requires_chart=%v)\n", sec.ID, sec.Title, sec.RequiresChart)
	}

	raw, err := a.deps.LLM.Chat(ctx, analystExtractSystemPrompt, b.String(), llm.Options{
		Model:    a.deps.model(config.RoleAnalyst),
		JSONMode: true,
	})
	if err != nil {
		return err
	}
	obj, err := llm.ExtractObject(raw)
	if err != nil {
		return err
	}
	var resp analystExtractResponse
	if err := llm.Decode(obj, &resp); err != nil {
		return fmt.Errorf("decoding analyst extraction: %w", err)
	}

	for _, dp := range resp.DataPoints {
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
	}

	nodes := make([]state.GraphNode, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		nodes = append(nodes, state.GraphNode{ID: e.Name, Name: e.Name, Type: e.Type, Importance: clamp01(e.Importance)})
	}
	edges := make([]state.GraphEdge, 0, len(resp.Relations))
	for _, r := range resp.Relations {
		edges = append(edges, state.GraphEdge{Source: r.Source, Target: r.Target, Relation: r.Relation})
	}
	if len(nodes) > 0 || len(edges) > 0 {
		st.MergeGraph(nodes, edges)
		a.pub.Publish(events.TypeKnowledgeGraph, map[string]any{
			"nodes": st.KnowledgeGraph.Nodes,
			"edges": st.KnowledgeGraph.Edges,
		})
	}
	for _, insight := range resp.Insights {
		st.AddInsight(insight)
	}

	for _, cfg := range resp.Charts {
		if cfg.Title == "" {
			continue
		}
		chart := state.Chart{
			ID:            fmt.Sprintf("chart_%d", len(st.Charts)+1),
			Title:         cfg.Title,
			ChartType:     cfg.ChartType,
			Data:          cfg.Data,
			EchartsOption: cfg.EchartsOption,
			SectionID:     cfg.SectionID,
		}
		st.Charts = append(st.Charts, chart)
		a.pub.Publish(events.TypeChart, map[string]any{
			"chart_id":       chart.ID,
			"title":          chart.Title,
			"chart_type":     chart.ChartType,
			"echarts_option": chart.EchartsOption,
			"section_id":     chart.SectionID,
		})
	}
	return nil
}

// statisticalSummary computes descriptive statistics over numeric
// data-point groups (grouped by unit) and records notable spreads as
// insights. The summary text is fed into the code-generation prompt.
func (a *Analyst) statisticalSummary(st *state.State) string {
	groups := make(map[string][]float64)
	for _, dp := range st.DataPoints {
		key := dp.Unit
		if key == "" {
			key = "unitless"
		}
		groups[key] = append(groups[key], dp.Value)
	}

	var b strings.Builder
	for unit, values := range groups {
		if len(values) < minDataPointsForCode {
			continue
		}
		data := stats.Float64Data(values)
		mean, _ := stats.Mean(data)
		median, _ := stats.Median(data)
		stdev, _ := stats.StandardDeviation(data)
		minVal, _ := stats.Min(data)
		maxVal, _ := stats.Max(data)
		fmt.Fprintf(&b, "%s: n=%d mean=%.2f median=%.2f stddev=%.2f min=%.2f max=%.2f\n",
			unit, len(values), mean, median, stdev, minVal, maxVal)
		if mean != 0 && stdev/mean > 1 {
			st.AddInsight(fmt.Sprintf("数据离散度高 (%s): 标准差 %.2f 超过均值 %.2f", unit, stdev, mean))
		}
	}
	return b.String()
}

// runCodeAnalysis generates analysis code, executes it in the sandbox, and
// feeds failures back to the model for up to maxCodeRetries fixes. Every
// outcome is recorded in the execution audit trail; a rendered figure
// becomes a chart record.
func (a *Analyst) runCodeAnalysis(ctx context.Context, st *state.State, statsSummary, sectionID string) {
	code, err := a.generateCode(ctx, st, statsSummary, sectionID)
	if err != nil || code == "" {
		st.AppendError(fmt.Sprintf("analyst code generation: %v", err))
		return
	}
	a.pub.Publish(events.TypeCode, map[string]any{"code": code, "section_id": sectionID})

	retries := 0
	for {
		result, execErr := a.deps.Runner.Execute(ctx, code)
		if execErr != nil {
			st.AppendError(fmt.Sprintf("sandbox: %v", execErr))
			return
		}
		a.pub.Publish(events.TypeCodeResult, map[string]any{
			"success":    result.Success,
			"output":     result.Output,
			"error":      result.Error,
			"retries":    retries,
			"section_id": sectionID,
		})

		if result.Success {
			st.CodeExecutions = append(st.CodeExecutions, state.CodeExecution{
				ID: fmt.Sprintf("exec_%d", len(st.CodeExecutions)+1), Code: code,
				Output: result.Output, Success: true, Retries: retries, Timestamp: time.Now(),
			})
			if result.ImageBase64 != "" {
				chart := state.Chart{
					ID:          fmt.Sprintf("chart_%d", len(st.Charts)+1),
					Title:       "统计分析图表",
					ChartType:   "image",
					Code:        code,
					ImageBase64: result.ImageBase64,
					SectionID:   sectionID,
				}
				st.Charts = append(st.Charts, chart)
				a.pub.Publish(events.TypeChart, map[string]any{
					"chart_id":     chart.ID,
					"title":        chart.Title,
					"chart_type":   chart.ChartType,
					"image_base64": chart.ImageBase64,
					"section_id":   sectionID,
				})
			}
			return
		}

		// Forbidden code is a structured refusal, never retried.
		if strings.Contains(result.Error, "forbidden operations") || retries >= maxCodeRetries {
			st.CodeExecutions = append(st.CodeExecutions, state.CodeExecution{
				ID: fmt.Sprintf("exec_%d", len(st.CodeExecutions)+1), Code: code,
				Output: result.Output, Error: result.Error, Success: false,
				Retries: retries, Timestamp: time.Now(),
			})
			return
		}

		retries++
		fixed, fixErr := a.fixCode(ctx, code, result.Error, result.Output)
		if fixErr != nil || fixed == "" {
			st.CodeExecutions = append(st.CodeExecutions, state.CodeExecution{
				ID: fmt.Sprintf("exec_%d", len(st.CodeExecutions)+1), Code: code,
				Output: result.Output, Error: result.Error, Success: false,
				Retries: retries, Timestamp: time.Now(),
			})
			return
		}
		a.pub.Publish(events.TypeCodeFix, map[string]any{"attempt": retries, "code": fixed})
		code = fixed
	}
}

// sectionCharts renders charts for up to two chart-requiring sections.
func (a *Analyst) sectionCharts(ctx context.Context, st *state.State, statsSummary string) {
	rendered := 0
	for _, sec := range st.Outline {
		if rendered >= maxSectionCharts {
			return
		}
		if !sec.RequiresChart || hasChartForSection(st, sec.ID) {
			continue
		}
		a.runCodeAnalysis(ctx, st, statsSummary, sec.ID)
		rendered++
	}
}

func hasChartForSection(st *state.State, sectionID string) bool {
	for _, c := range st.Charts {
		if c.SectionID == sectionID {
			return true
		}
	}
	return false
}

func (a *Analyst) generateCode(ctx context.Context, st *state.State, statsSummary, sectionID string) (string, error) {
	points, err := json.Marshal(st.DataPoints)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", st.Query)
	if sectionID != "" {
		if sec := st.SectionByID(sectionID); sec != nil {
			fmt.Fprintf(&b, "Chart for section %s: %s\n", sec.ID, sec.Title)
		}
	}
	fmt.Fprintf(&b, "\nData points (JSON):\n%s\n", points)
	if statsSummary != "" {
		fmt.Fprintf(&b, "\nPrecomputed statistics:\n%s", statsSummary)
	}

	raw, err := a.deps.LLM.Chat(ctx, analystCodeSystemPrompt, b.String(), llm.Options{
		Model:    a.deps.model(config.RoleAnalyst),
		JSONMode: true,
	})
	if err != nil {
		return "", err
	}
	obj, err := llm.ExtractObject(raw)
	if err != nil {
		return "", err
	}
	var resp codeResponse
	if err := llm.Decode(obj, &resp); err != nil {
		return "", fmt.Errorf("decoding code response: %w", err)
	}
	return resp.Code, nil
}

func (a *Analyst) fixCode(ctx context.Context, code, execError, output string) (string, error) {
	user := fmt.Sprintf("Code:\n```python\n%s\n```\n\nError:\n%s\n\nStdout:\n%s", code, execError, output)
	raw, err := a.deps.LLM.Chat(ctx, analystFixSystemPrompt, user, llm.Options{
		Model:    a.deps.model(config.RoleAnalyst),
		JSONMode: true,
	})
	if err != nil {
		return "", err
	}
	obj, err := llm.ExtractObject(raw)
	if err != nil {
		return "", err
	}
	var resp codeFixResponse
	if err := llm.Decode(obj, &resp); err != nil {
		return "", fmt.Errorf("decoding fix response: %w", err)
	}
	return resp.FixedCode, nil
}

var _ Agent = (*Analyst)(nil)
