package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fathom-research/fathom/pkg/config"
	"github.com/fathom-research/fathom/pkg/events"
	"github.com/fathom-research/fathom/pkg/llm"
	"github.com/fathom-research/fathom/pkg/state"
)

// plannerRetries bounds re-prompting on parse failure or a too-short outline.
const plannerRetries = 2

// minOutlineSections is the smallest outline the planner accepts.
const minOutlineSections = 3

// Planner designs the outline, hypotheses, research questions and key
// entities in one model call, with bounded retries on malformed replies.
type Planner struct {
	deps Deps
	pub  *events.Publisher
}

// NewPlanner creates the planning role.
func NewPlanner(deps Deps) *Planner {
	return &Planner{deps: deps, pub: deps.publisher(config.RolePlanner)}
}

// Name implements Agent.
func (p *Planner) Name() string { return config.RolePlanner }

// Process implements Agent.
func (p *Planner) Process(ctx context.Context, st *state.State) error {
	logger := slog.With("session_id", st.SessionID, "agent", p.Name())
	p.pub.StepStarted("planning", "制定研究计划", st.Query)
	p.pub.Thought(fmt.Sprintf("Designing a research plan for: %s", st.Query))

	resp, err := p.plan(ctx, st.Query)
	if err != nil {
		logger.Warn("Planner falling back to stub outline", "error", err)
		st.AppendError(fmt.Sprintf("planner: %v", err))
		resp = stubPlan(st.Query)
	}

	p.apply(st, resp)
	p.pub.Publish(events.TypeOutline, map[string]any{
		"outline":            st.Outline,
		"hypotheses":         st.Hypotheses,
		"research_questions": st.ResearchQuestions,
		"key_entities":       st.KeyEntities,
	})
	p.pub.StepCompleted("planning", "研究计划完成", map[string]any{
		"sections":   len(st.Outline),
		"hypotheses": len(st.Hypotheses),
	})
	logger.Info("Plan created", "sections", len(st.Outline), "hypotheses", len(st.Hypotheses))
	return nil
}

// plan calls the model, retrying with a simplified prompt when the reply
// cannot be parsed or the outline is too short.
func (p *Planner) plan(ctx context.Context, query string) (*plannerResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= plannerRetries; attempt++ {
		system := plannerSystemPrompt
		if attempt > 0 {
			system = plannerRetryPrompt
		}
		raw, err := p.deps.LLM.Chat(ctx, system, query, llm.Options{
			Model:    p.deps.model(config.RolePlanner),
			JSONMode: true,
		})
		if err != nil {
			lastErr = err
			continue
		}
		obj, err := llm.ExtractObject(raw)
		if err != nil {
			lastErr = fmt.Errorf("parsing plan: %w", err)
			continue
		}
		resp := normalizePlan(obj)
		if len(resp.Outline) < minOutlineSections {
			lastErr = fmt.Errorf("outline too short: %d sections", len(resp.Outline))
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// normalizePlan decodes the structured shape and falls back to the legacy
// flat shape (sec_N_title / sec_N_desc / sec_N_query, hypothesis_N, and a
// semicolon-joined "questions" string).
func normalizePlan(obj map[string]any) *plannerResponse {
	var resp plannerResponse
	if err := llm.Decode(obj, &resp); err == nil && len(resp.Outline) > 0 {
		return &resp
	}

	for i := 1; ; i++ {
		title, ok := obj[fmt.Sprintf("sec_%d_title", i)].(string)
		if !ok || title == "" {
			break
		}
		sec := plannerSection{Title: title, SectionType: state.SectionMixed}
		if desc, ok := obj[fmt.Sprintf("sec_%d_desc", i)].(string); ok {
			sec.Description = desc
		}
		if q, ok := obj[fmt.Sprintf("sec_%d_query", i)].(string); ok && q != "" {
			sec.SearchQueries = []string{q}
		}
		resp.Outline = append(resp.Outline, sec)
	}
	for i := 1; ; i++ {
		h, ok := obj[fmt.Sprintf("hypothesis_%d", i)].(string)
		if !ok || h == "" {
			break
		}
		resp.Hypotheses = append(resp.Hypotheses, h)
	}
	if qs, ok := obj["questions"].(string); ok {
		for _, q := range strings.Split(qs, ";") {
			if q = strings.TrimSpace(q); q != "" {
				resp.ResearchQuestions = append(resp.ResearchQuestions, q)
			}
		}
	}
	return &resp
}

// apply writes the plan into the state with generated ids.
func (p *Planner) apply(st *state.State, resp *plannerResponse) {
	for i, sec := range resp.Outline {
		sectionType := sec.SectionType
		switch sectionType {
		case state.SectionQualitative, state.SectionQuantitative, state.SectionMixed:
		default:
			sectionType = state.SectionMixed
		}
		st.Outline = append(st.Outline, state.Section{
			ID:            fmt.Sprintf("sec_%d", i+1),
			Title:         sec.Title,
			Description:   sec.Description,
			SectionType:   sectionType,
			RequiresData:  sec.RequiresData,
			RequiresChart: sec.RequiresChart,
			SearchQueries: sec.SearchQueries,
			Status:        state.SectionPending,
		})
	}
	for i, content := range resp.Hypotheses {
		if content == "" {
			continue
		}
		st.Hypotheses = append(st.Hypotheses, state.Hypothesis{
			ID:      fmt.Sprintf("hyp_%d", i+1),
			Content: content,
			Status:  state.HypothesisUnverified,
		})
	}
	st.ResearchQuestions = resp.ResearchQuestions
	st.KeyEntities = resp.KeyEntities
}

// stubPlan is the default outline used when every planning attempt failed.
// The run continues with generic sections rather than aborting.
func stubPlan(query string) *plannerResponse {
	return &plannerResponse{
		Outline: []plannerSection{
			{Title: "背景与现状", Description: "Background and current landscape",
				SectionType: state.SectionQualitative, SearchQueries: []string{query}},
			{Title: "关键数据分析", Description: "Key figures and quantitative analysis",
				SectionType: state.SectionQuantitative, RequiresData: true,
				SearchQueries: []string{query + " 数据 统计"}},
			{Title: "趋势与展望", Description: "Trends and outlook",
				SectionType: state.SectionMixed, SearchQueries: []string{query + " 趋势 预测"}},
		},
	}
}

var _ Agent = (*Planner)(nil)
