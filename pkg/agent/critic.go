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

// Critic verdicts.
const (
	VerdictPass          = "pass"
	VerdictNeedsRevision = "needs_revision"
	VerdictMajorIssues   = "major_issues"
)

// passThreshold is the minimum quality score compatible with a pass.
const passThreshold = 7

// maxMissingAspectQueries bounds missing aspects promoted to queries.
const maxMissingAspectQueries = 3

// researchIssueTypes are the issue classes fixable by new sourcing rather
// than rewriting.
var researchIssueTypes = map[string]struct{}{
	state.IssueMissingSource: {},
	state.IssueIncomplete:    {},
	state.IssueOutdated:      {},
}

// Critic reviews the report and routes the run: pass completes it, a
// sourcing-dominated failure re-researches, anything else revises. The
// critic is the only agent that mutates the phase; every other transition
// belongs to the orchestrator.
type Critic struct {
	deps Deps
	pub  *events.Publisher
}

// NewCritic creates the reviewing role.
func NewCritic(deps Deps) *Critic {
	return &Critic{deps: deps, pub: deps.publisher(config.RoleCritic)}
}

// Name implements Agent.
func (c *Critic) Name() string { return config.RoleCritic }

// Process implements Agent.
func (c *Critic) Process(ctx context.Context, st *state.State) error {
	logger := slog.With("session_id", st.SessionID, "agent", c.Name())
	c.pub.StepStarted("reviewing", "质量评审", fmt.Sprintf("第 %d 轮", st.Iteration+1))

	review, err := c.review(ctx, st)
	if err != nil {
		// An unreviewable report completes rather than looping forever.
		logger.Warn("Review failed, completing without verdict", "error", err)
		st.AppendError(fmt.Sprintf("critic: %v", err))
		c.pub.Warning("评审失败，按当前稿件完成")
		st.Phase = state.PhaseCompleted
		return nil
	}

	verdict := review.OverallAssessment.Verdict
	score := review.OverallAssessment.QualityScore
	if verdict == VerdictPass && score < passThreshold {
		verdict = VerdictNeedsRevision
	}
	st.QualityScore = score

	feedback := c.recordFeedback(st, review)
	c.pub.Publish(events.TypeReview, map[string]any{
		"quality_score":      score,
		"verdict":            verdict,
		"summary":            review.OverallAssessment.Summary,
		"issue_count":        len(review.Issues),
		"fact_check_results": review.FactCheckResults,
		"missing_aspects":    review.MissingAspects,
	})
	for _, fb := range feedback {
		c.pub.Publish(events.TypeCriticFeedback, map[string]any{
			"feedback_id":    fb.ID,
			"target_section": fb.TargetSection,
			"issue_type":     fb.IssueType,
			"severity":       fb.Severity,
			"description":    fb.Description,
			"suggestion":     fb.Suggestion,
		})
	}

	switch {
	case verdict == VerdictPass:
		st.Phase = state.PhaseCompleted
	case st.Iteration >= st.MaxIterations:
		c.pub.Warning(fmt.Sprintf("已达最大评审轮次 (%d)，按当前稿件完成", st.MaxIterations))
		st.Phase = state.PhaseCompleted
	default:
		st.Iteration++
		st.Phase = c.route(st, review)
	}

	c.pub.StepCompleted("reviewing", "评审完成", map[string]any{
		"quality_score": score,
		"verdict":       verdict,
		"next_phase":    string(st.Phase),
	})
	logger.Info("Review complete", "score", score, "verdict", verdict, "next_phase", st.Phase)
	return nil
}

// route decides between re-research and revision. Re-research wins when
// the critic produced concrete queries and the critical/major issue mix is
// dominated (ratio > 0.3) by sourcing problems, or when there are no
// critical/major issues at all and aspects are missing.
func (c *Critic) route(st *state.State, review *criticResponse) state.Phase {
	criticalMajor := 0
	researchIssues := 0
	var queries []string
	for _, issue := range review.Issues {
		if issue.Severity == state.SeverityCritical || issue.Severity == state.SeverityMajor {
			criticalMajor++
			if _, ok := researchIssueTypes[issue.IssueType]; ok {
				researchIssues++
			}
		}
		if issue.RequiresNewSearch && issue.SearchQuery != "" {
			queries = append(queries, issue.SearchQuery)
		}
	}
	aspects := review.MissingAspects
	if len(aspects) > maxMissingAspectQueries {
		aspects = aspects[:maxMissingAspectQueries]
	}
	queries = append(queries, aspects...)
	queries = uniqueStrings(queries)

	denominator := criticalMajor
	if denominator < 1 {
		denominator = 1
	}
	needsSourcing := len(queries) > 0 &&
		(researchIssues > 0 || len(review.MissingAspects) > 0) &&
		(criticalMajor == 0 || float64(researchIssues)/float64(denominator) > 0.3)

	if needsSourcing {
		if len(queries) > maxSupplementaryQueries {
			queries = queries[:maxSupplementaryQueries]
		}
		st.PendingSearchQueries = queries
		return state.PhaseReResearching
	}
	return state.PhaseRevising
}

// recordFeedback appends the review's issues as feedback records.
func (c *Critic) recordFeedback(st *state.State, review *criticResponse) []state.CriticFeedback {
	added := make([]state.CriticFeedback, 0, len(review.Issues))
	for _, issue := range review.Issues {
		fb := state.CriticFeedback{
			ID:                fmt.Sprintf("fb_%d", len(st.CriticFeedback)+1),
			TargetSection:     issue.TargetSection,
			IssueType:         normalizeIssueType(issue.IssueType),
			Severity:          normalizeSeverity(issue.Severity),
			Description:       issue.Description,
			Suggestion:        issue.Suggestion,
			RequiresNewSearch: issue.RequiresNewSearch,
			SearchQuery:       issue.SearchQuery,
		}
		st.CriticFeedback = append(st.CriticFeedback, fb)
		added = append(added, fb)
	}
	return added
}

func (c *Critic) review(ctx context.Context, st *state.State) (*criticResponse, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nOutline:\n", st.Query)
	for _, sec := range st.Outline {
		fmt.Fprintf(&b, "- %s: %s\n", sec.ID, sec.Title)
	}
	fmt.Fprintf(&b, "\nEvidence base: %d facts, %d data points, %d references\n",
		len(st.Facts), len(st.DataPoints), len(st.References))
	if st.Iteration > 0 {
		fmt.Fprintf(&b, "Review round: %d of %d\n", st.Iteration+1, st.MaxIterations)
	}
	fmt.Fprintf(&b, "\nReport:\n%s\n", st.FinalReport)

	raw, err := c.deps.LLM.Chat(ctx, criticSystemPrompt, b.String(), llm.Options{
		Model:    c.deps.model(config.RoleCritic),
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}
	obj, err := llm.ExtractObject(raw)
	if err != nil {
		return nil, err
	}
	var resp criticResponse
	if err := llm.Decode(obj, &resp); err != nil {
		return nil, fmt.Errorf("decoding review: %w", err)
	}
	if resp.OverallAssessment.Verdict == "" {
		return nil, fmt.Errorf("review missing verdict")
	}
	return &resp, nil
}

func normalizeIssueType(t string) string {
	switch t {
	case state.IssueMissingSource, state.IssueLogicError, state.IssueBias,
		state.IssueHallucination, state.IssueOutdated, state.IssueIncomplete:
		return t
	default:
		return state.IssueIncomplete
	}
}

func normalizeSeverity(s string) string {
	switch s {
	case state.SeverityCritical, state.SeverityMajor, state.SeverityMinor:
		return s
	default:
		return state.SeverityMinor
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

var _ Agent = (*Critic)(nil)
