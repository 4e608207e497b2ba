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

// maxFactsPerSection bounds the facts included in one section prompt.
const maxFactsPerSection = 25

// Writer drafts sections, synthesizes the final report, and applies
// revision cycles driven by critic feedback.
type Writer struct {
	deps Deps
	pub  *events.Publisher
}

// NewWriter creates the writing role.
func NewWriter(deps Deps) *Writer {
	return &Writer{deps: deps, pub: deps.publisher(config.RoleWriter)}
}

// Name implements Agent.
func (w *Writer) Name() string { return config.RoleWriter }

// Process implements Agent.
func (w *Writer) Process(ctx context.Context, st *state.State) error {
	if st.Phase == state.PhaseRevising {
		return w.revise(ctx, st)
	}
	return w.write(ctx, st)
}

// write drafts every non-final section, then synthesizes the report.
func (w *Writer) write(ctx context.Context, st *state.State) error {
	logger := slog.With("session_id", st.SessionID, "agent", w.Name())
	w.pub.StepStarted("writing", "撰写报告", fmt.Sprintf("%d 个章节", len(st.Outline)))

	for i := range st.Outline {
		sec := &st.Outline[i]
		if sec.Status == state.SectionFinal || sec.Status == state.SectionDrafted {
			continue
		}
		content, citations, err := w.draftSection(ctx, st, sec)
		if err != nil {
			logger.Warn("Section draft failed", "section_id", sec.ID, "error", err)
			st.AppendError(fmt.Sprintf("writer section %s: %v", sec.ID, err))
			continue
		}
		st.DraftSections[sec.ID] = content
		sec.Status = state.SectionDrafted
		w.appendReferences(st, citations)
		w.pub.Publish(events.TypeSectionContent, map[string]any{
			"section_id": sec.ID,
			"title":      sec.Title,
			"content":    content,
		})
	}

	report, err := w.synthesize(ctx, st)
	if err != nil {
		logger.Warn("Report synthesis failed, falling back to concatenation", "error", err)
		st.AppendError(fmt.Sprintf("writer synthesis: %v", err))
		report = w.concatenate(st)
	}
	st.FinalReport = report
	for i := range st.Outline {
		if st.Outline[i].Status == state.SectionDrafted {
			st.Outline[i].Status = state.SectionFinal
		}
	}

	w.pub.Publish(events.TypeReportDraft, map[string]any{
		"content":    report,
		"references": st.References,
	})
	w.pub.StepCompleted("writing", "报告撰写完成", map[string]any{
		"sections":   len(st.DraftSections),
		"references": len(st.References),
		"length":     len(report),
	})
	return nil
}

// revise re-emits the report addressing unresolved critic feedback and
// flips the feedback items the model says it addressed.
func (w *Writer) revise(ctx context.Context, st *state.State) error {
	unresolved := st.UnresolvedFeedback()
	w.pub.StepStarted("revising", "修订报告", fmt.Sprintf("%d 个问题", len(unresolved)))

	var b strings.Builder
	fmt.Fprintf(&b, "Current report:\n%s\n\nIssues to address:\n", st.FinalReport)
	for _, fb := range unresolved {
		fmt.Fprintf(&b, "- %s [%s/%s, section %s]: %s (suggestion: %s)\n",
			fb.ID, fb.Severity, fb.IssueType, fb.TargetSection, fb.Description, fb.Suggestion)
	}
	if len(st.Facts) > 0 {
		supplementary := 0
		for _, f := range st.Facts {
			if f.IsSupplementary {
				supplementary++
			}
		}
		if supplementary > 0 {
			b.WriteString("\nNewly collected supplementary facts:\n")
			for _, f := range st.Facts {
				if f.IsSupplementary {
					fmt.Fprintf(&b, "- %s (source: %s)\n", f.Content, f.SourceName)
				}
			}
		}
	}

	raw, err := w.deps.LLM.Chat(ctx, writerRevisionSystemPrompt, b.String(), llm.Options{
		Model:    w.deps.model(config.RoleWriter),
		JSONMode: true,
	})
	if err != nil {
		st.AppendError(fmt.Sprintf("writer revision: %v", err))
		w.pub.Error(fmt.Sprintf("revision failed: %v", err))
		return nil
	}
	obj, err := llm.ExtractObject(raw)
	if err != nil {
		st.AppendError(fmt.Sprintf("writer revision parse: %v", err))
		return nil
	}
	var resp writerRevisionResponse
	if err := llm.Decode(obj, &resp); err != nil {
		st.AppendError(fmt.Sprintf("writer revision decode: %v", err))
		return nil
	}
	if resp.RevisedContent != "" {
		st.FinalReport = resp.RevisedContent
	}
	st.ResolveFeedback(resp.AddressedIssues)

	w.pub.Publish(events.TypeRevisionComplete, map[string]any{
		"addressed_issues": resp.AddressedIssues,
		"content":          st.FinalReport,
	})
	w.pub.StepCompleted("revising", "修订完成", map[string]any{
		"addressed": len(resp.AddressedIssues),
	})
	return nil
}

func (w *Writer) draftSection(ctx context.Context, st *state.State, sec *state.Section) (string, []writerCitation, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\nSection: %s\nScope: %s\n\nFacts:\n",
		st.Query, sec.Title, sec.Description)
	facts := st.FactsForSection(sec.ID)
	if len(facts) > maxFactsPerSection {
		facts = facts[:maxFactsPerSection]
	}
	for i, f := range facts {
		fmt.Fprintf(&b, "%d. %s (%s, %s)\n", i+1, f.Content, f.SourceName, f.SourceURL)
	}
	if len(st.DataPoints) > 0 {
		b.WriteString("\nData points:\n")
		for _, dp := range st.DataPoints {
			fmt.Fprintf(&b, "- %s: %g %s (%d, %s)\n", dp.Name, dp.Value, dp.Unit, dp.Year, dp.Source)
		}
	}
	if len(st.Insights) > 0 {
		b.WriteString("\nInsights:\n")
		for _, insight := range st.Insights {
			fmt.Fprintf(&b, "- %s\n", insight)
		}
	}

	raw, err := w.deps.LLM.Chat(ctx, writerSectionSystemPrompt, b.String(), llm.Options{
		Model:    w.deps.model(config.RoleWriter),
		JSONMode: true,
	})
	if err != nil {
		return "", nil, err
	}
	obj, err := llm.ExtractObject(raw)
	if err != nil {
		return "", nil, err
	}
	var resp writerSectionResponse
	if err := llm.Decode(obj, &resp); err != nil {
		return "", nil, fmt.Errorf("decoding section response: %w", err)
	}
	if resp.Content == "" {
		return "", nil, fmt.Errorf("empty section content")
	}
	return resp.Content, resp.Citations, nil
}

func (w *Writer) synthesize(ctx context.Context, st *state.State) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nDrafted sections:\n", st.Query)
	for _, sec := range st.Outline {
		if content, ok := st.DraftSections[sec.ID]; ok {
			fmt.Fprintf(&b, "\n## %s\n%s\n", sec.Title, content)
		}
	}
	if len(st.References) > 0 {
		b.WriteString("\nReferences:\n")
		for _, ref := range st.References {
			fmt.Fprintf(&b, "[%d] %s: %s\n", ref.ID, ref.Title, ref.URL)
		}
	}

	raw, err := w.deps.LLM.Chat(ctx, writerReportSystemPrompt, b.String(), llm.Options{
		Model:    w.deps.model(config.RoleWriter),
		JSONMode: true,
	})
	if err != nil {
		return "", err
	}
	obj, err := llm.ExtractObject(raw)
	if err != nil {
		return "", err
	}
	var resp writerReportResponse
	if err := llm.Decode(obj, &resp); err != nil {
		return "", fmt.Errorf("decoding report response: %w", err)
	}
	if resp.Content == "" {
		return "", fmt.Errorf("empty report content")
	}
	return resp.Content, nil
}

// concatenate assembles a minimal report from drafts when synthesis failed.
func (w *Writer) concatenate(st *state.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", st.Query)
	for i, sec := range st.Outline {
		if content, ok := st.DraftSections[sec.ID]; ok {
			fmt.Fprintf(&b, "\n## %d. %s\n\n%s\n", i+1, sec.Title, content)
		}
	}
	return b.String()
}

// appendReferences adds citations to the bibliography with sequential ids,
// skipping URLs already cited.
func (w *Writer) appendReferences(st *state.State, citations []writerCitation) {
	seen := make(map[string]struct{}, len(st.References))
	for _, ref := range st.References {
		seen[ref.URL] = struct{}{}
	}
	for _, c := range citations {
		if c.URL == "" {
			continue
		}
		if _, dup := seen[c.URL]; dup {
			continue
		}
		seen[c.URL] = struct{}{}
		st.References = append(st.References, state.Reference{
			ID:    len(st.References) + 1,
			Title: c.Title,
			URL:   c.URL,
		})
	}
}

var _ Agent = (*Writer)(nil)
