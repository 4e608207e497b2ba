// Package state holds the research state shared by all agents in a session.
//
// The orchestrator owns the state for the lifetime of a run. Agents receive
// a mutable reference for the duration of one Process call and must not
// retain it afterward. At most one agent is active at a time; the searcher
// guards its own internal fan-out with Lock/Unlock.
package state

import (
	"sync"
	"time"
)

// Phase is a position in the research state machine.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhasePlanning      Phase = "planning"
	PhaseResearching   Phase = "researching"
	PhaseAnalyzing     Phase = "analyzing"
	PhaseWriting       Phase = "writing"
	PhaseReviewing     Phase = "reviewing"
	PhaseRevising      Phase = "revising"
	PhaseReResearching Phase = "re_researching"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
)

// Section statuses.
const (
	SectionPending     = "pending"
	SectionResearching = "researching"
	SectionDrafted     = "drafted"
	SectionFinal       = "final"
)

// Section types.
const (
	SectionQualitative  = "qualitative"
	SectionQuantitative = "quantitative"
	SectionMixed        = "mixed"
)

// Hypothesis statuses.
const (
	HypothesisUnverified         = "unverified"
	HypothesisSupported          = "supported"
	HypothesisRefuted            = "refuted"
	HypothesisPartiallySupported = "partially_supported"
)

// Fact source types.
const (
	SourceOfficial  = "official"
	SourceAcademic  = "academic"
	SourceNews      = "news"
	SourceReport    = "report"
	SourceSelfMedia = "self_media"
)

// Critic issue types and severities.
const (
	IssueMissingSource = "missing_source"
	IssueLogicError    = "logic_error"
	IssueBias          = "bias"
	IssueHallucination = "hallucination"
	IssueOutdated      = "outdated"
	IssueIncomplete    = "incomplete"

	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"
)

// Section is one entry of the report outline.
type Section struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	SectionType   string   `json:"section_type"`
	RequiresData  bool     `json:"requires_data"`
	RequiresChart bool     `json:"requires_chart"`
	SearchQueries []string `json:"search_queries"`
	Status        string   `json:"status"`
}

// Hypothesis is a claim the engine tries to support or refute with evidence.
type Hypothesis struct {
	ID              string   `json:"id"`
	Content         string   `json:"content"`
	Status          string   `json:"status"`
	EvidenceFor     []string `json:"evidence_for"`
	EvidenceAgainst []string `json:"evidence_against"`
}

// Fact is an atomic, cited statement extracted from search results.
type Fact struct {
	ID                string   `json:"id"`
	Content           string   `json:"content"`
	SourceURL         string   `json:"source_url"`
	SourceName        string   `json:"source_name"`
	SourceType        string   `json:"source_type"`
	CredibilityScore  float64  `json:"credibility_score"`
	RelatedSections   []string `json:"related_sections"`
	RelatedHypothesis string   `json:"related_hypothesis,omitempty"`
	HypothesisSupport string   `json:"hypothesis_support,omitempty"`
	SearchDepth       int      `json:"search_depth,omitempty"`
	IsSupplementary   bool     `json:"is_supplementary,omitempty"`
}

// DataPoint is a structured numeric observation.
type DataPoint struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Year       int     `json:"year,omitempty"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// GraphNode is a named entity in the knowledge graph.
type GraphNode struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Importance float64 `json:"importance"`
}

// GraphEdge relates two knowledge-graph nodes.
type GraphEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// KnowledgeGraph holds the entities and relations discovered so far.
type KnowledgeGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Chart is a rendered or configured visualization.
type Chart struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	ChartType     string         `json:"chart_type"`
	Data          map[string]any `json:"data,omitempty"`
	Code          string         `json:"code,omitempty"`
	ImageBase64   string         `json:"image_base64,omitempty"`
	EchartsOption map[string]any `json:"echarts_option,omitempty"`
	SectionID     string         `json:"section_id,omitempty"`
}

// CodeExecution is the audit record of one sandbox run.
type CodeExecution struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Output    string    `json:"output"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
	Retries   int       `json:"retries"`
	Timestamp time.Time `json:"timestamp"`
}

// CriticFeedback is one issue raised during review.
type CriticFeedback struct {
	ID                string `json:"id"`
	TargetSection     string `json:"target_section"`
	IssueType         string `json:"issue_type"`
	Severity          string `json:"severity"`
	Description       string `json:"description"`
	Suggestion        string `json:"suggestion"`
	RequiresNewSearch bool   `json:"requires_new_search,omitempty"`
	SearchQuery       string `json:"search_query,omitempty"`
	Resolved          bool   `json:"resolved"`
}

// Reference is one bibliography entry of the final report.
type Reference struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// State is the single mutable research state for one session.
type State struct {
	Query         string `json:"query"`
	SessionID     string `json:"session_id"`
	Phase         Phase  `json:"phase"`
	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"max_iterations"`

	Outline           []Section         `json:"outline"`
	Hypotheses        []Hypothesis      `json:"hypotheses"`
	ResearchQuestions []string          `json:"research_questions"`
	KeyEntities       []string          `json:"key_entities"`
	KnowledgeGraph    KnowledgeGraph    `json:"knowledge_graph"`
	Facts             []Fact            `json:"facts"`
	DataPoints        []DataPoint       `json:"data_points"`
	Insights          []string          `json:"insights"`
	Charts            []Chart           `json:"charts"`
	CodeExecutions    []CodeExecution   `json:"code_executions"`
	DraftSections     map[string]string `json:"draft_sections"`
	FinalReport       string            `json:"final_report"`
	References        []Reference       `json:"references"`
	CriticFeedback    []CriticFeedback  `json:"critic_feedback"`
	QualityScore      float64           `json:"quality_score"`

	PendingSearchQueries []string `json:"pending_search_queries"`
	Logs                 []string `json:"logs"`
	Errors               []string `json:"errors"`

	// seenFacts indexes fingerprint+source_url pairs for dedup.
	// Rebuilt on checkpoint load; never serialized.
	seenFacts map[string]struct{}
	mu        sync.Mutex
}

// New creates a fresh state in PhaseInit.
func New(query, sessionID string, maxIterations int) *State {
	return &State{
		Query:         query,
		SessionID:     sessionID,
		Phase:         PhaseInit,
		MaxIterations: maxIterations,
		DraftSections: make(map[string]string),
		seenFacts:     make(map[string]struct{}),
	}
}

// Lock serializes concurrent state mutation inside a single agent's fan-out.
func (s *State) Lock() { s.mu.Lock() }

// Unlock releases the fan-out lock.
func (s *State) Unlock() { s.mu.Unlock() }

// AddFact appends f unless a fact with the same fingerprint and source URL
// already exists. Returns true if the fact was recorded. The same
// fingerprint from a different URL is independent corroboration, not a
// duplicate.
func (s *State) AddFact(f Fact) bool {
	if s.seenFacts == nil {
		s.rebuildFactIndex()
	}
	key := Fingerprint(f.Content) + "|" + f.SourceURL
	if _, dup := s.seenFacts[key]; dup {
		return false
	}
	s.seenFacts[key] = struct{}{}
	s.Facts = append(s.Facts, f)
	return true
}

func (s *State) rebuildFactIndex() {
	s.seenFacts = make(map[string]struct{}, len(s.Facts))
	for _, f := range s.Facts {
		s.seenFacts[Fingerprint(f.Content)+"|"+f.SourceURL] = struct{}{}
	}
}

// HypothesisByID returns a pointer into the hypotheses slice, or nil.
func (s *State) HypothesisByID(id string) *Hypothesis {
	for i := range s.Hypotheses {
		if s.Hypotheses[i].ID == id {
			return &s.Hypotheses[i]
		}
	}
	return nil
}

// AddEvidence records one evidence statement for or against a hypothesis
// and recomputes its status: supported at two or more supporting statements
// with no refutations, refuted mirror-symmetric, partially supported when
// both sides have evidence.
func (s *State) AddEvidence(hypothesisID, evidence string, supports bool) {
	h := s.HypothesisByID(hypothesisID)
	if h == nil {
		return
	}
	if supports {
		h.EvidenceFor = append(h.EvidenceFor, evidence)
	} else {
		h.EvidenceAgainst = append(h.EvidenceAgainst, evidence)
	}
	switch {
	case len(h.EvidenceFor) >= 2 && len(h.EvidenceAgainst) == 0:
		h.Status = HypothesisSupported
	case len(h.EvidenceAgainst) >= 2 && len(h.EvidenceFor) == 0:
		h.Status = HypothesisRefuted
	case len(h.EvidenceFor) > 0 || len(h.EvidenceAgainst) > 0:
		h.Status = HypothesisPartiallySupported
	}
}

// MergeGraph merges nodes (keyed by name) and edges (keyed by
// source→target:relation) into the knowledge graph.
func (s *State) MergeGraph(nodes []GraphNode, edges []GraphEdge) {
	existing := make(map[string]struct{}, len(s.KnowledgeGraph.Nodes))
	for _, n := range s.KnowledgeGraph.Nodes {
		existing[n.Name] = struct{}{}
	}
	for _, n := range nodes {
		if n.Name == "" {
			continue
		}
		if _, ok := existing[n.Name]; ok {
			continue
		}
		existing[n.Name] = struct{}{}
		s.KnowledgeGraph.Nodes = append(s.KnowledgeGraph.Nodes, n)
	}

	seen := make(map[string]struct{}, len(s.KnowledgeGraph.Edges))
	for _, e := range s.KnowledgeGraph.Edges {
		seen[e.Source+"→"+e.Target+":"+e.Relation] = struct{}{}
	}
	for _, e := range edges {
		key := e.Source + "→" + e.Target + ":" + e.Relation
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		s.KnowledgeGraph.Edges = append(s.KnowledgeGraph.Edges, e)
	}
}

// AddInsight appends an insight unless an identical one exists.
func (s *State) AddInsight(insight string) {
	if insight == "" {
		return
	}
	for _, existing := range s.Insights {
		if existing == insight {
			return
		}
	}
	s.Insights = append(s.Insights, insight)
}

// SectionByID returns a pointer into the outline, or nil.
func (s *State) SectionByID(id string) *Section {
	for i := range s.Outline {
		if s.Outline[i].ID == id {
			return &s.Outline[i]
		}
	}
	return nil
}

// FactsForSection returns facts tagged with the section id. Facts with no
// section tags are visible to every section.
func (s *State) FactsForSection(sectionID string) []Fact {
	var out []Fact
	for _, f := range s.Facts {
		if len(f.RelatedSections) == 0 {
			out = append(out, f)
			continue
		}
		for _, id := range f.RelatedSections {
			if id == sectionID {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// UnresolvedFeedback returns the critic feedback not yet addressed.
func (s *State) UnresolvedFeedback() []CriticFeedback {
	var out []CriticFeedback
	for _, fb := range s.CriticFeedback {
		if !fb.Resolved {
			out = append(out, fb)
		}
	}
	return out
}

// ResolveFeedback marks the feedback items with the given ids as resolved.
func (s *State) ResolveFeedback(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range s.CriticFeedback {
		if _, ok := set[s.CriticFeedback[i].ID]; ok {
			s.CriticFeedback[i].Resolved = true
		}
	}
}

// AppendLog records an agent-level audit line.
func (s *State) AppendLog(line string) {
	s.Logs = append(s.Logs, line)
}

// AppendError records a non-fatal agent error.
func (s *State) AppendError(line string) {
	s.Errors = append(s.Errors, line)
}
