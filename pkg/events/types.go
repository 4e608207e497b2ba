// Package events provides the bounded per-session event queue that carries
// agent progress to the caller-facing SSE stream.
//
// Delivery model: the currently scheduled agent enqueues through a
// Publisher bound to its role name; the orchestrator is the only consumer,
// draining with a timeout loop while the agent runs and flushing residuals
// after it completes. Enqueue never blocks the agent for more than the
// try-put threshold; on overflow the event is logged and dropped.
package events

// Lifecycle event types.
const (
	TypeResearchStart     = "research_start"
	TypeResearchResumed   = "research_resumed"
	TypeResearchCancelled = "research_cancelled"
	TypeResearchComplete  = "research_complete"
	TypeError             = "error"
	TypeCheckpointSaved   = "checkpoint_saved"
)

// Phase marker event type. Payload carries the phase name.
const TypePhase = "phase"

// Planner event types.
const (
	TypeOutline = "outline"
	TypeThought = "thought"
)

// Searcher event types.
const (
	TypeAction         = "action"
	TypeSearchProgress = "search_progress"
	TypeSearchResults  = "search_results"
	TypeObservation    = "observation"
	TypeKnowledgeGraph = "knowledge_graph"
	TypeStockQuote     = "stock_quote"
)

// Analyst event types.
const (
	TypeCode       = "code"
	TypeCodeResult = "code_result"
	TypeCodeFix    = "code_fix"
	TypeChart      = "chart"
)

// Writer event types.
const (
	TypeSectionContent   = "section_content"
	TypeReportDraft      = "report_draft"
	TypeRevisionComplete = "revision_complete"
)

// Critic event types.
const (
	TypeReview         = "review"
	TypeCriticFeedback = "critic_feedback"
	TypeWarning        = "warning"
)

// TypeResearchStep marks start/complete of a UI-visible step with stats.
const TypeResearchStep = "research_step"

// Research step statuses (used in research_step payloads).
const (
	StepStarted   = "started"
	StepCompleted = "completed"
)
