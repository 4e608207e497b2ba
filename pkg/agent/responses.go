package agent

// Typed shapes for the JSON handshake with the model. All decoding goes
// through llm.ExtractObject + llm.Decode so malformed replies get the full
// salvage pipeline before these structs are populated.

type plannerSection struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	SectionType   string   `json:"section_type"`
	RequiresData  bool     `json:"requires_data"`
	RequiresChart bool     `json:"requires_chart"`
	SearchQueries []string `json:"search_queries"`
}

type plannerResponse struct {
	Outline           []plannerSection `json:"outline"`
	Hypotheses        []string         `json:"hypotheses"`
	ResearchQuestions []string         `json:"research_questions"`
	KeyEntities       []string         `json:"key_entities"`
}

type extractedFact struct {
	Content           string   `json:"content"`
	SourceURL         string   `json:"source_url"`
	SourceName        string   `json:"source_name"`
	SourceType        string   `json:"source_type"`
	CredibilityScore  float64  `json:"credibility_score"`
	RelatedSections   []string `json:"related_sections"`
	RelatedHypothesis string   `json:"related_hypothesis"`
	HypothesisSupport string   `json:"hypothesis_support"`
}

type extractedDataPoint struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	Year       int     `json:"year"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

type extractedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Importance float64 `json:"importance"`
}

type extractedRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

type hypothesisEvidence struct {
	HypothesisID string `json:"hypothesis_id"`
	Evidence     string `json:"evidence"`
	Supports     bool   `json:"supports"`
}

type searchExtractResponse struct {
	Facts              []extractedFact      `json:"facts"`
	DataPoints         []extractedDataPoint `json:"data_points"`
	Entities           []extractedEntity    `json:"entities"`
	Relations          []extractedRelation  `json:"relations"`
	KeyInsights        []string             `json:"key_insights"`
	FollowUpQueries    []string             `json:"follow_up_queries"`
	TraceQueries       []string             `json:"trace_queries"`
	HypothesisEvidence []hypothesisEvidence `json:"hypothesis_evidence"`
	SourceQuality      string               `json:"source_quality"`
}

type chartConfig struct {
	Title         string         `json:"title"`
	ChartType     string         `json:"chart_type"`
	Data          map[string]any `json:"data"`
	EchartsOption map[string]any `json:"echarts_option"`
	SectionID     string         `json:"section_id"`
}

type analystExtractResponse struct {
	DataPoints []extractedDataPoint `json:"data_points"`
	Entities   []extractedEntity    `json:"entities"`
	Relations  []extractedRelation  `json:"relations"`
	Insights   []string             `json:"insights"`
	Charts     []chartConfig        `json:"charts"`
}

type codeResponse struct {
	Code string `json:"code"`
}

type codeFixResponse struct {
	FixedCode string `json:"fixed_code"`
}

type writerCitation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type writerSectionResponse struct {
	Content   string           `json:"content"`
	Citations []writerCitation `json:"citations"`
}

type writerReportResponse struct {
	Content string `json:"content"`
}

type writerRevisionResponse struct {
	RevisedContent  string   `json:"revised_content"`
	AddressedIssues []string `json:"addressed_issues"`
}

type criticIssue struct {
	TargetSection     string `json:"target_section"`
	IssueType         string `json:"issue_type"`
	Severity          string `json:"severity"`
	Description       string `json:"description"`
	Suggestion        string `json:"suggestion"`
	RequiresNewSearch bool   `json:"requires_new_search"`
	SearchQuery       string `json:"search_query"`
}

type criticAssessment struct {
	QualityScore float64 `json:"quality_score"`
	Verdict      string  `json:"verdict"`
	Summary      string  `json:"summary"`
}

type factCheckResult struct {
	Claim    string `json:"claim"`
	Verified bool   `json:"verified"`
	Note     string `json:"note"`
}

type criticResponse struct {
	OverallAssessment criticAssessment  `json:"overall_assessment"`
	Issues            []criticIssue     `json:"issues"`
	FactCheckResults  []factCheckResult `json:"fact_check_results"`
	MissingAspects    []string          `json:"missing_aspects"`
}
