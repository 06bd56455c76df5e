// Package research holds the domain nodes of the deep-research pipeline and
// the graph wiring that connects them: plan, query generation, parallel web
// research, reflection, the quality phase, and report finalization.
package research

import "deepsearch/internal/graph"

// Node names as wired into the graph.
const (
	NodeGeneratePlan       = "generate_research_plan"
	NodeGenerateQuery      = "generate_query"
	NodeWebResearch        = "web_research"
	NodeReflection         = "reflection"
	NodeAssessQuality      = "assess_content_quality"
	NodeVerifyFacts        = "verify_facts"
	NodeAssessRelevance    = "assess_relevance"
	NodeOptimizeSummary    = "optimize_summary"
	NodeVerificationReport = "generate_verification_report"
	NodeFinalizeAnswer     = "finalize_answer"
)

// State field keys. Append fields accumulate across loops and parallel
// branches; everything else is last-write-wins.
const (
	FieldMessages          = "messages"             // []string, append
	FieldSearchQuery       = "search_query"         // []string, append
	FieldWebResearchResult = "web_research_result"  // []string, append
	FieldSourcesGathered   = "sources_gathered"     // []citation.Source, append
	FieldAllSources        = "all_sources_gathered" // []citation.Source, append

	FieldInitialQueryCount   = "initial_search_query_count" // int
	FieldMaxLoops            = "max_research_loops"         // int
	FieldLoopCount           = "research_loop_count"        // int
	FieldReasoningModel      = "reasoning_model"            // string
	FieldReportFormat        = "report_format"              // string
	FieldResearchPlan        = "research_plan"              // Plan
	FieldUnansweredQuestions = "unanswered_questions"       // []string
	FieldNewQueries          = "new_search_query"           // []string
	FieldNewQueriesDisplay   = "new_search_query_display"   // []string
	FieldQueryRationale      = "query_rationale"            // string
	FieldIsSufficient        = "is_sufficient"              // bool
	FieldKnowledgeGap        = "knowledge_gap"              // string

	FieldContentQuality      = "content_quality"        // QualityAssessment
	FieldFactVerification    = "fact_verification"      // FactVerification
	FieldRelevance           = "relevance_assessment"   // RelevanceAssessment
	FieldSummaryOptimization = "summary_optimization"   // SummaryOptimization
	FieldVerificationReport  = "verification_report"    // string
	FieldFinalConfidence     = "final_confidence_score" // float64
	FieldFinalAnswer         = "final_answer"           // string
	FieldUniqueSources       = "unique_sources"         // []citation.Source
)

// Branch overlay keys for parallel web_research dispatches. These never go
// through a reducer; they exist only on the branch's state copy.
const (
	FieldBranchQuery = "branch_query" // string
	FieldBranchID    = "branch_id"    // int
)

// StateSchema declares the append fields; all others replace.
func StateSchema() graph.Schema {
	return graph.Schema{
		FieldMessages:          graph.Append,
		FieldSearchQuery:       graph.Append,
		FieldWebResearchResult: graph.Append,
		FieldSourcesGathered:   graph.Append,
		FieldAllSources:        graph.Append,
	}
}
