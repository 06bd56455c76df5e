package service

import (
	"fmt"

	"deepsearch/internal/citation"
	"deepsearch/internal/research"
)

const maxQueryChars = 8000

// Request is the body of both run endpoints.
type Request struct {
	Query                   string `json:"query"`
	InitialSearchQueryCount int    `json:"initial_search_query_count,omitempty"`
	MaxResearchLoops        int    `json:"max_research_loops,omitempty"`
	ReasoningModel          string `json:"reasoning_model,omitempty"`
	ReportFormat            string `json:"report_format,omitempty"`
}

// Validate enforces field ranges. Zero counts mean "use the default".
func (r *Request) Validate() error {
	if len(r.Query) == 0 || len(r.Query) > maxQueryChars {
		return fmt.Errorf("query must be 1..%d characters", maxQueryChars)
	}
	if r.InitialSearchQueryCount != 0 && (r.InitialSearchQueryCount < 1 || r.InitialSearchQueryCount > 10) {
		return fmt.Errorf("initial_search_query_count must be in [1,10]")
	}
	if r.MaxResearchLoops != 0 && (r.MaxResearchLoops < 1 || r.MaxResearchLoops > 5) {
		return fmt.Errorf("max_research_loops must be in [1,5]")
	}
	switch r.ReportFormat {
	case "", string(research.FormatFormal), string(research.FormatCasual):
	default:
		return fmt.Errorf("report_format must be formal or casual")
	}
	return nil
}

// Format resolves the report format, defaulting to formal.
func (r *Request) Format() research.ReportFormat {
	if r.ReportFormat == string(research.FormatCasual) {
		return research.FormatCasual
	}
	return research.FormatFormal
}

// Metadata summarizes a finished run.
type Metadata struct {
	ResearchLoopCount int    `json:"research_loop_count"`
	NumberOfQueries   int    `json:"number_of_queries"`
	NumberOfSources   int    `json:"number_of_sources"`
	TotalSourcesFound int    `json:"total_sources_found"`
	ReasoningModel    string `json:"reasoning_model"`
	SystemVersion     string `json:"system_version"`
}

// Response is the body of the synchronous endpoint and the payload of the
// `completed` event.
type Response struct {
	Success        bool              `json:"success"`
	Answer         string            `json:"answer"`
	MarkdownReport string            `json:"markdown_report"`
	Sources        []citation.Source `json:"sources"`
	AllSources     []citation.Source `json:"all_sources"`
	Metadata       Metadata          `json:"metadata"`
	Message        string            `json:"message"`
}
