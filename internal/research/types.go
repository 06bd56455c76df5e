package research

import (
	"fmt"
	"strings"
)

// Plan is the structured output of the planning node.
type Plan struct {
	ResearchTopic     string   `json:"research_topic"`
	SubTopics         []string `json:"sub_topics"`
	ResearchQuestions []string `json:"research_questions"`
	Rationale         string   `json:"rationale"`
}

// minRationaleChars is the floor below which a rationale is replaced by a
// synthesized one.
const minRationaleChars = 100

// EnsureRationale fills in a deterministic rationale when the model returned
// none or something too thin to be useful.
func (p *Plan) EnsureRationale() {
	if len(strings.TrimSpace(p.Rationale)) >= minRationaleChars {
		return
	}
	p.Rationale = fmt.Sprintf(
		"The research topic %q was decomposed into %d sub-topics covering its principal dimensions. "+
			"Each sub-topic carries focused research questions so that search queries can target "+
			"concrete, answerable facts, and reflection can measure coverage question by question.",
		p.ResearchTopic, len(p.SubTopics))
}

// QueryList is the structured output of the query-generation node.
type QueryList struct {
	Queries        []string `json:"queries"`
	QueriesDisplay []string `json:"queries_display"`
	Rationale      string   `json:"rationale"`
}

// Normalize enforces the display-form invariant: when the display list is
// missing or its length disagrees, the search form is copied verbatim.
func (q *QueryList) Normalize() {
	if len(q.QueriesDisplay) != len(q.Queries) {
		q.QueriesDisplay = append([]string(nil), q.Queries...)
	}
}

// Reflection is the structured output of the reflection node.
type Reflection struct {
	IsSufficient        bool     `json:"is_sufficient"`
	KnowledgeGap        string   `json:"knowledge_gap"`
	UnansweredQuestions []string `json:"unanswered_questions"`
}

// QualityAssessment scores the gathered evidence.
type QualityAssessment struct {
	QualityScore    float64  `json:"quality_score"`
	Assessment      string   `json:"assessment"`
	InformationGaps []string `json:"information_gaps"`
}

// FactVerification carries two parallel list pairs: verified facts with
// their sources, and questionable claims with the reasons for doubt.
type FactVerification struct {
	VerifiedFacts      []string `json:"verified_facts"`
	FactSources        []string `json:"fact_sources"`
	QuestionableClaims []string `json:"questionable_claims"`
	ClaimReasons       []string `json:"claim_reasons"`
	ConfidenceScore    float64  `json:"confidence_score"`
}

// FactPair is one verified fact and where it came from.
type FactPair struct {
	Fact   string `json:"fact"`
	Source string `json:"source"`
}

// ClaimPair is one questionable claim and why it is doubted.
type ClaimPair struct {
	Claim  string `json:"claim"`
	Reason string `json:"reason"`
}

// FactPairs zips facts with sources, stopping at the shorter list.
func (f FactVerification) FactPairs() []FactPair {
	n := len(f.VerifiedFacts)
	if len(f.FactSources) < n {
		n = len(f.FactSources)
	}
	pairs := make([]FactPair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, FactPair{Fact: f.VerifiedFacts[i], Source: f.FactSources[i]})
	}
	return pairs
}

// ClaimPairs zips questionable claims with reasons, stopping at the shorter
// list.
func (f FactVerification) ClaimPairs() []ClaimPair {
	n := len(f.QuestionableClaims)
	if len(f.ClaimReasons) < n {
		n = len(f.ClaimReasons)
	}
	pairs := make([]ClaimPair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, ClaimPair{Claim: f.QuestionableClaims[i], Reason: f.ClaimReasons[i]})
	}
	return pairs
}

// RelevanceAssessment scores how well the evidence addresses the query.
type RelevanceAssessment struct {
	RelevanceScore float64  `json:"relevance_score"`
	Assessment     string   `json:"assessment"`
	MissingAspects []string `json:"missing_aspects"`
}

// SummaryOptimization is the structured output of the optimization node.
type SummaryOptimization struct {
	KeyInsights     []string `json:"key_insights"`
	ActionableItems []string `json:"actionable_items"`
	ConfidenceLevel string   `json:"confidence_level"`
}
