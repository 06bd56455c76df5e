package research

import (
	"fmt"
	"strings"
	"time"

	"deepsearch/internal/citation"
)

// SystemVersion is stamped into report metadata.
const SystemVersion = "2.1.0"

// ReportFormat selects the rendering style of the full Markdown report.
type ReportFormat string

const (
	FormatFormal ReportFormat = "formal"
	FormatCasual ReportFormat = "casual"
)

// ReportInput carries everything the report templates consume.
type ReportInput struct {
	Query           string
	Plan            Plan
	Answer          string
	Sources         []citation.Source
	Quality         QualityAssessment
	Facts           FactVerification
	Relevance       RelevanceAssessment
	Optimization    SummaryOptimization
	FinalConfidence float64
	LoopCount       int
	Queries         []string
	ReasoningModel  string
	GeneratedAt     time.Time
}

// RenderReport renders the full Markdown report in the requested format.
func RenderReport(format ReportFormat, in ReportInput) string {
	if format == FormatCasual {
		return renderCasualReport(in)
	}
	return renderFormalReport(in)
}

// renderFormalReport emits the structured nine-section report: summary,
// background, method, findings, assessment, quality assurance, references,
// and a process appendix.
func renderFormalReport(in ReportInput) string {
	topic := in.Plan.ResearchTopic
	if topic == "" {
		topic = in.Query
	}
	at := in.GeneratedAt
	if at.IsZero() {
		at = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", topic)
	fmt.Fprintf(&b, "**Report ID**: DR-%s\n", at.Format("20060102-150405"))
	fmt.Fprintf(&b, "**Generated**: %s\n", at.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Model**: %s\n", valueOr(in.ReasoningModel, "default"))
	fmt.Fprintf(&b, "**Confidence**: %s (%.2f)\n\n---\n\n", valueOr(in.Optimization.ConfidenceLevel, "medium"), in.FinalConfidence)

	b.WriteString("## Executive Summary\n\n")
	b.WriteString(executiveSummary(in))
	b.WriteString("\n\n---\n\n")

	b.WriteString("## 1. Background and Objectives\n\n")
	b.WriteString("### 1.1 Research Topic\n\n")
	fmt.Fprintf(&b, "%s\n\nOriginal question: %s\n\n", topic, in.Query)
	b.WriteString("### 1.2 Scope\n\n")
	b.WriteString(bulleted(in.Plan.SubTopics))
	b.WriteString("\n\n---\n\n")

	b.WriteString("## 2. Research Method\n\n")
	b.WriteString("### 2.1 Key Research Areas\n\n")
	b.WriteString(bulleted(in.Plan.SubTopics))
	b.WriteString("\n\n### 2.2 Research Questions\n\n")
	b.WriteString(numbered(in.Plan.ResearchQuestions))
	b.WriteString("\n\n---\n\n")

	b.WriteString("## 3. Findings\n\n")
	b.WriteString(valueOr(strings.TrimSpace(in.Answer), "No findings were produced."))
	b.WriteString("\n\n---\n\n")

	b.WriteString("## 4. Assessment\n\n")
	b.WriteString("### 4.1 Key Insights\n\n")
	b.WriteString(numbered(in.Optimization.KeyInsights))
	b.WriteString("\n\n### 4.2 Recommendations\n\n")
	b.WriteString(numbered(in.Optimization.ActionableItems))
	b.WriteString("\n\n---\n\n")

	b.WriteString("## 5. Quality Assurance\n\n")
	b.WriteString("### 5.1 Quality Metrics\n\n")
	fmt.Fprintf(&b, "| Metric | Score |\n|---|---|\n| Content quality | %.2f |\n| Fact confidence | %.2f |\n| Relevance | %.2f |\n| Overall | %.2f |\n\n",
		in.Quality.QualityScore, in.Facts.ConfidenceScore, in.Relevance.RelevanceScore, in.FinalConfidence)
	b.WriteString("### 5.2 Fact Verification\n\n")
	b.WriteString(factSection(in.Facts))
	b.WriteString("\n\n### 5.3 Confidence Rating\n\n")
	fmt.Fprintf(&b, "Overall confidence is rated **%s** at %.2f.\n\n---\n\n",
		valueOr(in.Optimization.ConfidenceLevel, "medium"), in.FinalConfidence)

	b.WriteString("## 6. References\n\n")
	if len(in.Sources) == 0 {
		b.WriteString("No sources were cited.\n")
	} else {
		for i, s := range in.Sources {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, s.Label, s.RealURL)
		}
	}
	b.WriteString("\n---\n\n")

	b.WriteString("## Appendix: Research Process\n\n")
	b.WriteString("### A.1 Loop Statistics\n\n")
	fmt.Fprintf(&b, "- Research loops: %d\n- Queries executed: %d\n- Sources cited: %d\n- System version: %s\n\n",
		in.LoopCount, len(in.Queries), len(in.Sources), SystemVersion)
	b.WriteString("### A.2 Query History\n\n")
	b.WriteString(numbered(in.Queries))
	b.WriteString("\n")
	return b.String()
}

func renderCasualReport(in ReportInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", valueOr(in.Plan.ResearchTopic, in.Query))
	b.WriteString(valueOr(strings.TrimSpace(in.Answer), "No findings were produced."))
	if len(in.Optimization.KeyInsights) > 0 {
		b.WriteString("\n\n## Highlights\n\n")
		b.WriteString(bulleted(in.Optimization.KeyInsights))
	}
	if len(in.Sources) > 0 {
		b.WriteString("\n\n## Sources\n\n")
		for i, s := range in.Sources {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, s.Label, s.RealURL)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func executiveSummary(in ReportInput) string {
	if len(in.Optimization.KeyInsights) > 0 {
		return bulleted(in.Optimization.KeyInsights)
	}
	answer := strings.TrimSpace(in.Answer)
	if answer == "" {
		return "No summary is available."
	}
	if para := strings.SplitN(answer, "\n\n", 2); len(para) > 0 {
		return para[0]
	}
	return answer
}

func factSection(f FactVerification) string {
	var b strings.Builder
	facts := f.FactPairs()
	if len(facts) == 0 {
		b.WriteString("No individually verified facts were recorded.")
	} else {
		b.WriteString("Verified facts:\n\n")
		for _, p := range facts {
			fmt.Fprintf(&b, "- %s (source: %s)\n", p.Fact, p.Source)
		}
	}
	if claims := f.ClaimPairs(); len(claims) > 0 {
		b.WriteString("\nQuestionable claims:\n\n")
		for _, p := range claims {
			fmt.Fprintf(&b, "- %s (reason: %s)\n", p.Claim, p.Reason)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderVerificationReport renders the standalone quality block produced by
// the generate_verification_report node.
func RenderVerificationReport(q QualityAssessment, f FactVerification, r RelevanceAssessment, opt SummaryOptimization, confidence float64) string {
	var b strings.Builder
	b.WriteString("## Verification Report\n\n")
	fmt.Fprintf(&b, "### Content Quality (%.2f)\n\n%s\n\n", q.QualityScore, valueOr(q.Assessment, "Not assessed."))
	if len(q.InformationGaps) > 0 {
		fmt.Fprintf(&b, "Information gaps:\n\n%s\n\n", bulleted(q.InformationGaps))
	}
	fmt.Fprintf(&b, "### Fact Verification (%.2f)\n\n%s\n\n", f.ConfidenceScore, factSection(f))
	fmt.Fprintf(&b, "### Relevance (%.2f)\n\n%s\n\n", r.RelevanceScore, valueOr(r.Assessment, "Not assessed."))
	fmt.Fprintf(&b, "### Overall\n\nConfidence level %s, combined score %.2f.\n",
		valueOr(opt.ConfidenceLevel, "medium"), confidence)
	return b.String()
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func numbered(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it)
	}
	return strings.TrimRight(b.String(), "\n")
}
