package service

import (
	"deepsearch/internal/citation"
	"deepsearch/internal/graph"
	"deepsearch/internal/research"
)

// milestones assigns each pipeline node its logical progress step.
var milestones = map[string]int{
	research.NodeGeneratePlan:       1,
	research.NodeGenerateQuery:      2,
	research.NodeWebResearch:        3,
	research.NodeReflection:         4,
	research.NodeAssessQuality:      5,
	research.NodeVerifyFacts:        5,
	research.NodeAssessRelevance:    5,
	research.NodeOptimizeSummary:    6,
	research.NodeVerificationReport: 7,
	research.NodeFinalizeAnswer:     8,
}

// eventMapper turns graph steps into domain events and tracks progress.
type eventMapper struct {
	searchingAnnounced bool
	highestMilestone   int
	lastNode           string
}

func newEventMapper() *eventMapper {
	return &eventMapper{}
}

func (m *eventMapper) completed() int { return m.highestMilestone }

func (m *eventMapper) lastMilestone() string { return m.lastNode }

func (m *eventMapper) eventsFor(step graph.Step, f *eventFactory) []Event {
	var events []Event
	delta := step.Delta
	if delta == nil {
		delta = graph.State{}
	}

	switch step.Node {
	case research.NodeGeneratePlan:
		plan, _ := delta[research.FieldResearchPlan].(research.Plan)
		events = append(events, f.make(EventResearchPlan, "Research plan ready", map[string]any{
			"research_topic":     plan.ResearchTopic,
			"sub_topics":         plan.SubTopics,
			"research_questions": plan.ResearchQuestions,
			"rationale":          plan.Rationale,
		}))

	case research.NodeGenerateQuery:
		display := delta.GetStrings(research.FieldNewQueriesDisplay)
		events = append(events, f.make(EventQueryGenerated, "Search queries generated", map[string]any{
			"queries":   display,
			"count":     len(display),
			"rationale": delta.GetString(research.FieldQueryRationale),
		}))
		if !m.searchingAnnounced {
			m.searchingAnnounced = true
			events = append(events, f.make(EventWebSearching, "Searching the web", map[string]any{
				"message": "searching the web",
			}))
		}

	case research.NodeWebResearch:
		sources, _ := delta[research.FieldSourcesGathered].([]citation.Source)
		brief := make([]map[string]string, 0, len(sources))
		for _, s := range sources {
			brief = append(brief, map[string]string{"title": s.Label, "url": s.RealURL})
		}
		events = append(events, f.make(EventWebResult, "Search results gathered", map[string]any{
			"sources": brief,
			"count":   len(brief),
		}))

	case research.NodeReflection:
		events = append(events, f.make(EventReflection, "Reflection complete", map[string]any{
			"loop_count":           delta.GetInt(research.FieldLoopCount),
			"is_sufficient":        delta.GetBool(research.FieldIsSufficient),
			"knowledge_gap":        delta.GetString(research.FieldKnowledgeGap),
			"unanswered_questions": delta.GetStrings(research.FieldUnansweredQuestions),
		}))

	case research.NodeAssessQuality:
		q, _ := delta[research.FieldContentQuality].(research.QualityAssessment)
		events = append(events, f.make(EventQualityAssessment, "Content quality assessed", q))

	case research.NodeVerifyFacts:
		v, _ := delta[research.FieldFactVerification].(research.FactVerification)
		events = append(events, f.make(EventFactVerification, "Facts verified", map[string]any{
			"verified_facts":      v.FactPairs(),
			"questionable_claims": v.ClaimPairs(),
			"confidence_score":    v.ConfidenceScore,
		}))

	case research.NodeAssessRelevance:
		r, _ := delta[research.FieldRelevance].(research.RelevanceAssessment)
		events = append(events, f.make(EventRelevanceAssessment, "Relevance assessed", r))

	case research.NodeOptimizeSummary:
		o, _ := delta[research.FieldSummaryOptimization].(research.SummaryOptimization)
		events = append(events, f.make(EventOptimization, "Summary optimized", map[string]any{
			"key_insights":     o.KeyInsights,
			"actionable_items": o.ActionableItems,
			"confidence_level": o.ConfidenceLevel,
		}))
	}

	if milestone, ok := milestones[step.Node]; ok {
		m.lastNode = step.Node
		if milestone > m.highestMilestone {
			m.highestMilestone = milestone
			events = append(events, f.make(EventProgress, "Milestone reached", progressOf(step.Node, milestone)))
		}
	}
	return events
}
