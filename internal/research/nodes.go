package research

import (
	"context"
	"fmt"
	"strings"

	"deepsearch/internal/citation"
	"deepsearch/internal/config"
	"deepsearch/internal/graph"
	"deepsearch/internal/llm"
	"deepsearch/internal/logging"
	"deepsearch/internal/scraper"
	"deepsearch/internal/search"
	"deepsearch/internal/session"
)

// Searcher is the slice of the search client the nodes need.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]search.Result, error)
}

// Fetcher is the slice of the page scraper the nodes need.
type Fetcher interface {
	FetchMany(ctx context.Context, urls []string) []scraper.Document
}

const searchResultCount = 10

// Nodes bundles the dependencies shared by every research node.
type Nodes struct {
	research config.ResearchConfig
	scrape   config.ScrapeConfig
	invoker  *llm.Invoker
	searcher Searcher
	fetcher  Fetcher
	sessions *session.Registry
}

// NewNodes wires the node set.
func NewNodes(research config.ResearchConfig, scrape config.ScrapeConfig, invoker *llm.Invoker, searcher Searcher, fetcher Fetcher, sessions *session.Registry) *Nodes {
	return &Nodes{
		research: research,
		scrape:   scrape,
		invoker:  invoker,
		searcher: searcher,
		fetcher:  fetcher,
		sessions: sessions,
	}
}

// BuildGraph assembles the research pipeline.
func BuildGraph(n *Nodes) (*graph.Compiled, error) {
	return graph.New(StateSchema()).
		AddNode(NodeGeneratePlan, n.GeneratePlan).
		AddNode(NodeGenerateQuery, n.GenerateQuery).
		AddNode(NodeWebResearch, n.WebResearch).
		AddNode(NodeReflection, n.Reflection).
		AddNode(NodeAssessQuality, n.AssessContentQuality).
		AddNode(NodeVerifyFacts, n.VerifyFacts).
		AddNode(NodeAssessRelevance, n.AssessRelevance).
		AddNode(NodeOptimizeSummary, n.OptimizeSummary).
		AddNode(NodeVerificationReport, n.GenerateVerificationReport).
		AddNode(NodeFinalizeAnswer, n.FinalizeAnswer).
		SetEntry(NodeGeneratePlan).
		AddEdge(NodeGeneratePlan, NodeGenerateQuery).
		AddConditionalEdges(NodeGenerateQuery, n.ContinueToWebResearch).
		AddEdge(NodeWebResearch, NodeReflection).
		AddConditionalEdges(NodeReflection, n.EvaluateResearch).
		AddEdge(NodeAssessQuality, NodeVerifyFacts).
		AddEdge(NodeVerifyFacts, NodeAssessRelevance).
		AddEdge(NodeAssessRelevance, NodeOptimizeSummary).
		AddEdge(NodeOptimizeSummary, NodeVerificationReport).
		AddEdge(NodeVerificationReport, NodeFinalizeAnswer).
		AddEdge(NodeFinalizeAnswer, graph.End).
		Compile()
}

// userQuery extracts the research question from the message history.
func userQuery(state graph.State) string {
	msgs := state.GetStrings(FieldMessages)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func planOf(state graph.State) Plan {
	p, _ := state[FieldResearchPlan].(Plan)
	return p
}

func sourcesOf(state graph.State, key string) []citation.Source {
	s, _ := state[key].([]citation.Source)
	return s
}

func floatOf(state graph.State, key string) float64 {
	f, _ := state[key].(float64)
	return f
}

func joinedSummaries(state graph.State) string {
	return strings.Join(state.GetStrings(FieldWebResearchResult), "\n\n---\n\n")
}

func (n *Nodes) initialQueryCount(state graph.State) int {
	if c := state.GetInt(FieldInitialQueryCount); c > 0 {
		return c
	}
	return n.research.InitialQueryCount
}

func (n *Nodes) maxLoops(state graph.State) int {
	if c := state.GetInt(FieldMaxLoops); c > 0 {
		return c
	}
	return n.research.MaxLoops
}

// GeneratePlan turns the user query into a structured research plan.
func (n *Nodes) GeneratePlan(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	query := userQuery(state)

	var plan Plan
	err := n.invoker.Invoke(ctx, cfg.SessionID, NodeGeneratePlan, state.GetString(FieldReasoningModel), 0.5,
		func(ctx context.Context, h *llm.Handle) error {
			return h.CompleteJSON(ctx, planSystemPrompt, query, &plan)
		})
	if err != nil {
		return nil, err
	}
	if plan.ResearchTopic == "" {
		plan.ResearchTopic = query
	}
	plan.EnsureRationale()
	logging.Research("plan: topic %q, %d sub-topics, %d questions",
		plan.ResearchTopic, len(plan.SubTopics), len(plan.ResearchQuestions))
	return graph.State{FieldResearchPlan: plan}, nil
}

// GenerateQuery produces the next wave of search queries. With unanswered
// questions pending it runs in targeted mode, otherwise initial mode.
func (n *Nodes) GenerateQuery(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	plan := planOf(state)
	unanswered := state.GetStrings(FieldUnansweredQuestions)
	capacity := n.initialQueryCount(state)

	var system, user string
	if len(unanswered) == 0 {
		system = fmt.Sprintf(initialQuerySystemPrompt, capacity)
		user = fmt.Sprintf("Research topic: %s\n\nSub-topics:\n%s\n\nResearch questions:\n%s",
			plan.ResearchTopic, bulleted(plan.SubTopics), bulleted(plan.ResearchQuestions))
	} else {
		if t := 2 * len(unanswered); t < capacity {
			capacity = t
		}
		system = fmt.Sprintf(targetedQuerySystemPrompt, capacity)
		user = fmt.Sprintf("Research topic: %s\n\nUnanswered questions:\n%s",
			plan.ResearchTopic, bulleted(unanswered))
	}

	var queries QueryList
	err := n.invoker.Invoke(ctx, cfg.SessionID, NodeGenerateQuery, state.GetString(FieldReasoningModel), 0.7,
		func(ctx context.Context, h *llm.Handle) error {
			return h.CompleteJSON(ctx, system, user, &queries)
		})
	if err != nil {
		return nil, err
	}
	if len(queries.Queries) > capacity {
		queries.Queries = queries.Queries[:capacity]
		if len(queries.QueriesDisplay) > capacity {
			queries.QueriesDisplay = queries.QueriesDisplay[:capacity]
		}
	}
	queries.Normalize()
	logging.Research("generated %d queries (targeted=%v)", len(queries.Queries), len(unanswered) > 0)

	return graph.State{
		FieldNewQueries:        queries.Queries,
		FieldNewQueriesDisplay: queries.QueriesDisplay,
		FieldQueryRationale:    queries.Rationale,
	}, nil
}

// ContinueToWebResearch fans out one web_research branch per new query.
// The branch ID is the query's index in the accumulated query list, which
// keeps short-URL namespaces distinct across loops.
func (n *Nodes) ContinueToWebResearch(state graph.State, cfg graph.Config) ([]graph.Dispatch, error) {
	newQueries := state.GetStrings(FieldNewQueries)
	if len(newQueries) == 0 {
		return graph.To(NodeReflection), nil
	}
	offset := len(state.GetStrings(FieldSearchQuery))
	dispatches := make([]graph.Dispatch, 0, len(newQueries))
	for i, q := range newQueries {
		dispatches = append(dispatches, graph.Dispatch{
			Node: NodeWebResearch,
			Overlay: graph.State{
				FieldBranchQuery: q,
				FieldBranchID:    offset + i,
			},
		})
	}
	return dispatches, nil
}

// WebResearch runs one query end to end: search, deep-scrape, cited
// summary, citation resolution. Provider failures degrade to an empty
// summary; they never fail the graph.
func (n *Nodes) WebResearch(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	query := state.GetString(FieldBranchQuery)
	searchID := state.GetInt(FieldBranchID)

	candidates, err := n.searcher.Search(ctx, query, searchResultCount)
	if err != nil {
		if session.IsCancelled(err) {
			return nil, err
		}
		logging.ResearchWarn("search failed for %q: %v", query, err)
		candidates = nil
	}
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return graph.State{
			FieldSearchQuery:       []string{query},
			FieldWebResearchResult: []string{fmt.Sprintf("No search results were available for query: %s", query)},
		}, nil
	}

	deep := candidates
	if len(deep) > n.scrape.TopK {
		deep = deep[:n.scrape.TopK]
	}
	urls := make([]string, len(deep))
	for i, c := range deep {
		urls[i] = c.URL
	}
	docs := n.fetcher.FetchMany(ctx, urls)
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}

	llmContext, subset := n.buildContext(deep, docs, candidates)

	var summary string
	err = n.invoker.Invoke(ctx, cfg.SessionID, NodeWebResearch, state.GetString(FieldReasoningModel), 0.3,
		func(ctx context.Context, h *llm.Handle) error {
			text, cerr := h.Complete(ctx, summarySystemPrompt,
				fmt.Sprintf("Search query: %s\n\nSources:\n%s", query, llmContext))
			if cerr != nil {
				return cerr
			}
			summary = text
			return nil
		})
	if err != nil {
		return nil, err
	}

	// Short URLs span the full candidate list so the bibliography can carry
	// uncited candidates too; citations are only extracted for the subset
	// the summary actually saw.
	shortURLs := citation.ResolveURLs(candidates, searchID)
	cites := citation.Extract(summary, subset, shortURLs)
	summary = citation.InsertMarkers(summary, cites)

	var cited []citation.Source
	for _, c := range cites {
		for _, seg := range c.Segments {
			cited = append(cited, citation.Source{Label: seg.Label, ShortURL: seg.ShortURL, RealURL: seg.RealURL})
		}
	}
	all := make([]citation.Source, 0, len(candidates))
	for i, c := range candidates {
		all = append(all, citation.Source{
			Label:    citation.LabelFor(c, i),
			ShortURL: shortURLs[c.URL],
			RealURL:  c.URL,
		})
	}

	return graph.State{
		FieldSearchQuery:       []string{query},
		FieldWebResearchResult: []string{summary},
		FieldSourcesGathered:   cited,
		FieldAllSources:        all,
	}, nil
}

// buildContext assembles the LLM source material: deep-scraped bodies when
// at least one page survived, otherwise the provider's own summaries. It
// returns the material and the result subset the numbering refers to.
func (n *Nodes) buildContext(deep []search.Result, docs []scraper.Document, candidates []search.Result) (string, []search.Result) {
	usable := 0
	for _, d := range docs {
		if d.Err == nil && d.Content != "" {
			usable++
		}
	}
	if usable == 0 {
		return search.FormatResults(candidates), candidates
	}

	var b strings.Builder
	for i, d := range docs {
		if d.Err != nil || d.Content == "" {
			continue
		}
		remaining := n.scrape.MaxTotalChars - b.Len()
		if remaining <= 0 {
			break
		}
		block := fmt.Sprintf("[%d] %s\nURL: %s\n%s\n\n", i+1, deep[i].Title, deep[i].URL, d.Content)
		if len(block) > remaining {
			block = scraper.CleanAndTruncate(block, remaining)
		}
		b.WriteString(block)
	}
	return strings.TrimRight(b.String(), "\n"), deep
}

// Reflection inspects accumulated evidence against the plan and lists the
// questions still unanswered. The loop counter increments here.
func (n *Nodes) Reflection(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	loop := state.GetInt(FieldLoopCount) + 1
	plan := planOf(state)

	user := fmt.Sprintf("Research topic: %s\n\nResearch questions:\n%s\n\nCurrent loop: %d\n\nSummaries so far:\n%s",
		plan.ResearchTopic, bulleted(plan.ResearchQuestions), loop, joinedSummaries(state))

	var refl Reflection
	err := n.invoker.Invoke(ctx, cfg.SessionID, NodeReflection, state.GetString(FieldReasoningModel), 0.3,
		func(ctx context.Context, h *llm.Handle) error {
			return h.CompleteJSON(ctx, reflectionSystemPrompt, user, &refl)
		})
	if err != nil {
		if session.IsCancelled(err) {
			return nil, err
		}
		// Both models down: exit the loop with what we have rather than
		// spinning on a broken reflector.
		logging.ResearchWarn("reflection unavailable, forcing sufficiency: %v", err)
		refl = Reflection{IsSufficient: true, KnowledgeGap: "reflection step unavailable"}
	}
	logging.Research("reflection loop %d: sufficient=%v, %d unanswered", loop, refl.IsSufficient, len(refl.UnansweredQuestions))

	return graph.State{
		FieldLoopCount:           loop,
		FieldIsSufficient:        refl.IsSufficient,
		FieldKnowledgeGap:        refl.KnowledgeGap,
		FieldUnansweredQuestions: refl.UnansweredQuestions,
	}, nil
}

// EvaluateResearch routes after reflection: into the quality phase when the
// evidence is sufficient or the loop budget is spent, otherwise back to
// query generation.
func (n *Nodes) EvaluateResearch(state graph.State, cfg graph.Config) ([]graph.Dispatch, error) {
	if state.GetBool(FieldIsSufficient) || state.GetInt(FieldLoopCount) >= n.maxLoops(state) {
		return graph.To(NodeAssessQuality), nil
	}
	return graph.To(NodeGenerateQuery), nil
}

// qualityCall runs one structured quality-phase completion with a logged
// sentinel default when both models are down.
func (n *Nodes) qualityCall(ctx context.Context, cfg graph.Config, node, system, user string, out any, onFailure func()) error {
	err := n.invoker.Invoke(ctx, cfg.SessionID, node, "", 0.3,
		func(ctx context.Context, h *llm.Handle) error {
			return h.CompleteJSON(ctx, system, user, out)
		})
	if err != nil {
		if session.IsCancelled(err) {
			return err
		}
		logging.ResearchWarn("%s unavailable, using neutral default: %v", node, err)
		onFailure()
	}
	return nil
}

// AssessContentQuality scores completeness and depth of the evidence.
func (n *Nodes) AssessContentQuality(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	var q QualityAssessment
	err := n.qualityCall(ctx, cfg, NodeAssessQuality, qualitySystemPrompt, joinedSummaries(state), &q, func() {
		q = QualityAssessment{Assessment: "quality assessment unavailable"}
	})
	if err != nil {
		return nil, err
	}
	return graph.State{FieldContentQuality: q}, nil
}

// VerifyFacts separates supported facts from questionable claims.
func (n *Nodes) VerifyFacts(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	var f FactVerification
	err := n.qualityCall(ctx, cfg, NodeVerifyFacts, factSystemPrompt, joinedSummaries(state), &f, func() {
		f = FactVerification{}
	})
	if err != nil {
		return nil, err
	}
	return graph.State{FieldFactVerification: f}, nil
}

// AssessRelevance scores how directly the evidence answers the query.
func (n *Nodes) AssessRelevance(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	user := fmt.Sprintf("Original question: %s\n\nSummaries:\n%s", userQuery(state), joinedSummaries(state))
	var r RelevanceAssessment
	err := n.qualityCall(ctx, cfg, NodeAssessRelevance, relevanceSystemPrompt, user, &r, func() {
		r = RelevanceAssessment{Assessment: "relevance assessment unavailable"}
	})
	if err != nil {
		return nil, err
	}
	return graph.State{FieldRelevance: r}, nil
}

// OptimizeSummary distills insights and computes the final confidence as
// the mean of the three phase scores.
func (n *Nodes) OptimizeSummary(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	quality, _ := state[FieldContentQuality].(QualityAssessment)
	facts, _ := state[FieldFactVerification].(FactVerification)
	relevance, _ := state[FieldRelevance].(RelevanceAssessment)

	user := fmt.Sprintf("Summaries:\n%s\n\nQuality assessment: %s\nFact confidence: %.2f\nRelevance assessment: %s",
		joinedSummaries(state), quality.Assessment, facts.ConfidenceScore, relevance.Assessment)

	var opt SummaryOptimization
	err := n.qualityCall(ctx, cfg, NodeOptimizeSummary, optimizeSystemPrompt, user, &opt, func() {
		opt = SummaryOptimization{ConfidenceLevel: "low"}
	})
	if err != nil {
		return nil, err
	}

	confidence := (quality.QualityScore + facts.ConfidenceScore + relevance.RelevanceScore) / 3
	return graph.State{
		FieldSummaryOptimization: opt,
		FieldFinalConfidence:     confidence,
	}, nil
}

// GenerateVerificationReport renders the four assessments into a Markdown
// block. No model call.
func (n *Nodes) GenerateVerificationReport(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	quality, _ := state[FieldContentQuality].(QualityAssessment)
	facts, _ := state[FieldFactVerification].(FactVerification)
	relevance, _ := state[FieldRelevance].(RelevanceAssessment)
	opt, _ := state[FieldSummaryOptimization].(SummaryOptimization)

	report := RenderVerificationReport(quality, facts, relevance, opt, floatOf(state, FieldFinalConfidence))
	return graph.State{FieldVerificationReport: report}, nil
}

// FinalizeAnswer writes the final cited answer and resolves every short URL
// back to its real URL.
func (n *Nodes) FinalizeAnswer(ctx context.Context, state graph.State, cfg graph.Config) (graph.State, error) {
	if err := n.sessions.CheckCancelled(cfg.SessionID); err != nil {
		return nil, err
	}
	opt, _ := state[FieldSummaryOptimization].(SummaryOptimization)

	user := fmt.Sprintf("Question: %s\n\nResearch summaries:\n%s\n\nKey insights:\n%s\n\nActionable items:\n%s",
		userQuery(state), joinedSummaries(state), bulleted(opt.KeyInsights), bulleted(opt.ActionableItems))

	var answer string
	err := n.invoker.Invoke(ctx, cfg.SessionID, NodeFinalizeAnswer, state.GetString(FieldReasoningModel), 0.5,
		func(ctx context.Context, h *llm.Handle) error {
			text, cerr := h.Complete(ctx, answerSystemPrompt, user)
			if cerr != nil {
				return cerr
			}
			answer = text
			return nil
		})
	if err != nil {
		return nil, err
	}

	known := append(append([]citation.Source(nil), sourcesOf(state, FieldSourcesGathered)...),
		sourcesOf(state, FieldAllSources)...)
	answer, unique := citation.FinalizeReport(answer, known)

	return graph.State{
		FieldFinalAnswer:   answer,
		FieldUniqueSources: unique,
		FieldMessages:      []string{answer},
	}, nil
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "- (none)"
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
