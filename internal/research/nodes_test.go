package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepsearch/internal/citation"
	"deepsearch/internal/config"
	"deepsearch/internal/graph"
	"deepsearch/internal/llm"
	"deepsearch/internal/scraper"
	"deepsearch/internal/search"
	"deepsearch/internal/session"
)

// fakeLLM answers by recognizing which node's system prompt is calling.
type fakeLLM struct {
	mu          sync.Mutex
	reflections []Reflection
	queryWaves  [][]string
	failAll     bool
	calls       int
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func (f *fakeLLM) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAll {
		return openai.ChatCompletionResponse{}, errors.New("model down")
	}

	system := req.Messages[0].Content
	var reply string
	switch {
	case strings.Contains(system, "research planning"):
		reply = mustJSON(Plan{
			ResearchTopic:     "Capital of France",
			SubTopics:         []string{"Geography", "Government"},
			ResearchQuestions: []string{"Geography: Where is the capital?", "Government: What is the seat of government?"},
			Rationale:         strings.Repeat("Decomposition rationale. ", 6),
		})
	case strings.Contains(system, "query strategist"):
		wave := []string{"capital of France"}
		if len(f.queryWaves) > 0 {
			wave = f.queryWaves[0]
			f.queryWaves = f.queryWaves[1:]
		}
		reply = mustJSON(QueryList{Queries: wave, QueriesDisplay: wave, Rationale: "covers the plan"})
	case strings.Contains(system, "research analyst"):
		reply = "Paris is the capital of France [1]."
	case strings.Contains(system, "research auditor"):
		refl := Reflection{IsSufficient: true}
		if len(f.reflections) > 0 {
			refl = f.reflections[0]
			f.reflections = f.reflections[1:]
		}
		reply = mustJSON(refl)
	case strings.Contains(system, "quality reviewer"):
		reply = mustJSON(QualityAssessment{QualityScore: 0.9, Assessment: "solid"})
	case strings.Contains(system, "fact checker"):
		reply = mustJSON(FactVerification{
			VerifiedFacts:   []string{"Paris is the capital"},
			FactSources:     []string{"source 1"},
			ConfidenceScore: 0.8,
		})
	case strings.Contains(system, "relevance reviewer"):
		reply = mustJSON(RelevanceAssessment{RelevanceScore: 1.0, Assessment: "direct"})
	case strings.Contains(system, "research editor"):
		reply = mustJSON(SummaryOptimization{
			KeyInsights:     []string{"Paris is the capital of France"},
			ActionableItems: []string{"No action required"},
			ConfidenceLevel: "high",
		})
	case strings.Contains(system, "research writer"):
		reply = fmt.Sprintf("Paris is the capital of France [Paris - Encyclopedia](%s0-0).", citation.ShortURLPrefix)
	default:
		return openai.ChatCompletionResponse{}, fmt.Errorf("unexpected prompt: %.40s", system)
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: reply}}},
	}, nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (s *fakeSearcher) Search(_ context.Context, query string, count int) ([]search.Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []search.Result{
		{Title: "Paris - Encyclopedia", URL: "https://enc.example/paris", SiteName: "enc.example", Summary: "Paris is the capital of France."},
		{Title: "France overview", URL: "https://geo.example/france", SiteName: "geo.example", Summary: "France is in Europe."},
	}, nil
}

type fakeFetcher struct{ fail bool }

func (f *fakeFetcher) FetchMany(_ context.Context, urls []string) []scraper.Document {
	docs := make([]scraper.Document, len(urls))
	for i, u := range urls {
		if f.fail {
			docs[i] = scraper.Document{URL: u, Err: errors.New("fetch failed")}
			continue
		}
		docs[i] = scraper.Document{URL: u, Title: "page", Content: "Paris is the capital and largest city of France."}
	}
	return docs
}

type env struct {
	nodes    *Nodes
	graph    *graph.Compiled
	sessions *session.Registry
	llm      *fakeLLM
	searcher *fakeSearcher
}

func newEnv(t *testing.T, fake *fakeLLM, searcher *fakeSearcher, fetcher Fetcher) *env {
	t.Helper()
	sessions := session.NewRegistry()
	sessions.Create("s1")
	inv := llm.NewInvoker(config.LLMConfig{
		Primary:   config.LLMEndpoint{Model: "primary", APIKey: "k"},
		Secondary: config.LLMEndpoint{Model: "secondary", APIKey: "k"},
		Timeout:   5 * time.Second,
	}, sessions).WithFactory(func(config.LLMEndpoint) llm.ChatCompleter { return fake })

	nodes := NewNodes(config.DefaultResearchConfig(), config.DefaultScrapeConfig(), inv, searcher, fetcher, sessions)
	g, err := BuildGraph(nodes)
	require.NoError(t, err)
	return &env{nodes: nodes, graph: g, sessions: sessions, llm: fake, searcher: searcher}
}

func initialState(query string, maxLoops, queryCount int) graph.State {
	return graph.State{
		FieldMessages:          []string{query},
		FieldMaxLoops:          maxLoops,
		FieldInitialQueryCount: queryCount,
		FieldReportFormat:      string(FormatFormal),
	}
}

func TestGraphHappyPath(t *testing.T) {
	e := newEnv(t, &fakeLLM{}, &fakeSearcher{}, &fakeFetcher{})

	final, err := e.graph.Invoke(context.Background(), initialState("What is the capital of France?", 2, 1), graph.Config{SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, 1, final.GetInt(FieldLoopCount))
	assert.Equal(t, []string{"capital of France"}, final.GetStrings(FieldSearchQuery))

	answer := final.GetString(FieldFinalAnswer)
	assert.Contains(t, answer, "Paris")
	assert.Contains(t, answer, "https://enc.example/paris")
	assert.NotContains(t, answer, citation.ShortURLPrefix)

	unique := sourcesOf(final, FieldUniqueSources)
	require.NotEmpty(t, unique)
	assert.Equal(t, "https://enc.example/paris", unique[0].RealURL)

	assert.NotEmpty(t, final.GetString(FieldVerificationReport))
	assert.InDelta(t, 0.9, floatOf(final, FieldFinalConfidence), 0.001)
}

func TestGraphForcedLoopExit(t *testing.T) {
	fake := &fakeLLM{
		reflections: []Reflection{
			{IsSufficient: false, KnowledgeGap: "never enough", UnansweredQuestions: []string{"Geography: Where is the capital?"}},
			{IsSufficient: false, KnowledgeGap: "still not enough", UnansweredQuestions: []string{"Geography: Where is the capital?"}},
		},
	}
	e := newEnv(t, fake, &fakeSearcher{}, &fakeFetcher{})

	final, err := e.graph.Invoke(context.Background(), initialState("pathological query", 1, 1), graph.Config{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 1, final.GetInt(FieldLoopCount))
	assert.NotEmpty(t, final.GetString(FieldFinalAnswer))
}

func TestGraphTargetedFollowUp(t *testing.T) {
	fake := &fakeLLM{
		queryWaves: [][]string{
			{"part one query"},
			{"follow up a", "follow up b"},
		},
		reflections: []Reflection{
			{IsSufficient: false, UnansweredQuestions: []string{
				"Government: What is the seat of government?",
				"Geography: Where is the capital?",
			}},
			{IsSufficient: true},
		},
	}
	e := newEnv(t, fake, &fakeSearcher{}, &fakeFetcher{})

	final, err := e.graph.Invoke(context.Background(), initialState("three part question", 5, 4), graph.Config{SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, 2, final.GetInt(FieldLoopCount))
	assert.Len(t, final.GetStrings(FieldSearchQuery), 3)
	// Reflection resets each loop; the final one reported sufficiency.
	assert.Empty(t, final.GetStrings(FieldUnansweredQuestions))
	assert.True(t, final.GetBool(FieldIsSufficient))
}

func TestGenerateQueryTargetedModeCapsCount(t *testing.T) {
	fake := &fakeLLM{queryWaves: [][]string{{"q1", "q2", "q3", "q4", "q5"}}}
	e := newEnv(t, fake, &fakeSearcher{}, &fakeFetcher{})

	state := initialState("q", 5, 10)
	state[FieldResearchPlan] = Plan{ResearchTopic: "t"}
	state[FieldUnansweredQuestions] = []string{"only question"}

	delta, err := e.nodes.GenerateQuery(context.Background(), state, graph.Config{SessionID: "s1"})
	require.NoError(t, err)
	// min(2 x 1 unanswered, 10) = 2
	assert.Len(t, delta.GetStrings(FieldNewQueries), 2)
	assert.Len(t, delta.GetStrings(FieldNewQueriesDisplay), 2)
}

func TestWebResearchSearchFailureDegradesToEmptySummary(t *testing.T) {
	e := newEnv(t, &fakeLLM{}, &fakeSearcher{err: &search.Error{Kind: search.KindNetwork, Query: "q", Err: errors.New("down")}}, &fakeFetcher{})

	state := graph.State{FieldBranchQuery: "q", FieldBranchID: 0}
	delta, err := e.nodes.WebResearch(context.Background(), state, graph.Config{SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"q"}, delta.GetStrings(FieldSearchQuery))
	summaries := delta.GetStrings(FieldWebResearchResult)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0], "No search results")
	assert.Nil(t, delta[FieldSourcesGathered])
}

func TestWebResearchFallsBackToSearchSummaries(t *testing.T) {
	e := newEnv(t, &fakeLLM{}, &fakeSearcher{}, &fakeFetcher{fail: true})

	state := graph.State{FieldBranchQuery: "capital of France", FieldBranchID: 0}
	delta, err := e.nodes.WebResearch(context.Background(), state, graph.Config{SessionID: "s1"})
	require.NoError(t, err)

	summaries := delta.GetStrings(FieldWebResearchResult)
	require.Len(t, summaries, 1)
	// The summary cites [1]; with the fallback subset that resolves to the
	// first candidate.
	cited := sourcesOf(delta, FieldSourcesGathered)
	require.NotEmpty(t, cited)
	assert.Equal(t, "https://enc.example/paris", cited[0].RealURL)

	all := sourcesOf(delta, FieldAllSources)
	assert.Len(t, all, 2)
}

func TestWebResearchShortURLNamespaceFollowsBranchID(t *testing.T) {
	e := newEnv(t, &fakeLLM{}, &fakeSearcher{}, &fakeFetcher{})

	state := graph.State{FieldBranchQuery: "q", FieldBranchID: 7}
	delta, err := e.nodes.WebResearch(context.Background(), state, graph.Config{SessionID: "s1"})
	require.NoError(t, err)

	all := sourcesOf(delta, FieldAllSources)
	require.Len(t, all, 2)
	assert.Equal(t, citation.ShortURLPrefix+"7-0", all[0].ShortURL)
	assert.Equal(t, citation.ShortURLPrefix+"7-1", all[1].ShortURL)
}

func TestContinueToWebResearchOffsetsBranchIDs(t *testing.T) {
	e := newEnv(t, &fakeLLM{}, &fakeSearcher{}, &fakeFetcher{})

	state := graph.State{
		FieldSearchQuery: []string{"old one", "old two"},
		FieldNewQueries:  []string{"new one", "new two"},
	}
	dispatches, err := e.nodes.ContinueToWebResearch(state, graph.Config{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, dispatches, 2)
	assert.Equal(t, 2, dispatches[0].Overlay.GetInt(FieldBranchID))
	assert.Equal(t, 3, dispatches[1].Overlay.GetInt(FieldBranchID))
	assert.Equal(t, "new one", dispatches[0].Overlay.GetString(FieldBranchQuery))
}

func TestContinueToWebResearchWithoutQueriesGoesToReflection(t *testing.T) {
	e := newEnv(t, &fakeLLM{}, &fakeSearcher{}, &fakeFetcher{})
	dispatches, err := e.nodes.ContinueToWebResearch(graph.State{}, graph.Config{})
	require.NoError(t, err)
	require.Len(t, dispatches, 1)
	assert.Equal(t, NodeReflection, dispatches[0].Node)
}

func TestEvaluateResearchRouting(t *testing.T) {
	e := newEnv(t, &fakeLLM{}, &fakeSearcher{}, &fakeFetcher{})

	cases := []struct {
		sufficient bool
		loop       int
		max        int
		want       string
	}{
		{true, 1, 5, NodeAssessQuality},
		{false, 5, 5, NodeAssessQuality},
		{false, 1, 5, NodeGenerateQuery},
	}
	for _, tc := range cases {
		state := graph.State{
			FieldIsSufficient: tc.sufficient,
			FieldLoopCount:    tc.loop,
			FieldMaxLoops:     tc.max,
		}
		d, err := e.nodes.EvaluateResearch(state, graph.Config{})
		require.NoError(t, err)
		assert.Equal(t, tc.want, d[0].Node)
	}
}

func TestReflectionForcesSufficiencyWhenModelsDown(t *testing.T) {
	fake := &fakeLLM{}
	e := newEnv(t, fake, &fakeSearcher{}, &fakeFetcher{})
	fake.failAll = true

	state := graph.State{
		FieldResearchPlan:      Plan{ResearchTopic: "t"},
		FieldWebResearchResult: []string{"some evidence"},
	}
	delta, err := e.nodes.Reflection(context.Background(), state, graph.Config{SessionID: "s1"})
	require.NoError(t, err)
	assert.True(t, delta.GetBool(FieldIsSufficient))
	assert.Equal(t, 1, delta.GetInt(FieldLoopCount))
}

func TestNodesPropagateCancellation(t *testing.T) {
	e := newEnv(t, &fakeLLM{}, &fakeSearcher{}, &fakeFetcher{})
	e.sessions.SetCancelled("s1")

	_, err := e.nodes.GeneratePlan(context.Background(), initialState("q", 2, 1), graph.Config{SessionID: "s1"})
	require.Error(t, err)
	assert.True(t, session.IsCancelled(err))

	_, err = e.nodes.WebResearch(context.Background(), graph.State{FieldBranchQuery: "q"}, graph.Config{SessionID: "s1"})
	assert.True(t, session.IsCancelled(err))

	_, err = e.nodes.FinalizeAnswer(context.Background(), graph.State{}, graph.Config{SessionID: "s1"})
	assert.True(t, session.IsCancelled(err))
}

func TestOptimizeSummaryComputesMeanConfidence(t *testing.T) {
	e := newEnv(t, &fakeLLM{}, &fakeSearcher{}, &fakeFetcher{})

	state := graph.State{
		FieldContentQuality:   QualityAssessment{QualityScore: 0.6},
		FieldFactVerification: FactVerification{ConfidenceScore: 0.9},
		FieldRelevance:        RelevanceAssessment{RelevanceScore: 0.3},
	}
	delta, err := e.nodes.OptimizeSummary(context.Background(), state, graph.Config{SessionID: "s1"})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, floatOf(delta, FieldFinalConfidence), 0.001)
}
