package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"deepsearch/internal/citation"
	"deepsearch/internal/graph"
	"deepsearch/internal/logging"
	"deepsearch/internal/research"
	"deepsearch/internal/session"
)

const (
	heartbeatInterval  = 30 * time.Second
	disconnectInterval = 10 * time.Second
)

// Service drives research sessions over the compiled graph.
type Service struct {
	graph    *graph.Compiled
	schema   graph.Schema
	sessions *session.Registry
	monitor  *session.Monitor

	// Intervals are fields so tests can shrink them.
	heartbeatEvery  time.Duration
	disconnectEvery time.Duration
}

// New wires the orchestrator.
func New(g *graph.Compiled, sessions *session.Registry, monitor *session.Monitor) *Service {
	return &Service{
		graph:           g,
		schema:          research.StateSchema(),
		sessions:        sessions,
		monitor:         monitor,
		heartbeatEvery:  heartbeatInterval,
		disconnectEvery: disconnectInterval,
	}
}

// NewSessionID allocates an opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

func (s *Service) initialState(req Request) graph.State {
	return graph.State{
		research.FieldMessages:          []string{req.Query},
		research.FieldInitialQueryCount: req.InitialSearchQueryCount,
		research.FieldMaxLoops:          req.MaxResearchLoops,
		research.FieldReasoningModel:    req.ReasoningModel,
		research.FieldReportFormat:      string(req.Format()),
	}
}

// Run executes a session synchronously and returns the final response.
// Cancellation surfaces as an error; everything else becomes a response
// built from whatever state the run accumulated.
func (s *Service) Run(ctx context.Context, sessionID string, req Request) (Response, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	s.sessions.Create(sessionID)
	defer s.sessions.Cleanup(sessionID)

	final, err := s.graph.Invoke(ctx, s.initialState(req), graph.Config{SessionID: sessionID})
	if err != nil {
		if session.IsCancelled(err) {
			return Response{}, err
		}
		logging.Engine("session %s failed, building partial response: %v", sessionID, err)
	}
	return s.buildResponse(req, final), nil
}

// RunStream executes a session and emits lifecycle events through emit.
// disconnected is polled every disconnect interval; when it reports true
// the session is cancelled. emit returning an error also cancels.
func (s *Service) RunStream(ctx context.Context, sessionID string, req Request, disconnected func() bool, emit func(Event) error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	s.sessions.Create(sessionID)
	defer s.sessions.Cleanup(sessionID)

	factory := &eventFactory{}
	send := func(e Event) bool {
		if err := emit(e); err != nil {
			logging.StreamWarn("session %s: emit failed, cancelling: %v", sessionID, err)
			s.sessions.SetCancelled(sessionID)
			return false
		}
		s.monitor.Touch(sessionID)
		return true
	}

	if !send(factory.make(EventStarted, "Research started", map[string]any{"query": req.Query})) {
		s.monitor.Error(sessionID, "client gone before start")
		return
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	steps, wait := s.graph.Stream(runCtx, s.initialState(req), graph.Config{SessionID: sessionID})

	heartbeat := time.NewTicker(s.heartbeatEvery)
	defer heartbeat.Stop()
	check := time.NewTicker(s.disconnectEvery)
	defer check.Stop()

	acc := make(graph.State)
	mapper := newEventMapper()

	cancelled := func() bool {
		if !s.sessions.IsCancelled(sessionID) {
			return false
		}
		cancelRun()
		for range steps {
			// Drain so the runtime goroutine can exit.
		}
		wait()
		send(factory.make(EventCancelled, "Research cancelled", map[string]any{"message": "session cancelled"}))
		s.monitor.Error(sessionID, "cancelled")
		return true
	}

	for steps != nil {
		select {
		case step, ok := <-steps:
			if !ok {
				steps = nil
				continue
			}
			if cancelled() {
				return
			}
			if err := s.schema.Merge(acc, step.Delta); err != nil {
				logging.EngineError("session %s: state merge: %v", sessionID, err)
			}
			for _, e := range mapper.eventsFor(step, factory) {
				if !send(e) {
					cancelled()
					return
				}
			}
		case <-heartbeat.C:
			if !send(factory.make(EventProgress, "Research in progress", progressOf(mapper.lastMilestone(), mapper.completed()))) {
				cancelled()
				return
			}
		case <-check.C:
			if disconnected != nil && disconnected() {
				logging.Stream("session %s: client disconnected", sessionID)
				s.sessions.SetCancelled(sessionID)
			}
			if cancelled() {
				return
			}
		}
	}

	err := wait()
	switch {
	case err != nil && session.IsCancelled(err):
		send(factory.make(EventCancelled, "Research cancelled", map[string]any{"message": "session cancelled"}))
		s.monitor.Error(sessionID, "cancelled")
		return
	case err != nil && (runCtx.Err() != nil || s.sessions.IsCancelled(sessionID)):
		send(factory.make(EventCancelled, "Research cancelled", map[string]any{"message": "session cancelled"}))
		s.monitor.Error(sessionID, "cancelled")
		return
	case err != nil:
		logging.EngineError("session %s: graph failed: %v", sessionID, err)
		send(factory.make(EventError, "Research failed", map[string]any{"error": err.Error()}))
		s.monitor.Error(sessionID, err.Error())
		return
	}

	resp := s.buildResponse(req, acc)
	send(factory.make(EventReportGenerated, "Report generated", map[string]any{
		"report_length": len(resp.MarkdownReport),
		"answer_length": len(resp.Answer),
		"sources_count": len(resp.Sources),
	}))
	send(factory.make(EventCompleted, "Research completed", resp))
	s.monitor.Complete(sessionID)
}

// buildResponse assembles the response from whatever state exists, so a run
// that died mid-pipeline still returns its partial findings.
func (s *Service) buildResponse(req Request, state graph.State) Response {
	if state == nil {
		state = graph.State{}
	}
	plan, _ := state[research.FieldResearchPlan].(research.Plan)
	quality, _ := state[research.FieldContentQuality].(research.QualityAssessment)
	facts, _ := state[research.FieldFactVerification].(research.FactVerification)
	relevance, _ := state[research.FieldRelevance].(research.RelevanceAssessment)
	opt, _ := state[research.FieldSummaryOptimization].(research.SummaryOptimization)
	confidence, _ := state[research.FieldFinalConfidence].(float64)

	answer := state.GetString(research.FieldFinalAnswer)
	queries := state.GetStrings(research.FieldSearchQuery)

	sources, _ := state[research.FieldUniqueSources].([]citation.Source)
	if sources == nil {
		gathered, _ := state[research.FieldSourcesGathered].([]citation.Source)
		sources = citation.Dedupe(gathered)
	}
	allRaw, _ := state[research.FieldAllSources].([]citation.Source)
	all := citation.Dedupe(allRaw)

	report := research.RenderReport(req.Format(), research.ReportInput{
		Query:           req.Query,
		Plan:            plan,
		Answer:          answer,
		Sources:         sources,
		Quality:         quality,
		Facts:           facts,
		Relevance:       relevance,
		Optimization:    opt,
		FinalConfidence: confidence,
		LoopCount:       state.GetInt(research.FieldLoopCount),
		Queries:         queries,
		ReasoningModel:  req.ReasoningModel,
	})

	return Response{
		Success:        true,
		Answer:         answer,
		MarkdownReport: report,
		Sources:        sources,
		AllSources:     all,
		Metadata: Metadata{
			ResearchLoopCount: state.GetInt(research.FieldLoopCount),
			NumberOfQueries:   len(queries),
			NumberOfSources:   len(sources),
			TotalSourcesFound: len(all),
			ReasoningModel:    req.ReasoningModel,
			SystemVersion:     research.SystemVersion,
		},
		Message: "research completed",
	}
}
