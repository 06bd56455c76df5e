// Package service is the orchestration layer: it validates requests, owns
// the session lifecycle, drives the research graph, and translates node
// deltas into the lifecycle event stream.
package service

import (
	"sync/atomic"
	"time"
)

// EventType enumerates the lifecycle events.
type EventType string

const (
	EventStarted             EventType = "started"
	EventResearchPlan        EventType = "research_plan"
	EventQueryGenerated      EventType = "query_generated"
	EventWebSearching        EventType = "web_searching"
	EventWebResult           EventType = "web_result"
	EventReflection          EventType = "reflection"
	EventQualityAssessment   EventType = "quality_assessment"
	EventFactVerification    EventType = "fact_verification"
	EventRelevanceAssessment EventType = "relevance_assessment"
	EventOptimization        EventType = "optimization"
	EventProgress            EventType = "progress"
	EventReportGenerated     EventType = "report_generated"
	EventCompleted           EventType = "completed"
	EventCancelled           EventType = "cancelled"
	EventError               EventType = "error"
)

// Event is one lifecycle record on the stream. Sequence numbers are
// strictly increasing per session, starting at 1.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// eventFactory stamps timestamps and sequence numbers.
type eventFactory struct {
	seq atomic.Int64
}

func (f *eventFactory) make(t EventType, message string, data any) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
		Sequence:  f.seq.Add(1),
		Message:   message,
		Data:      data,
	}
}

// Progress payload: eight logical milestones plus heartbeats.
type progressData struct {
	CurrentStep    string  `json:"current_step"`
	TotalSteps     int     `json:"total_steps"`
	CompletedSteps int     `json:"completed_steps"`
	Percentage     float64 `json:"percentage"`
}

const totalMilestones = 8

func progressOf(step string, completed int) progressData {
	return progressData{
		CurrentStep:    step,
		TotalSteps:     totalMilestones,
		CompletedSteps: completed,
		Percentage:     float64(completed) / totalMilestones * 100,
	}
}
