package events

import "time"

// EventType identifies the kind of progress event emitted during a run.
type EventType string

const (
	EventRegistryStart EventType = "registry.start"
	EventRegistryEnd   EventType = "registry.end"
	EventStageStart    EventType = "stage.start"
	EventStageEnd      EventType = "stage.end"
	EventPipelineEnd   EventType = "pipeline.end"
	EventStepStart     EventType = "step.start"
	EventStepEnd       EventType = "step.end"
	EventSessionEnd    EventType = "session.end"
	EventSessionSaved  EventType = "session.saved"
	EventWatchTrigger  EventType = "watch.trigger"
)

// Event is a single progress notification. Subject names the registry,
// stage or step the event is about.
type Event struct {
	Type      EventType     `json:"type"`
	Subject   string        `json:"subject"`
	Timestamp time.Time     `json:"timestamp"`
	OK        bool          `json:"ok"`
	Data      any           `json:"data,omitempty"`
	Index     int           `json:"index,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(typ EventType, subject string, data any) Event {
	return Event{
		Type:      typ,
		Subject:   subject,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Publisher is what the runner, pipeline and session depend on. A nil
// Publisher is never called; use Discard where one is required.
type Publisher interface {
	Publish(event Event)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops every event.
var Discard Publisher = discard{}
