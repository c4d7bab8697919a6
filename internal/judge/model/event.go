package model

import "time"

// EventType discriminates StatusEvent payloads.
type EventType string

const (
	EventStatusUpdate   EventType = "status_update"
	EventTestCaseResult EventType = "test_case_result"
	EventCompleted      EventType = "completed"
	EventError          EventType = "error"
)

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// StatusEvent is a transient progress message for one submission.
// Exactly one payload field is set, matching Type; build it with the New*Event constructors.
type StatusEvent struct {
	Type         EventType         `json:"type"`
	SubmissionID string            `json:"submission_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Status       Status            `json:"status,omitempty"`
	TestCase     *TestCaseResult   `json:"test_case,omitempty"`
	Result       *SubmissionResult `json:"result,omitempty"`
	Error        *ErrorPayload     `json:"error,omitempty"`
}

func NewStatusUpdate(submissionID string, status Status, at time.Time) StatusEvent {
	return StatusEvent{Type: EventStatusUpdate, SubmissionID: submissionID, Timestamp: at, Status: status}
}

func NewTestCaseEvent(submissionID string, tc TestCaseResult, at time.Time) StatusEvent {
	return StatusEvent{Type: EventTestCaseResult, SubmissionID: submissionID, Timestamp: at, TestCase: &tc}
}

func NewCompletedEvent(result SubmissionResult, at time.Time) StatusEvent {
	return StatusEvent{Type: EventCompleted, SubmissionID: result.SubmissionID, Timestamp: at, Result: &result}
}

func NewErrorEvent(submissionID, reason, message string, at time.Time) StatusEvent {
	return StatusEvent{
		Type:         EventError,
		SubmissionID: submissionID,
		Timestamp:    at,
		Error:        &ErrorPayload{Reason: reason, Message: message},
	}
}

// Terminal reports whether the event ends a stream.
func (e StatusEvent) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}
