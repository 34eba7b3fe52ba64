package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// WebSocket protocol types

// QuestionRequest is the single inbound message type on /ws
type QuestionRequest struct {
	Question       string     `json:"question"`
	Mode           string     `json:"mode"`
	ResponseLength string     `json:"responseLength"`
	CustomLength   LengthHint `json:"customLength"`
	SessionID      string     `json:"sessionId"`
}

// LengthHint accepts customLength as either a JSON string or a number
type LengthHint string

// UnmarshalJSON implements json.Unmarshaler
func (h *LengthHint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*h = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*h = LengthHint(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("customLength must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*h = LengthHint(strconv.FormatInt(i, 10))
		return nil
	}
	*h = LengthHint(n.String())
	return nil
}

// Status is the status field of every outbound event
type Status string

const (
	StatusStarting     Status = "starting"
	StatusBatchUpdate  Status = "batch_update"
	StatusStreaming    Status = "streaming"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusAllCompleted Status = "all_completed"
)

// Event is an outbound WebSocket message. The set of implementations is closed.
type Event interface {
	EventStatus() Status
	isEvent()
}

// ProgressEvent reports run-level progress: starting, batch_update,
// all_completed, and request-level errors.
type ProgressEvent struct {
	Status    Status `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// StreamingEvent carries a model's incremental output
type StreamingEvent struct {
	Model        string `json:"model"`
	Status       Status `json:"status"`
	Content      string `json:"content"`
	FullResponse string `json:"full_response,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
}

// CompletedEvent is a model's successful terminal event
type CompletedEvent struct {
	Model        string `json:"model"`
	Status       Status `json:"status"`
	Content      string `json:"content"`
	FullResponse string `json:"full_response"`
	SessionID    string `json:"sessionId,omitempty"`
}

// ModelErrorEvent is a model's failed terminal event
type ModelErrorEvent struct {
	Model     string `json:"model"`
	Status    Status `json:"status"`
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
}

func (e ProgressEvent) EventStatus() Status   { return e.Status }
func (e StreamingEvent) EventStatus() Status  { return StatusStreaming }
func (e CompletedEvent) EventStatus() Status  { return StatusCompleted }
func (e ModelErrorEvent) EventStatus() Status { return StatusError }

func (ProgressEvent) isEvent()   {}
func (StreamingEvent) isEvent()  {}
func (CompletedEvent) isEvent()  {}
func (ModelErrorEvent) isEvent() {}

// NewProgress builds a run-level event
func NewProgress(status Status, message, sessionID string) ProgressEvent {
	return ProgressEvent{Status: status, Message: message, SessionID: sessionID}
}

// NewStreaming builds a streaming event for a model
func NewStreaming(model, content, fullResponse, sessionID string) StreamingEvent {
	return StreamingEvent{Model: model, Status: StatusStreaming, Content: content, FullResponse: fullResponse, SessionID: sessionID}
}

// NewCompleted builds a completed event for a model
func NewCompleted(model, fullResponse, sessionID string) CompletedEvent {
	return CompletedEvent{Model: model, Status: StatusCompleted, FullResponse: fullResponse, SessionID: sessionID}
}

// NewModelError builds a failed event for a model
func NewModelError(model, message, sessionID string) ModelErrorEvent {
	return ModelErrorEvent{Model: model, Status: StatusError, Error: message, SessionID: sessionID}
}

// ErrorKind classifies failures
type ErrorKind string

const (
	ErrProtocol         ErrorKind = "protocol_error"
	ErrValidation       ErrorKind = "validation_error"
	ErrTimeout          ErrorKind = "timeout"
	ErrTransport        ErrorKind = "transport"
	ErrCanceled         ErrorKind = "canceled"
	ErrUpstreamProtocol ErrorKind = "upstream_protocol_error"
)
