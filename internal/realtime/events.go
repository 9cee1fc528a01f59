package realtime

import (
	"time"

	"screen-server/internal/domain"
	"screen-server/internal/service"
)

const (
	EventSessionCreated        = "session-created"
	EventMessage               = "message"
	EventHistory               = "history"
	EventOperatorJoined        = "operator-joined"
	EventOperatorJoinConfirmed = "operator-join-confirmed"
	EventOperatorReconnected   = "operator-reconnected"
	EventSessionEnded          = "session-ended"
	EventParticipantLeft       = "participant-left"
	EventNewSessionAlert       = "new-session-alert"
	EventNewMessageAlert       = "new-message-alert"
	EventOperatorStatusChanged = "operator-status-changed"
	EventTypingIndicator       = "typing-indicator"
	EventStopTypingIndicator   = "stop-typing-indicator"
	EventMessagesRead          = "messages-read"
	EventCommandError          = "command-error"
)

// Event es el frame saliente: {"type": "...", "payload": {...}}.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type SessionCreatedPayload struct {
	SessionID string               `json:"sessionId"`
	UserID    string               `json:"userId"`
	Status    domain.SessionStatus `json:"status"`
	IsNew     bool                 `json:"isNew"`
}

type OperatorJoinedPayload struct {
	SessionID    string `json:"sessionId"`
	OperatorID   string `json:"operatorId"`
	OperatorName string `json:"operatorName"`
}

type OperatorJoinConfirmedPayload struct {
	SessionID     string               `json:"sessionId"`
	OperatorID    string               `json:"operatorId"`
	OperatorName  string               `json:"operatorName"`
	SessionStatus domain.SessionStatus `json:"sessionStatus"`
}

type OperatorReconnectedPayload struct {
	SessionID     string               `json:"sessionId"`
	OperatorID    string               `json:"operatorId"`
	SessionStatus domain.SessionStatus `json:"sessionStatus"`
}

type SessionEndedPayload struct {
	SessionID  string               `json:"sessionId"`
	OperatorID string               `json:"operatorId,omitempty"`
	Reason     domain.SessionStatus `json:"reason"`
}

type ParticipantLeftPayload struct {
	SessionID       string                 `json:"sessionId"`
	ParticipantType domain.ParticipantType `json:"participantType"`
	ParticipantID   string                 `json:"participantId"`
}

type NewSessionAlertPayload struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type NewMessageAlertPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId,omitempty"`
}

type OperatorStatusChangedPayload struct {
	OperatorID string                `json:"operatorId"`
	Status     domain.OperatorStatus `json:"status"`
}

type TypingIndicatorPayload struct {
	SessionID       string                 `json:"sessionId"`
	ParticipantID   string                 `json:"participantId"`
	ParticipantType domain.ParticipantType `json:"participantType"`
	OperatorID      string                 `json:"operatorId,omitempty"`
}

type MessagesReadPayload struct {
	SessionID  string            `json:"sessionId"`
	ReaderType domain.SenderType `json:"readerType"`
	ReaderID   string            `json:"readerId"`
	Count      int64             `json:"count"`
}

type CommandErrorPayload struct {
	Code    service.Code `json:"code"`
	Message string       `json:"message"`
	Command CommandType  `json:"command,omitempty"`
}

func newEvent(eventType string, payload any) Event {
	return Event{Type: eventType, Payload: payload}
}

func messageEvent(msg domain.Message) Event {
	return newEvent(EventMessage, msg)
}

func historyEvent(page service.HistoryPage) Event {
	return newEvent(EventHistory, page)
}
