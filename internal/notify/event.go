package notify

import (
	"encoding/json"
	"time"

	"screen-server/internal/domain"
)

type EventType string

const (
	EventNewChat    EventType = "new_chat"
	EventNewMessage EventType = "new_message"
)

// Event es la notificacion que recibe el sistema de administracion. Se
// serializa plano: {type, sessionId, ...fields, timestamp}.
type Event struct {
	Type      EventType
	SessionID string
	Fields    map[string]any
	Timestamp time.Time
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = e.Type
	out["sessionId"] = e.SessionID
	out["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

func NewChatEvent(session domain.Session, at time.Time) Event {
	return Event{
		Type:      EventNewChat,
		SessionID: session.ID,
		Fields: map[string]any{
			"userId": session.UserID,
			"status": session.Status,
		},
		Timestamp: at,
	}
}

func NewMessageEvent(session domain.Session, msg domain.Message, at time.Time) Event {
	return Event{
		Type:      EventNewMessage,
		SessionID: session.ID,
		Fields: map[string]any{
			"userId":      session.UserID,
			"messageId":   msg.ID,
			"senderId":    msg.SenderID,
			"senderType":  msg.SenderType,
			"messageType": msg.MessageType,
			"content":     msg.Content,
		},
		Timestamp: at,
	}
}
