package domain

import (
	"time"
	"unicode/utf8"
)

type SenderType string

const (
	SenderTypeUser     SenderType = "user"
	SenderTypeOperator SenderType = "operator"
	SenderTypeSystem   SenderType = "system"
)

func (t SenderType) Valid() bool {
	return t == SenderTypeUser || t == SenderTypeOperator || t == SenderTypeSystem
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeImage || t == MessageTypeSystem
}

// MaxContentLength es el limite de caracteres (runas) de un mensaje.
const MaxContentLength = 10000

type Message struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	SenderID    string      `json:"senderId,omitempty"`
	SenderType  SenderType  `json:"senderType"`
	MessageType MessageType `json:"messageType"`
	Content     string      `json:"content"`
	IsRead      bool        `json:"isRead"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// NewSystemMessage construye un mensaje generado por el sistema. No tiene
// remitente: SenderID queda vacio y se persiste como NULL.
func NewSystemMessage(id, sessionID, content string, at time.Time) Message {
	return Message{
		ID:          id,
		SessionID:   sessionID,
		SenderType:  SenderTypeSystem,
		MessageType: MessageTypeSystem,
		Content:     content,
		CreatedAt:   at,
	}
}

func (m Message) IsSystem() bool {
	return m.SenderType == SenderTypeSystem
}

// ContentLength cuenta runas, no bytes.
func ContentLength(content string) int {
	return utf8.RuneCountInString(content)
}
