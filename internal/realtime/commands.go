package realtime

import "encoding/json"

type CommandType string

const (
	CmdJoinAsUser           CommandType = "join-as-user"
	CmdSendUserMessage      CommandType = "send-user-message"
	CmdJoinAsOperator       CommandType = "join-as-operator"
	CmdSendOperatorMessage  CommandType = "send-operator-message"
	CmdChangeOperatorStatus CommandType = "change-operator-status"
	CmdTyping               CommandType = "typing"
	CmdStopTyping           CommandType = "stop-typing"
	CmdFetchHistory         CommandType = "fetch-history"
	CmdEndSession           CommandType = "end-session"
	CmdReconnectOperator    CommandType = "reconnect-operator"
	CmdMarkRead             CommandType = "mark-read"
)

// Command es el frame entrante: {"type": "...", "payload": {...}}.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinAsUserPayload struct {
	UserID string `json:"userId"`
}

type SendUserMessagePayload struct {
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
}

type JoinAsOperatorPayload struct {
	OperatorID string `json:"operatorId"`
	SessionID  string `json:"sessionId"`
}

type SendOperatorMessagePayload struct {
	OperatorID  string `json:"operatorId"`
	SessionID   string `json:"sessionId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
}

type ChangeOperatorStatusPayload struct {
	OperatorID string `json:"operatorId"`
	Status     string `json:"status"`
}

type TypingPayload struct {
	SessionID  string `json:"sessionId"`
	OperatorID string `json:"operatorId,omitempty"`
}

type FetchHistoryPayload struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	Order     string `json:"order,omitempty"`
}

type EndSessionPayload struct {
	SessionID  string `json:"sessionId"`
	OperatorID string `json:"operatorId"`
	// Reason es el estado terminal: closed (por defecto), completed o cancelled.
	Reason string `json:"reason,omitempty"`
}

type ReconnectOperatorPayload struct {
	OperatorID string `json:"operatorId"`
	SessionID  string `json:"sessionId"`
}

type MarkReadPayload struct {
	SessionID string `json:"sessionId,omitempty"`
}
