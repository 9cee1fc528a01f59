package domain

import "time"

type SessionStatus string

const (
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusClosed    SessionStatus = "closed"
	SessionStatusTimeout   SessionStatus = "timeout"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsTerminal indica si el estado ya no admite transiciones.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusClosed, SessionStatusTimeout, SessionStatusCancelled:
		return true
	}
	return false
}

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusWaiting, SessionStatusActive:
		return true
	}
	return s.IsTerminal()
}

// Session es el ciclo de vida de una conversacion entre un usuario y un operador.
// OperatorID vacio significa sin operador asignado.
type Session struct {
	ID         string        `json:"id"`
	UserID     string        `json:"userId"`
	OperatorID string        `json:"operatorId,omitempty"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	ClosedAt   *time.Time    `json:"closedAt,omitempty"`
}

func (s Session) IsOpen() bool {
	return !s.Status.IsTerminal()
}
