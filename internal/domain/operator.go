package domain

import "time"

type OperatorStatus string

const (
	OperatorStatusOnline  OperatorStatus = "online"
	OperatorStatusOffline OperatorStatus = "offline"
	OperatorStatusBusy    OperatorStatus = "busy"
)

func (s OperatorStatus) Valid() bool {
	return s == OperatorStatusOnline || s == OperatorStatusOffline || s == OperatorStatusBusy
}

// RefreshesActivity indica si la transicion a este estado actualiza LastActiveAt.
func (s OperatorStatus) RefreshesActivity() bool {
	return s == OperatorStatusOnline || s == OperatorStatusBusy
}

type Operator struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	Status       OperatorStatus `json:"status"`
	LastActiveAt *time.Time     `json:"lastActiveAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type ParticipantType string

const (
	ParticipantUser     ParticipantType = "user"
	ParticipantOperator ParticipantType = "operator"
)
