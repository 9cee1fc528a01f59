package notify

import (
	"context"
	"errors"
)

// ErrSenderDisabled indica que no hay destino configurado; no se reintenta.
var ErrSenderDisabled = errors.New("notification sender disabled")

// Sender entrega un evento al sistema externo. Una llamada es un intento.
type Sender interface {
	Send(ctx context.Context, event Event) error
}

type disabledSender struct{}

func NewDisabledSender() Sender {
	return disabledSender{}
}

func (disabledSender) Send(context.Context, Event) error {
	return ErrSenderDisabled
}
