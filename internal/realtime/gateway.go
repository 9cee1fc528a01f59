package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"screen-server/internal/domain"
	"screen-server/internal/notify"
	"screen-server/internal/service"
)

const (
	CodeNotJoined      service.Code = "NOT_JOINED"
	CodeUnknownCommand service.Code = "UNKNOWN_COMMAND"
	CodeInvalidPayload service.Code = "INVALID_PAYLOAD"
)

var (
	ErrNotJoined      = errors.New("connection has not joined a session")
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Notifier recibe la copia administrativa de los eventos del dominio.
type Notifier interface {
	Enqueue(event notify.Event) bool
}

type handlerFunc func(ctx context.Context, h Handle, payload json.RawMessage) error

// Gateway traduce comandos del transporte a operaciones del dominio y reparte
// los eventos resultantes. Los comandos de una misma conexion se procesan en
// serie; el estado compartido vive en Registry y AliasMap.
type Gateway struct {
	logger    *zap.Logger
	sessions  *service.SessionService
	operators *service.OperatorService
	notifier  Notifier
	registry  *Registry
	aliases   *AliasMap
	handlers  map[CommandType]handlerFunc
	now       func() time.Time
}

func NewGateway(
	logger *zap.Logger,
	sessions *service.SessionService,
	operators *service.OperatorService,
	notifier Notifier,
	registry *Registry,
	aliases *AliasMap,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if aliases == nil {
		aliases = NewAliasMap()
	}
	g := &Gateway{
		logger:    logger,
		sessions:  sessions,
		operators: operators,
		notifier:  notifier,
		registry:  registry,
		aliases:   aliases,
		now:       func() time.Time { return time.Now().UTC() },
	}
	g.handlers = map[CommandType]handlerFunc{
		CmdJoinAsUser:           g.joinAsUser,
		CmdSendUserMessage:      g.sendUserMessage,
		CmdJoinAsOperator:       g.joinAsOperator,
		CmdSendOperatorMessage:  g.sendOperatorMessage,
		CmdChangeOperatorStatus: g.changeOperatorStatus,
		CmdTyping:               g.typing(EventTypingIndicator),
		CmdStopTyping:           g.typing(EventStopTypingIndicator),
		CmdFetchHistory:         g.fetchHistory,
		CmdEndSession:           g.endSession,
		CmdReconnectOperator:    g.reconnectOperator,
		CmdMarkRead:             g.markRead,
	}
	return g
}

func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Handle procesa un frame entrante. Los errores se devuelven al cliente como
// command-error; nunca cierran la conexion.
func (g *Gateway) Handle(ctx context.Context, h Handle, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Type == "" {
		g.sendError(h, "", fmt.Errorf("%w: malformed frame", ErrInvalidPayload))
		return
	}
	g.Dispatch(ctx, h, cmd)
}

func (g *Gateway) Dispatch(ctx context.Context, h Handle, cmd Command) {
	handler, ok := g.handlers[cmd.Type]
	if !ok {
		g.sendError(h, cmd.Type, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type))
		return
	}
	if err := handler(ctx, h, cmd.Payload); err != nil {
		g.sendError(h, cmd.Type, err)
	}
}

// Disconnect desregistra el handle y avisa al resto. Es idempotente.
func (g *Gateway) Disconnect(ctx context.Context, h Handle) {
	conn, ok := g.registry.Deregister(h)
	if !ok {
		return
	}
	g.logger.Debug("connection closed",
		zap.String("handle", h.ID()),
		zap.String("participant_id", conn.ParticipantID),
		zap.String("session_id", conn.SessionID),
	)

	if conn.SessionID != "" {
		g.broadcast(g.registry.InSession(conn.SessionID), newEvent(EventParticipantLeft, ParticipantLeftPayload{
			SessionID:       conn.SessionID,
			ParticipantType: conn.ParticipantType,
			ParticipantID:   conn.ParticipantID,
		}), nil)
	}

	if conn.ParticipantType != domain.ParticipantOperator {
		return
	}
	if len(g.registry.OperatorConnections(conn.ParticipantID)) > 0 {
		return
	}
	op, err := g.operators.SetStatus(ctx, conn.ParticipantID, domain.OperatorStatusOffline)
	if err != nil {
		g.logger.Warn("mark operator offline failed", zap.String("operator_id", conn.ParticipantID), zap.Error(err))
		return
	}
	g.AnnounceOperatorStatus(op)
}

// AnnounceOperatorStatus avisa a todas las conexiones del nuevo estado.
func (g *Gateway) AnnounceOperatorStatus(op domain.Operator) {
	g.broadcast(g.registry.All(), newEvent(EventOperatorStatusChanged, OperatorStatusChangedPayload{
		OperatorID: op.ID,
		Status:     op.Status,
	}), nil)
}

// AnnounceAssignment publica una asignacion hecha fuera del gateway.
func (g *Gateway) AnnounceAssignment(res service.AssignResult) {
	if res.JoinMessage == nil {
		return
	}
	group := g.registry.InSession(res.Session.ID)
	g.broadcast(group, newEvent(EventOperatorJoined, OperatorJoinedPayload{
		SessionID:    res.Session.ID,
		OperatorID:   res.Operator.ID,
		OperatorName: res.Operator.Name,
	}), nil)
	g.broadcast(group, messageEvent(*res.JoinMessage), nil)
	g.broadcast(g.registry.OperatorConnections(res.Operator.ID), newEvent(EventOperatorJoinConfirmed, OperatorJoinConfirmedPayload{
		SessionID:     res.Session.ID,
		OperatorID:    res.Operator.ID,
		OperatorName:  res.Operator.Name,
		SessionStatus: res.Session.Status,
	}), nil)
}

// AnnounceSessionEnded publica un cierre hecho fuera del gateway.
func (g *Gateway) AnnounceSessionEnded(res service.CloseResult, closedBy string) {
	if res.AlreadyClosed {
		return
	}
	g.broadcast(g.registry.InSession(res.Session.ID), newEvent(EventSessionEnded, SessionEndedPayload{
		SessionID:  res.Session.ID,
		OperatorID: closedBy,
		Reason:     res.Session.Status,
	}), nil)
}

func (g *Gateway) broadcast(conns []Connection, event Event, except Handle) int {
	sent := 0
	for _, c := range conns {
		if except != nil && c.Handle.ID() == except.ID() {
			continue
		}
		if !c.Handle.Send(event) {
			g.logger.Warn("event dropped",
				zap.String("handle", c.Handle.ID()),
				zap.String("type", event.Type),
			)
			continue
		}
		sent++
	}
	return sent
}

func (g *Gateway) send(h Handle, event Event) {
	if !h.Send(event) {
		g.logger.Warn("event dropped", zap.String("handle", h.ID()), zap.String("type", event.Type))
	}
}

func (g *Gateway) sendError(h Handle, cmd CommandType, err error) {
	code := errorCode(err)
	message := err.Error()
	if code == service.CodeInternal {
		g.logger.Error("command failed", zap.String("command", string(cmd)), zap.String("handle", h.ID()), zap.Error(err))
		message = "internal error"
	}
	g.send(h, newEvent(EventCommandError, CommandErrorPayload{
		Code:    code,
		Message: message,
		Command: cmd,
	}))
}

func (g *Gateway) enqueue(event notify.Event) {
	if g.notifier == nil {
		return
	}
	g.notifier.Enqueue(event)
}

func errorCode(err error) service.Code {
	switch {
	case errors.Is(err, ErrNotJoined):
		return CodeNotJoined
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand
	case errors.Is(err, ErrInvalidPayload):
		return CodeInvalidPayload
	default:
		return service.ErrorCode(err)
	}
}

func decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
