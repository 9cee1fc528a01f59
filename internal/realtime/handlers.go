package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"screen-server/internal/domain"
	"screen-server/internal/notify"
	"screen-server/internal/repository"
	"screen-server/internal/service"
)

func (g *Gateway) joinAsUser(ctx context.Context, h Handle, payload json.RawMessage) error {
	var p JoinAsUserPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return fmt.Errorf("%w: userId is required", service.ErrInvalidInput)
	}

	session, isNew, err := g.sessions.CreateOrReuse(ctx, userID)
	if err != nil {
		return err
	}
	g.registry.Register(h, userID, domain.ParticipantUser, session.ID)
	g.send(h, newEvent(EventSessionCreated, SessionCreatedPayload{
		SessionID: session.ID,
		UserID:    session.UserID,
		Status:    session.Status,
		IsNew:     isNew,
	}))

	if isNew {
		g.enqueue(notify.NewChatEvent(session, g.now()))
		g.broadcast(g.registry.Operators(), newEvent(EventNewSessionAlert, NewSessionAlertPayload{
			SessionID: session.ID,
			UserID:    session.UserID,
			CreatedAt: session.CreatedAt,
		}), nil)
	}

	return g.pushRecent(ctx, h, session.ID)
}

func (g *Gateway) sendUserMessage(ctx context.Context, h Handle, payload json.RawMessage) error {
	var p SendUserMessagePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	conn, ok := g.registry.Lookup(h)
	if !ok || conn.ParticipantType != domain.ParticipantUser || conn.SessionID == "" {
		return ErrNotJoined
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: content is required", service.ErrInvalidInput)
	}

	res, err := g.sessions.RecordMessage(ctx, service.RecordMessageInput{
		SessionID:   conn.SessionID,
		SenderID:    conn.ParticipantID,
		SenderType:  domain.SenderTypeUser,
		MessageType: domain.MessageType(p.MessageType),
		Content:     p.Content,
	})
	if err != nil {
		return err
	}
	g.publishMessage(res)
	return nil
}

func (g *Gateway) joinAsOperator(ctx context.Context, h Handle, payload json.RawMessage) error {
	var p JoinAsOperatorPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.OperatorID) == "" || strings.TrimSpace(p.SessionID) == "" {
		return fmt.Errorf("%w: operatorId and sessionId are required", service.ErrInvalidInput)
	}
	operatorID := g.aliases.Resolve(p.OperatorID)

	res, err := g.sessions.AssignOperator(ctx, p.SessionID, operatorID)
	if err != nil {
		return err
	}
	sessionID := res.Session.ID
	g.registry.Register(h, res.Operator.ID, domain.ParticipantOperator, sessionID)

	g.send(h, newEvent(EventOperatorJoinConfirmed, OperatorJoinConfirmedPayload{
		SessionID:     sessionID,
		OperatorID:    res.Operator.ID,
		OperatorName:  res.Operator.Name,
		SessionStatus: res.Session.Status,
	}))
	group := g.registry.InSession(sessionID)
	g.broadcast(group, newEvent(EventOperatorJoined, OperatorJoinedPayload{
		SessionID:    sessionID,
		OperatorID:   res.Operator.ID,
		OperatorName: res.Operator.Name,
	}), h)
	if res.JoinMessage != nil {
		g.broadcast(group, messageEvent(*res.JoinMessage), h)
	}

	return g.pushRecent(ctx, h, sessionID)
}

func (g *Gateway) sendOperatorMessage(ctx context.Context, h Handle, payload json.RawMessage) error {
	var p SendOperatorMessagePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(p.SessionID)
	if strings.TrimSpace(p.OperatorID) == "" || sessionID == "" {
		return fmt.Errorf("%w: operatorId and sessionId are required", service.ErrInvalidInput)
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: content is required", service.ErrInvalidInput)
	}
	operatorID := g.aliases.Resolve(p.OperatorID)

	if _, err := g.operators.Get(ctx, operatorID); err != nil {
		return err
	}
	conn, ok := g.registry.Lookup(h)
	if !ok || conn.ParticipantType != domain.ParticipantOperator || conn.ParticipantID != operatorID {
		return ErrNotJoined
	}

	res, err := g.sessions.RecordMessage(ctx, service.RecordMessageInput{
		SessionID:   sessionID,
		SenderID:    operatorID,
		SenderType:  domain.SenderTypeOperator,
		MessageType: domain.MessageType(p.MessageType),
		Content:     p.Content,
	})
	if err != nil {
		return err
	}
	// tolera reconexiones: la sesion ligada se corrige solo tras el exito
	if conn.SessionID != sessionID {
		g.registry.UpdateSession(h, sessionID)
	}
	g.publishMessage(res)
	return nil
}

// publishMessage reparte un mensaje nuevo: grupo de la sesion, pool de
// operadores y notificacion administrativa.
func (g *Gateway) publishMessage(res service.RecordResult) {
	msg := res.Message
	g.broadcast(g.registry.InSession(msg.SessionID), messageEvent(msg), nil)
	g.broadcast(g.registry.Operators(), newEvent(EventNewMessageAlert, NewMessageAlertPayload{
		SessionID: msg.SessionID,
		UserID:    res.Session.UserID,
		Content:   msg.Content,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
	}), nil)
	g.enqueue(notify.NewMessageEvent(res.Session, msg, g.now()))
}

func (g *Gateway) changeOperatorStatus(ctx context.Context, h Handle, payload json.RawMessage) error {
	var p ChangeOperatorStatusPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	presented := strings.TrimSpace(p.OperatorID)
	status := domain.OperatorStatus(strings.TrimSpace(p.Status))
	if presented == "" {
		return fmt.Errorf("%w: operatorId is required", service.ErrInvalidInput)
	}
	if !status.Valid() {
		return service.ErrInvalidStatus
	}

	op, err := g.operators.SetStatus(ctx, g.aliases.Resolve(presented), status)
	if err != nil {
		return err
	}
	g.aliases.Bind(presented, op.ID)

	if status == domain.OperatorStatusOnline {
		conn, ok := g.registry.Lookup(h)
		if !ok || conn.ParticipantType != domain.ParticipantOperator || conn.ParticipantID != op.ID {
			sessionID := ""
			if ok && conn.ParticipantType == domain.ParticipantOperator {
				sessionID = conn.SessionID
			}
			g.registry.Register(h, op.ID, domain.ParticipantOperator, sessionID)
		}
		g.pushWaiting(ctx, h)
	}

	g.AnnounceOperatorStatus(op)
	return nil
}

// pushWaiting envia la cola de sesiones en espera a un operador recien conectado.
func (g *Gateway) pushWaiting(ctx context.Context, h Handle) {
	waiting, err := g.sessions.ListWaiting(ctx)
	if err != nil {
		g.logger.Warn("list waiting sessions failed", zap.Error(err))
		return
	}
	for _, s := range waiting {
		g.send(h, newEvent(EventNewSessionAlert, NewSessionAlertPayload{
			SessionID: s.ID,
			UserID:    s.UserID,
			CreatedAt: s.CreatedAt,
		}))
	}
}

func (g *Gateway) typing(eventType string) handlerFunc {
	return func(_ context.Context, h Handle, payload json.RawMessage) error {
		var p TypingPayload
		if err := decode(payload, &p); err != nil {
			return nil
		}
		conn, registered := g.registry.Lookup(h)

		sessionID := strings.TrimSpace(p.SessionID)
		if sessionID == "" && registered {
			sessionID = conn.SessionID
		}
		ind := TypingIndicatorPayload{SessionID: sessionID}
		switch {
		case registered:
			ind.ParticipantID = conn.ParticipantID
			ind.ParticipantType = conn.ParticipantType
			if conn.ParticipantType == domain.ParticipantOperator {
				ind.OperatorID = conn.ParticipantID
			}
		case strings.TrimSpace(p.OperatorID) != "":
			ind.OperatorID = g.aliases.Resolve(p.OperatorID)
			ind.ParticipantID = ind.OperatorID
			ind.ParticipantType = domain.ParticipantOperator
		}
		if sessionID == "" || ind.ParticipantID == "" {
			return nil
		}
		g.broadcast(g.registry.InSession(sessionID), newEvent(eventType, ind), h)
		return nil
	}
}

func (g *Gateway) fetchHistory(ctx context.Context, h Handle, payload json.RawMessage) error {
	var p FetchHistoryPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(p.SessionID)
	if sessionID == "" {
		if conn, ok := g.registry.Lookup(h); ok {
			sessionID = conn.SessionID
		}
	}
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", service.ErrInvalidInput)
	}

	page, err := g.sessions.History(ctx, sessionID, repository.HistoryQuery{
		Limit:      p.Limit,
		Offset:     p.Offset,
		Descending: strings.EqualFold(p.Order, "desc"),
	})
	if err != nil {
		return err
	}
	g.send(h, historyEvent(page))
	return nil
}

func (g *Gateway) endSession(ctx context.Context, h Handle, payload json.RawMessage) error {
	var p EndSessionPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	sessionID := strings.TrimSpace(p.SessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", service.ErrInvalidInput)
	}
	status := domain.SessionStatusClosed
	if r := strings.TrimSpace(p.Reason); r != "" {
		status = domain.SessionStatus(r)
		if !status.IsTerminal() || status == domain.SessionStatusTimeout {
			return service.ErrInvalidStatus
		}
	}
	closedBy := ""
	if strings.TrimSpace(p.OperatorID) != "" {
		closedBy = g.aliases.Resolve(p.OperatorID)
	}

	res, err := g.sessions.Finish(ctx, sessionID, status, closedBy)
	if err != nil {
		return err
	}
	ended := newEvent(EventSessionEnded, SessionEndedPayload{
		SessionID:  res.Session.ID,
		OperatorID: closedBy,
		Reason:     res.Session.Status,
	})
	if res.AlreadyClosed {
		g.send(h, ended)
	} else {
		group := g.registry.InSession(res.Session.ID)
		g.broadcast(group, ended, h)
		g.send(h, ended)
	}

	if conn, ok := g.registry.Lookup(h); ok && conn.SessionID == res.Session.ID {
		g.registry.UpdateSession(h, "")
	}
	return nil
}

func (g *Gateway) reconnectOperator(ctx context.Context, h Handle, payload json.RawMessage) error {
	var p ReconnectOperatorPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.OperatorID) == "" || strings.TrimSpace(p.SessionID) == "" {
		return fmt.Errorf("%w: operatorId and sessionId are required", service.ErrInvalidInput)
	}
	operatorID := g.aliases.Resolve(p.OperatorID)
	if _, err := g.operators.Get(ctx, operatorID); err != nil {
		return err
	}

	session, err := g.sessions.Get(ctx, p.SessionID)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return service.ErrSessionClosed
	}
	g.registry.Register(h, operatorID, domain.ParticipantOperator, session.ID)
	g.send(h, newEvent(EventOperatorReconnected, OperatorReconnectedPayload{
		SessionID:     session.ID,
		OperatorID:    operatorID,
		SessionStatus: session.Status,
	}))
	return nil
}

func (g *Gateway) markRead(ctx context.Context, h Handle, payload json.RawMessage) error {
	var p MarkReadPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	conn, ok := g.registry.Lookup(h)
	if !ok {
		return ErrNotJoined
	}
	sessionID := strings.TrimSpace(p.SessionID)
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	if sessionID == "" {
		return ErrNotJoined
	}
	reader := domain.SenderTypeUser
	if conn.ParticipantType == domain.ParticipantOperator {
		reader = domain.SenderTypeOperator
	}

	n, err := g.sessions.MarkRead(ctx, sessionID, reader)
	if err != nil {
		return err
	}
	g.broadcast(g.registry.InSession(sessionID), newEvent(EventMessagesRead, MessagesReadPayload{
		SessionID:  sessionID,
		ReaderType: reader,
		ReaderID:   conn.ParticipantID,
		Count:      n,
	}), nil)
	return nil
}

func (g *Gateway) pushRecent(ctx context.Context, h Handle, sessionID string) error {
	page, err := g.sessions.Recent(ctx, sessionID)
	if err != nil {
		return err
	}
	g.send(h, historyEvent(page))
	return nil
}
