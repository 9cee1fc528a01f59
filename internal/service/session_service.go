package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"screen-server/internal/domain"
	"screen-server/internal/repository"
)

const (
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
)

// OperatorLookup es lo que la maquina de estados necesita del registro de operadores.
type OperatorLookup interface {
	Get(ctx context.Context, id string) (domain.Operator, error)
}

// SessionService implementa la maquina de estados de las sesiones de soporte.
// Toda lectura previa es orientativa; la mutacion bloqueada en el store decide.
type SessionService struct {
	logger    *zap.Logger
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	operators OperatorLookup
	pageSize  int
	now       func() time.Time
}

func NewSessionService(
	logger *zap.Logger,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	operators OperatorLookup,
	historyPageSize int,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyPageSize <= 0 || historyPageSize > maxHistoryPageSize {
		historyPageSize = defaultHistoryPageSize
	}
	return &SessionService{
		logger:    logger,
		sessions:  sessions,
		messages:  messages,
		operators: operators,
		pageSize:  historyPageSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type RecordMessageInput struct {
	SessionID   string
	SenderID    string
	SenderType  domain.SenderType
	MessageType domain.MessageType
	Content     string
}

type RecordResult struct {
	Message domain.Message
	Session domain.Session
	// Activated es true solo para el mensaje que paso la sesion de waiting a active.
	Activated bool
}

type AssignResult struct {
	Session  domain.Session
	Operator domain.Operator
	// JoinMessage es nil cuando la asignacion ya existia.
	JoinMessage *domain.Message
}

type CloseResult struct {
	Session       domain.Session
	AlreadyClosed bool
}

type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

type HistoryPage struct {
	SessionID  string           `json:"sessionId"`
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// CreateOrReuse devuelve la sesion abierta del usuario o crea una nueva en waiting.
func (s *SessionService) CreateOrReuse(ctx context.Context, userID string) (domain.Session, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Session{}, false, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	now := s.now()
	session, created, err := s.sessions.CreateOpen(ctx, domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    domain.SessionStatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("create session: %w", err)
	}
	if created {
		s.logger.Info("session created", zap.String("session_id", session.ID), zap.String("user_id", userID))
	}
	return session, created, nil
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, mapSessionErr(err, "get session")
	}
	return session, nil
}

// RecordMessage agrega un mensaje. El primer mensaje de usuario sobre una sesion
// waiting la activa dentro de la misma transaccion.
func (s *SessionService) RecordMessage(ctx context.Context, in RecordMessageInput) (RecordResult, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.SenderID = strings.TrimSpace(in.SenderID)
	in.Content = strings.TrimSpace(in.Content)
	if in.MessageType == "" {
		in.MessageType = domain.MessageTypeText
	}

	if in.SessionID == "" || !in.SenderType.Valid() || !in.MessageType.Valid() {
		return RecordResult{}, ErrInvalidInput
	}
	if in.SenderType != domain.SenderTypeSystem && in.SenderID == "" {
		return RecordResult{}, fmt.Errorf("%w: senderId is required", ErrInvalidInput)
	}
	if in.Content == "" {
		return RecordResult{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if domain.ContentLength(in.Content) > domain.MaxContentLength {
		return RecordResult{}, ErrContentTooLong
	}

	msgID := uuid.NewString()
	var (
		msg       domain.Message
		activated bool
	)
	// created_at se toma con la fila bloqueada para que siga el orden de commit.
	session, err := s.sessions.Mutate(ctx, in.SessionID, func(sess *domain.Session) ([]domain.Message, error) {
		activated = false
		if sess.Status.IsTerminal() {
			return nil, ErrSessionClosed
		}
		now := s.now()
		msg = domain.Message{
			ID:          msgID,
			SessionID:   in.SessionID,
			SenderID:    in.SenderID,
			SenderType:  in.SenderType,
			MessageType: in.MessageType,
			Content:     in.Content,
			CreatedAt:   now,
		}
		if in.SenderType == domain.SenderTypeSystem {
			msg = domain.NewSystemMessage(msgID, in.SessionID, in.Content, now)
		}
		if in.SenderType == domain.SenderTypeUser && sess.Status == domain.SessionStatusWaiting {
			sess.Status = domain.SessionStatusActive
			activated = true
		}
		sess.UpdatedAt = now
		return []domain.Message{msg}, nil
	})
	if err != nil {
		return RecordResult{}, mapSessionErr(err, "record message")
	}

	if activated {
		s.logger.Info("session activated", zap.String("session_id", session.ID))
	}
	return RecordResult{Message: msg, Session: session, Activated: activated}, nil
}

// AssignOperator asigna un operador online a una sesion abierta y deja constancia
// con un mensaje de sistema.
func (s *SessionService) AssignOperator(ctx context.Context, sessionID, operatorID string) (AssignResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	operatorID = strings.TrimSpace(operatorID)
	if sessionID == "" || operatorID == "" {
		return AssignResult{}, fmt.Errorf("%w: sessionId and operatorId are required", ErrInvalidInput)
	}

	op, err := s.operators.Get(ctx, operatorID)
	if err != nil {
		return AssignResult{}, err
	}
	if op.Status != domain.OperatorStatusOnline {
		return AssignResult{}, ErrOperatorUnavailable
	}

	var joinMsg *domain.Message
	session, err := s.sessions.Mutate(ctx, sessionID, func(sess *domain.Session) ([]domain.Message, error) {
		joinMsg = nil
		if sess.Status.IsTerminal() {
			return nil, ErrSessionClosed
		}
		if sess.OperatorID == op.ID && sess.Status == domain.SessionStatusActive {
			return nil, nil
		}
		if sess.OperatorID != "" && sess.OperatorID != op.ID {
			return nil, ErrSessionAlreadyAssigned
		}
		now := s.now()
		sess.OperatorID = op.ID
		sess.Status = domain.SessionStatusActive
		sess.UpdatedAt = now
		msg := domain.NewSystemMessage(uuid.NewString(), sess.ID, fmt.Sprintf("%s joined the conversation", op.Name), now)
		joinMsg = &msg
		return []domain.Message{msg}, nil
	})
	if err != nil {
		return AssignResult{}, mapSessionErr(err, "assign operator")
	}

	if joinMsg != nil {
		s.logger.Info("operator assigned",
			zap.String("session_id", session.ID),
			zap.String("operator_id", op.ID),
		)
	}
	return AssignResult{Session: session, Operator: op, JoinMessage: joinMsg}, nil
}

// Close cierra la sesion. Es idempotente: una sesion ya terminal se devuelve sin cambios.
func (s *SessionService) Close(ctx context.Context, sessionID, closedBy string) (CloseResult, error) {
	return s.Finish(ctx, sessionID, domain.SessionStatusClosed, closedBy)
}

// Timeout es la transicion que invoca el barrido externo de inactividad.
func (s *SessionService) Timeout(ctx context.Context, sessionID string) (CloseResult, error) {
	return s.Finish(ctx, sessionID, domain.SessionStatusTimeout, "")
}

// Finish lleva la sesion a un estado terminal. closedBy opcional agrega un
// mensaje de sistema de cierre.
func (s *SessionService) Finish(ctx context.Context, sessionID string, status domain.SessionStatus, closedBy string) (CloseResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	closedBy = strings.TrimSpace(closedBy)
	if sessionID == "" {
		return CloseResult{}, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	if !status.IsTerminal() {
		return CloseResult{}, ErrInvalidStatus
	}

	closerName := closedBy
	if closedBy != "" && s.operators != nil {
		if op, err := s.operators.Get(ctx, closedBy); err == nil && op.Name != "" {
			closerName = op.Name
		}
	}

	already := false
	session, err := s.sessions.Mutate(ctx, sessionID, func(sess *domain.Session) ([]domain.Message, error) {
		already = false
		if sess.Status.IsTerminal() {
			already = true
			return nil, nil
		}
		closedAt := s.now()
		if closedAt.Before(sess.CreatedAt) {
			closedAt = sess.CreatedAt
		}
		sess.Status = status
		sess.ClosedAt = &closedAt
		sess.UpdatedAt = closedAt
		if closedBy == "" {
			return nil, nil
		}
		msg := domain.NewSystemMessage(uuid.NewString(), sess.ID, closingText(status, closerName), closedAt)
		return []domain.Message{msg}, nil
	})
	if err != nil {
		return CloseResult{}, mapSessionErr(err, "finish session")
	}

	if !already {
		s.logger.Info("session finished",
			zap.String("session_id", session.ID),
			zap.String("status", string(status)),
			zap.String("closed_by", closedBy),
		)
	}
	return CloseResult{Session: session, AlreadyClosed: already}, nil
}

func closingText(status domain.SessionStatus, closedBy string) string {
	switch status {
	case domain.SessionStatusCompleted:
		return fmt.Sprintf("Conversation completed by %s", closedBy)
	case domain.SessionStatusCancelled:
		return fmt.Sprintf("Conversation cancelled by %s", closedBy)
	case domain.SessionStatusTimeout:
		return "Conversation timed out"
	default:
		return fmt.Sprintf("Conversation closed by %s", closedBy)
	}
}

// History devuelve una pagina del historial, ascendente salvo que se pida lo contrario.
func (s *SessionService) History(ctx context.Context, sessionID string, q repository.HistoryQuery) (HistoryPage, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return HistoryPage{}, err
	}
	if q.Limit <= 0 {
		q.Limit = s.pageSize
	}
	if q.Limit > maxHistoryPageSize {
		q.Limit = maxHistoryPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	total, err := s.messages.CountBySessionID(ctx, session.ID)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("count messages: %w", err)
	}
	return s.page(ctx, session.ID, q, total)
}

func (s *SessionService) page(ctx context.Context, sessionID string, q repository.HistoryQuery, total int) (HistoryPage, error) {
	msgs, err := s.messages.ListBySessionID(ctx, sessionID, q)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("list messages: %w", err)
	}
	return HistoryPage{
		SessionID: sessionID,
		Messages:  msgs,
		Pagination: Pagination{
			Limit:   q.Limit,
			Offset:  q.Offset,
			Total:   total,
			HasMore: q.Offset+len(msgs) < total,
		},
	}, nil
}

// Recent devuelve los ultimos mensajes en orden ascendente.
func (s *SessionService) Recent(ctx context.Context, sessionID string) (HistoryPage, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return HistoryPage{}, err
	}
	total, err := s.messages.CountBySessionID(ctx, session.ID)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("count messages: %w", err)
	}
	offset := total - s.pageSize
	if offset < 0 {
		offset = 0
	}
	return s.page(ctx, session.ID, repository.HistoryQuery{Limit: s.pageSize, Offset: offset}, total)
}

func (s *SessionService) ListByStatus(ctx context.Context, status domain.SessionStatus, limit, offset int) ([]domain.Session, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if limit <= 0 || limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}
	if offset < 0 {
		offset = 0
	}
	sessions, err := s.sessions.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionService) ListWaiting(ctx context.Context) ([]domain.Session, error) {
	return s.ListByStatus(ctx, domain.SessionStatusWaiting, maxHistoryPageSize, 0)
}

// MarkRead marca como leidos los mensajes de la contraparte de reader.
func (s *SessionService) MarkRead(ctx context.Context, sessionID string, reader domain.SenderType) (int64, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if reader != domain.SenderTypeUser && reader != domain.SenderTypeOperator {
		return 0, ErrInvalidInput
	}
	n, err := s.messages.MarkRead(ctx, session.ID, reader)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return n, nil
}

// ActiveCounts cuenta sesiones activas por operador.
func (s *SessionService) ActiveCounts(ctx context.Context, operatorIDs []string) (map[string]int, error) {
	counts, err := s.sessions.CountActiveByOperator(ctx, operatorIDs)
	if err != nil {
		return nil, fmt.Errorf("count active sessions: %w", err)
	}
	return counts, nil
}

func mapSessionErr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
