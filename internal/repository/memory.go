package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"screen-server/internal/domain"
)

// MemoryStore implementa los tres repositorios en memoria. Se usa cuando no hay
// DATABASE_URL configurada y en tests. Devuelve pgx.ErrNoRows igual que Postgres.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]domain.Session
	messages  map[string][]domain.Message
	operators map[string]domain.Operator
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]domain.Session),
		messages:  make(map[string][]domain.Message),
		operators: make(map[string]domain.Operator),
	}
}

func (m *MemoryStore) CreateOpen(_ context.Context, session domain.Session) (domain.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.openByUserLocked(session.UserID); ok {
		return existing, false, nil
	}
	m.sessions[session.ID] = session
	return session, true, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, pgx.ErrNoRows
	}
	return s, nil
}

func (m *MemoryStore) GetOpenByUserID(_ context.Context, userID string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.openByUserLocked(userID)
	if !ok {
		return domain.Session{}, pgx.ErrNoRows
	}
	return s, nil
}

func (m *MemoryStore) openByUserLocked(userID string) (domain.Session, bool) {
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsOpen() {
			return s, true
		}
	}
	return domain.Session{}, false
}

func (m *MemoryStore) ListByStatus(_ context.Context, status domain.SessionStatus, limit, offset int) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Session{}
	for _, s := range m.sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (m *MemoryStore) CountActiveByOperator(_ context.Context, operatorIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(operatorIDs))
	for _, id := range operatorIDs {
		wanted[id] = true
	}
	counts := make(map[string]int, len(operatorIDs))
	for _, s := range m.sessions {
		if s.Status == domain.SessionStatusActive && wanted[s.OperatorID] {
			counts[s.OperatorID]++
		}
	}
	return counts, nil
}

// Mutate mantiene el lock durante fn, igual que el FOR UPDATE de Postgres.
func (m *MemoryStore) Mutate(_ context.Context, id string, fn SessionMutation) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, pgx.ErrNoRows
	}
	updated := current
	msgs, err := fn(&updated)
	if err != nil {
		return current, err
	}
	m.sessions[id] = updated
	m.messages[id] = append(m.messages[id], msgs...)
	return updated, nil
}

func (m *MemoryStore) ListBySessionID(_ context.Context, sessionID string, q HistoryQuery) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.messages[sessionID]
	out := make([]domain.Message, len(src))
	copy(out, src)
	if q.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return page(out, q.Limit, q.Offset), nil
}

func (m *MemoryStore) CountBySessionID(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[sessionID]), nil
}

func (m *MemoryStore) MarkRead(_ context.Context, sessionID string, reader domain.SenderType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	msgs := m.messages[sessionID]
	for i := range msgs {
		if !msgs[i].IsRead && msgs[i].SenderType != reader {
			msgs[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Create(_ context.Context, operator domain.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.operators[operator.ID]; ok {
		return ErrDuplicate
	}
	for _, op := range m.operators {
		if strings.EqualFold(op.Email, operator.Email) {
			return ErrDuplicate
		}
	}
	m.operators[operator.ID] = operator
	return nil
}

func (m *MemoryStore) GetOperator(_ context.Context, id string) (domain.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operators[id]
	if !ok {
		return domain.Operator{}, pgx.ErrNoRows
	}
	return op, nil
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (domain.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range m.operators {
		if strings.EqualFold(op.Email, strings.TrimSpace(email)) {
			return op, nil
		}
	}
	return domain.Operator{}, pgx.ErrNoRows
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status domain.OperatorStatus, at time.Time) (domain.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operators[id]
	if !ok {
		return domain.Operator{}, pgx.ErrNoRows
	}
	op.Status = status
	if status.RefreshesActivity() {
		ts := at
		op.LastActiveAt = &ts
	}
	op.UpdatedAt = at
	m.operators[id] = op
	return op, nil
}

func (m *MemoryStore) ListByStatusOperators(_ context.Context, statuses ...domain.OperatorStatus) ([]domain.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Operator{}
	for _, op := range m.operators {
		if len(statuses) == 0 || containsStatus(statuses, op.Status) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Operators expone la vista de operadores con la interfaz OperatorRepository.
func (m *MemoryStore) Operators() OperatorRepository {
	return memoryOperators{m}
}

type memoryOperators struct {
	*MemoryStore
}

func (o memoryOperators) GetByID(ctx context.Context, id string) (domain.Operator, error) {
	return o.GetOperator(ctx, id)
}

func (o memoryOperators) ListByStatus(ctx context.Context, statuses ...domain.OperatorStatus) ([]domain.Operator, error) {
	return o.ListByStatusOperators(ctx, statuses...)
}

func containsStatus(list []domain.OperatorStatus, s domain.OperatorStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var (
	_ SessionRepository  = (*MemoryStore)(nil)
	_ MessageRepository  = (*MemoryStore)(nil)
	_ OperatorRepository = memoryOperators{}
)
