package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"screen-server/internal/domain"
)

type Strategy string

const (
	StrategyPreferred  Strategy = "preferred"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyLeastBusy  Strategy = "least_busy"
	StrategyMostRecent Strategy = "most_recent"
)

// ParseStrategy acepta las estrategias seleccionables; vacio es round_robin.
func ParseStrategy(raw string) (Strategy, error) {
	switch s := Strategy(strings.TrimSpace(raw)); s {
	case "":
		return StrategyRoundRobin, nil
	case StrategyRoundRobin, StrategyLeastBusy, StrategyMostRecent:
		return s, nil
	default:
		return "", ErrInvalidStrategy
	}
}

type AssignRequest struct {
	Strategy            Strategy `json:"strategy,omitempty"`
	PreferredOperatorID string   `json:"preferredOperatorId,omitempty"`
	ExcludeOperatorIDs  []string `json:"excludeOperatorIds,omitempty"`
}

type Selection struct {
	Operator domain.Operator `json:"operator"`
	Strategy Strategy        `json:"strategy"`
}

// AssignmentService elige operadores para sesiones nuevas.
type AssignmentService struct {
	logger    *zap.Logger
	operators *OperatorService
	sessions  *SessionService
	cursor    RoundRobinCursor
}

func NewAssignmentService(logger *zap.Logger, operators *OperatorService, sessions *SessionService, cursor RoundRobinCursor) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cursor == nil {
		cursor = NewMemoryCursor()
	}
	return &AssignmentService{
		logger:    logger,
		operators: operators,
		sessions:  sessions,
		cursor:    cursor,
	}
}

// Choose aplica la estrategia sobre los operadores online. No modifica sesiones.
func (s *AssignmentService) Choose(ctx context.Context, req AssignRequest) (Selection, error) {
	strategy, err := ParseStrategy(string(req.Strategy))
	if err != nil {
		return Selection{}, err
	}

	if preferred := strings.TrimSpace(req.PreferredOperatorID); preferred != "" {
		op, err := s.operators.Get(ctx, preferred)
		switch {
		case err == nil && op.Status == domain.OperatorStatusOnline:
			return Selection{Operator: op, Strategy: StrategyPreferred}, nil
		case err != nil && !errors.Is(err, ErrOperatorNotFound):
			return Selection{}, err
		}
	}

	online, err := s.operators.ListAvailable(ctx)
	if err != nil {
		return Selection{}, err
	}
	pool, err := CandidatePool(online, req.ExcludeOperatorIDs)
	if err != nil {
		return Selection{}, err
	}

	var picked domain.Operator
	switch strategy {
	case StrategyLeastBusy:
		ids := make([]string, 0, len(pool))
		for _, op := range pool {
			ids = append(ids, op.ID)
		}
		counts, err := s.sessions.ActiveCounts(ctx, ids)
		if err != nil {
			return Selection{}, err
		}
		picked = PickLeastBusy(pool, counts)
	case StrategyMostRecent:
		picked = PickMostRecent(pool)
	default:
		n, err := s.cursor.Next(ctx)
		if err != nil {
			return Selection{}, fmt.Errorf("advance cursor: %w", err)
		}
		picked = PickRoundRobin(pool, n-1)
	}

	s.logger.Debug("operator selected",
		zap.String("operator_id", picked.ID),
		zap.String("strategy", string(strategy)),
		zap.Int("pool_size", len(pool)),
	)
	return Selection{Operator: picked, Strategy: strategy}, nil
}

// AssignSession elige un operador y lo asigna a la sesion.
func (s *AssignmentService) AssignSession(ctx context.Context, sessionID string, req AssignRequest) (AssignResult, Selection, error) {
	if strings.TrimSpace(sessionID) == "" {
		return AssignResult{}, Selection{}, fmt.Errorf("%w: sessionId is required", ErrInvalidInput)
	}
	sel, err := s.Choose(ctx, req)
	if err != nil {
		return AssignResult{}, Selection{}, err
	}
	res, err := s.sessions.AssignOperator(ctx, sessionID, sel.Operator.ID)
	if err != nil {
		return AssignResult{}, Selection{}, err
	}
	return res, sel, nil
}

// CandidatePool filtra operadores online menos los excluidos, preservando el orden.
func CandidatePool(ops []domain.Operator, exclude []string) ([]domain.Operator, error) {
	online := make([]domain.Operator, 0, len(ops))
	for _, op := range ops {
		if op.Status == domain.OperatorStatusOnline {
			online = append(online, op)
		}
	}
	if len(online) == 0 {
		return nil, ErrNoAvailableOperators
	}

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[strings.TrimSpace(id)] = true
	}
	pool := make([]domain.Operator, 0, len(online))
	for _, op := range online {
		if !skip[op.ID] {
			pool = append(pool, op)
		}
	}
	if len(pool) == 0 {
		return nil, ErrNoSuitableOperators
	}
	return pool, nil
}

// PickRoundRobin devuelve pool[cursor mod len(pool)]. pool no puede estar vacio.
func PickRoundRobin(pool []domain.Operator, cursor uint64) domain.Operator {
	return pool[cursor%uint64(len(pool))]
}

// PickLeastBusy elige el de menos sesiones activas; en empate gana el primero.
func PickLeastBusy(pool []domain.Operator, activeCounts map[string]int) domain.Operator {
	best := pool[0]
	bestCount := activeCounts[best.ID]
	for _, op := range pool[1:] {
		if c := activeCounts[op.ID]; c < bestCount {
			best, bestCount = op, c
		}
	}
	return best
}

// PickMostRecent elige el de lastActiveAt mas reciente; sin fecha cuenta como el mas antiguo.
func PickMostRecent(pool []domain.Operator) domain.Operator {
	best := pool[0]
	for _, op := range pool[1:] {
		if op.LastActiveAt == nil {
			continue
		}
		if best.LastActiveAt == nil || op.LastActiveAt.After(*best.LastActiveAt) {
			best = op
		}
	}
	return best
}
