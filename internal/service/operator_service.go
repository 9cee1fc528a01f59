package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"screen-server/internal/domain"
	"screen-server/internal/repository"
)

// OperatorService administra el registro de operadores y su cache.
type OperatorService struct {
	logger        *zap.Logger
	repo          repository.OperatorRepository
	cache         OperatorCache
	autoProvision bool
	now           func() time.Time

	// cacheFailures cuenta escrituras fallidas; el cache solo se lee cuando
	// cacheSynced alcanzo ese valor tras un Warm completo.
	cacheFailures atomic.Uint64
	cacheSynced   atomic.Uint64
}

func NewOperatorService(logger *zap.Logger, repo repository.OperatorRepository, cache OperatorCache, autoProvision bool) *OperatorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperatorService{
		logger:        logger,
		repo:          repo,
		cache:         cache,
		autoProvision: autoProvision,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type CreateOperatorInput struct {
	ID    string
	Name  string
	Email string
}

func (s *OperatorService) Create(ctx context.Context, in CreateOperatorInput) (domain.Operator, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" {
		return domain.Operator{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return domain.Operator{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()
	op := domain.Operator{
		ID:        id,
		Name:      name,
		Email:     email,
		Status:    domain.OperatorStatusOffline,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, op); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return domain.Operator{}, ErrEmailTaken
		}
		return domain.Operator{}, fmt.Errorf("create operator: %w", err)
	}
	s.cachePut(ctx, op)
	s.logger.Info("operator created", zap.String("operator_id", op.ID))
	return op, nil
}

func (s *OperatorService) Get(ctx context.Context, id string) (domain.Operator, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Operator{}, fmt.Errorf("%w: operatorId is required", ErrInvalidInput)
	}
	op, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Operator{}, ErrOperatorNotFound
		}
		return domain.Operator{}, fmt.Errorf("get operator: %w", err)
	}
	return op, nil
}

func (s *OperatorService) List(ctx context.Context, statuses ...domain.OperatorStatus) ([]domain.Operator, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, ErrInvalidStatus
		}
	}
	ops, err := s.repo.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	return ops, nil
}

// SetStatus resuelve la identidad presentada y guarda el nuevo estado. El id del
// operador devuelto es el durable; puede diferir de presentedID.
func (s *OperatorService) SetStatus(ctx context.Context, presentedID string, status domain.OperatorStatus) (domain.Operator, error) {
	if !status.Valid() {
		return domain.Operator{}, ErrInvalidStatus
	}
	op, err := s.resolve(ctx, presentedID)
	if err != nil {
		return domain.Operator{}, err
	}

	updated, err := s.repo.UpdateStatus(ctx, op.ID, status, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Operator{}, ErrOperatorNotFound
		}
		return domain.Operator{}, fmt.Errorf("update operator status: %w", err)
	}
	s.cachePut(ctx, updated)
	s.logger.Info("operator status updated",
		zap.String("operator_id", updated.ID),
		zap.String("status", string(status)),
	)
	return updated, nil
}

// resolve busca por id, luego por email y, si esta habilitado, crea el operador.
func (s *OperatorService) resolve(ctx context.Context, presentedID string) (domain.Operator, error) {
	presentedID = strings.TrimSpace(presentedID)
	if presentedID == "" {
		return domain.Operator{}, fmt.Errorf("%w: operatorId is required", ErrInvalidInput)
	}

	op, err := s.repo.GetByID(ctx, presentedID)
	if err == nil {
		return op, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Operator{}, fmt.Errorf("get operator: %w", err)
	}

	op, err = s.repo.GetByEmail(ctx, normalizeEmail(presentedID))
	if err == nil {
		return op, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Operator{}, fmt.Errorf("get operator by email: %w", err)
	}

	if !s.autoProvision {
		return domain.Operator{}, ErrOperatorNotFound
	}
	in := CreateOperatorInput{ID: presentedID, Name: presentedID, Email: presentedID + "@operators.local"}
	if at := strings.Index(presentedID, "@"); at > 0 {
		in = CreateOperatorInput{Name: presentedID[:at], Email: presentedID}
	}
	s.logger.Warn("auto provisioning operator", zap.String("presented_id", presentedID))
	return s.Create(ctx, in)
}

// ListAvailable devuelve operadores online. El cache se consulta primero; ante
// error, cache vacio o cache desincronizado se lee la base.
func (s *OperatorService) ListAvailable(ctx context.Context) ([]domain.Operator, error) {
	return s.listCached(ctx, s.cacheAvailable, domain.OperatorStatusOnline)
}

// ListOnline devuelve operadores online o busy.
func (s *OperatorService) ListOnline(ctx context.Context) ([]domain.Operator, error) {
	return s.listCached(ctx, s.cacheOnline, domain.OperatorStatusOnline, domain.OperatorStatusBusy)
}

func (s *OperatorService) cacheAvailable(ctx context.Context) ([]domain.Operator, error) {
	return s.cache.Available(ctx)
}

func (s *OperatorService) cacheOnline(ctx context.Context) ([]domain.Operator, error) {
	return s.cache.Online(ctx)
}

func (s *OperatorService) listCached(
	ctx context.Context,
	read func(context.Context) ([]domain.Operator, error),
	statuses ...domain.OperatorStatus,
) ([]domain.Operator, error) {
	if s.cache == nil {
		return s.List(ctx, statuses...)
	}
	if s.cacheStale() {
		ops, err := s.List(ctx, statuses...)
		if err != nil {
			return nil, err
		}
		if err := s.WarmCache(ctx); err != nil {
			s.logger.Warn("operator cache resync failed", zap.Error(err))
		}
		return ops, nil
	}

	ops, err := read(ctx)
	if err == nil && len(ops) > 0 {
		return ops, nil
	}
	if err != nil {
		s.logger.Warn("operator cache read failed", zap.Error(err))
	}
	return s.List(ctx, statuses...)
}

func (s *OperatorService) cacheStale() bool {
	return s.cacheSynced.Load() < s.cacheFailures.Load()
}

// WarmCache carga todos los operadores en el cache.
func (s *OperatorService) WarmCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	failures := s.cacheFailures.Load()
	ops, err := s.List(ctx)
	if err != nil {
		return err
	}
	if err := s.cache.Warm(ctx, ops); err != nil {
		return fmt.Errorf("warm operator cache: %w", err)
	}
	// solo cubre los fallos anteriores a la lectura de la base
	for {
		synced := s.cacheSynced.Load()
		if failures <= synced || s.cacheSynced.CompareAndSwap(synced, failures) {
			return nil
		}
	}
}

func (s *OperatorService) cachePut(ctx context.Context, op domain.Operator) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, op); err != nil {
		s.cacheFailures.Add(1)
		s.logger.Warn("operator cache write failed, reads fall back to the store until resync",
			zap.String("operator_id", op.ID), zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
