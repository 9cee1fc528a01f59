package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"screen-server/internal/domain"
	"screen-server/internal/repository"
)

func TestSessionService_ConcurrentCreateOrReuseYieldsOneSession(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	const callers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		ids     = map[string]struct{}{}
		created int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s, isNew, err := ts.sessions.CreateOrReuse(ctx, "u1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[s.ID] = struct{}{}
			if isNew {
				created++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if created != 1 || len(ids) != 1 {
		t.Fatalf("expected exactly one session created, got created=%d distinct=%d", created, len(ids))
	}
	waiting, err := ts.sessions.ListWaiting(ctx)
	if err != nil {
		t.Fatalf("list waiting: %v", err)
	}
	if len(waiting) != 1 {
		t.Fatalf("expected one open session for u1, got %d", len(waiting))
	}
}

func TestSessionService_ConcurrentAssignOneWinner(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	ts.onlineOperator(t, "opA", "Alice")
	ts.onlineOperator(t, "opB", "Bob")
	session, _, err := ts.sessions.CreateOrReuse(ctx, "u1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]error, 2)
	)
	for i, opID := range []string{"opA", "opB"} {
		wg.Add(1)
		go func(i int, opID string) {
			defer wg.Done()
			<-start
			_, results[i] = ts.sessions.AssignOperator(ctx, session.ID, opID)
		}(i, opID)
	}
	close(start)
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrSessionAlreadyAssigned):
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("expected one winner and one SESSION_ALREADY_ASSIGNED, got %d/%d", winners, losers)
	}

	got, _ := ts.sessions.Get(ctx, session.ID)
	page, _ := ts.sessions.History(ctx, session.ID, repository.HistoryQuery{})
	joins := 0
	for _, m := range page.Messages {
		if m.IsSystem() {
			joins++
		}
	}
	if got.OperatorID == "" || joins != 1 {
		t.Fatalf("expected single assignment with one join message, got operator=%q joins=%d", got.OperatorID, joins)
	}
}

// lockRecorder anota cuando la mutacion toma la fila y cuando se lee el reloj.
type lockRecorder struct {
	repository.SessionRepository
	mu     sync.Mutex
	events []string
}

func (r *lockRecorder) record(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *lockRecorder) Mutate(ctx context.Context, id string, fn repository.SessionMutation) (domain.Session, error) {
	r.record("lock")
	return r.SessionRepository.Mutate(ctx, id, fn)
}

func (r *lockRecorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func TestSessionService_TimestampsTakenUnderRowLock(t *testing.T) {
	store := repository.NewMemoryStore()
	operators := NewOperatorService(zap.NewNop(), store.Operators(), NewMemoryOperatorCache(), false)
	rec := &lockRecorder{SessionRepository: store}
	sessions := NewSessionService(zap.NewNop(), rec, store, operators, 50)
	sessions.now = func() time.Time {
		rec.record("clock")
		return time.Now().UTC()
	}
	ts := testServices{store: store, sessions: sessions, operators: operators}
	ctx := context.Background()
	ts.onlineOperator(t, "opA", "Alice")
	session, _, err := sessions.CreateOrReuse(ctx, "u1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"record message", func() error {
			_, err := sessions.RecordMessage(ctx, userMessage(session.ID, "hola"))
			return err
		}},
		{"assign operator", func() error {
			_, err := sessions.AssignOperator(ctx, session.ID, "opA")
			return err
		}},
		{"close", func() error {
			_, err := sessions.Close(ctx, session.ID, "opA")
			return err
		}},
	}
	for _, step := range steps {
		rec.reset()
		if err := step.run(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		rec.mu.Lock()
		events := append([]string(nil), rec.events...)
		rec.mu.Unlock()
		if len(events) == 0 || events[0] != "lock" {
			t.Fatalf("%s: clock read before the row lock: %v", step.name, events)
		}
	}
}

type countingMessages struct {
	repository.MessageRepository
	counts, lists int
}

func (c *countingMessages) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	c.counts++
	return c.MessageRepository.CountBySessionID(ctx, sessionID)
}

func (c *countingMessages) ListBySessionID(ctx context.Context, sessionID string, q repository.HistoryQuery) ([]domain.Message, error) {
	c.lists++
	return c.MessageRepository.ListBySessionID(ctx, sessionID, q)
}

type countingSessions struct {
	repository.SessionRepository
	gets int
}

func (c *countingSessions) GetByID(ctx context.Context, id string) (domain.Session, error) {
	c.gets++
	return c.SessionRepository.GetByID(ctx, id)
}

func TestSessionService_RecentSingleRoundTripEach(t *testing.T) {
	store := repository.NewMemoryStore()
	operators := NewOperatorService(zap.NewNop(), store.Operators(), NewMemoryOperatorCache(), false)
	sessionsRepo := &countingSessions{SessionRepository: store}
	messages := &countingMessages{MessageRepository: store}
	svc := NewSessionService(zap.NewNop(), sessionsRepo, messages, operators, 2)
	ctx := context.Background()

	session, _, err := svc.CreateOrReuse(ctx, "u1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, c := range []string{"one", "two", "three"} {
		if _, err := svc.RecordMessage(ctx, userMessage(session.ID, c)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	sessionsRepo.gets, messages.counts, messages.lists = 0, 0, 0

	page, err := svc.Recent(ctx, session.ID)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].Content != "two" || page.Pagination.Total != 3 {
		t.Fatalf("unexpected recent page: %+v", page)
	}
	if sessionsRepo.gets != 1 || messages.counts != 1 || messages.lists != 1 {
		t.Fatalf("expected one get, count and list; got %d/%d/%d", sessionsRepo.gets, messages.counts, messages.lists)
	}
}
