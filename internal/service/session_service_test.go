package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"screen-server/internal/domain"
	"screen-server/internal/repository"
)

type testServices struct {
	store     *repository.MemoryStore
	sessions  *SessionService
	operators *OperatorService
}

func newTestServices(t *testing.T) testServices {
	t.Helper()
	store := repository.NewMemoryStore()
	operators := NewOperatorService(zap.NewNop(), store.Operators(), NewMemoryOperatorCache(), false)
	sessions := NewSessionService(zap.NewNop(), store, store, operators, 50)
	return testServices{store: store, sessions: sessions, operators: operators}
}

func (ts testServices) onlineOperator(t *testing.T, id, name string) domain.Operator {
	t.Helper()
	ctx := context.Background()
	if _, err := ts.operators.Create(ctx, CreateOperatorInput{ID: id, Name: name, Email: id + "@example.com"}); err != nil {
		t.Fatalf("create operator %s: %v", id, err)
	}
	op, err := ts.operators.SetStatus(ctx, id, domain.OperatorStatusOnline)
	if err != nil {
		t.Fatalf("set status %s: %v", id, err)
	}
	return op
}

func userMessage(sessionID, content string) RecordMessageInput {
	return RecordMessageInput{
		SessionID:  sessionID,
		SenderID:   "u1",
		SenderType: domain.SenderTypeUser,
		Content:    content,
	}
}

func TestSessionService_CreateOrReuseIsIdempotent(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	first, created, err := ts.sessions.CreateOrReuse(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created || first.Status != domain.SessionStatusWaiting {
		t.Fatalf("expected new waiting session, got created=%v status=%s", created, first.Status)
	}

	second, created, err := ts.sessions.CreateOrReuse(ctx, " u1 ")
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if created {
		t.Fatalf("expected isNew=false on second join")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same session id, got %s and %s", first.ID, second.ID)
	}
}

func TestSessionService_CreateOrReuseAfterClose(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()

	first, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")
	if _, err := ts.sessions.Close(ctx, first.ID, ""); err != nil {
		t.Fatalf("close: %v", err)
	}
	next, created, err := ts.sessions.CreateOrReuse(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created || next.ID == first.ID {
		t.Fatalf("expected a fresh session after close")
	}
}

func TestSessionService_CreateOrReuseRejectsEmptyUser(t *testing.T) {
	ts := newTestServices(t)
	if _, _, err := ts.sessions.CreateOrReuse(context.Background(), "   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSessionService_FirstUserMessageActivatesOnce(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")

	res, err := ts.sessions.RecordMessage(ctx, userMessage(s.ID, "  hello  "))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !res.Activated || res.Session.Status != domain.SessionStatusActive {
		t.Fatalf("expected activation on first user message, got %+v", res)
	}
	if res.Message.Content != "hello" || res.Message.MessageType != domain.MessageTypeText {
		t.Fatalf("expected trimmed text message, got %+v", res.Message)
	}

	res, err = ts.sessions.RecordMessage(ctx, userMessage(s.ID, "again"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.Activated {
		t.Fatalf("expected no second activation")
	}

	page, err := ts.sessions.History(ctx, s.ID, repository.HistoryQuery{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].Content != "hello" {
		t.Fatalf("unexpected history: %+v", page.Messages)
	}
}

func TestSessionService_OperatorMessageDoesNotActivate(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")

	res, err := ts.sessions.RecordMessage(ctx, RecordMessageInput{
		SessionID:  s.ID,
		SenderID:   "op1",
		SenderType: domain.SenderTypeOperator,
		Content:    "hi",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.Activated || res.Session.Status != domain.SessionStatusWaiting {
		t.Fatalf("expected session to stay waiting, got %s", res.Session.Status)
	}
}

func TestSessionService_RecordMessageOnTerminalSession(t *testing.T) {
	terminal := []domain.SessionStatus{
		domain.SessionStatusClosed,
		domain.SessionStatusCompleted,
		domain.SessionStatusTimeout,
		domain.SessionStatusCancelled,
	}
	senders := []domain.SenderType{domain.SenderTypeUser, domain.SenderTypeOperator, domain.SenderTypeSystem}

	for _, status := range terminal {
		t.Run(string(status), func(t *testing.T) {
			ts := newTestServices(t)
			ctx := context.Background()
			s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")
			if _, err := ts.sessions.Finish(ctx, s.ID, status, ""); err != nil {
				t.Fatalf("finish: %v", err)
			}
			for _, sender := range senders {
				_, err := ts.sessions.RecordMessage(ctx, RecordMessageInput{
					SessionID:  s.ID,
					SenderID:   "x",
					SenderType: sender,
					Content:    "late",
				})
				if !errors.Is(err, ErrSessionClosed) {
					t.Fatalf("sender %s: expected ErrSessionClosed, got %v", sender, err)
				}
			}
		})
	}
}

func TestSessionService_RecordMessageValidation(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")

	if _, err := ts.sessions.RecordMessage(ctx, userMessage(s.ID, "   ")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank content, got %v", err)
	}
	long := strings.Repeat("a", domain.MaxContentLength+1)
	if _, err := ts.sessions.RecordMessage(ctx, userMessage(s.ID, long)); !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong, got %v", err)
	}
	exact := strings.Repeat("ñ", domain.MaxContentLength)
	if _, err := ts.sessions.RecordMessage(ctx, userMessage(s.ID, exact)); err != nil {
		t.Fatalf("expected content at the limit to be accepted, got %v", err)
	}
	if _, err := ts.sessions.RecordMessage(ctx, userMessage("missing", "hi")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	in := userMessage(s.ID, "hi")
	in.SenderID = ""
	if _, err := ts.sessions.RecordMessage(ctx, in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing sender, got %v", err)
	}
}

func TestSessionService_AssignOperatorAppendsJoinMessage(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	ts.onlineOperator(t, "op1", "Alice")
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")
	if _, err := ts.sessions.RecordMessage(ctx, userMessage(s.ID, "hello")); err != nil {
		t.Fatalf("record: %v", err)
	}

	res, err := ts.sessions.AssignOperator(ctx, s.ID, "op1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.Session.OperatorID != "op1" || res.Session.Status != domain.SessionStatusActive {
		t.Fatalf("unexpected session after assign: %+v", res.Session)
	}
	if res.JoinMessage == nil || !res.JoinMessage.IsSystem() || !strings.Contains(res.JoinMessage.Content, "Alice") {
		t.Fatalf("expected system join message naming the operator, got %+v", res.JoinMessage)
	}

	again, err := ts.sessions.AssignOperator(ctx, s.ID, "op1")
	if err != nil {
		t.Fatalf("idempotent assign: %v", err)
	}
	if again.JoinMessage != nil {
		t.Fatalf("expected no second join message")
	}

	page, _ := ts.sessions.History(ctx, s.ID, repository.HistoryQuery{})
	if len(page.Messages) != 2 {
		t.Fatalf("expected user message plus one system message, got %d", len(page.Messages))
	}
}

func TestSessionService_AssignOperatorConflicts(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	ts.onlineOperator(t, "op1", "Alice")
	ts.onlineOperator(t, "op2", "Bob")

	t.Run("closed session", func(t *testing.T) {
		s, _, _ := ts.sessions.CreateOrReuse(ctx, "closed-user")
		if _, err := ts.sessions.Close(ctx, s.ID, ""); err != nil {
			t.Fatalf("close: %v", err)
		}
		if _, err := ts.sessions.AssignOperator(ctx, s.ID, "op1"); !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
		got, _ := ts.sessions.Get(ctx, s.ID)
		if got.OperatorID != "" {
			t.Fatalf("expected operatorId unchanged, got %q", got.OperatorID)
		}
	})

	t.Run("other operator already assigned", func(t *testing.T) {
		s, _, _ := ts.sessions.CreateOrReuse(ctx, "busy-user")
		if _, err := ts.sessions.AssignOperator(ctx, s.ID, "op1"); err != nil {
			t.Fatalf("assign: %v", err)
		}
		if _, err := ts.sessions.AssignOperator(ctx, s.ID, "op2"); !errors.Is(err, ErrSessionAlreadyAssigned) {
			t.Fatalf("expected ErrSessionAlreadyAssigned, got %v", err)
		}
	})

	t.Run("operator not online", func(t *testing.T) {
		if _, err := ts.operators.SetStatus(ctx, "op2", domain.OperatorStatusBusy); err != nil {
			t.Fatalf("set status: %v", err)
		}
		s, _, _ := ts.sessions.CreateOrReuse(ctx, "other-user")
		if _, err := ts.sessions.AssignOperator(ctx, s.ID, "op2"); !errors.Is(err, ErrOperatorUnavailable) {
			t.Fatalf("expected ErrOperatorUnavailable, got %v", err)
		}
	})

	t.Run("unknown operator", func(t *testing.T) {
		s, _, _ := ts.sessions.CreateOrReuse(ctx, "third-user")
		if _, err := ts.sessions.AssignOperator(ctx, s.ID, "ghost"); !errors.Is(err, ErrOperatorNotFound) {
			t.Fatalf("expected ErrOperatorNotFound, got %v", err)
		}
	})
}

func TestSessionService_CloseIsIdempotent(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")

	first, err := ts.sessions.Close(ctx, s.ID, "")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if first.AlreadyClosed || first.Session.Status != domain.SessionStatusClosed || first.Session.ClosedAt == nil {
		t.Fatalf("unexpected first close result: %+v", first)
	}
	closedAt := *first.Session.ClosedAt

	second, err := ts.sessions.Close(ctx, s.ID, "")
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !second.AlreadyClosed {
		t.Fatalf("expected already closed indicator")
	}
	if second.Session.ClosedAt == nil || !second.Session.ClosedAt.Equal(closedAt) {
		t.Fatalf("expected closedAt to remain %v, got %v", closedAt, second.Session.ClosedAt)
	}
}

func TestSessionService_CloseWithCloserAppendsMessage(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	ts.onlineOperator(t, "op1", "Alice")
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")

	if _, err := ts.sessions.Close(ctx, s.ID, "op1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	page, _ := ts.sessions.History(ctx, s.ID, repository.HistoryQuery{})
	if len(page.Messages) != 1 || !page.Messages[0].IsSystem() || !strings.Contains(page.Messages[0].Content, "Alice") {
		t.Fatalf("expected closing system message, got %+v", page.Messages)
	}
}

func TestSessionService_FinishRejectsNonTerminalStatus(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")
	if _, err := ts.sessions.Finish(ctx, s.ID, domain.SessionStatusActive, ""); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSessionService_HistoryPagination(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")
	for _, c := range []string{"m1", "m2", "m3", "m4", "m5"} {
		if _, err := ts.sessions.RecordMessage(ctx, userMessage(s.ID, c)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	page, err := ts.sessions.History(ctx, s.ID, repository.HistoryQuery{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].Content != "m2" || page.Messages[1].Content != "m3" {
		t.Fatalf("unexpected page: %+v", page.Messages)
	}
	if page.Pagination.Total != 5 || !page.Pagination.HasMore {
		t.Fatalf("unexpected pagination: %+v", page.Pagination)
	}

	desc, _ := ts.sessions.History(ctx, s.ID, repository.HistoryQuery{Limit: 1, Descending: true})
	if len(desc.Messages) != 1 || desc.Messages[0].Content != "m5" {
		t.Fatalf("expected newest first, got %+v", desc.Messages)
	}

	last, _ := ts.sessions.History(ctx, s.ID, repository.HistoryQuery{Limit: 10, Offset: 3})
	if last.Pagination.HasMore {
		t.Fatalf("expected no more pages")
	}

	if _, err := ts.sessions.History(ctx, "missing", repository.HistoryQuery{}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionService_RecentReturnsTail(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	ts.sessions.pageSize = 2
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")
	for _, c := range []string{"a", "b", "c"} {
		if _, err := ts.sessions.RecordMessage(ctx, userMessage(s.ID, c)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	page, err := ts.sessions.Recent(ctx, s.ID)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].Content != "b" || page.Messages[1].Content != "c" {
		t.Fatalf("expected last two messages ascending, got %+v", page.Messages)
	}
}

func TestSessionService_MarkReadSkipsOwnMessages(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")
	_, _ = ts.sessions.RecordMessage(ctx, userMessage(s.ID, "from user"))
	_, _ = ts.sessions.RecordMessage(ctx, RecordMessageInput{
		SessionID: s.ID, SenderID: "op1", SenderType: domain.SenderTypeOperator, Content: "from operator",
	})

	n, err := ts.sessions.MarkRead(ctx, s.ID, domain.SenderTypeUser)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one message marked, got %d", n)
	}
	if _, err := ts.sessions.MarkRead(ctx, s.ID, domain.SenderTypeSystem); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for system reader, got %v", err)
	}
}

func TestSessionService_ListWaiting(t *testing.T) {
	ts := newTestServices(t)
	ctx := context.Background()
	a, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")
	b, _, _ := ts.sessions.CreateOrReuse(ctx, "u2")
	_, _ = ts.sessions.RecordMessage(ctx, userMessage(b.ID, "activate"))

	waiting, err := ts.sessions.ListWaiting(ctx)
	if err != nil {
		t.Fatalf("list waiting: %v", err)
	}
	if len(waiting) != 1 || waiting[0].ID != a.ID {
		t.Fatalf("expected only %s waiting, got %+v", a.ID, waiting)
	}
	if _, err := ts.sessions.ListByStatus(ctx, "bogus", 10, 0); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}
