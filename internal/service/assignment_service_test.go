package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"screen-server/internal/domain"
)

func newAssignmentFixture(t *testing.T, ids ...string) (testServices, *AssignmentService) {
	t.Helper()
	ts := newTestServices(t)
	for _, id := range ids {
		// el nombre fija el orden del pool
		ts.onlineOperator(t, id, "name-"+id)
	}
	return ts, NewAssignmentService(zap.NewNop(), ts.operators, ts.sessions, NewMemoryCursor())
}

func TestAssignment_RoundRobinCycles(t *testing.T) {
	_, svc := newAssignmentFixture(t, "A", "B", "C")
	ctx := context.Background()

	want := []string{"A", "B", "C", "A"}
	for i, id := range want {
		sel, err := svc.Choose(ctx, AssignRequest{})
		if err != nil {
			t.Fatalf("choose %d: %v", i, err)
		}
		if sel.Operator.ID != id || sel.Strategy != StrategyRoundRobin {
			t.Fatalf("call %d: expected %s via round_robin, got %s via %s", i, id, sel.Operator.ID, sel.Strategy)
		}
	}
}

func TestAssignment_LeastBusy(t *testing.T) {
	ts, svc := newAssignmentFixture(t, "opA", "opB")
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		s, _, _ := ts.sessions.CreateOrReuse(ctx, user)
		if _, err := ts.sessions.AssignOperator(ctx, s.ID, "opA"); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}

	sel, err := svc.Choose(ctx, AssignRequest{Strategy: StrategyLeastBusy})
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if sel.Operator.ID != "opB" {
		t.Fatalf("expected opB, got %s", sel.Operator.ID)
	}
}

func TestAssignment_PreferredBypassesStrategy(t *testing.T) {
	_, svc := newAssignmentFixture(t, "A", "B")
	sel, err := svc.Choose(context.Background(), AssignRequest{Strategy: StrategyLeastBusy, PreferredOperatorID: "B"})
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if sel.Operator.ID != "B" || sel.Strategy != StrategyPreferred {
		t.Fatalf("expected preferred B, got %+v", sel)
	}
}

func TestAssignment_PreferredOfflineFallsBack(t *testing.T) {
	ts, svc := newAssignmentFixture(t, "A", "B")
	ctx := context.Background()
	if _, err := ts.operators.SetStatus(ctx, "B", domain.OperatorStatusOffline); err != nil {
		t.Fatalf("set status: %v", err)
	}
	sel, err := svc.Choose(ctx, AssignRequest{PreferredOperatorID: "B"})
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if sel.Operator.ID != "A" || sel.Strategy != StrategyRoundRobin {
		t.Fatalf("expected round robin fallback to A, got %+v", sel)
	}

	sel, err = svc.Choose(ctx, AssignRequest{PreferredOperatorID: "ghost"})
	if err != nil || sel.Operator.ID != "A" {
		t.Fatalf("expected unknown preferred operator to fall back, got %+v err=%v", sel, err)
	}
}

func TestAssignment_EmptyPools(t *testing.T) {
	ctx := context.Background()

	_, empty := newAssignmentFixture(t)
	if _, err := empty.Choose(ctx, AssignRequest{}); !errors.Is(err, ErrNoAvailableOperators) {
		t.Fatalf("expected ErrNoAvailableOperators, got %v", err)
	}

	_, svc := newAssignmentFixture(t, "A")
	if _, err := svc.Choose(ctx, AssignRequest{ExcludeOperatorIDs: []string{"A"}}); !errors.Is(err, ErrNoSuitableOperators) {
		t.Fatalf("expected ErrNoSuitableOperators, got %v", err)
	}
}

func TestAssignment_InvalidStrategy(t *testing.T) {
	_, svc := newAssignmentFixture(t, "A")
	if _, err := svc.Choose(context.Background(), AssignRequest{Strategy: "random"}); !errors.Is(err, ErrInvalidStrategy) {
		t.Fatalf("expected ErrInvalidStrategy, got %v", err)
	}
}

func TestAssignment_AssignSession(t *testing.T) {
	ts, svc := newAssignmentFixture(t, "A")
	ctx := context.Background()
	s, _, _ := ts.sessions.CreateOrReuse(ctx, "u1")

	res, sel, err := svc.AssignSession(ctx, s.ID, AssignRequest{})
	if err != nil {
		t.Fatalf("assign session: %v", err)
	}
	if sel.Operator.ID != "A" || res.Session.OperatorID != "A" || res.JoinMessage == nil {
		t.Fatalf("unexpected assignment: %+v %+v", res, sel)
	}
}

func TestCandidatePool_ExcludesAndKeepsOrder(t *testing.T) {
	ops := []domain.Operator{
		{ID: "a", Status: domain.OperatorStatusOnline},
		{ID: "b", Status: domain.OperatorStatusBusy},
		{ID: "c", Status: domain.OperatorStatusOnline},
		{ID: "d", Status: domain.OperatorStatusOnline},
	}
	pool, err := CandidatePool(ops, []string{"c"})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if len(pool) != 2 || pool[0].ID != "a" || pool[1].ID != "d" {
		t.Fatalf("unexpected pool: %+v", pool)
	}
}

func TestPickLeastBusy_TieGoesToFirst(t *testing.T) {
	pool := []domain.Operator{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	got := PickLeastBusy(pool, map[string]int{"a": 1, "b": 0, "c": 0})
	if got.ID != "b" {
		t.Fatalf("expected b, got %s", got.ID)
	}
}

func TestPickMostRecent(t *testing.T) {
	now := time.Now()
	older, newer := now.Add(-time.Hour), now
	pool := []domain.Operator{
		{ID: "never"},
		{ID: "old", LastActiveAt: &older},
		{ID: "new", LastActiveAt: &newer},
		{ID: "tie", LastActiveAt: &newer},
	}
	if got := PickMostRecent(pool); got.ID != "new" {
		t.Fatalf("expected new, got %s", got.ID)
	}
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]Strategy{
		"":            StrategyRoundRobin,
		"round_robin": StrategyRoundRobin,
		"least_busy":  StrategyLeastBusy,
		"most_recent": StrategyMostRecent,
	}
	for raw, want := range cases {
		got, err := ParseStrategy(raw)
		if err != nil || got != want {
			t.Fatalf("ParseStrategy(%q) = %s, %v", raw, got, err)
		}
	}
	if _, err := ParseStrategy("preferred"); !errors.Is(err, ErrInvalidStrategy) {
		t.Fatalf("expected preferred to be result-only, got %v", err)
	}
}
