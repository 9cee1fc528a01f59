package realtime

import (
	"fmt"
	"sync"
	"testing"

	"screen-server/internal/domain"
)

func TestRegistry_RegisterLookupDeregister(t *testing.T) {
	r := NewRegistry()
	h := newFakeHandle("c1")

	if _, ok := r.Lookup(h); ok {
		t.Fatalf("expected empty registry")
	}
	r.Register(h, "u1", domain.ParticipantUser, "s1")
	conn, ok := r.Lookup(h)
	if !ok || conn.ParticipantID != "u1" || conn.SessionID != "s1" {
		t.Fatalf("unexpected connection: %+v", conn)
	}

	if !r.UpdateSession(h, "s2") {
		t.Fatalf("expected update to succeed")
	}
	conn, _ = r.Lookup(h)
	if conn.SessionID != "s2" {
		t.Fatalf("expected s2, got %s", conn.SessionID)
	}

	if _, ok := r.Deregister(h); !ok {
		t.Fatalf("expected first deregister to report the connection")
	}
	if _, ok := r.Deregister(h); ok {
		t.Fatalf("expected second deregister to be a no-op")
	}
	if r.UpdateSession(h, "s3") {
		t.Fatalf("expected update on missing handle to fail")
	}
}

func TestRegistry_Filters(t *testing.T) {
	r := NewRegistry()
	r.Register(newFakeHandle("u1"), "u1", domain.ParticipantUser, "s1")
	r.Register(newFakeHandle("op-a"), "opA", domain.ParticipantOperator, "s1")
	r.Register(newFakeHandle("op-b"), "opB", domain.ParticipantOperator, "")
	r.Register(newFakeHandle("op-a2"), "opA", domain.ParticipantOperator, "s2")

	if n := len(r.All()); n != 4 {
		t.Fatalf("expected 4 connections, got %d", n)
	}
	ops := r.Operators()
	if len(ops) != 3 || ops[0].Handle.ID() != "op-a" || ops[2].Handle.ID() != "op-a2" {
		t.Fatalf("expected operators in registration order, got %+v", ops)
	}
	if n := len(r.InSession("s1")); n != 2 {
		t.Fatalf("expected 2 connections in s1, got %d", n)
	}
	if r.InSession("") != nil {
		t.Fatalf("empty session id must match nothing")
	}
	if n := len(r.OperatorConnections("opA")); n != 2 {
		t.Fatalf("expected 2 connections for opA, got %d", n)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := newFakeHandle(fmt.Sprintf("c%d", i))
			r.Register(h, "op", domain.ParticipantOperator, "s")
			_ = r.InSession("s")
			r.UpdateSession(h, "t")
			r.Deregister(h)
		}(i)
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestAliasMap(t *testing.T) {
	a := NewAliasMap()
	if got := a.Resolve(" tmp-1 "); got != "tmp-1" {
		t.Fatalf("expected passthrough for unmapped id, got %q", got)
	}
	a.Bind("tmp-1", "op-1")
	a.Bind("op-1", "op-1")
	a.Bind("", "op-2")
	if got := a.Resolve("tmp-1"); got != "op-1" {
		t.Fatalf("expected op-1, got %q", got)
	}
	if a.Len() != 1 {
		t.Fatalf("expected only real aliases stored, got %d", a.Len())
	}
}
