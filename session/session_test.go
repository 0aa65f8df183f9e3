package session

import (
	"context"
	"sync"
	"testing"
)

func TestSessionCounters(t *testing.T) {
	s := New()
	if s.ID() == "" {
		t.Fatal("session must have an id")
	}

	s.RecordQuery("first")
	s.RecordQuery("second")
	s.RecordMasked(3)
	s.RecordMasked(0)
	s.RecordMasked(2)

	if got := s.Queries(); len(got) != 2 || got[0] != "first" {
		t.Fatalf("queries = %v", got)
	}
	if got := s.MaskedEntities(); got != 5 {
		t.Fatalf("masked = %d", got)
	}

	id := s.ID()
	s.Reset()
	if s.ID() != id {
		t.Fatal("reset must keep the id")
	}
	if len(s.Queries()) != 0 || s.MaskedEntities() != 0 {
		t.Fatal("reset must clear counters")
	}
}

func TestSessionQueriesCopy(t *testing.T) {
	s := New()
	s.RecordQuery("original")
	got := s.Queries()
	got[0] = "mutated"
	if s.Queries()[0] != "original" {
		t.Fatal("Queries returned the internal slice")
	}
}

func TestSessionContextRoundTrip(t *testing.T) {
	s := New()
	ctx := NewContext(context.Background(), s)
	got, ok := FromContext(ctx)
	if !ok || got != s {
		t.Fatalf("FromContext = %v, %v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("bare context should carry no session")
	}
}

func TestSessionConcurrentUse(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordQuery("q")
			s.RecordMasked(1)
		}()
	}
	wg.Wait()
	if len(s.Queries()) != 20 || s.MaskedEntities() != 20 {
		t.Fatalf("queries=%d masked=%d", len(s.Queries()), s.MaskedEntities())
	}
}
