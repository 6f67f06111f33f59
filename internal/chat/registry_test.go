package chat

import (
	"errors"
	"sync"
	"testing"
)

// stubStream is a Stream that never delivers data and counts how it was
// torn down.
type stubStream struct {
	mu     sync.Mutex
	closes int
	aborts int
}

func (s *stubStream) Read(p []byte) (int, error) { select {} }
func (s *stubStream) Write(p []byte) (int, error) { return len(p), nil }

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *stubStream) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts++
	return nil
}

func (s *stubStream) counts() (closes, aborts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes, s.aborts
}

func newTestSession(id int) *Session {
	return newSession(id, "test", &stubStream{}, 4)
}

func TestSequenceStartsAtOneAndNeverRepeats(t *testing.T) {
	seq := NewSequence(0)
	if got := seq.Next(); got != 1 {
		t.Fatalf("Expected first id 1, got %d", got)
	}

	var mu sync.Mutex
	seen := map[int]bool{1: true}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := seq.Next()
			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("id %d minted twice", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()

	if len(seen) != 51 {
		t.Errorf("Expected 51 distinct ids, got %d", len(seen))
	}
}

func TestRegistryInsertRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	if err := r.Insert(newTestSession(1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := r.Insert(newTestSession(1)); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Expected ErrDuplicateID, got %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", r.Count())
	}
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := newTestSession(7)
	_ = r.Insert(s)

	got, ok := r.Remove(7)
	if !ok || got != s {
		t.Fatalf("Expected to remove session 7, got %v %v", got, ok)
	}
	if _, ok := r.Remove(7); ok {
		t.Error("Expected second Remove to report false")
	}
	if _, ok := r.Get(7); ok {
		t.Error("Expected Get to miss after Remove")
	}
}

func TestRegistrySnapshotOrderedByID(t *testing.T) {
	r := NewRegistry()
	for _, id := range []int{5, 2, 9, 1} {
		_ = r.Insert(newTestSession(id))
	}

	snap := r.Snapshot()
	want := []int{1, 2, 5, 9}
	if len(snap) != len(want) {
		t.Fatalf("Expected %d sessions, got %d", len(want), len(snap))
	}
	for i, s := range snap {
		if s.ID() != want[i] {
			t.Errorf("Position %d: expected id %d, got %d", i, want[i], s.ID())
		}
	}
}

func TestRegistryForEachFiltersAndToleratesRemoval(t *testing.T) {
	r := NewRegistry()
	for id := 1; id <= 4; id++ {
		s := newTestSession(id)
		s.chatMode = id%2 == 0
		_ = r.Insert(s)
	}

	var visited []int
	r.ForEach(inChat, func(s *Session) {
		visited = append(visited, s.ID())
		// Removing during iteration must neither deadlock nor revisit.
		r.Remove(s.ID())
		r.Remove(4)
	})

	if len(visited) != 2 || visited[0] != 2 || visited[1] != 4 {
		t.Errorf("Expected to visit [2 4] from the starting snapshot, got %v", visited)
	}
	if r.Count() != 2 {
		t.Errorf("Expected 2 sessions left, got %d", r.Count())
	}
}

func TestRegistryCloseClearsAndClosesSessions(t *testing.T) {
	r := NewRegistry()
	s := newTestSession(1)
	_ = r.Insert(s)

	r.Close()

	if r.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Count())
	}
	if s.Send("late") {
		t.Error("Expected Send to fail on a closed session")
	}
	if line := <-s.send; line != "Server is shutting down." {
		t.Errorf("Expected shutdown notice queued, got %q", line)
	}
}

func TestSessionOverflowAbortsStream(t *testing.T) {
	stream := &stubStream{}
	s := newSession(1, "test", stream, 1)
	if !s.Send("first") {
		t.Fatal("Expected first Send to succeed")
	}
	if s.Send("second") {
		t.Error("Expected Send to report the overflowing line as not queued")
	}

	if !errors.Is(s.failed(), errSlowConsumer) {
		t.Errorf("Expected errSlowConsumer, got %v", s.failed())
	}
	if closes, aborts := stream.counts(); aborts != 1 || closes != 0 {
		t.Errorf("Expected one abort and no close, got aborts=%d closes=%d", aborts, closes)
	}

	// Later lines are refused without aborting again.
	if s.Send("third") {
		t.Error("Expected Send to refuse lines for a failed session")
	}
	if _, aborts := stream.counts(); aborts != 1 {
		t.Errorf("Expected a single abort, got %d", aborts)
	}
}

func TestShutdownNeverFailsOnFullQueue(t *testing.T) {
	stream := &stubStream{}
	s := newSession(1, "test", stream, 1)
	s.Send("first")
	s.shutdown()

	if err := s.failed(); err != nil {
		t.Errorf("Expected shutdown to leave the session healthy, got %v", err)
	}
	if _, aborts := stream.counts(); aborts != 0 {
		t.Errorf("Expected no abort, got %d", aborts)
	}
}

func TestSessionChatModeTransitions(t *testing.T) {
	s := newTestSession(1)
	if s.Name() != "User1" {
		t.Errorf("Expected default name User1, got %q", s.Name())
	}

	steps := []struct {
		on      bool
		changed bool
	}{
		{true, true},
		{true, false},
		{false, true},
		{false, false},
		{true, true},
	}
	for i, step := range steps {
		if got := s.setChatMode(step.on); got != step.changed {
			t.Errorf("Step %d: expected changed=%v, got %v", i, step.changed, got)
		}
		if s.InChat() != step.on {
			t.Errorf("Step %d: expected chatMode=%v", i, step.on)
		}
	}
}
