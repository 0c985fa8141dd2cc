package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	syncErrors "github.com/teleregnet/syncbridge/errors"
)

func newTestManager() *Manager {
	return NewManager(NewMemoryStore(), nil)
}

func TestStartThenSecondStartRejected(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	first, err := m.Start(ctx, "agency-fr")
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	_, err = m.Start(ctx, "agency-fr")
	if !errors.Is(err, syncErrors.ErrSessionAlreadyActive) {
		t.Fatalf("second Start err = %v, want ErrSessionAlreadyActive", err)
	}

	// A different agency is unaffected.
	if _, err := m.Start(ctx, "agency-de"); err != nil {
		t.Fatalf("other agency Start: %v", err)
	}

	// Terminating the first session frees the guard.
	if err := m.UpdateStatus(ctx, first.ID, StatusCompleted, Stats{}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := m.Start(ctx, "agency-fr"); err != nil {
		t.Fatalf("Start after completion: %v", err)
	}
}

func TestConcurrentStartYieldsExactlyOneSuccess(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	const n = 32
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Start(ctx, "agency-fr")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, syncErrors.ErrSessionAlreadyActive):
			rejections++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if rejections != n-1 {
		t.Errorf("rejections = %d, want %d", rejections, n-1)
	}
}

func TestUpdateStatusMonotonic(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	sess, _ := m.Start(ctx, "agency-fr")
	if err := m.UpdateStatus(ctx, sess.ID, StatusRunning, Stats{OperationsProcessed: 3}); err != nil {
		t.Fatalf("to running: %v", err)
	}
	if err := m.UpdateStatus(ctx, sess.ID, StatusFailed, Stats{Errors: []string{"timeout"}}); err != nil {
		t.Fatalf("to failed: %v", err)
	}

	err := m.UpdateStatus(ctx, sess.ID, StatusRunning, Stats{})
	if !errors.Is(err, syncErrors.ErrSessionTerminal) {
		t.Errorf("transition out of terminal err = %v, want ErrSessionTerminal", err)
	}

	got, _ := m.Get(ctx, sess.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.OperationsProcessed != 3 || len(got.Errors) != 1 {
		t.Errorf("stats not accumulated: %+v", got)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not stamped on terminal transition")
	}
}

func TestStopIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	sess, _ := m.Start(ctx, "agency-fr")

	stopped, err := m.Stop(ctx, sess.ID)
	if err != nil || !stopped {
		t.Fatalf("first Stop = (%v, %v), want (true, nil)", stopped, err)
	}
	stopped, err = m.Stop(ctx, sess.ID)
	if err != nil || stopped {
		t.Fatalf("second Stop = (%v, %v), want (false, nil)", stopped, err)
	}
	if stopped, _ := m.Stop(ctx, "unknown-session"); stopped {
		t.Error("stopping unknown session should return false")
	}

	// Guard released: new session can start immediately.
	if _, err := m.Start(ctx, "agency-fr"); err != nil {
		t.Fatalf("Start after stop: %v", err)
	}

	if !m.IsStopped(ctx, sess.ID) {
		t.Error("IsStopped should report true for stopped session")
	}
}

// slowUpdateStore stalls the first running-status write so another caller
// can try to transition the same session while the write is in flight.
type slowUpdateStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowUpdateStore) Update(ctx context.Context, sess *SyncSession) error {
	if sess.Status == StatusRunning {
		s.once.Do(func() {
			close(s.entered)
			<-s.release
		})
	}
	return s.MemoryStore.Update(ctx, sess)
}

func TestStopNotUndoneByInFlightStatusWrite(t *testing.T) {
	ctx := context.Background()
	store := &slowUpdateStore{
		MemoryStore: NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	m := NewManager(store, nil)

	sess, err := m.Start(ctx, "agency-fr")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	updateDone := make(chan error, 1)
	go func() {
		updateDone <- m.UpdateStatus(ctx, sess.ID, StatusRunning, Stats{})
	}()
	<-store.entered

	// The stop must wait for the in-flight transition instead of slipping
	// between its read and write.
	type stopResult struct {
		stopped bool
		err     error
	}
	stopDone := make(chan stopResult, 1)
	go func() {
		stopped, err := m.Stop(ctx, sess.ID)
		stopDone <- stopResult{stopped, err}
	}()

	time.Sleep(20 * time.Millisecond)
	close(store.release)

	if err := <-updateDone; err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	res := <-stopDone
	if res.err != nil || !res.stopped {
		t.Fatalf("Stop = (%v, %v), want (true, nil)", res.stopped, res.err)
	}

	got, _ := m.Get(ctx, sess.ID)
	if got.Status != StatusStopped {
		t.Fatalf("status = %s after Stop returned true, want stopped", got.Status)
	}
	if _, err := m.Start(ctx, "agency-fr"); err != nil {
		t.Errorf("Start after stop: %v", err)
	}
}

func TestStopLoserOfTerminalRaceReturnsFalse(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	sess, _ := m.Start(ctx, "agency-fr")
	if err := m.UpdateStatus(ctx, sess.ID, StatusCompleted, Stats{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stopped, err := m.Stop(ctx, sess.ID)
	if err != nil || stopped {
		t.Fatalf("Stop after completion = (%v, %v), want (false, nil)", stopped, err)
	}
}

func TestActiveListsOnlyPendingAndRunning(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	sess, _ := m.Start(ctx, "agency-fr")
	active, err := m.Active(ctx, "agency-fr")
	if err != nil || len(active) != 1 {
		t.Fatalf("Active = (%v, %v), want one session", active, err)
	}

	m.UpdateStatus(ctx, sess.ID, StatusCompleted, Stats{})
	active, _ = m.Active(ctx, "agency-fr")
	if len(active) != 0 {
		t.Errorf("Active after completion = %v, want empty", active)
	}
}

func TestRestoreRebuildsGuard(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	m1 := NewManager(store, nil)
	sess, _ := m1.Start(ctx, "agency-fr")

	// New manager over the same store, as after a process restart.
	m2 := NewManager(store, nil)
	if err := m2.Restore(ctx, []string{"agency-fr"}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := m2.Start(ctx, "agency-fr"); !errors.Is(err, syncErrors.ErrSessionAlreadyActive) {
		t.Errorf("Start after restore err = %v, want ErrSessionAlreadyActive", err)
	}

	m2.Stop(ctx, sess.ID)
	if _, err := m2.Start(ctx, "agency-fr"); err != nil {
		t.Errorf("Start after stop: %v", err)
	}
}
