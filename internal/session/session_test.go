package session

import (
	"path/filepath"
	"testing"
)

func TestRehydrate_Idle(t *testing.T) {
	s := NewMemoryStore()
	sess, resume := Rehydrate(s)
	if resume {
		t.Error("empty store must not resume")
	}
	if sess.Active || sess.Stopped {
		t.Errorf("unexpected session state: %+v", sess)
	}
}

func TestRehydrate_Active(t *testing.T) {
	s := NewMemoryStore()
	SaveActive(s, 4, 10)

	sess, resume := Rehydrate(s)
	if !resume {
		t.Fatal("active session must resume")
	}
	if sess.CurrentPage != 4 {
		t.Errorf("CurrentPage = %d, want 4", sess.CurrentPage)
	}
	if sess.TotalPages != 10 {
		t.Errorf("TotalPages = %d, want 10", sess.TotalPages)
	}
}

func TestRehydrate_UnknownTotalStaysUnknown(t *testing.T) {
	s := NewMemoryStore()
	SaveActive(s, 2, 0)

	sess, resume := Rehydrate(s)
	if !resume {
		t.Fatal("active session must resume")
	}
	if sess.TotalPages != 0 {
		t.Errorf("TotalPages = %d, want 0 (unknown, not defaulted)", sess.TotalPages)
	}
}

func TestRehydrate_StoppedDominatesActive(t *testing.T) {
	s := NewMemoryStore()
	// A stale active flag alongside a sticky stop: stop must win.
	SaveActive(s, 4, 10)
	s.Set(keyStopped, "1")

	sess, resume := Rehydrate(s)
	if resume {
		t.Fatal("stopped session must never resume")
	}
	if !sess.Stopped {
		t.Error("expected Stopped in rehydrated session")
	}
}

func TestMarkStopped_IsSticky(t *testing.T) {
	s := NewMemoryStore()
	SaveActive(s, 3, 5)
	MarkStopped(s)

	if !IsStopped(s) {
		t.Fatal("expected sticky stopped flag")
	}
	if _, resume := Rehydrate(s); resume {
		t.Error("must not resume after stop")
	}

	// Writing active again without clearing must still lose to the flag.
	SaveActive(s, 4, 5)
	if _, resume := Rehydrate(s); resume {
		t.Error("stale active write must not override stop")
	}
}

func TestClear_ResetsEverything(t *testing.T) {
	s := NewMemoryStore()
	SaveActive(s, 3, 5)
	MarkStopped(s)
	Clear(s)

	if IsStopped(s) {
		t.Error("clear must remove the stopped flag")
	}
	if _, resume := Rehydrate(s); resume {
		t.Error("cleared store must be idle")
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	SaveActive(s, 7, 9)

	// A new store on the same path models the next page load's fresh process.
	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to reopen file store: %v", err)
	}

	sess, resume := Rehydrate(reopened)
	if !resume {
		t.Fatal("expected resume after reopen")
	}
	if sess.CurrentPage != 7 || sess.TotalPages != 9 {
		t.Errorf("rehydrated session = %+v", sess)
	}
}

func TestFileStore_StopSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}
	SaveActive(s, 2, 4)
	MarkStopped(s)

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("failed to reopen file store: %v", err)
	}
	if !IsStopped(reopened) {
		t.Error("stopped flag must survive reopen")
	}
	if _, resume := Rehydrate(reopened); resume {
		t.Error("must not resume a stopped session after reopen")
	}
}
