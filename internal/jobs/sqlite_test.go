package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	want := Job{ID: "p1", UserID: "u1", State: StatePending, UpdatedAt: time.Now().UTC()}
	if err := store.Put(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != want.ID || got.UserID != want.UserID || got.State != want.State {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at not persisted")
	}
}

func TestGetUnknownJob(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutReplacesExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_ = store.Put(ctx, Job{ID: "p1", UserID: "u1", State: StatePending})
	if err := store.Put(ctx, Job{ID: "p1", UserID: "u1", State: StateProcessing}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateProcessing {
		t.Errorf("expected %s, got %s", StateProcessing, got.State)
	}
}

func TestPutRejectsInvalidState(t *testing.T) {
	store := openTestStore(t)
	err := store.Put(context.Background(), Job{ID: "p1", UserID: "u1", State: "exploded"})
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestSetState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_ = store.Put(ctx, Job{ID: "p1", UserID: "u1", State: StatePending})

	job, err := store.SetState(ctx, "p1", StateComplete)
	if err != nil {
		t.Fatal(err)
	}
	if job.State != StateComplete {
		t.Errorf("expected %s, got %s", StateComplete, job.State)
	}
	if job.UserID != "u1" {
		t.Errorf("owner lost in transition: %+v", job)
	}
}

func TestSetStateUnknownJob(t *testing.T) {
	store := openTestStore(t)
	_, err := store.SetState(context.Background(), "missing", StateComplete)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStateRejectsInvalidState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_ = store.Put(ctx, Job{ID: "p1", UserID: "u1", State: StatePending})

	_, err := store.SetState(ctx, "p1", "exploded")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestStateHelpers(t *testing.T) {
	cases := []struct {
		state    State
		terminal bool
		display  DisplayClass
	}{
		{StatePending, false, DisplayInProgress},
		{StateProcessing, false, DisplayInProgress},
		{StateComplete, true, DisplayComplete},
		{StateFailed, true, DisplayError},
	}
	for _, c := range cases {
		if got := c.state.Terminal(); got != c.terminal {
			t.Errorf("%s: Terminal() = %v, want %v", c.state, got, c.terminal)
		}
		if got := Display(c.state); got != c.display {
			t.Errorf("%s: Display() = %q, want %q", c.state, got, c.display)
		}
		if !c.state.Valid() {
			t.Errorf("%s must be valid", c.state)
		}
	}
	if State("exploded").Valid() {
		t.Error("unknown state must not be valid")
	}
}
