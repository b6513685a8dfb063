package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/calshare/internal/model"
)

func receive(t *testing.T, sub *Subscription) []model.Calendar {
	t.Helper()
	select {
	case list, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return list
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

// receiveUntil drains snapshots until one satisfies ok.
func receiveUntil(t *testing.T, sub *Subscription, ok func([]model.Calendar) bool) []model.Calendar {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case list, open := <-sub.C:
			if !open {
				t.Fatal("subscription closed")
			}
			if ok(list) {
				return list
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
		}
	}
}

func TestWatchDeliversInitialSnapshot(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	env.svc.Create(ctx, alice, "Existing")

	sub, err := env.svc.Watch(ctx, alice)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()

	list := receive(t, sub)
	if len(list) != 1 || list[0].Name != "Existing" {
		t.Errorf("initial = %+v, want [Existing]", list)
	}
}

func TestWatchPushesChanges(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")

	sub, err := env.svc.Watch(ctx, alice)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()
	receive(t, sub)

	c, _ := env.svc.Create(ctx, alice, "New")
	receiveUntil(t, sub, func(l []model.Calendar) bool { return len(l) == 1 })

	env.svc.Rename(ctx, alice, c.ID, "Renamed")
	receiveUntil(t, sub, func(l []model.Calendar) bool { return len(l) == 1 && l[0].Name == "Renamed" })

	env.svc.Delete(ctx, alice, c.ID)
	receiveUntil(t, sub, func(l []model.Calendar) bool { return len(l) == 0 })
}

func TestWatchSeesSharingAndRevocation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	c, _ := env.svc.Create(ctx, alice, "Shared")

	sub, err := env.svc.Watch(ctx, bob)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()
	if list := receive(t, sub); len(list) != 0 {
		t.Fatalf("initial = %+v, want empty", list)
	}

	env.svc.SetRole(ctx, alice, c.ID, "bob@example.com", model.RoleView)
	receiveUntil(t, sub, func(l []model.Calendar) bool { return len(l) == 1 })

	env.svc.RemoveMember(ctx, alice, c.ID, bob)
	receiveUntil(t, sub, func(l []model.Calendar) bool { return len(l) == 0 })
}

func TestWatchCancelIsIdempotent(t *testing.T) {
	env := setupService(t)
	alice := env.user(t, "alice@example.com")

	sub, err := env.svc.Watch(context.Background(), alice)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	sub.Cancel()
	sub.Cancel()

	// Drain the initial snapshot, then expect the channel to be closed.
	for range sub.C {
	}
	if got := env.svc.broker.WatcherCount(); got != 0 {
		t.Errorf("watchers = %d, want 0", got)
	}
}

func TestWatchEndsWithContext(t *testing.T) {
	env := setupService(t)
	alice := env.user(t, "alice@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := env.svc.Watch(ctx, alice)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for range sub.C {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
	sub.Cancel()
}

func TestWatchRequiresUser(t *testing.T) {
	env := setupService(t)
	if _, err := env.svc.Watch(context.Background(), ""); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestWatchRegistersBeforeInitialSnapshot(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")

	var registered int
	watchRegistered = func() {
		registered = env.svc.broker.WatcherCount()
		// A change landing before the first read must still show up.
		env.svc.Create(ctx, alice, "Racing")
	}
	t.Cleanup(func() { watchRegistered = func() {} })

	sub, err := env.svc.Watch(ctx, alice)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Cancel()

	if registered != 1 {
		t.Errorf("watchers before first read = %d, want 1", registered)
	}
	receiveUntil(t, sub, func(l []model.Calendar) bool { return len(l) == 1 && l[0].Name == "Racing" })
}
