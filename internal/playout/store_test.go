package playout

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/models"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test")
}

func TestJobStores(t *testing.T) {
	stores := map[string]func(t *testing.T) JobStore{
		"memory": func(*testing.T) JobStore { return NewMemoryStore() },
		"redis":  func(t *testing.T) JobStore { return newRedisStore(t) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			// Track IDs are millisecond timestamps and must survive encoding.
			a := &models.Track{ID: 1760000000123, Title: "a", Status: models.TrackPlaying}
			b := &models.Track{ID: 1760000000124, Title: "b", Status: models.TrackWaiting}
			c := &models.Track{ID: 1760000000125, Title: "c", Status: models.TrackWaiting}

			if err := s.Activate(ctx, a); err != nil {
				t.Fatalf("activate: %v", err)
			}
			for _, tr := range []*models.Track{b, c} {
				if err := s.Submit(ctx, tr); err != nil {
					t.Fatalf("submit: %v", err)
				}
			}

			waiting, err := s.Waiting(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(waiting) != 2 || waiting[0].ID != b.ID || waiting[1].ID != c.ID {
				t.Fatalf("unexpected waiting list %+v", waiting)
			}

			// Completing a stale id leaves the active job alone.
			if err := s.Complete(ctx, 42); err != nil {
				t.Fatal(err)
			}
			if active, _ := s.Active(ctx); active == nil || active.ID != a.ID {
				t.Fatalf("expected a active, got %+v", active)
			}

			if err := s.Complete(ctx, a.ID); err != nil {
				t.Fatal(err)
			}
			promoted, err := s.Promote(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if promoted == nil || promoted.ID != b.ID || promoted.Status != models.TrackPlaying {
				t.Fatalf("expected b promoted, got %+v", promoted)
			}
			if active, _ := s.Active(ctx); active == nil || active.ID != b.ID {
				t.Fatalf("expected b active, got %+v", active)
			}

			n, err := s.DrainWaiting(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if n != 1 {
				t.Fatalf("expected 1 drained, got %d", n)
			}
			if next, err := s.Promote(ctx); err != nil || next != nil {
				t.Fatalf("expected empty promote, got %+v, %v", next, err)
			}
		})
	}
}

func TestRedisStoreReset(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	s.Activate(ctx, &models.Track{ID: 1, Title: "a"})
	s.Submit(ctx, &models.Track{ID: 2, Title: "b"})

	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if active, _ := s.Active(ctx); active != nil {
		t.Fatalf("expected no active job, got %+v", active)
	}
	if waiting, _ := s.Waiting(ctx); len(waiting) != 0 {
		t.Fatalf("expected empty waiting list, got %d", len(waiting))
	}
}

func TestQueueMirrorsIntoRedisStore(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	q := NewQueue(store, &fakeFiles{}, events.NewBus(), Options{}, zerolog.Nop())

	q.Enqueue(ctx, track("a", 60))
	q.Enqueue(ctx, track("b", 60))

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.Title != "a" {
		t.Fatalf("expected a mirrored as active, got %+v", active)
	}
	waiting, _ := store.Waiting(ctx)
	if len(waiting) != 1 || waiting[0].Title != "b" {
		t.Fatalf("expected b mirrored as waiting, got %+v", waiting)
	}

	if _, err := q.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if active, _ := store.Active(ctx); active != nil {
		t.Fatalf("expected active cleared, got %+v", active)
	}
}

func TestRedisStoreDownDoesNotBlockQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	q := NewQueue(NewRedisStore(client, ""), &fakeFiles{}, events.NewBus(), Options{}, zerolog.Nop())
	if err := q.Enqueue(context.Background(), track("a", 60)); err != nil {
		t.Fatal(err)
	}
	if cur := q.Current(); cur == nil || cur.Title != "a" {
		t.Fatalf("expected a playing despite store outage, got %+v", cur)
	}
}
