package playout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/friendsincode/airwave/internal/events"
	"github.com/friendsincode/airwave/internal/models"
)

type fakeFiles struct {
	mu        sync.Mutex
	scheduled []string
	removed   []string
	purges    int
}

func (f *fakeFiles) ScheduleCleanup(path string) {
	f.mu.Lock()
	f.scheduled = append(f.scheduled, path)
	f.mu.Unlock()
}

func (f *fakeFiles) Remove(path string) {
	f.mu.Lock()
	f.removed = append(f.removed, path)
	f.mu.Unlock()
}

func (f *fakeFiles) PurgeAll(context.Context) (int, error) {
	f.mu.Lock()
	f.purges++
	f.mu.Unlock()
	return 3, nil
}

func (f *fakeFiles) scheduledPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scheduled...)
}

func track(title string, seconds float64) *models.Track {
	return &models.Track{Title: title, FilePath: "/sound/" + title + ".mp3", DurationSeconds: seconds}
}

func newTestQueue(t *testing.T, opts Options) (*Queue, *fakeFiles, *events.Bus) {
	t.Helper()
	files := &fakeFiles{}
	bus := events.NewBus()
	return NewQueue(NewMemoryStore(), files, bus, opts, zerolog.Nop()), files, bus
}

func runQueue(t *testing.T, q *Queue) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	return func() {
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected Run error: %v", err)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnqueuePromotesImmediatelyWhenIdle(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	a, b := track("a", 60), track("b", 60)
	if err := q.Enqueue(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, b); err != nil {
		t.Fatal(err)
	}

	snap := q.Snapshot()
	if snap.Current == nil || snap.Current.Title != "a" || snap.Current.Status != models.TrackPlaying {
		t.Fatalf("expected a playing, got %+v", snap.Current)
	}
	if snap.Total != 1 || len(snap.Queue) != 1 || snap.Queue[0].Title != "b" {
		t.Fatalf("expected only b waiting, got %+v", snap.Queue)
	}
	if snap.Queue[0].Status != models.TrackWaiting {
		t.Fatalf("expected b waiting, got %s", snap.Queue[0].Status)
	}
}

func TestSnapshotIsStableWithoutMutation(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	q.Enqueue(context.Background(), track("a", 60))
	q.Enqueue(context.Background(), track("b", 60))

	first, second := q.Snapshot(), q.Snapshot()
	if first.Current.ID != second.Current.ID || first.Total != second.Total || first.Queue[0].ID != second.Queue[0].ID {
		t.Fatalf("snapshots differ: %+v vs %+v", first, second)
	}
	// Mutating a snapshot must not leak into the queue.
	first.Current.Title = "mutated"
	if q.Current().Title != "a" {
		t.Fatal("snapshot shares memory with queue state")
	}
}

func TestPlaysInSubmissionOrderOneAtATime(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q, files, bus := newTestQueue(t, Options{})
	playing := bus.Subscribe(events.EventTrackPlaying)

	var (
		mu    sync.Mutex
		order []string
	)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for p := range playing {
			mu.Lock()
			order = append(order, p["title"].(string))
			mu.Unlock()
			// At most one track is ever playing.
			if snap := q.Snapshot(); snap.Current != nil {
				for _, w := range snap.Queue {
					if w.Status == models.TrackPlaying {
						t.Errorf("waiting track %s marked playing", w.Title)
					}
				}
			}
		}
	}()

	stop := runQueue(t, q)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		q.Enqueue(ctx, track(title, 0.03))
	}

	waitFor(t, "all tracks finished", func() bool {
		return len(files.scheduledPaths()) == 3 && q.Current() == nil
	})
	stop()
	bus.Unsubscribe(events.EventTrackPlaying, playing)
	<-collectorDone

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	paths := files.scheduledPaths()
	if paths[0] != "/sound/a.mp3" || paths[2] != "/sound/c.mp3" {
		t.Fatalf("unexpected cleanup order %v", paths)
	}
}

func TestTrackPlaysForItsDuration(t *testing.T) {
	q, files, _ := newTestQueue(t, Options{})
	stop := runQueue(t, q)
	defer stop()

	start := time.Now()
	q.Enqueue(context.Background(), track("a", 0.2))
	waitFor(t, "track finished", func() bool { return len(files.scheduledPaths()) == 1 })

	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("track finished after %v, before its duration", elapsed)
	}
}

func TestZeroDurationDoesNotStall(t *testing.T) {
	q, files, _ := newTestQueue(t, Options{})
	stop := runQueue(t, q)
	defer stop()

	q.Enqueue(context.Background(), track("zero", 0))
	q.Enqueue(context.Background(), track("negative", -5))
	q.Enqueue(context.Background(), track("after", 0.01))

	waitFor(t, "queue drained", func() bool { return len(files.scheduledPaths()) == 3 })
}

func TestSnapshotDoesNotBlockDuringPlayback(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	stop := runQueue(t, q)
	defer stop()

	q.Enqueue(context.Background(), track("long", 30))
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		q.Snapshot()
		q.Enqueue(context.Background(), track("next", 1))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("snapshot or enqueue blocked while a track was playing")
	}
}

func TestClearStopsPlaybackAndPurges(t *testing.T) {
	q, files, bus := newTestQueue(t, Options{ClearStopsPlayback: true})
	cleared := bus.Subscribe(events.EventQueueCleared)
	stop := runQueue(t, q)
	defer stop()

	ctx := context.Background()
	q.Enqueue(ctx, track("a", 30))
	q.Enqueue(ctx, track("b", 30))
	q.Enqueue(ctx, track("c", 30))

	res, err := q.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !res.StoppedCurrent || res.DroppedWaiting != 2 {
		t.Fatalf("unexpected clear result %+v", res)
	}
	snap := q.Snapshot()
	if snap.Current != nil || snap.Total != 0 {
		t.Fatalf("expected empty queue, got %+v", snap)
	}
	if files.purges != 1 {
		t.Fatalf("expected one purge, got %d", files.purges)
	}
	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("expected queue.cleared event")
	}

	// The queue is usable again right away.
	q.Enqueue(ctx, track("d", 30))
	if cur := q.Current(); cur == nil || cur.Title != "d" {
		t.Fatalf("expected d to start after clear, got %+v", cur)
	}
}

func TestClearKeepsPlayingTrackWhenConfigured(t *testing.T) {
	q, files, _ := newTestQueue(t, Options{ClearStopsPlayback: false})
	ctx := context.Background()
	q.Enqueue(ctx, track("a", 30))
	q.Enqueue(ctx, track("b", 30))

	res, err := q.Clear(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.StoppedCurrent || res.DroppedWaiting != 1 {
		t.Fatalf("unexpected clear result %+v", res)
	}
	if cur := q.Current(); cur == nil || cur.Title != "a" {
		t.Fatalf("expected a to keep playing, got %+v", cur)
	}
	if files.purges != 0 || len(files.removed) != 1 || files.removed[0] != "/sound/b.mp3" {
		t.Fatalf("unexpected file actions: purges=%d removed=%v", files.purges, files.removed)
	}
}

func TestClearOnEmptyQueue(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{ClearStopsPlayback: true})
	res, err := q.Clear(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.StoppedCurrent || res.DroppedWaiting != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

type failingStore struct{ *MemoryStore }

func (failingStore) Submit(context.Context, *models.Track) error   { return errors.New("store down") }
func (failingStore) Activate(context.Context, *models.Track) error { panic("boom") }
func (failingStore) Complete(context.Context, int64) error         { return errors.New("store down") }

func TestStoreFailuresDoNotStopPlayback(t *testing.T) {
	files := &fakeFiles{}
	q := NewQueue(failingStore{NewMemoryStore()}, files, events.NewBus(), Options{}, zerolog.Nop())
	stop := runQueue(t, q)
	defer stop()

	q.Enqueue(context.Background(), track("a", 0.01))
	q.Enqueue(context.Background(), track("b", 0.01))

	waitFor(t, "both tracks finished", func() bool { return len(files.scheduledPaths()) == 2 })
}

func TestRunStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q, _, _ := newTestQueue(t, Options{})
	q.Enqueue(context.Background(), track("long", 60))
	stop := runQueue(t, q)
	time.Sleep(10 * time.Millisecond)
	stop()
}

// hangingStore blocks Submit until its context expires.
type hangingStore struct {
	*MemoryStore
	entered chan struct{}
}

func (s hangingStore) Submit(ctx context.Context, _ *models.Track) error {
	s.entered <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func TestSlowStoreDoesNotBlockReaders(t *testing.T) {
	store := hangingStore{MemoryStore: NewMemoryStore(), entered: make(chan struct{}, 1)}
	q := NewQueue(store, &fakeFiles{}, events.NewBus(), Options{StoreTimeout: time.Second}, zerolog.Nop())

	if err := q.Enqueue(context.Background(), track("a", 60)); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Enqueue(context.Background(), track("b", 60))
	}()
	<-store.entered

	start := time.Now()
	snap := q.Snapshot()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Snapshot took %v while the store was stalled", elapsed)
	}
	if snap.Current == nil || snap.Current.Title != "a" || snap.Total != 1 || snap.Queue[0].Title != "b" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if cur := q.Current(); cur == nil || cur.Title != "a" {
		t.Fatalf("unexpected current %+v", cur)
	}

	<-done
}

func TestStoreMirrorsTransitionsInOrder(t *testing.T) {
	store := NewMemoryStore()
	q := NewQueue(store, &fakeFiles{}, events.NewBus(), Options{}, zerolog.Nop())
	ctx := context.Background()

	q.Enqueue(ctx, track("a", 60))
	q.Enqueue(ctx, track("b", 60))
	q.Enqueue(ctx, track("c", 60))
	q.finish(ctx, q.current, "completed")

	active, err := store.Active(ctx)
	if err != nil || active == nil || active.Title != "b" {
		t.Fatalf("expected b active, got %+v (%v)", active, err)
	}
	waiting, err := store.Waiting(ctx)
	if err != nil || len(waiting) != 1 || waiting[0].Title != "c" {
		t.Fatalf("expected [c] waiting, got %+v (%v)", waiting, err)
	}
}

func TestFinishRecoversFromPanicWithoutHoldingLock(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		// A nil track matches the idle queue and panics inside the locked section.
		q.finish(context.Background(), nil, "completed")
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("finish deadlocked after recovering")
	}
	if err := q.Enqueue(context.Background(), track("a", 60)); err != nil {
		t.Fatal(err)
	}
	if cur := q.Current(); cur == nil || cur.Title != "a" {
		t.Fatalf("unexpected current %+v", cur)
	}
}
