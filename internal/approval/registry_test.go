package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jszach/conductor/internal/policy"
)

func TestRegistry_CreateAndResolve(t *testing.T) {
	r := NewRegistry()

	req, done := r.Create("u1", "p1", policy.CategoryExecuteShell, "run ls", time.Minute)
	if req.ID == "" {
		t.Fatal("request ID should not be empty")
	}
	if req.UserID != "u1" || req.PlanID != "p1" {
		t.Errorf("unexpected request identity: %+v", req)
	}
	if !req.ExpiresAt.After(req.CreatedAt) {
		t.Error("ExpiresAt should be after CreatedAt")
	}

	if !r.Resolve(req.ID, true) {
		t.Fatal("Resolve() = false, want true")
	}

	select {
	case res := <-done:
		if res != ResolutionApproved {
			t.Errorf("resolution = %v, want approved", res)
		}
	case <-time.After(time.Second):
		t.Fatal("wait handle never resolved")
	}

	if r.Len() != 0 {
		t.Errorf("Len() = %d after resolve, want 0", r.Len())
	}
}

func TestRegistry_ResolveRejected(t *testing.T) {
	r := NewRegistry()

	req, done := r.Create("u1", "", policy.CategoryInstallPackages, "pip install", time.Minute)
	if !r.Resolve(req.ID, false) {
		t.Fatal("Resolve() = false, want true")
	}
	if res := <-done; res != ResolutionRejected {
		t.Errorf("resolution = %v, want rejected", res)
	}
}

func TestRegistry_SingleResolution(t *testing.T) {
	r := NewRegistry()

	req, done := r.Create("u1", "p1", policy.CategoryExecuteShell, "run ls", time.Minute)

	if !r.Resolve(req.ID, true) {
		t.Fatal("first Resolve() = false, want true")
	}
	if r.Resolve(req.ID, false) {
		t.Error("second Resolve() = true, want false")
	}
	if r.Resolve(req.ID, true) {
		t.Error("third Resolve() = true, want false")
	}

	// The waiter sees exactly the first resolution.
	if res := <-done; res != ResolutionApproved {
		t.Errorf("resolution = %v, want approved", res)
	}
	// Channel is closed after the single send.
	if _, ok := <-done; ok {
		t.Error("wait handle should be closed after resolution")
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	if r.Resolve("nope", true) {
		t.Error("Resolve(unknown) = true, want false")
	}
}

func TestRegistry_LazyExpiryOnResolve(t *testing.T) {
	r := NewRegistry()

	req, done := r.Create("u1", "p1", policy.CategoryExecuteShell, "run ls", time.Minute)

	// Jump past the expiry.
	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if r.Resolve(req.ID, true) {
		t.Error("Resolve() on expired request = true, want false")
	}
	if res := <-done; res != ResolutionExpired {
		t.Errorf("resolution = %v, want expired", res)
	}
}

func TestRegistry_GetReleasesExpired(t *testing.T) {
	r := NewRegistry()

	req, done := r.Create("u1", "p1", policy.CategoryExecuteShell, "run ls", time.Minute)

	if got, ok := r.Get(req.ID); !ok || got.ID != req.ID {
		t.Fatalf("Get() = (%+v, %v), want the request", got, ok)
	}

	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if _, ok := r.Get(req.ID); ok {
		t.Error("Get() on expired request = true, want false")
	}
	if res := <-done; res != ResolutionExpired {
		t.Errorf("resolution = %v, want expired", res)
	}
}

func TestRegistry_ExpireStale(t *testing.T) {
	r := NewRegistry()

	_, d1 := r.Create("u1", "p1", policy.CategoryExecuteShell, "a", time.Minute)
	_, d2 := r.Create("u1", "p2", policy.CategoryExecutePython, "b", time.Hour)

	r.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	expired := r.ExpireStale()
	if len(expired) != 1 {
		t.Fatalf("ExpireStale() released %d requests, want 1", len(expired))
	}
	if res := <-d1; res != ResolutionExpired {
		t.Errorf("short-TTL resolution = %v, want expired", res)
	}
	select {
	case res := <-d2:
		t.Errorf("long-TTL waiter resolved early with %v", res)
	default:
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()

	r.Create("u1", "p1", policy.CategoryExecuteShell, "a", time.Minute)
	r.Create("u2", "p2", policy.CategoryExecutePython, "b", time.Minute)

	if got := len(r.List()); got != 2 {
		t.Errorf("List() returned %d requests, want 2", got)
	}
}

func TestRegistry_Discard(t *testing.T) {
	r := NewRegistry()

	req, done := r.Create("u1", "p1", policy.CategoryExecuteShell, "a", time.Minute)
	if !r.Discard(req.ID) {
		t.Fatal("Discard() = false, want true")
	}
	if r.Discard(req.ID) {
		t.Error("second Discard() = true, want false")
	}
	if r.Resolve(req.ID, true) {
		t.Error("Resolve() after Discard() = true, want false")
	}
	// Discard closes the handle without sending a resolution.
	if _, ok := <-done; ok {
		t.Error("discarded handle should be closed without a resolution")
	}
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry()

	_, done := r.Create("u1", "p1", policy.CategoryExecuteShell, "a", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Sweep(ctx, 5*time.Millisecond)

	// The sweep must release the waiter even though nobody polls.
	select {
	case res := <-done:
		if res != ResolutionExpired {
			t.Errorf("resolution = %v, want expired", res)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper never released the expired waiter")
	}
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	r := NewRegistry()

	req, done := r.Create("u1", "p1", policy.CategoryExecuteShell, "a", time.Minute)

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(approve bool) {
			defer wg.Done()
			if r.Resolve(req.ID, approve) {
				wins <- approve
			}
		}(i%2 == 0)
	}
	wg.Wait()
	close(wins)

	var winners []bool
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("%d resolvers won, want exactly 1", len(winners))
	}

	res := <-done
	if (res == ResolutionApproved) != winners[0] {
		t.Errorf("delivered resolution %v does not match winning resolve %v", res, winners[0])
	}
}
