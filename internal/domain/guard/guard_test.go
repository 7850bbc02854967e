package guard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leventea/orchid/internal/domain/guard"
)

func recursivePolicy(maxParallel int) guard.Policy {
	return guard.Policy{
		Mode:             guard.ModeRecursive,
		MaxDepth:         3,
		MaxParallel:      maxParallel,
		RunawayThreshold: 10,
	}
}

func TestRequest_GrantsUpToCapacity(t *testing.T) {
	g := guard.New(recursivePolicy(3))

	for i := 0; i < 3; i++ {
		if d := g.Request(0); !d.Granted {
			t.Fatalf("request %d: expected grant, got %+v", i, d)
		}
	}

	d := g.Request(0)
	if d.Granted {
		t.Fatal("4th request should be denied")
	}
	if d.Reason != guard.ReasonCapacity {
		t.Fatalf("expected capacity reason, got %s", d.Reason)
	}

	s := g.Snapshot()
	if s.Active != 3 || s.TotalSpawned != 3 || s.Blocked != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
}

func TestRequest_ModeNone(t *testing.T) {
	g := guard.New(guard.Policy{Mode: guard.ModeNone, MaxParallel: 4, RunawayThreshold: 5})
	d := g.Request(0)
	if d.Granted || d.Reason != guard.ReasonModeForbids {
		t.Fatalf("expected mode denial, got %+v", d)
	}
}

func TestRequest_DepthLimit(t *testing.T) {
	g := guard.New(recursivePolicy(4))
	if d := g.Request(2); !d.Granted {
		t.Fatalf("depth 2 should be granted: %+v", d)
	}
	if d := g.Request(3); d.Granted || d.Reason != guard.ReasonDepth {
		t.Fatalf("depth 3 should hit depth limit, got %+v", d)
	}

	single := guard.New(guard.Policy{Mode: guard.ModeSingle, MaxParallel: 4, RunawayThreshold: 5})
	if d := single.Request(0); !d.Granted {
		t.Fatalf("single-level depth 0 should be granted: %+v", d)
	}
	if d := single.Request(1); d.Granted || d.Reason != guard.ReasonDepth {
		t.Fatalf("single-level depth 1 should be denied, got %+v", d)
	}
}

func TestRequest_SessionBudget(t *testing.T) {
	// Budget = threshold * maxParallel = 2*1 = 2 total spawns.
	g := guard.New(guard.Policy{
		Mode: guard.ModeRecursive, MaxDepth: 3, MaxParallel: 1, RunawayThreshold: 2,
	})
	if d := g.Request(0); !d.Granted {
		t.Fatalf("first grant failed: %+v", d)
	}
	g.Release()
	if d := g.Request(0); !d.Granted {
		t.Fatalf("second grant failed: %+v", d)
	}
	g.Release()
	if d := g.Request(0); d.Granted || d.Reason != guard.ReasonBudget {
		t.Fatalf("expected budget denial, got %+v", d)
	}
}

func TestWaitForSlot_AdmittedAfterRelease(t *testing.T) {
	g := guard.New(recursivePolicy(3))
	for it := 0; it < 3; it++ {
		if d := g.Request(0); !d.Granted {
			t.Fatal("setup grant failed")
		}
	}

	done := make(chan guard.Decision, 1)
	var started sync.WaitGroup
	started.Add(1)
	go func() {
		started.Done()
		done <- g.WaitForSlot(context.Background(), 0)
	}()
	started.Wait()

	// Give the waiter time to park, then free a slot.
	time.Sleep(20 * time.Millisecond)
	g.Release()

	select {
	case d := <-done:
		if !d.Granted {
			t.Fatalf("parked waiter should be admitted, got %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}

	if s := g.Snapshot(); s.Active != 3 {
		t.Fatalf("expected 3 active after handoff, got %d", s.Active)
	}
}

func TestWaitForSlot_FIFO(t *testing.T) {
	g := guard.New(recursivePolicy(1))
	if d := g.Request(0); !d.Granted {
		t.Fatal("setup grant failed")
	}

	order := make(chan int, 2)
	for _, i := range []int{1, 2} {
		i := i
		go func() {
			if d := g.WaitForSlot(context.Background(), 0); d.Granted {
				order <- i
				g.Release()
			}
		}()
		// Serialize goroutine parking so queue order is deterministic.
		time.Sleep(20 * time.Millisecond)
	}

	g.Release()
	first := <-order
	second := <-order
	if first != 1 || second != 2 {
		t.Fatalf("expected FIFO wakeup 1 then 2, got %d then %d", first, second)
	}
}

func TestWaitForSlot_Cancellation(t *testing.T) {
	g := guard.New(recursivePolicy(1))
	if d := g.Request(0); !d.Granted {
		t.Fatal("setup grant failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan guard.Decision, 1)
	go func() {
		done <- g.WaitForSlot(ctx, 0)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case d := <-done:
		if d.Granted || d.Reason != guard.ReasonCancelled {
			t.Fatalf("expected cancelled decision, got %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	if s := g.Snapshot(); s.Waiting != 0 {
		t.Fatalf("cancelled waiter left in queue: %+v", s)
	}
}

func TestWaitForSlot_DoesNotParkOnDepthDenial(t *testing.T) {
	g := guard.New(recursivePolicy(4))
	d := g.WaitForSlot(context.Background(), 5)
	if d.Granted || d.Reason != guard.ReasonDepth {
		t.Fatalf("expected immediate depth denial, got %+v", d)
	}
}

func TestFreeze_RejectsQueuedWaiters(t *testing.T) {
	g := guard.New(recursivePolicy(1))
	if d := g.Request(0); !d.Granted {
		t.Fatal("setup grant failed")
	}

	done := make(chan guard.Decision, 1)
	go func() {
		done <- g.WaitForSlot(context.Background(), 0)
	}()
	time.Sleep(20 * time.Millisecond)

	g.Freeze("manual stop")

	select {
	case d := <-done:
		if d.Granted || d.Reason != guard.ReasonFrozen {
			t.Fatalf("expected frozen denial for queued waiter, got %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("queued waiter not rejected by freeze")
	}

	if d := g.Request(0); d.Granted || d.Reason != guard.ReasonFrozen {
		t.Fatalf("expected frozen denial, got %+v", d)
	}
}

func TestCheckForRunaway_FreezesAtThreshold(t *testing.T) {
	g := guard.New(guard.Policy{Mode: guard.ModeNone, MaxParallel: 4, RunawayThreshold: 5})

	for i := 0; i < 5; i++ {
		if g.IsFrozen() {
			t.Fatalf("frozen too early after %d signals", i)
		}
		if !g.CheckForRunaway("I will spawn a new agent to handle the rest") {
			t.Fatalf("signal %d did not match", i)
		}
	}
	if !g.IsFrozen() {
		t.Fatal("expected frozen after 5 signals")
	}

	// The denial must carry the frozen reason, not the leaf-only mode's.
	if d := g.Request(0); d.Granted || d.Reason != guard.ReasonFrozen {
		t.Fatalf("expected frozen denial, got %+v", d)
	}
}

func TestCheckForRunaway_NoOpInDelegatingMode(t *testing.T) {
	g := guard.New(recursivePolicy(2))
	if g.CheckForRunaway("spawn a new agent for this") {
		t.Fatal("runaway check should be a no-op when delegation is permitted")
	}
	if s := g.Snapshot(); s.RunawaySignals != 0 {
		t.Fatalf("expected no signals, got %d", s.RunawaySignals)
	}
}

func TestCheckForRunaway_Paraphrase(t *testing.T) {
	g := guard.New(guard.Policy{Mode: guard.ModeNone, MaxParallel: 1, RunawayThreshold: 100})
	cases := []string{
		"Let me Spawn Another Sub-Agent for the tests.",
		"I'll delegate this to a helper.",
		"best to hand it off to another worker",
	}
	for _, text := range cases {
		if !g.CheckForRunaway(text) {
			t.Fatalf("expected match for %q", text)
		}
	}
	if g.CheckForRunaway("running the unit tests now") {
		t.Fatal("benign text should not match")
	}
}

func TestReset_ClearsFrozen(t *testing.T) {
	g := guard.New(guard.Policy{Mode: guard.ModeNone, MaxParallel: 1, RunawayThreshold: 1})
	g.CheckForRunaway("spawn a new agent")
	if !g.IsFrozen() {
		t.Fatal("expected frozen")
	}
	g.Reset()
	if g.IsFrozen() {
		t.Fatal("reset must clear frozen flag")
	}
	if s := g.Snapshot(); s.TotalSpawned != 0 || s.RunawaySignals != 0 || len(s.Audit) != 0 {
		t.Fatalf("reset left state behind: %+v", s)
	}
}
