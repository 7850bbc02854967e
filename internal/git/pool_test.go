package git_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leventea/orchid/internal/git"
)

func TestPool_LimitsConcurrency(t *testing.T) {
	pool := git.NewPool(2)

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	gate := make(chan struct{})

	for it := 0; it < 6; it++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Run(context.Background(), func() error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-gate
				active.Add(-1)
				return nil
			})
		}()
	}

	close(gate)
	wg.Wait()

	if p := peak.Load(); p > 2 {
		t.Fatalf("pool allowed %d concurrent ops, limit 2", p)
	}
}

func TestPool_NilRunsDirectly(t *testing.T) {
	var pool *git.Pool
	ran := false
	if err := pool.Run(context.Background(), func() error { ran = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("fn should run without a pool")
	}
}

func TestPool_CancelledContext(t *testing.T) {
	pool := git.NewPool(1)
	release := make(chan struct{})
	holding := make(chan struct{})
	go func() {
		_ = pool.Run(context.Background(), func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Run(ctx, func() error { return nil })
	if err == nil {
		t.Fatal("expected context error while pool is full")
	}
	close(release)
}
