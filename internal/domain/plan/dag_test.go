package plan_test

import (
	"errors"
	"testing"

	"github.com/leventea/orchid/internal/domain/plan"
)

func mkPlan(tasks ...plan.Task) *plan.Plan {
	return &plan.Plan{ID: "p1", Name: "test", Strategy: plan.StrategyParallel, Tasks: tasks}
}

func TestComputeWaves_Chain(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a"},
		plan.Task{ID: "b", DependsOn: []string{"a"}},
		plan.Task{ID: "c", DependsOn: []string{"b"}},
	)
	waves, err := plan.ComputeWaves(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("expected 3 waves, got %d", len(waves))
	}
	for i, want := range []string{"a", "b", "c"} {
		if waves[i].Index != i {
			t.Fatalf("wave %d has index %d", i, waves[i].Index)
		}
		if len(waves[i].TaskIDs) != 1 || waves[i].TaskIDs[0] != want {
			t.Fatalf("wave %d: expected [%s], got %v", i, want, waves[i].TaskIDs)
		}
	}
}

func TestComputeWaves_EveryTaskExactlyOnce(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a"},
		plan.Task{ID: "b"},
		plan.Task{ID: "c", DependsOn: []string{"a", "b"}},
		plan.Task{ID: "d", DependsOn: []string{"a"}},
		plan.Task{ID: "e", DependsOn: []string{"c", "d"}},
	)
	waves, err := plan.ComputeWaves(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]int{}
	for _, w := range waves {
		for _, id := range w.TaskIDs {
			seen[id]++
		}
	}
	if len(seen) != len(p.Tasks) {
		t.Fatalf("expected %d scheduled tasks, got %d", len(p.Tasks), len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("task %s appears in %d waves", id, n)
		}
	}

	// Every dependency edge u->v must satisfy wave(v) > wave(u).
	waveOf := map[string]int{}
	for _, w := range waves {
		for _, id := range w.TaskIDs {
			waveOf[id] = w.Index
		}
	}
	for i := range p.Tasks {
		for _, dep := range p.Tasks[i].DependsOn {
			if waveOf[p.Tasks[i].ID] <= waveOf[dep] {
				t.Fatalf("task %s (wave %d) not after dep %s (wave %d)",
					p.Tasks[i].ID, waveOf[p.Tasks[i].ID], dep, waveOf[dep])
			}
		}
	}
}

func TestComputeWaves_StableOrderWithinWave(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "z"},
		plan.Task{ID: "m"},
		plan.Task{ID: "a"},
	)
	waves, err := plan.ComputeWaves(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waves) != 1 {
		t.Fatalf("expected 1 wave, got %d", len(waves))
	}
	want := []string{"z", "m", "a"}
	for i, id := range waves[0].TaskIDs {
		if id != want[i] {
			t.Fatalf("expected insertion order %v, got %v", want, waves[0].TaskIDs)
		}
	}
}

func TestComputeWaves_Cycle(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a", DependsOn: []string{"b"}},
		plan.Task{ID: "b", DependsOn: []string{"a"}},
	)
	waves, err := plan.ComputeWaves(p)
	if !errors.Is(err, plan.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if waves != nil {
		t.Fatalf("expected no waves on cycle, got %v", waves)
	}
}

func TestComputeWaves_MissingDep(t *testing.T) {
	p := mkPlan(plan.Task{ID: "a", DependsOn: []string{"ghost"}})
	_, err := plan.ComputeWaves(p)
	if !errors.Is(err, plan.ErrMissingDep) {
		t.Fatalf("expected ErrMissingDep, got %v", err)
	}
}

func TestDownstreamOf_Diamond(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a"},
		plan.Task{ID: "b", DependsOn: []string{"a"}},
		plan.Task{ID: "c", DependsOn: []string{"a"}},
		plan.Task{ID: "d", DependsOn: []string{"b", "c"}},
	)
	got := plan.DownstreamOf(p, "a")
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDownstreamOf_Leaf(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a"},
		plan.Task{ID: "b", DependsOn: []string{"a"}},
	)
	if got := plan.DownstreamOf(p, "b"); len(got) != 0 {
		t.Fatalf("expected no downstream for leaf, got %v", got)
	}
}

func TestTierEscalate(t *testing.T) {
	cases := []struct {
		in, want plan.Tier
	}{
		{plan.TierTrivial, plan.TierSimple},
		{plan.TierSimple, plan.TierModerate},
		{plan.TierModerate, plan.TierComplex},
		{plan.TierComplex, plan.TierExpert},
		{plan.TierExpert, plan.TierExpert}, // clamped
	}
	for _, c := range cases {
		if got := c.in.Escalate(); got != c.want {
			t.Fatalf("%s: expected %s, got %s", c.in, c.want, got)
		}
	}
}

func TestReadyTasks(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a", Status: plan.TaskStatusCompleted},
		plan.Task{ID: "b", Status: plan.TaskStatusPending, DependsOn: []string{"a"}},
		plan.Task{ID: "c", Status: plan.TaskStatusPending, DependsOn: []string{"b"}},
	)
	ready := p.ReadyTasks()
	if len(ready) != 1 || ready[0] != "b" {
		t.Fatalf("expected [b], got %v", ready)
	}
}
