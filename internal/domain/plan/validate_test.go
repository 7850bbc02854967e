package plan_test

import (
	"errors"
	"testing"

	"github.com/leventea/orchid/internal/domain/plan"
)

func TestValidate_OK(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a"},
		plan.Task{ID: "b", DependsOn: []string{"a"}},
	)
	if err := plan.Validate(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingName(t *testing.T) {
	p := mkPlan(plan.Task{ID: "a"})
	p.Name = ""
	if err := plan.Validate(p); !errors.Is(err, plan.ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestValidate_BadStrategy(t *testing.T) {
	p := mkPlan(plan.Task{ID: "a"})
	p.Strategy = "ping_pong"
	if err := plan.Validate(p); !errors.Is(err, plan.ErrInvalidStrategy) {
		t.Fatalf("expected ErrInvalidStrategy, got %v", err)
	}
}

func TestValidate_DuplicateID(t *testing.T) {
	p := mkPlan(plan.Task{ID: "a"}, plan.Task{ID: "a"})
	if err := plan.Validate(p); !errors.Is(err, plan.ErrDuplicateTaskID) {
		t.Fatalf("expected ErrDuplicateTaskID, got %v", err)
	}
}

func TestValidate_Cycle(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a", DependsOn: []string{"b"}},
		plan.Task{ID: "b", DependsOn: []string{"a"}},
	)
	if err := plan.Validate(p); !errors.Is(err, plan.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestDiagnose_Clean(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a"},
		plan.Task{ID: "b", DependsOn: []string{"a"}},
	)
	rep := plan.Diagnose(p)
	if !rep.OK() {
		t.Fatalf("expected clean report, got %+v", rep)
	}
}

func TestDiagnose_ReportsAllProblems(t *testing.T) {
	p := mkPlan(
		plan.Task{ID: "a", DependsOn: []string{"b"}},
		plan.Task{ID: "b", DependsOn: []string{"a"}},
		plan.Task{ID: "c", DependsOn: []string{"ghost"}},
		plan.Task{ID: "d"},
	)
	rep := plan.Diagnose(p)
	if rep.OK() {
		t.Fatal("expected problems")
	}
	if len(rep.Cycles) != 2 {
		t.Fatalf("expected 2 cyclic tasks, got %v", rep.Cycles)
	}
	if deps := rep.MissingDeps["c"]; len(deps) != 1 || deps[0] != "ghost" {
		t.Fatalf("expected missing dep ghost for c, got %v", rep.MissingDeps)
	}
	if len(rep.Orphans) != 1 || rep.Orphans[0] != "d" {
		t.Fatalf("expected orphan d, got %v", rep.Orphans)
	}
}

func TestDiagnose_SingleTaskNotOrphan(t *testing.T) {
	p := mkPlan(plan.Task{ID: "only"})
	rep := plan.Diagnose(p)
	if len(rep.Orphans) != 0 {
		t.Fatalf("single-task plan should have no orphans, got %v", rep.Orphans)
	}
}
