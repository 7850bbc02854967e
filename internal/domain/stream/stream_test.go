package stream_test

import (
	"errors"
	"testing"

	"github.com/leventea/orchid/internal/domain/plan"
	"github.com/leventea/orchid/internal/domain/stream"
)

func TestTransition_Lifecycle(t *testing.T) {
	w := stream.WorkStream{ID: "s1", Status: stream.StatusInitializing}

	steps := []stream.Status{
		stream.StatusActive,
		stream.StatusInitializing, // pause
		stream.StatusActive,
		stream.StatusMerging,
		stream.StatusCompleted,
	}
	for _, next := range steps {
		if err := w.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if !w.Terminal() {
		t.Fatal("completed stream should be terminal")
	}
}

func TestTransition_Rejected(t *testing.T) {
	w := stream.WorkStream{ID: "s1", Status: stream.StatusInitializing}
	if err := w.Transition(stream.StatusCompleted); !errors.Is(err, stream.ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
	if w.Status != stream.StatusInitializing {
		t.Fatalf("failed transition must not change status, got %s", w.Status)
	}
}

func TestTransition_MergeFailure(t *testing.T) {
	w := stream.WorkStream{ID: "s1", Status: stream.StatusMerging}
	if err := w.Transition(stream.StatusFailed); err != nil {
		t.Fatalf("merging -> failed: %v", err)
	}
	if !w.Terminal() {
		t.Fatal("failed stream should be terminal")
	}
}

func TestToPlan_WaveOrdering(t *testing.T) {
	streams := []stream.WorkStream{
		{ID: "infra", Status: stream.StatusCompleted},
		{ID: "api", Status: stream.StatusInitializing, DependsOn: []string{"infra"}},
		{ID: "ui", Status: stream.StatusInitializing, DependsOn: []string{"api"}},
	}
	waves, err := plan.ComputeWaves(stream.ToPlan(streams))
	if err != nil {
		t.Fatalf("waves: %v", err)
	}
	if len(waves) != 3 {
		t.Fatalf("expected 3 waves, got %d", len(waves))
	}
	if waves[1].TaskIDs[0] != "api" {
		t.Fatalf("expected api in wave 1, got %v", waves[1].TaskIDs)
	}
}

func TestMerge_ByID(t *testing.T) {
	current := []stream.WorkStream{
		{ID: "a", Status: stream.StatusActive},
		{ID: "b", Status: stream.StatusInitializing},
	}
	incoming := []stream.WorkStream{
		{ID: "b", Status: stream.StatusCompleted},
		{ID: "c", Status: stream.StatusInitializing},
	}
	merged := stream.Merge(current, incoming)
	if len(merged) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(merged))
	}
	if merged[1].ID != "b" || merged[1].Status != stream.StatusCompleted {
		t.Fatalf("incoming record should replace by ID: %+v", merged[1])
	}
	if merged[2].ID != "c" {
		t.Fatalf("new record should append: %+v", merged[2])
	}
}
