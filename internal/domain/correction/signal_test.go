package correction_test

import (
	"strings"
	"testing"

	"github.com/leventea/orchid/internal/domain/correction"
)

func TestExtractSignals_Single(t *testing.T) {
	text := "Review done. <CORRECTION:task-3:api returns 500 on empty input:add a nil check> Otherwise fine."
	reqs := correction.ExtractSignals("reviewer-1", text)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(reqs))
	}
	r := reqs[0]
	if r.TargetID != "task-3" || r.Problem != "api returns 500 on empty input" ||
		r.FixHint != "add a nil check" || r.RequesterID != "reviewer-1" {
		t.Fatalf("unexpected request: %+v", r)
	}
}

func TestExtractSignals_MultiplePerText(t *testing.T) {
	text := "<CORRECTION:a:bad output:fix it>\nsome prose\n<CORRECTION:b:missing field:>"
	reqs := correction.ExtractSignals("r", text)
	if len(reqs) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(reqs))
	}
	if reqs[1].TargetID != "b" || reqs[1].FixHint != "" {
		t.Fatalf("unexpected second request: %+v", reqs[1])
	}
}

func TestExtractSignals_MalformedIgnored(t *testing.T) {
	cases := []string{
		"no signal here",
		"<CORRECTION:only-target>",
		"<CORRECTION:>",
		"<CORRECTION task-1 problem hint>",
		"CORRECTION:a:b:c",
	}
	for _, text := range cases {
		if reqs := correction.ExtractSignals("r", text); len(reqs) != 0 {
			t.Fatalf("%q: expected no signals, got %v", text, reqs)
		}
	}
}

func TestExtractSignals_MalformedAmongValid(t *testing.T) {
	text := "<CORRECTION:broken> <CORRECTION:ok:real problem:hint>"
	reqs := correction.ExtractSignals("r", text)
	if len(reqs) != 1 || reqs[0].TargetID != "ok" {
		t.Fatalf("expected only the valid signal, got %v", reqs)
	}
}

func TestBuildContext_Deterministic(t *testing.T) {
	h := correction.History{
		TaskID: "b",
		Count:  2,
		Requests: []correction.Request{
			{RequesterID: "c", Problem: "wrong schema", FixHint: "use v2"},
			{RequesterID: "d", Problem: "missing field"},
		},
	}
	first := correction.BuildContext(h, 3)
	second := correction.BuildContext(h, 3)
	if first != second {
		t.Fatal("context must be a pure projection of the history")
	}
	for _, want := range []string{"attempt 2 of 3", "wrong schema", "use v2", "missing field", "reported by c"} {
		if !strings.Contains(first, want) {
			t.Fatalf("context missing %q:\n%s", want, first)
		}
	}
}

func TestBuildContext_EmptyHistory(t *testing.T) {
	if got := correction.BuildContext(correction.History{TaskID: "x"}, 3); got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
}
