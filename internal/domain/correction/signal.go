package correction

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Wire format for corrections embedded in free-form reviewer text:
//
//	<CORRECTION:targetTaskId:problemText:fixHintText>
//
// Fields are separated by a single reserved colon and wrapped in angle
// brackets. A text may carry any number of signals; candidates that do not
// parse are skipped individually rather than failing the whole text.
var signalPattern = regexp.MustCompile(`<CORRECTION:([^:<>]+):([^:<>]+):([^:<>]*)>`)

// ExtractSignals parses every well-formed correction signal out of text.
// The requester ID is stamped onto each extracted request.
func ExtractSignals(requesterID, text string) []Request {
	matches := signalPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	now := time.Now()
	var reqs []Request
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		problem := strings.TrimSpace(m[2])
		if target == "" || problem == "" {
			continue
		}
		reqs = append(reqs, Request{
			RequesterID: requesterID,
			TargetID:    target,
			Problem:     problem,
			FixHint:     strings.TrimSpace(m[3]),
			At:          now,
		})
	}
	return reqs
}

// BuildContext renders the accumulated corrections for a task as a notice
// to prepend to its next execution context. Purely a projection of the
// stored history: identical history yields identical output.
func BuildContext(h History, maxPerTask int) string {
	if h.Count == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Correction notice for task %s (attempt %d of %d)\n\n",
		h.TaskID, h.Count, maxPerTask)
	b.WriteString("Earlier output of this task was reported defective. Address every item below.\n")
	for i, req := range h.Requests {
		fmt.Fprintf(&b, "\n### Correction %d (reported by %s)\n", i+1, req.RequesterID)
		fmt.Fprintf(&b, "Problem: %s\n", req.Problem)
		if req.FixHint != "" {
			fmt.Fprintf(&b, "Suggested fix: %s\n", req.FixHint)
		}
	}
	return b.String()
}
