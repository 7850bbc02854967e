package guard

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// DefaultRunawayPhrases are the stock patterns suggesting a worker is trying
// to delegate on its own in a session where workers must be leaf executors.
// Matching is heuristic by nature; deployments tune this list through the
// policy, and the listed phrases are neither exhaustive nor precise.
var DefaultRunawayPhrases = []string{
	"spawn (a|another|a new) (sub)?-?agent",
	"delegate (this|the task|the work) to",
	"launch (a|another) worker",
	"create (a|another) (sub)?-?task for (a|another) agent",
	"hand (this|it) off to (a|another)",
	"start (a|another) parallel agent",
}

// detector compiles the phrase list into case-insensitive patterns.
type detector struct {
	patterns []*regexp.Regexp
}

func newDetector(phrases []string) *detector {
	if len(phrases) == 0 {
		phrases = DefaultRunawayPhrases
	}
	d := &detector{}
	for _, p := range phrases {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			// Treat a literal phrase that is not a valid pattern as a
			// plain substring.
			re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(p))
		}
		d.patterns = append(d.patterns, re)
	}
	return d
}

func (d *detector) match(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	for _, re := range d.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// CheckForRunaway scans worker output for self-delegation attempts.
// The check is only meaningful when the session expects workers to be pure
// leaf executors (ModeNone); in delegating modes it is a no-op, since a
// worker talking about delegation is not anomalous there.
//
// Each matching call increments the signal counter; reaching the policy
// threshold freezes the guard. Returns true when the text matched.
func (g *Guard) CheckForRunaway(text string) bool {
	if g.policy.Mode != ModeNone {
		return false
	}
	if !g.detector.match(text) {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.runawaySignals++
	g.audit = append(g.audit, AuditEntry{
		At:     g.now(),
		Reason: ReasonRunaway,
		Detail: fmt.Sprintf("signal %d of %d", g.runawaySignals, g.policy.RunawayThreshold),
	})
	slog.Warn("runaway delegation signal",
		"signals", g.runawaySignals,
		"threshold", g.policy.RunawayThreshold)

	if g.runawaySignals >= g.policy.RunawayThreshold && !g.frozen {
		slog.Error("runaway threshold reached, freezing guard",
			"signals", g.runawaySignals,
			"threshold", g.policy.RunawayThreshold)
		g.freezeLocked(fmt.Sprintf("runaway threshold reached (%d signals)", g.runawaySignals))
	}
	return true
}
