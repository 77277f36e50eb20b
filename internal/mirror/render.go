package mirror

import (
	"fmt"
	"strings"

	"github.com/aristath/taskgraph/internal/scheduler"
)

var glyphs = map[scheduler.Status]string{
	scheduler.StatusPending:    "○",
	scheduler.StatusInProgress: "◐",
	scheduler.StatusCompleted:  "●",
	scheduler.StatusBlocked:    "⊘",
	scheduler.StatusCancelled:  "✕",
	scheduler.StatusApproved:   "✓",
	scheduler.StatusSkipped:    "↷",
}

// Glyph returns the status marker used in rendered plans.
func Glyph(status scheduler.Status) string {
	if g, ok := glyphs[status]; ok {
		return g
	}
	return "?"
}

// Render produces the mirror content of a plan: a header with progress and
// one line per task in plan order. It is regenerated in full on every write.
func Render(sessionID string, tasks []scheduler.Task) string {
	progress := scheduler.ComputeProgress(tasks)

	var b strings.Builder
	fmt.Fprintf(&b, "Task plan for session %s\n", sessionID)
	fmt.Fprintf(&b, "Progress: %d/%d (%d%%)\n", progress.Completed, progress.Total, progress.Percentage)
	if len(tasks) > 0 {
		b.WriteString("\n")
	}
	for _, task := range tasks {
		fmt.Fprintf(&b, "%s %s\n", Glyph(task.Status), task.Title)
	}
	return b.String()
}

// planTags collects the distinct tags of a plan, in first-seen order.
func planTags(tasks []scheduler.Task) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, task := range tasks {
		for _, tag := range task.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
