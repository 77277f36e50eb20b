package scheduler

import (
	"sort"
	"strings"
	"unicode"
)

// tagKeywords maps a tag to the words that suggest it.
var tagKeywords = map[string][]string{
	"testing":    {"test", "tests", "testing", "spec", "coverage", "e2e", "qa"},
	"docs":       {"doc", "docs", "document", "documentation", "readme", "changelog"},
	"bugfix":     {"fix", "bug", "bugfix", "regression", "crash", "broken"},
	"refactor":   {"refactor", "cleanup", "restructure", "simplify", "rename"},
	"deployment": {"deploy", "release", "ship", "rollout", "ci", "pipeline"},
	"research":   {"research", "investigate", "explore", "spike", "evaluate"},
	"design":     {"design", "architecture", "schema", "api", "interface"},
}

// SuggestTags returns a sorted, de-duplicated set of tags for a task based
// on keywords in its title and description. The tags are descriptive only
// and play no part in scheduling.
func SuggestTags(title, description string) []string {
	words := strings.FieldsFunc(strings.ToLower(title+" "+description), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[w] = true
	}

	var tags []string
	for tag, keywords := range tagKeywords {
		for _, kw := range keywords {
			if seen[kw] {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}
