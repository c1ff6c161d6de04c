package main

import (
	"fmt"
	"sort"

	"github.com/tasktreeio/tasktree/internal/staleness"
)

// printDryRun reports every plan node's staleness verdict without having
// run anything, sorted by task name for stable output across invocations.
func printDryRun(statuses map[string]staleness.TaskStatus) {
	keys := make([]string, 0, len(statuses))
	for key := range statuses {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := statuses[keys[i]], statuses[keys[j]]
		if a.TaskName != b.TaskName {
			return a.TaskName < b.TaskName
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		st := statuses[key]
		verb := "skip"
		if st.WillRun {
			verb = "run"
		}
		fmt.Printf("%-6s %-24s %s\n", verb, st.TaskName, st.Reason)
	}
}
