package tools

import (
	"errors"
	"strings"
)

var (
	// ErrUnknownTool indicates the model called a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrRateLimited indicates the tool ran too recently.
	ErrRateLimited = errors.New("tool rate limited")
)

// Summarize renders results as one line per tool for prompts and logs.
// Failed calls are reported with their error so the model does not claim they worked.
func Summarize(results []Result) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			lines = append(lines, r.Tool+": failed ("+r.Err.Error()+")")
			continue
		}
		lines = append(lines, r.Tool+": "+r.Output)
	}
	return strings.Join(lines, "\n")
}
