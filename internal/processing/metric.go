// internal/processing/metric.go
package processing

import (
	"regexp"
	"strconv"
)

// metricPatterns are tried in order, most specific first. Each must capture
// the count in group 1. Free text on the cards varies ("John and 12 other
// mutual connections", "5 mutual connections", "12 shared connections"), so
// progressively looser patterns back up the exact ones.
var metricPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)and\s+(\d+)\s+other\s+mutual\s+connections?`),
	regexp.MustCompile(`(?i)(\d+)\s+other\s+mutual\s+connections?`),
	regexp.MustCompile(`(?i)(\d+)\s+mutual\s+connections?`),
	regexp.MustCompile(`(?i)(\d+)\s+shared\s+connections?`),
	regexp.MustCompile(`(?i)(\d+)\s+mutual\b`),
	regexp.MustCompile(`(?i)(\d+)\s+connections?`),
}

// ParseMutualCount extracts the mutual-connection count from an item's free
// text. Absence of a recognizable count yields 0, never an error: a card
// without the metric is ineligible, not broken.
func ParseMutualCount(text string) int {
	if text == "" {
		return 0
	}
	for _, pattern := range metricPatterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		count, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		return count
	}
	return 0
}
