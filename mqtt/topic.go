// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import "strings"

const sharedPrefix = "$share/"

// IsTopicFilterMatch checks if a topic name matches a topic filter.
func IsTopicFilterMatch(topicFilter, topicName string) bool {
	// Handle shared subscriptions.
	if tf, ok := strings.CutPrefix(topicFilter, sharedPrefix); ok {
		// Find the index of the second slash.
		idx := strings.Index(tf, "/")
		if idx == -1 {
			// Invalid shared subscription format.
			return false
		}
		topicFilter = tf[idx+1:]
	}

	filters := strings.Split(topicFilter, "/")
	names := strings.Split(topicName, "/")

	for i, filter := range filters {
		if filter == "#" {
			// Multi-level wildcard must be at the end.
			return i == len(filters)-1
		}
		if filter == "+" {
			// Single-level wildcard matches any single level.
			continue
		}
		if i >= len(names) || filter != names[i] {
			return false
		}
	}

	// Exact match is required if there are no wildcards left.
	return len(filters) == len(names)
}

// isValidTopicFilter performs the structural checks the server would reject a
// SUBSCRIBE for, so misuse fails locally and immediately.
func isValidTopicFilter(topicFilter string) bool {
	if len(topicFilter) == 0 || len(topicFilter) > 65535 ||
		strings.ContainsRune(topicFilter, '\x00') {
		return false
	}
	levels := strings.Split(topicFilter, "/")
	for i, level := range levels {
		if level == "#" {
			// Multi-level wildcard must be the last level.
			return i == len(levels)-1
		}
		if level != "+" && strings.ContainsAny(level, "#+") {
			// Wildcards must occupy an entire level.
			return false
		}
	}
	return true
}

// isValidTopicName rejects topic names that are empty, oversized, or contain
// wildcard or null characters.
func isValidTopicName(topicName string) bool {
	return len(topicName) > 0 &&
		len(topicName) <= 65535 &&
		!strings.ContainsAny(topicName, "#+\x00")
}
