// Package utils holds small helpers shared by the Kotae packages: vector
// normalization for embeddings, log-safe string truncation, and the logger
// constructor.
package utils

// Truncate caps s at maxLen bytes for logging, appending "..." when it cuts.
// A zero or negative maxLen returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
