// Package fileutil provides recording file naming and path utilities.
package fileutil

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// SanitizeForFilename sanitizes a string for safe use in filenames.
func SanitizeForFilename(input string) string {
	if input == "" {
		return "Lecture"
	}

	// Replace illegal filename characters with underscores
	// Illegal chars: / \ : * ? " < > |
	illegalChars := regexp.MustCompile(`[\/\\:*?"<>|]`)
	sanitized := illegalChars.ReplaceAllString(input, "_")

	// Replace multiple spaces/underscores with single hyphen
	whitespace := regexp.MustCompile(`[\s_]+`)
	sanitized = whitespace.ReplaceAllString(sanitized, "-")

	sanitized = strings.Trim(sanitized, "-")

	// Limit length to 50 characters for reasonable filenames
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
		sanitized = strings.TrimRight(sanitized, "-")
	}

	if sanitized == "" {
		return "Lecture"
	}

	return sanitized
}

// RecordingFilename builds a collision-resistant recording name from the
// start timestamp: Recording-2026-01-15T14-30-05Z.wav. Colons are replaced
// so the name is valid on every filesystem.
func RecordingFilename(start time.Time) string {
	stamp := strings.ReplaceAll(start.UTC().Format(time.RFC3339), ":", "-")
	return "Recording-" + stamp + ".wav"
}

// RelativeToRoot rewrites an absolute path under root to a root-relative
// path. Paths outside root collapse to their base name, so note records
// never leak absolute paths into the store.
func RelativeToRoot(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	if rel == "." {
		return filepath.Base(path)
	}
	return rel
}
