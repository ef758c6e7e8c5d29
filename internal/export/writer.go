// Package export renders a lecture transcript into shareable documents:
// plain text, markdown, or PDF.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteText writes the transcript as a plain text file with a small header.
// The file is written atomically (temp file + rename).
func WriteText(path, title string, date time.Time, text string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n\n", title, date.Format("Jan 2, 2006 3:04 PM"))
	b.WriteString(strings.TrimSpace(text))
	b.WriteByte('\n')
	return atomicWrite(path, []byte(b.String()))
}

// WriteMarkdown writes the transcript as a markdown document, with the
// summary section included when present.
func WriteMarkdown(path, title string, date time.Time, text, summaryText string, keyPoints []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n*%s*\n\n", title, date.Format("Jan 2, 2006 3:04 PM"))
	if summaryText != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(strings.TrimSpace(summaryText))
		b.WriteString("\n\n")
	}
	if len(keyPoints) > 0 {
		b.WriteString("## Key points\n\n")
		for _, kp := range keyPoints {
			fmt.Fprintf(&b, "- %s\n", kp)
		}
		b.WriteByte('\n')
	}
	b.WriteString("## Transcript\n\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteByte('\n')
	return atomicWrite(path, []byte(b.String()))
}

// atomicWrite writes data to path atomically using a temp file + rename.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "export-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error.
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing export: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing export: %w", err)
	}
	tmpFile = nil // prevent defer cleanup

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming export: %w", err)
	}
	return nil
}
