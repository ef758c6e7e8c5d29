package diaglog

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestExportBundlesLog(t *testing.T) {
	dir := t.TempDir()
	logPath := dir + "/debug.log"

	content := `{"ts":"2026-01-01T00:00:00Z","component":"pipeline","event":"autosave_fired"}` + "\n" +
		`{"ts":"2026-01-01T00:00:01Z","component":"capture-session","event":"recording_start"}` + "\n"
	if err := os.WriteFile(logPath, []byte(content), 0644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	outPath, lines, err := Export(logPath, dir)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}
	if !strings.Contains(outPath, "lectured-diag-") {
		t.Errorf("unexpected output name: %s", outPath)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("export is empty")
	}

	var bundle DiagBundle
	if err := json.Unmarshal(scanner.Bytes(), &bundle); err != nil {
		t.Fatalf("header is not valid JSON: %v", err)
	}
	if bundle.EntryCount != 2 {
		t.Errorf("entry count %d, want 2", bundle.EntryCount)
	}
	if bundle.LecturedVersion == "" {
		t.Error("version missing from bundle header")
	}

	var rest int
	for scanner.Scan() {
		rest++
	}
	if rest != 2 {
		t.Errorf("expected 2 log lines after header, got %d", rest)
	}
}

func TestExportMissingLog(t *testing.T) {
	_, _, err := Export(t.TempDir()+"/nope.log", t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing log")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}
