package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateQuery(t *testing.T) {
	short := "what is dark matter"
	if got := TruncateQuery(short); got != short {
		t.Fatalf("short query changed: %q", got)
	}

	long := strings.Repeat("a", 80)
	got := TruncateQuery(long)
	if len(got) != QueryTruncationLength {
		t.Fatalf("expected %d chars, got %d", QueryTruncationLength, len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}

func TestTruncateQueryMultiByte(t *testing.T) {
	long := strings.Repeat("ä", 80)
	got := TruncateQuery(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != QueryTruncationLength {
		t.Fatalf("expected %d runes, got %d", QueryTruncationLength, n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}

	// Longer than the limit in bytes but not in runes stays untouched.
	short := strings.Repeat("ä", 40)
	if got := TruncateQuery(short); got != short {
		t.Fatalf("short multi-byte query changed: %q", got)
	}
}

func TestConfinePath(t *testing.T) {
	workspace := t.TempDir()

	resolved, err := ConfinePath("report.md", workspace)
	if err != nil {
		t.Fatalf("ConfinePath: %v", err)
	}
	if resolved != filepath.Join(workspace, "report.md") {
		t.Fatalf("unexpected resolution %q", resolved)
	}

	if _, err := ConfinePath("../escape.md", workspace); err == nil {
		t.Fatalf("expected traversal rejection")
	}
	if _, err := ConfinePath("sub/../../escape.md", workspace); err == nil {
		t.Fatalf("expected nested traversal rejection")
	}
	if _, err := ConfinePath("/etc/passwd", workspace); err == nil {
		t.Fatalf("expected absolute path outside workspace rejected")
	}

	// Subdirectories inside the workspace are fine.
	if _, err := ConfinePath("sub/report.md", workspace); err != nil {
		t.Fatalf("ConfinePath subdir: %v", err)
	}
}

func TestSaveReport(t *testing.T) {
	workspace := t.TempDir()

	resolved, err := SaveReport("the report", "out.md", workspace, false)
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "the report" {
		t.Fatalf("unexpected content %q", data)
	}

	if _, err := SaveReport("other", "out.md", workspace, false); err == nil {
		t.Fatalf("expected overwrite rejection without force")
	}
	if _, err := SaveReport("other", "out.md", workspace, true); err != nil {
		t.Fatalf("SaveReport force: %v", err)
	}
	data, _ = os.ReadFile(resolved)
	if string(data) != "other" {
		t.Fatalf("force overwrite did not land: %q", data)
	}

	if _, err := SaveReport("x", "../outside.md", workspace, true); err == nil {
		t.Fatalf("expected traversal rejection")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, "hello")

	out := buf.String()
	if !strings.Contains(out, "hello") {
		t.Fatalf("report text missing: %q", out)
	}
	if strings.Count(out, strings.Repeat("=", 40)) != 2 {
		t.Fatalf("expected two separator rules: %q", out)
	}
}
