package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const QueryTruncationLength = 50

// TruncateQuery shortens a query for listings, cutting on a rune boundary
// so multi-byte text stays valid.
func TruncateQuery(query string) string {
	runes := []rune(query)
	if len(runes) <= QueryTruncationLength {
		return query
	}
	return string(runes[:QueryTruncationLength-3]) + "..."
}

// ConfinePath resolves path against the workspace directory and rejects
// anything that escapes it. Relative paths are taken relative to the
// workspace.
func ConfinePath(path, workspace string) (string, error) {
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(absWorkspace, path)
	}
	absPath := filepath.Clean(path)

	rel, err := filepath.Rel(absWorkspace, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s is outside the workspace %s", path, workspace)
	}
	return absPath, nil
}

// SaveReport writes a report to a workspace-confined file. Existing files
// are only overwritten with force set.
func SaveReport(report, path, workspace string, force bool) (string, error) {
	resolved, err := ConfinePath(path, workspace)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(resolved); err == nil && !force {
		return "", fmt.Errorf("output file %s already exists (use --force to overwrite)", resolved)
	}
	if err := os.WriteFile(resolved, []byte(report), 0o644); err != nil {
		return "", err
	}
	return resolved, nil
}

// PrintReport writes the report text between separator rules. Markdown
// rendering is left to the terminal or downstream tooling.
func PrintReport(w io.Writer, report string) {
	rule := strings.Repeat("=", 40)
	fmt.Fprintf(w, "\n%s\n\n%s\n\n%s\n", rule, report, rule)
}
