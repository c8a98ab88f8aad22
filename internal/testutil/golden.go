// Package testutil holds helpers shared by garden's tests.
package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

// Refresh golden files with: go test ./... -update
var update = flag.Bool("update", false, "update golden files")

// GoldenPath returns the path of a golden file under testdata/.
func GoldenPath(name string) string {
	return filepath.Join("testdata", name)
}

// AssertGolden compares got against testdata/<name>, or rewrites the file
// when -update is set.
func AssertGolden(t testing.TB, got, name string) {
	t.Helper()

	path := GoldenPath(name)

	if *update {
		writeGolden(t, path, got)
		return
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t.Fatalf("golden file %s does not exist; run with -update to create it", path)
	}

	if err != nil {
		t.Fatalf("read golden file %s: %v", path, err)
	}

	if got != string(want) {
		t.Errorf("output mismatch for %s\n\ngot:\n%s\n\nwant:\n%s\n\nrun with -update to refresh golden files", path, got, want)
	}
}

// AssertGoldenView compares rendered terminal output against a golden file
// after removing escape sequences and trailing blanks from each line.
func AssertGoldenView(t testing.TB, view, name string) {
	t.Helper()

	AssertGolden(t, PlainView(view), name)
}

// PlainView strips ANSI styling and right-trims every line of view.
func PlainView(view string) string {
	lines := strings.Split(ansi.Strip(view), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}

	return strings.Join(lines, "\n")
}

func writeGolden(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create testdata directory: %v", err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("update golden file %s: %v", path, err)
	}

	t.Logf("updated golden file: %s", path)
}
