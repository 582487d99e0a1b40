package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLintPathsAcceptsMarkedQueries(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QOne = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;\n`\n\nconst notSQL = \"hello\"\n")

	rep, err := lintPaths([]string{dir})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if rep.Queries != 1 || len(rep.Violations) != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestLintPathsFlagsMissingMarker(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "package q\n\nconst QBare = `select * from generations;`\n")

	rep, err := lintPaths([]string{dir})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(rep.Violations) != 1 || rep.Violations[0].name != "QBare" {
		t.Fatalf("expected one violation for QBare, got %+v", rep.Violations)
	}
}

func TestLintPathsFlagsReusedMarker(t *testing.T) {
	dir := t.TempDir()
	marker := "--sql aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee\n"
	writeGo(t, dir, "a.go", "package q\n\nconst QFirst = `"+marker+"select 1;`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QSecond = `"+marker+"update t set x = 1;`\n")

	rep, err := lintPaths([]string{dir})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(rep.Violations) != 1 {
		t.Fatalf("expected one duplicate violation, got %+v", rep.Violations)
	}
	if v := rep.Violations[0]; v.name != "QSecond" || !strings.Contains(v.message, "QFirst") {
		t.Fatalf("unexpected violation %+v", v)
	}
}
