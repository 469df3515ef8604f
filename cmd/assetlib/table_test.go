package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRenderTableFillsBlankCells(t *testing.T) {
	out := renderTable([]column{textCol("Name"), textCol("Holder")}, [][]string{{"chair"}, {"lamp", " "}})
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "chair") || strings.Contains(line, "lamp") {
			if !strings.Contains(line, " - ") {
				t.Fatalf("expected placeholder in %q", line)
			}
		}
	}
}

func TestRenderTableRightAlignsNumericColumns(t *testing.T) {
	out := renderTable([]column{numCol("Size")}, [][]string{{"1"}, {"1000"}})
	if !strings.Contains(out, "│    1 │") {
		t.Fatalf("expected right aligned value, got\n%s", out)
	}
}

func TestRenderTableWrapsDetailColumn(t *testing.T) {
	detail := strings.TrimSpace(strings.Repeat("traceback ", 12))
	out := renderTable([]column{detailCol("Detail", 20)}, [][]string{{detail}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 8 {
		t.Fatalf("expected wrapped rows, got\n%s", out)
	}
	for _, line := range lines {
		if n := utf8.RuneCountInString(line); n > 24 {
			t.Fatalf("line wider than wrap limit (%d): %q", n, line)
		}
	}
}

func TestRenderTableWithoutColumns(t *testing.T) {
	if out := renderTable(nil, [][]string{{"x"}}); out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}
