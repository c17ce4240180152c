package remap

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineMap is a line-level alignment between two versions of a file,
// computed once per blob pair and then queried per line. Only lines on
// the common subsequence have a mapping; edited lines do not survive.
type LineMap struct {
	oldToNew map[int]int
	oldLines int
	newLines int
}

// NewLineMap diffs two file contents in line mode and records, for
// every unchanged line, its 1-based position on each side.
func NewLineMap(oldText, newText string) *LineMap {
	m := &LineMap{
		oldToNew: make(map[int]int),
		oldLines: countLines(oldText),
		newLines: countLines(newText),
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	oldLine, newLine := 1, 1
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for i := 0; i < n; i++ {
				m.oldToNew[oldLine+i] = newLine + i
			}
			oldLine += n
			newLine += n
		case diffmatchpatch.DiffDelete:
			oldLine += n
		case diffmatchpatch.DiffInsert:
			newLine += n
		}
	}
	return m
}

// New returns the new position of a 1-based old line, false if the
// line was removed or rewritten.
func (m *LineMap) New(oldLine int) (int, bool) {
	n, ok := m.oldToNew[oldLine]
	return n, ok
}

// OldLines returns the line count of the old version.
func (m *LineMap) OldLines() int { return m.oldLines }

// NewLines returns the line count of the new version.
func (m *LineMap) NewLines() int { return m.newLines }

// MapRange translates an inclusive 1-based range. When only part of the
// range survives, the result is clipped to the surviving contiguous run
// nearest the original start; survived reports how many lines of the
// range made it. survived == 0 means the range is gone entirely.
func (m *LineMap) MapRange(start, end int) (newStart, newEnd, survived int) {
	type run struct{ start, end int }
	var runs []run
	contiguous := false

	for line := start; line <= end; line++ {
		n, ok := m.New(line)
		if !ok {
			contiguous = false
			continue
		}
		survived++
		if contiguous && len(runs) > 0 && n == runs[len(runs)-1].end+1 {
			runs[len(runs)-1].end = n
		} else {
			runs = append(runs, run{n, n})
		}
		contiguous = true
	}
	if len(runs) == 0 {
		return 0, 0, 0
	}
	return runs[0].start, runs[0].end, survived
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
