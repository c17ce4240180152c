package report

import (
	"fmt"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/joss/promptrail/internal/gitutil"
	"github.com/joss/promptrail/internal/notes"
	"github.com/joss/promptrail/internal/receipt"
	"github.com/joss/promptrail/internal/remap"
)

// LineAttribution is one line of the blame view.
type LineAttribution struct {
	Line      int
	Text      string
	Commit    string
	ReceiptID string
	Provider  string
	Model     string
	Session   string
}

// Attributed reports whether the line traces back to a receipt.
func (la LineAttribution) Attributed() bool { return la.ReceiptID != "" }

// BlameView attributes each line of a file at a revision to the receipt
// that produced it, or to nothing for human-written lines.
type BlameView struct {
	Path       string
	Commit     string
	Lines      []LineAttribution
	Attributed int
}

// Percent returns attributed lines as a share of the file.
func (bv *BlameView) Percent() float64 {
	if len(bv.Lines) == 0 {
		return 0
	}
	return float64(bv.Attributed) / float64(len(bv.Lines)) * 100
}

// Blame builds the per-line attribution of path at rev. Each line's
// last-touching commit comes from a blame walk; if that commit carries
// a receipt range covering the line (translated onto the current blob),
// the line is attributed to the receipt.
func Blame(repo *git.Repository, store *notes.Store, path string, rev plumbing.Hash) (*BlameView, error) {
	commit, err := repo.CommitObject(rev)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", gitutil.ShortSHA(rev.String()), err)
	}
	blame, err := git.Blame(commit, path)
	if err != nil {
		return nil, fmt.Errorf("blame %s: %w", path, err)
	}
	currentText, _, err := gitutil.BlobContent(repo, rev, path)
	if err != nil {
		return nil, err
	}

	view := &BlameView{Path: path, Commit: rev.String()}
	for i, bl := range blame.Lines {
		view.Lines = append(view.Lines, LineAttribution{
			Line:   i + 1,
			Text:   strings.TrimRight(bl.Text, "\n"),
			Commit: bl.Hash.String(),
		})
	}

	// One record lookup and one line map per blamed commit, not per
	// line.
	type coverage struct {
		receipt *receipt.Receipt
		lines   map[int]bool
	}
	covered := make(map[string][]coverage)
	for _, commitID := range distinctHashes(blame) {
		rec, err := store.Read(commitID)
		if err != nil {
			continue
		}
		for ri := range rec.Receipts {
			r := &rec.Receipts[ri]
			for _, fc := range r.FileChanges {
				if fc.Orphaned || !gitutil.PathsMatch(fc.Path, path) {
					continue
				}
				oldText, _, err := gitutil.BlobContent(repo, plumbing.NewHash(commitID), fc.Path)
				if err != nil {
					continue
				}
				m := remap.NewLineMap(oldText, currentText)
				lines := make(map[int]bool)
				for line := fc.StartLine; line <= fc.EndLine; line++ {
					if cur, ok := m.New(line); ok {
						lines[cur] = true
					}
				}
				if len(lines) > 0 {
					covered[commitID] = append(covered[commitID], coverage{receipt: r, lines: lines})
				}
			}
		}
	}

	for i := range view.Lines {
		la := &view.Lines[i]
		for _, cov := range covered[la.Commit] {
			if cov.lines[la.Line] {
				la.ReceiptID = cov.receipt.ID
				la.Provider = cov.receipt.Provider
				la.Model = cov.receipt.Model
				la.Session = cov.receipt.SessionID
				view.Attributed++
				break
			}
		}
	}
	return view, nil
}

func distinctHashes(blame *git.BlameResult) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range blame.Lines {
		id := l.Hash.String()
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
