package receipt

import "sort"

// Merge unions other's receipts into cr by receipt id.
//
// For an id present on both sides with differing content, the version with
// the later CapturedAt wins; the losing version is returned so callers can
// preserve it in the audit log. Receipts are never dropped: the result set
// of a merge is always a superset of both inputs' id sets, and merging in
// any order produces the same set.
func (cr *CommitRecord) Merge(other *CommitRecord) []Receipt {
	if other == nil {
		return nil
	}

	var superseded []Receipt
	for _, incoming := range other.Receipts {
		existing := cr.Find(incoming.ID)
		if existing == nil {
			cr.Receipts = append(cr.Receipts, incoming)
			continue
		}
		if equalContent(existing, &incoming) {
			continue
		}
		if incoming.CapturedAt.After(existing.CapturedAt) {
			superseded = append(superseded, *existing)
			*existing = incoming
		} else {
			superseded = append(superseded, incoming)
		}
	}

	sort.SliceStable(cr.Receipts, func(i, j int) bool {
		a, b := cr.Receipts[i], cr.Receipts[j]
		if !a.CapturedAt.Equal(b.CapturedAt) {
			return a.CapturedAt.Before(b.CapturedAt)
		}
		return a.ID < b.ID
	})

	return superseded
}

// equalContent compares the fields that matter for conflict detection.
// Two captures of the same prompt differ only if something observable
// changed after the first capture.
func equalContent(a, b *Receipt) bool {
	if a.PromptSummary != b.PromptSummary ||
		a.ResponseSummary != b.ResponseSummary ||
		a.CostUSD != b.CostUSD ||
		a.Usage != b.Usage ||
		a.Orphaned != b.Orphaned ||
		!a.CapturedAt.Equal(b.CapturedAt) ||
		len(a.FileChanges) != len(b.FileChanges) {
		return false
	}
	for i := range a.FileChanges {
		if a.FileChanges[i] != b.FileChanges[i] {
			return false
		}
	}
	return true
}
