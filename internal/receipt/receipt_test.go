package receipt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIDStable(t *testing.T) {
	a := DeriveID("sess-1", "sha256:abc", 3)
	b := DeriveID("sess-1", "sha256:abc", 3)
	assert.Equal(t, a, b, "same content must derive the same id")
	assert.Len(t, a, 32)

	c := DeriveID("sess-1", "sha256:abc", 4)
	assert.NotEqual(t, a, c, "different prompt number must derive a different id")

	d := DeriveID("sess-2", "sha256:abc", 3)
	assert.NotEqual(t, a, d)
}

func TestFileChangeLines(t *testing.T) {
	fc := FileChange{StartLine: 4, EndLine: 8}
	assert.Equal(t, 5, fc.Lines())
	assert.True(t, fc.Contains(4))
	assert.True(t, fc.Contains(8))
	assert.False(t, fc.Contains(9))

	orphan := FileChange{StartLine: 4, EndLine: 8, Orphaned: true}
	assert.False(t, orphan.Contains(5), "orphaned ranges attribute nothing")
}

func TestReceiptRoundtrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	r := Receipt{
		ID:            DeriveID("s1", "sha256:x", 1),
		Provider:      "claude",
		Model:         "claude-sonnet-4-20250514",
		Author:        "Dev <dev@example.com>",
		SessionID:     "s1",
		PromptNumber:  1,
		PromptHash:    "sha256:x",
		PromptSummary: "add retry logic",
		CapturedAt:    now,
		CostUSD:       0.04,
		Usage:         TokenUsage{Input: 1200, Output: 800, CacheRead: 5000},
		FileChanges:   []FileChange{{Path: "src/auth.rs", StartLine: 4, EndLine: 8, Additions: 5}},
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var back Receipt
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r, back)
}

func TestOptionalFieldsOmitted(t *testing.T) {
	r := Receipt{ID: "x", SessionID: "s", CapturedAt: time.Now()}
	data, err := json.Marshal(r)
	require.NoError(t, err)

	s := string(data)
	assert.NotContains(t, s, "session_start")
	assert.NotContains(t, s, "session_end")
	assert.NotContains(t, s, "parent_receipt_id")
	assert.NotContains(t, s, "orphan_reason")
}

func TestTotalLinesSkipsOrphans(t *testing.T) {
	r := Receipt{FileChanges: []FileChange{
		{Path: "a.go", StartLine: 1, EndLine: 10},
		{Path: "b.go", StartLine: 5, EndLine: 9, Orphaned: true},
	}}
	assert.Equal(t, 10, r.TotalLines())
}

func TestNotePayloadVersion(t *testing.T) {
	p := NewNotePayload(nil)
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "promptrail_version")
}
