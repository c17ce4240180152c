// Package capture turns normalized AI-session lifecycle events into
// staged receipts. Everything that leaves this package has already been
// truncated and redacted; raw prompt text is never persisted.
package capture

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/joss/promptrail/internal/config"
	"github.com/joss/promptrail/internal/logging"
	"github.com/joss/promptrail/internal/receipt"
	"github.com/joss/promptrail/internal/redact"
	"github.com/joss/promptrail/internal/staging"
)

// Event kinds accepted by the Recorder.
const (
	KindPrompt       = "prompt"
	KindTool         = "tool"
	KindSessionStart = "session_start"
	KindSessionEnd   = "session_end"
)

const truncationMarker = "\n...[truncated]"

// Event is one normalized lifecycle event. Providers emit these as JSON
// lines; unknown fields are ignored so provider additions never break
// older captures.
type Event struct {
	Kind            string             `json:"kind"`
	Timestamp       time.Time          `json:"timestamp"`
	SessionID       string             `json:"session_id"`
	ParentSessionID string             `json:"parent_session_id,omitempty"`
	Provider        string             `json:"provider,omitempty"`
	Model           string             `json:"model,omitempty"`
	PromptNumber    int                `json:"prompt_number,omitempty"`
	Prompt          string             `json:"prompt,omitempty"`
	Response        string             `json:"response,omitempty"`
	Tool            string             `json:"tool,omitempty"`
	Path            string             `json:"path,omitempty"`
	StartLine       int                `json:"start_line,omitempty"`
	EndLine         int                `json:"end_line,omitempty"`
	Additions       int                `json:"additions,omitempty"`
	Deletions       int                `json:"deletions,omitempty"`
	CostUSD         float64            `json:"cost_usd,omitempty"`
	Usage           receipt.TokenUsage `json:"usage,omitempty"`
	Service         string             `json:"service,omitempty"`
	Agent           string             `json:"agent,omitempty"`
}

// Recorder consumes events in order and upserts staging entries.
// Malformed events degrade field-by-field with a warning; the stream is
// never aborted on their account.
type Recorder struct {
	cfg      *config.Config
	redactor *redact.Redactor
	stg      *staging.Store
	author   string
	fallback string // generated session id for events that carry none
	log      zerolog.Logger
}

// NewRecorder builds a Recorder over a working copy's staging store.
// author is the identity receipts are attributed to, usually the git
// committer identity.
func NewRecorder(cfg *config.Config, stg *staging.Store, author string) *Recorder {
	return &Recorder{
		cfg:      cfg,
		redactor: redact.New(cfg.Redaction),
		stg:      stg,
		author:   author,
		log:      logging.New("capture"),
	}
}

// RecordStream consumes newline-delimited JSON events and returns the
// number applied. Lines that fail to parse are skipped with a warning.
func (rec *Recorder) RecordStream(r io.Reader) (int, error) {
	applied := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			rec.log.Warn().Err(err).Msg("skipping malformed event")
			continue
		}
		if err := rec.Record(ev); err != nil {
			return applied, err
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return applied, err
	}
	return applied, nil
}

// Record applies one event. Only storage failures error; content
// problems degrade to warnings.
func (rec *Recorder) Record(ev Event) error {
	if ev.SessionID == "" {
		ev.SessionID = config.Env().SessionID
	}
	if ev.SessionID == "" {
		// One generated id per recorder run so the stream's events
		// still group into a session.
		if rec.fallback == "" {
			rec.fallback = ulid.Make().String()
			rec.log.Warn().Str("session", rec.fallback).Msg("events carry no session id, generated one")
		}
		ev.SessionID = rec.fallback
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	switch ev.Kind {
	case KindPrompt:
		return rec.onPrompt(ev)
	case KindTool:
		return rec.onTool(ev)
	case KindSessionStart:
		return rec.onSessionStart(ev)
	case KindSessionEnd:
		return rec.onSessionEnd(ev)
	default:
		rec.log.Warn().Str("kind", ev.Kind).Msg("unknown event kind dropped")
		return nil
	}
}

func (rec *Recorder) onPrompt(ev Event) error {
	if ev.PromptNumber <= 0 {
		ev.PromptNumber = 1
	}
	// Replayed lifecycle events must not resurrect receipts that are
	// already attached to a commit.
	if ev.PromptNumber <= rec.stg.CommittedMaxPrompt(ev.SessionID) {
		rec.log.Debug().Str("session", ev.SessionID).Int("prompt", ev.PromptNumber).
			Msg("prompt already committed, skipping")
		return nil
	}

	prompt := rec.clean(ev.Prompt)
	promptHash := receipt.HashPrompt(prompt)

	r := receipt.Receipt{
		ID:              receipt.DeriveID(ev.SessionID, promptHash, ev.PromptNumber),
		Provider:        rec.provider(ev),
		Model:           ev.Model,
		Author:          rec.author,
		SessionID:       ev.SessionID,
		ParentSessionID: ev.ParentSessionID,
		PromptNumber:    ev.PromptNumber,
		PromptHash:      promptHash,
		PromptSummary:   prompt,
		ResponseSummary: rec.clean(ev.Response),
		CapturedAt:      ev.Timestamp,
	}
	return rec.stg.Upsert(r)
}

func (rec *Recorder) onTool(ev Event) error {
	if ev.Path != "" && rec.excluded(ev.Path) {
		rec.log.Debug().Str("path", ev.Path).Msg("excluded path, tool event dropped")
		return nil
	}
	if ev.PromptNumber <= 0 {
		ev.PromptNumber = 1
	}
	if ev.PromptNumber <= rec.stg.CommittedMaxPrompt(ev.SessionID) {
		return nil
	}

	r := receipt.Receipt{
		ID:           receipt.DeriveID(ev.SessionID, "", ev.PromptNumber),
		Provider:     rec.provider(ev),
		Author:       rec.author,
		SessionID:    ev.SessionID,
		PromptNumber: ev.PromptNumber,
		CapturedAt:   ev.Timestamp,
	}
	if ev.Tool != "" {
		r.ToolsUsed = []string{ev.Tool}
	}
	if ev.Service != "" {
		r.ServicesUsed = []string{ev.Service}
	}
	if ev.Agent != "" {
		r.AgentsSpawned = []string{ev.Agent}
	}
	if ev.Path != "" {
		fc := receipt.FileChange{
			Path:      ev.Path,
			StartLine: ev.StartLine,
			EndLine:   ev.EndLine,
			Additions: ev.Additions,
			Deletions: ev.Deletions,
		}
		if fc.EndLine < fc.StartLine {
			fc.EndLine = fc.StartLine
		}
		r.FileChanges = []receipt.FileChange{fc}
	}
	return rec.stg.Upsert(r)
}

func (rec *Recorder) onSessionStart(ev Event) error {
	start := ev.Timestamp
	r := receipt.Receipt{
		ID:              receipt.DeriveID(ev.SessionID, "", 1),
		Provider:        rec.provider(ev),
		Author:          rec.author,
		SessionID:       ev.SessionID,
		ParentSessionID: ev.ParentSessionID,
		PromptNumber:    1,
		CapturedAt:      ev.Timestamp,
		SessionStart:    &start,
	}
	if r.PromptNumber <= rec.stg.CommittedMaxPrompt(ev.SessionID) {
		return nil
	}
	return rec.stg.Upsert(r)
}

// onSessionEnd folds final session figures into the session's latest
// staged receipt.
func (rec *Recorder) onSessionEnd(ev Event) error {
	promptNumber := ev.PromptNumber
	if promptNumber <= 0 {
		staged, err := rec.stg.List()
		if err != nil {
			return err
		}
		for _, r := range staged {
			if r.SessionID == ev.SessionID && r.PromptNumber > promptNumber {
				promptNumber = r.PromptNumber
			}
		}
	}
	if promptNumber <= 0 {
		rec.log.Debug().Str("session", ev.SessionID).Msg("session end with nothing staged")
		return nil
	}

	end := ev.Timestamp
	r := receipt.Receipt{
		ID:           receipt.DeriveID(ev.SessionID, "", promptNumber),
		Provider:     rec.provider(ev),
		Author:       rec.author,
		SessionID:    ev.SessionID,
		PromptNumber: promptNumber,
		CapturedAt:   ev.Timestamp,
		SessionEnd:   &end,
		CostUSD:      ev.CostUSD,
		Usage:        ev.Usage,
	}
	return rec.stg.Upsert(r)
}

// clean truncates then redacts, in that order, so the redaction pass
// sees exactly the text that will be persisted.
func (rec *Recorder) clean(text string) string {
	if max := rec.cfg.Capture.MaxPromptLength; max > 0 && utf8.RuneCountInString(text) > max {
		text = string([]rune(text)[:max]) + truncationMarker
	}
	return rec.redactor.RedactString(text)
}

func (rec *Recorder) provider(ev Event) string {
	if ev.Provider != "" {
		return ev.Provider
	}
	return config.Env().Provider
}

func (rec *Recorder) excluded(path string) bool {
	for _, pattern := range rec.cfg.Capture.Exclude {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
