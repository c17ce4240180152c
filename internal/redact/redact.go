// Package redact sanitizes text before it is allowed anywhere near
// persistence. Every prompt summary, response summary and transcript
// fragment passes through here on the capture path.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/joss/promptrail/internal/config"
	"github.com/joss/promptrail/internal/logging"
)

// Detection categories for built-in patterns.
const (
	CategoryAPIKey      = "API_KEY"
	CategoryAWSKey      = "AWS_KEY"
	CategoryPassword    = "PASSWORD"
	CategoryBearerToken = "BEARER_TOKEN"
	CategoryToken       = "TOKEN"
	CategoryPrivateKey  = "PRIVATE_KEY"
	CategoryShellPrompt = "SHELL_PROMPT"
	CategoryHomePath    = "HOME_PATH"
	CategoryHighEntropy = "HIGH_ENTROPY"
	CategoryCustom      = "CUSTOM"
)

// Modes.
const (
	ModeReplace = "replace"
	ModeHash    = "hash"
)

const (
	entropyMinLength = 20
	entropyThreshold = 4.5
	hashPrefixLength = 12
)

type builtinPattern struct {
	re          *regexp.Regexp
	replacement string
	category    string
	severity    string
}

// Built-in secret shapes. Order matters: more specific shapes run first
// so a key is not half-eaten by a broader pattern.
var builtins = []builtinPattern{
	{regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), "[REDACTED_PRIVATE_KEY]", CategoryPrivateKey, "CRITICAL"},
	{regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`), "[REDACTED_API_KEY]", CategoryAPIKey, "HIGH"},
	{regexp.MustCompile(`key-[A-Za-z0-9_-]{20,}`), "[REDACTED_API_KEY]", CategoryAPIKey, "HIGH"},
	{regexp.MustCompile(`AKIA[A-Z0-9]{16}`), "[REDACTED_AWS_KEY]", CategoryAWSKey, "CRITICAL"},
	{regexp.MustCompile(`(?i)(password|secret)\s*=\s*"[^"]*"`), "[REDACTED_SECRET]", CategoryPassword, "HIGH"},
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_.~+/=-]{10,}`), "Bearer [REDACTED]", CategoryBearerToken, "HIGH"},
	{regexp.MustCompile(`(?i)(token|auth)\s*=\s*[A-Za-z0-9_.~+/=-]{40,}`), "[REDACTED_TOKEN]", CategoryToken, "MEDIUM"},
	{regexp.MustCompile(`[a-zA-Z0-9_.-]+@[a-zA-Z0-9._-]{2,}`), "[REDACTED_HOST]", CategoryShellPrompt, "MEDIUM"},
	{regexp.MustCompile(`(?:/Users/|/home/)[a-zA-Z0-9_.-]+`), "[REDACTED_HOME]", CategoryHomePath, "LOW"},
}

var entropyTokenRe = regexp.MustCompile(`[A-Za-z0-9+/=_\-]{20,}`)

// Result is a sanitized copy of the input plus what was found.
type Result struct {
	Text string
	// Counts maps detection category to number of redactions.
	Counts map[string]int
}

// Total returns the total number of redactions performed.
func (r Result) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

type customRule struct {
	re          *regexp.Regexp
	replacement string
}

// Redactor applies built-in and custom secret patterns.
type Redactor struct {
	mode     string
	salt     string
	disabled map[string]bool
	custom   []customRule
}

// New builds a redactor from configuration. Custom patterns that fail
// to compile are reported and skipped; built-ins always apply unless
// explicitly disabled. A broken config degrades, it never blocks capture.
func New(cfg config.RedactionConfig) *Redactor {
	log := logging.New("redact")

	r := &Redactor{
		mode:     cfg.Mode,
		salt:     cfg.Salt,
		disabled: make(map[string]bool, len(cfg.DisablePatterns)),
	}
	if r.mode != ModeHash {
		r.mode = ModeReplace
	}
	for _, name := range cfg.DisablePatterns {
		r.disabled[strings.ToUpper(name)] = true
	}
	for _, cp := range cfg.CustomPatterns {
		re, err := regexp.Compile(cp.Pattern)
		if err != nil {
			log.Warn().Err(err).Str("pattern", cp.Pattern).Msg("skipping malformed custom pattern")
			continue
		}
		r.custom = append(r.custom, customRule{re: re, replacement: cp.Replacement})
	}
	return r
}

// Redact returns a sanitized copy of text and per-category counts.
func (r *Redactor) Redact(text string) Result {
	result := Result{Text: text, Counts: make(map[string]int)}

	for _, p := range builtins {
		if r.disabled[p.category] {
			continue
		}
		result.Text = p.re.ReplaceAllStringFunc(result.Text, func(match string) string {
			result.Counts[p.category]++
			if r.mode == ModeHash {
				return r.hashToken(match)
			}
			return p.re.ReplaceAllString(match, p.replacement)
		})
	}

	for _, cr := range r.custom {
		n := len(cr.re.FindAllStringIndex(result.Text, -1))
		if n > 0 {
			result.Counts[CategoryCustom] += n
			result.Text = cr.re.ReplaceAllString(result.Text, cr.replacement)
		}
	}

	result.Text = r.redactHighEntropy(result.Text, result.Counts)
	return result
}

// RedactString is a convenience wrapper discarding the report.
func (r *Redactor) RedactString(text string) string {
	return r.Redact(text).Text
}

// redactHighEntropy flags long base64-ish tokens whose character-level
// entropy says "random", even without a known pattern.
func (r *Redactor) redactHighEntropy(text string, counts map[string]int) string {
	matches := entropyTokenRe.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		token := text[m[0]:m[1]]
		if strings.Contains(token, "REDACTED") || strings.Contains(token, "SHA256") {
			continue
		}
		if len(token) < entropyMinLength || shannonEntropy(token) <= entropyThreshold {
			continue
		}
		counts[CategoryHighEntropy]++
		sb.WriteString(text[last:m[0]])
		if r.mode == ModeHash {
			sb.WriteString(r.hashToken(token))
		} else {
			sb.WriteString("[REDACTED_HIGH_ENTROPY]")
		}
		last = m[1]
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// hashToken substitutes a salted digest prefix so repeated occurrences
// of the same secret stay correlatable without revealing the value.
func (r *Redactor) hashToken(token string) string {
	sum := sha256.Sum256([]byte(r.salt + token))
	return fmt.Sprintf("[SHA256:%s...]", hex.EncodeToString(sum[:])[:hashPrefixLength])
}

// shannonEntropy estimates bits of entropy per character from symbol
// frequency.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	total := 0
	for _, c := range s {
		freq[c]++
		total++
	}
	entropy := 0.0
	for _, count := range freq {
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}
