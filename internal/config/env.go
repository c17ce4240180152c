package config

import (
	"os"
	"sync"
)

// Env holds all promptrail environment variables.
type EnvVars struct {
	// SessionID is the session identifier injected by lifecycle hooks
	// (PROMPTRAIL_SESSION_ID).
	SessionID string

	// Provider overrides the provider recorded on captured receipts
	// (PROMPTRAIL_PROVIDER).
	Provider string

	// NotesRef overrides the notes namespace (PROMPTRAIL_NOTES_REF).
	NotesRef string

	// Remote is the sync remote name (PROMPTRAIL_REMOTE).
	Remote string

	// Debug enables debug logging (PROMPTRAIL_DEBUG).
	Debug bool
}

var (
	env     *EnvVars
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *EnvVars {
	envOnce.Do(func() {
		env = &EnvVars{
			SessionID: os.Getenv("PROMPTRAIL_SESSION_ID"),
			Provider:  os.Getenv("PROMPTRAIL_PROVIDER"),
			NotesRef:  getEnvDefault("PROMPTRAIL_NOTES_REF", "refs/notes/promptrail"),
			Remote:    getEnvDefault("PROMPTRAIL_REMOTE", "origin"),
			Debug:     os.Getenv("PROMPTRAIL_DEBUG") == "1",
		}
	})
	return env
}

// ResetEnv clears the cached environment. For tests.
func ResetEnv() {
	env = nil
	envOnce = sync.Once{}
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
