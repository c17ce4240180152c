// Package hooks installs the git hooks that drive the attribution
// lifecycle. Existing user hooks are preserved: promptrail owns only a
// marker-delimited block inside each hook file.
package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/joss/promptrail/internal/logging"
)

const (
	beginMarker = "# >>> promptrail >>>"
	endMarker   = "# <<< promptrail <<<"
	shebang     = "#!/bin/sh"
)

// Names lists the hooks promptrail installs.
var Names = []string{"pre-commit", "post-commit", "post-checkout", "post-merge", "post-rewrite"}

// Every hook body swallows promptrail failures: attribution must never
// block or fail the git operation that triggered it.
var hookBodies = map[string]string{
	"pre-commit":    `promptrail staging verify --quiet || true`,
	"post-commit":   `promptrail attach --quiet || true`,
	"post-checkout": `promptrail cache rebuild --quiet || true`,
	"post-merge":    `promptrail cache rebuild --quiet || true`,
	"post-rewrite":  `promptrail remap "$1" || true`,
}

// Installer writes and removes the hook blocks for one repository.
type Installer struct {
	hooksDir string
	log      zerolog.Logger
}

// NewInstaller targets a repository's .git directory.
func NewInstaller(gitDir string) *Installer {
	return &Installer{
		hooksDir: filepath.Join(gitDir, "hooks"),
		log:      logging.New("hooks"),
	}
}

// Install writes the promptrail block into each hook, creating hook
// files that don't exist and replacing a previous block in ones that
// do. Re-running is idempotent.
func (in *Installer) Install() error {
	if err := os.MkdirAll(in.hooksDir, 0o755); err != nil {
		return fmt.Errorf("create hooks dir: %w", err)
	}
	for _, name := range Names {
		if err := in.installOne(name); err != nil {
			return err
		}
		in.log.Debug().Str("hook", name).Msg("installed")
	}
	return nil
}

// Uninstall removes the promptrail block from each hook, deleting hook
// files that end up empty.
func (in *Installer) Uninstall() error {
	for _, name := range Names {
		path := filepath.Join(in.hooksDir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read hook %s: %w", name, err)
		}

		stripped := stripBlock(string(data))
		if emptyHook(stripped) {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove hook %s: %w", name, err)
			}
			continue
		}
		if err := os.WriteFile(path, []byte(stripped), 0o755); err != nil {
			return fmt.Errorf("write hook %s: %w", name, err)
		}
	}
	return nil
}

// Installed reports which hooks currently carry a promptrail block.
func (in *Installer) Installed() []string {
	var out []string
	for _, name := range Names {
		data, err := os.ReadFile(filepath.Join(in.hooksDir, name))
		if err == nil && strings.Contains(string(data), beginMarker) {
			out = append(out, name)
		}
	}
	return out
}

func (in *Installer) installOne(name string) error {
	path := filepath.Join(in.hooksDir, name)
	block := fmt.Sprintf("%s\n%s\n%s\n", beginMarker, hookBodies[name], endMarker)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		content := shebang + "\n" + block
		return os.WriteFile(path, []byte(content), 0o755)
	}
	if err != nil {
		return fmt.Errorf("read hook %s: %w", name, err)
	}

	content := stripBlock(string(data))
	if !strings.HasSuffix(content, "\n") && content != "" {
		content += "\n"
	}
	content += block
	return os.WriteFile(path, []byte(content), 0o755)
}

// stripBlock removes a previous promptrail block, markers included.
func stripBlock(content string) string {
	start := strings.Index(content, beginMarker)
	if start < 0 {
		return content
	}
	end := strings.Index(content, endMarker)
	if end < 0 {
		return content[:start]
	}
	rest := content[end+len(endMarker):]
	rest = strings.TrimPrefix(rest, "\n")
	return content[:start] + rest
}

func emptyHook(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != shebang && !strings.HasPrefix(line, "#") {
			return false
		}
	}
	return true
}
