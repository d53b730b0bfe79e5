package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// profileFiles are read in order and joined into a system prompt override.
var profileFiles = []string{"SOUL.md", "Agent.md", "GOALS.md"}

// LoadProfile reads SOUL.md, Agent.md, and GOALS.md from dir/<role> and
// returns the concatenated content, or "" when none exist.
func LoadProfile(dir, role string) string {
	if dir == "" {
		return ""
	}
	base := filepath.Join(dir, role)
	var parts []string
	for _, f := range profileFiles {
		data, err := os.ReadFile(filepath.Join(base, f))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// CopyTemplate seeds dir/<role> from dir/_template so operators have files
// to edit. Existing files are left alone.
func CopyTemplate(dir, role string) error {
	src := filepath.Join(dir, "_template")
	dst := filepath.Join(dir, role)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, f := range profileFiles {
		target := filepath.Join(dst, f)
		if _, err := os.Stat(target); err == nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, f))
		if err != nil {
			continue
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
