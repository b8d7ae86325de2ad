// Package artifacts persists run outputs: research notes, section plans,
// per-section scripts, the final script, and synthesized audio. Every run
// gets its own directory so reruns never clobber earlier output.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// Store writes files into one run directory.
type Store struct {
	dir string
}

// NewStore creates the run directory <base>/<sanitized-topic>_<timestamp>.
func NewStore(baseDir, topic string, now time.Time) (*Store, error) {
	name := fmt.Sprintf("%s_%s", SanitizeName(topic), now.Format("20060102_150405"))
	dir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the run directory path.
func (s *Store) Dir() string { return s.dir }

// Path returns the full path for a file name inside the run directory.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// SaveText writes a text artifact.
func (s *Store) SaveText(name, content string) error {
	if err := os.WriteFile(s.Path(name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// SaveBytes writes a binary artifact (audio).
func (s *Store) SaveBytes(name string, data []byte) error {
	if err := os.WriteFile(s.Path(name), data, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// SaveJSON writes an indented JSON artifact.
func (s *Store) SaveJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.SaveBytes(name, append(data, '\n'))
}

// SanitizeName reduces free text to a filesystem-safe token: alphanumerics
// kept, runs of anything else collapsed to single underscores, capped at 50
// bytes.
func SanitizeName(text string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) && r < 128 {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	name := strings.Trim(b.String(), "_")
	if len(name) > 50 {
		name = strings.Trim(name[:50], "_")
	}
	if name == "" {
		name = "untitled"
	}
	return name
}

// SectionFileName names the per-section script artifact.
func SectionFileName(title string) string {
	return fmt.Sprintf("script_section_%s.txt", SanitizeName(title))
}
