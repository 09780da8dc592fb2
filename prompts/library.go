// Package prompts holds the prompt templates sent to the completion backend.
//
// Templates are opaque text with {name} placeholders. Compiled-in defaults
// can be overridden by *.tmpl files in a directory, optionally reloaded
// when the files change.
package prompts

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// TemplateExt is the file extension of template overrides.
const TemplateExt = ".tmpl"

// ErrUnknownTemplate is returned when rendering a name with no template.
var ErrUnknownTemplate = errors.New("unknown prompt template")

// Library is a concurrency-safe set of named templates.
type Library struct {
	mu        sync.RWMutex
	templates map[string]string
	logger    *slog.Logger
}

// NewLibrary creates a library holding the default templates.
func NewLibrary(logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		templates: cloneDefaults(),
		logger:    logger,
	}
}

func cloneDefaults() map[string]string {
	m := make(map[string]string, len(defaults))
	for k, v := range defaults {
		m[k] = v
	}
	return m
}

// Get returns the raw template for name.
func (l *Library) Get(name string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[name]
	return t, ok
}

// Names returns the sorted template names.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render substitutes vars into the named template. Placeholders without a
// matching var are left as-is.
func (l *Library) Render(name string, vars map[string]string) (string, error) {
	tmpl, ok := l.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return Fill(tmpl, vars), nil
}

// Fill substitutes {name} placeholders in tmpl. Substitution is single-pass:
// placeholder text inside a substituted value is not expanded again.
func Fill(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// LoadDir replaces the current overrides with the *.tmpl files under dir
// (recursively). A template's name is its file name without the extension.
// On error the library is left unchanged.
func (l *Library) LoadDir(dir string) (int, error) {
	pattern := filepath.Join(dir, "**", "*"+TemplateExt)
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return 0, fmt.Errorf("glob %s: %w", pattern, err)
	}

	next := cloneDefaults()
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("read template %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), TemplateExt)
		next[name] = string(data)
	}

	l.mu.Lock()
	l.templates = next
	l.mu.Unlock()

	l.logger.Debug("Loaded prompt overrides", "dir", dir, "count", len(matches))
	return len(matches), nil
}
