package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// Template paths understood by the AI extractors
const (
	ExtractPath    = "ai/extract.md"
	ConfidencePath = "ai/confidence.md"
)

// Loader manages prompt templates with override support.
type Loader struct {
	overrideDirs []string // Directories to check for overrides (in priority order)
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// TemplateMeta holds frontmatter metadata, including the model settings
// the prompt was tuned for.
type TemplateMeta struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	System      string  `yaml:"system" json:"system"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens" json:"max_tokens"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. The configured override dir, if any
// 2. User config: ~/.config/factory-coordinator/prompts/
func DefaultLoader(overrideDir string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if overrideDir != "" {
		dirs = append(dirs, overrideDir)
	}
	dirs = append(dirs, filepath.Join(home, ".config", "factory-coordinator", "prompts"))

	return NewLoader(dirs...)
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		fullPath := filepath.Join(dir, path)
		if data, err := os.ReadFile(fullPath); err == nil {
			return data, nil
		}
	}

	return fs.ReadFile(embeddedFS, path)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := string(content)

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil // No frontmatter
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // Malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// LoadTemplate loads and parses a template by path (e.g., "ai/extract.md").
func (l *Loader) LoadTemplate(path string) (*template.Template, *TemplateMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[path]; ok {
		meta := l.metaCache[path]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	tmpl, err := template.New(path).Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.metaCache[path] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute loads and executes a template with the given data.
func (l *Loader) Execute(path string, data interface{}) (string, error) {
	tmpl, _, err := l.LoadTemplate(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", path, err)
	}

	return buf.String(), nil
}

// Prompt is a rendered prompt together with its model settings
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int64
}

// ExtractData holds template variables for the extraction prompt.
type ExtractData struct {
	Text   string
	Fields []domain.SchemaField
}

// ConfidenceData holds template variables for the confidence prompt.
type ConfidenceData struct {
	Text string
	Data string
}

// BuildExtractPrompt renders the extraction prompt.
func (l *Loader) BuildExtractPrompt(data ExtractData) (*Prompt, error) {
	return l.build(ExtractPath, data)
}

// BuildConfidencePrompt renders the confidence prompt.
func (l *Loader) BuildConfidencePrompt(data ConfidenceData) (*Prompt, error) {
	return l.build(ConfidencePath, data)
}

func (l *Loader) build(path string, data interface{}) (*Prompt, error) {
	user, err := l.Execute(path, data)
	if err != nil {
		return nil, err
	}
	_, meta, err := l.LoadTemplate(path)
	if err != nil {
		return nil, err
	}
	p := &Prompt{User: strings.TrimSpace(user)}
	if meta != nil {
		p.System = meta.System
		p.Temperature = meta.Temperature
		p.MaxTokens = meta.MaxTokens
	}
	return p, nil
}

// ListTemplates returns metadata for all AI templates, read through the
// override directories.
func (l *Loader) ListTemplates() ([]*TemplateMeta, error) {
	entries, err := fs.ReadDir(embeddedFS, "ai")
	if err != nil {
		return nil, err
	}

	var result []*TemplateMeta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := "ai/" + entry.Name()
		_, meta, err := l.LoadTemplate(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if meta != nil {
			result = append(result, meta)
		}
	}

	return result, nil
}
