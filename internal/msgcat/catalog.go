// Package msgcat holds user-facing strings: error texts and notices sent to
// sockets and HTTP clients.
package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/pkg/wire"
)

//go:embed messages.en.yaml
var defaultFiles embed.FS

const defaultFile = "messages.en.yaml"

// Catalog maps dot keys (errors.SelfJoin, lobby.invite) to templates.
// Templates are compiled at load so a broken override fails startup, not a
// request.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// New loads the embedded messages, then overrides from dir when set. Within
// dir, *.yaml and *.yml files are applied in name order and may not define
// the same key twice.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*template.Template)}
	raw, err := defaultFiles.ReadFile(defaultFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	flat, err := flatten(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded messages: %w", err)
	}
	if err := c.apply(flat); err != nil {
		return nil, err
	}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		if err := c.applyDir(dir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read message dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	seen := make(map[string]string)
	for _, name := range files {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := flatten(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range flat {
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			seen[k] = name
		}
		if err := c.apply(flat); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) apply(flat map[string]string) error {
	compiled := make(map[string]*template.Template, len(flat))
	for k, v := range flat {
		t, err := template.New(k).Option("missingkey=error").Parse(v)
		if err != nil {
			return fmt.Errorf("template %s: %w", k, err)
		}
		compiled[k] = t
	}
	c.mu.Lock()
	for k, t := range compiled {
		c.templates[k] = t
	}
	c.mu.Unlock()
	return nil
}

func flatten(raw []byte) (map[string]string, error) {
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if err := walk(m, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

// walk accepts only string leaves.
func walk(node any, prefix string, out map[string]string) error {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := walk(child, key, out); err != nil {
				return err
			}
		}
	case string:
		if prefix == "" {
			return errors.New("string value without key")
		}
		out[prefix] = v
	case nil:
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
	return nil
}

// Render executes the template under key. Missing keys and missing data
// fields are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	t, ok := c.templates[strings.TrimSpace(key)]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Text renders key, returning fallback on any failure.
func (c *Catalog) Text(key, fallback string, data any) string {
	if c == nil {
		return fallback
	}
	s, err := c.Render(key, data)
	if err != nil || strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// ErrorText is the user-facing text for code.
func (c *Catalog) ErrorText(code domain.Code) string {
	return c.Text("errors."+string(code), domain.DefaultMessage(code), nil)
}

// Theme picks the toast style for code.
func Theme(code domain.Code) string {
	if domain.IsClientError(code) {
		return wire.ThemeWarning
	}
	return wire.ThemeDanger
}

// ErrorFrame builds the ERROR frame for err.
func (c *Catalog) ErrorFrame(err error) wire.Error {
	code := domain.CodeOf(err)
	return wire.Error{Type: wire.TypeError, Code: string(code), Message: c.ErrorText(code), Theme: Theme(code)}
}
