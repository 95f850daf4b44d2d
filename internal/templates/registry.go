// Package templates holds the campaign templates shipped with the mailer.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ignite/campaign-mailer/internal/domain"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// DefaultName is used when a run names no template.
const DefaultName = "business_intro"

// ErrNotFound is returned for an unknown template name.
var ErrNotFound = errors.New("template not found")

// Builtin is a shipped template with default base variables.
type Builtin struct {
	Template domain.Template
	// Defaults fill variables the caller leaves unset.
	Defaults map[string]string
}

// Variables returns Defaults overridden by vars.
func (b Builtin) Variables(vars map[string]string) map[string]string {
	out := make(map[string]string, len(b.Defaults)+len(vars))
	maps.Copy(out, b.Defaults)
	maps.Copy(out, vars)
	return out
}

type builtinFile struct {
	domain.Template `yaml:",inline"`
	Defaults        map[string]string `yaml:"defaults"`
}

// Registry maps template names to shipped templates.
type Registry struct {
	templates map[string]Builtin
}

// NewRegistry loads the embedded templates.
func NewRegistry() (*Registry, error) {
	return load(builtinFS, "builtin")
}

// Default is the shared registry of embedded templates, loaded once.
var Default = sync.OnceValues(NewRegistry)

// Lookup returns the named embedded template; an empty name selects
// DefaultName.
func Lookup(name string) (Builtin, error) {
	reg, err := Default()
	if err != nil {
		return Builtin{}, err
	}
	if name == "" {
		name = DefaultName
	}
	return reg.Get(name)
}

func load(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	r := &Registry{templates: make(map[string]Builtin, len(entries))}
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", e.Name(), err)
		}
		var f builtinFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", e.Name(), err)
		}
		if f.Name == "" {
			f.Name = strings.TrimSuffix(e.Name(), ".yaml")
		}
		if f.IsEmpty() {
			return nil, fmt.Errorf("template %s is empty", f.Name)
		}
		r.templates[f.Name] = Builtin{Template: f.Template, Defaults: f.Defaults}
	}
	return r, nil
}

// Get returns the named template.
func (r *Registry) Get(name string) (Builtin, error) {
	b, ok := r.templates[name]
	if !ok {
		return Builtin{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return b, nil
}

// Names lists the registered templates in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.templates))
}
