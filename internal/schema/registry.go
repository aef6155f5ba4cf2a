// Package schema holds the fixed set of banking inquiry categories and the
// details the assistant must collect for each of them.
package schema

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/bankdesk/internal/types"
)

// Fallback is the category used when nothing else matches.
const Fallback = "General Information"

//go:embed categories.yaml
var defaultCategories []byte

// Field is one detail a category requires.
type Field struct {
	Key  string `yaml:"key" json:"key"`
	Hint string `yaml:"hint" json:"hint"`
}

// Category is the schema of one inquiry category.
type Category struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description" json:"description"`
	Fields      []Field `yaml:"fields" json:"required_fields"`
}

// Has reports whether key is one of the category's required fields.
func (c *Category) Has(key string) bool {
	for _, f := range c.Fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// Missing returns the required fields that have no value in data, in schema order.
func (c *Category) Missing(data map[string]string) []Field {
	var out []Field
	for _, f := range c.Fields {
		if strings.TrimSpace(data[f.Key]) == "" {
			out = append(out, f)
		}
	}
	return out
}

// Known returns the required fields that already have a value, in schema order.
func (c *Category) Known(data map[string]string) []Field {
	var out []Field
	for _, f := range c.Fields {
		if strings.TrimSpace(data[f.Key]) != "" {
			out = append(out, f)
		}
	}
	return out
}

// Summary is the name/description pair exposed by List.
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry is a read-only category lookup. It is safe for concurrent use
// because nothing mutates it after Load returns.
type Registry struct {
	order  []*Category
	byName map[string]*Category
}

type document struct {
	Categories []*Category `yaml:"categories"`
}

// Load parses a YAML category document.
func Load(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("no categories defined")
	}

	r := &Registry{byName: make(map[string]*Category, len(doc.Categories))}
	for _, c := range doc.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category without name")
		}
		norm := normalize(c.Name)
		if _, dup := r.byName[norm]; dup {
			return nil, fmt.Errorf("duplicate category %q", c.Name)
		}
		if len(c.Fields) == 0 {
			return nil, fmt.Errorf("category %q has no required fields", c.Name)
		}
		for _, f := range c.Fields {
			if f.Key == "" {
				return nil, fmt.Errorf("category %q has a field without key", c.Name)
			}
		}
		r.byName[norm] = c
		r.order = append(r.order, c)
	}
	if _, ok := r.byName[normalize(Fallback)]; !ok {
		return nil, fmt.Errorf("fallback category %q missing", Fallback)
	}
	return r, nil
}

// MustDefault returns the registry built from the embedded category document.
func MustDefault() *Registry {
	r, err := Load(defaultCategories)
	if err != nil {
		panic(fmt.Sprintf("embedded categories: %v", err))
	}
	return r
}

// Lookup returns the schema for name, matched case-insensitively.
func (r *Registry) Lookup(name string) (*Category, error) {
	c, ok := r.byName[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrSchemaNotFound, name)
	}
	return c, nil
}

// List returns every category in definition order.
func (r *Registry) List() []Summary {
	out := make([]Summary, len(r.order))
	for i, c := range r.order {
		out[i] = Summary{Name: c.Name, Description: c.Description}
	}
	return out
}

// Names returns every category name in definition order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	for i, c := range r.order {
		out[i] = c.Name
	}
	return out
}

// Match returns the canonical names of the categories mentioned in text,
// ordered by first appearance and without duplicates.
func (r *Registry) Match(text string) []string {
	haystack := normalize(text)

	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for norm, c := range r.byName {
		if pos := strings.Index(haystack, norm); pos >= 0 {
			hits = append(hits, hit{pos: pos, name: c.Name})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].name < hits[j].name
	})

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.name)
	}
	return out
}

var separators = regexp.MustCompile(`[\s_\-]+`)

func normalize(s string) string {
	return strings.TrimSpace(separators.ReplaceAllString(strings.ToLower(s), " "))
}
