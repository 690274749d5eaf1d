// Package rules holds the vulnerability rule catalog served by the worker and
// a line-oriented scanner that applies it to files on disk.
//
// Rules are regular expressions (RE2 syntax) grouped in YAML files:
//
//	rules:
//	  - id: sql-injection
//	    title: SQL statement built from interpolated input
//	    severity: high
//	    languages: [python]
//	    pattern: '(?i)f["''](select|insert)\b[^"'']*\{'
//	    description: Use parameterized queries.
//
// A rule without languages applies to every scanned file.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Severity ranks a rule.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s is as severe as min. An empty min matches all.
func (s Severity) AtLeast(min Severity) bool {
	if min == "" {
		return true
	}
	return severityRank[s] >= severityRank[min]
}

// Rule is a single detection rule.
type Rule struct {
	ID          string   `yaml:"id" json:"id"`
	Title       string   `yaml:"title" json:"title"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Languages   []string `yaml:"languages,omitempty" json:"languages,omitempty"`
	Pattern     string   `yaml:"pattern" json:"pattern"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`

	re *regexp.Regexp
}

// compile validates the rule and compiles its pattern.
func (r *Rule) compile() error {
	if r.ID == "" {
		return errors.New("rule id is required")
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: invalid severity %q", r.ID, r.Severity)
	}
	for _, lang := range r.Languages {
		if _, ok := languageExts[lang]; !ok {
			return fmt.Errorf("rule %s: unknown language %q", r.ID, lang)
		}
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	r.re = re
	return nil
}

// AppliesTo reports whether the rule should run against a file of the given
// language ("" for unrecognized extensions).
func (r Rule) AppliesTo(lang string) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

var languageExts = map[string][]string{
	"python":     {".py"},
	"javascript": {".js", ".jsx", ".mjs", ".cjs"},
	"typescript": {".ts", ".tsx"},
	"go":         {".go"},
	"java":       {".java"},
	"php":        {".php"},
	"ruby":       {".rb"},
}

// LanguageOf maps a file name to a language, or "" when unknown.
func LanguageOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for lang, exts := range languageExts {
		for _, e := range exts {
			if e == ext {
				return lang
			}
		}
	}
	return ""
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Parse decodes and compiles the rules in a YAML document. source names the
// document in error messages.
func Parse(data []byte, source string) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", source, err)
	}
	for i := range f.Rules {
		if err := f.Rules[i].compile(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", source, err)
		}
	}
	return f.Rules, nil
}

// LoadDir parses every *.yaml and *.yml file directly inside dir.
func LoadDir(dir string) ([]Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}
	var out []Rule
	for _, e := range entries {
		if e.IsDir() || !isRuleFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rs, err := Parse(data, path)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

func isRuleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

//go:embed builtin.yaml
var builtinYAML []byte

// Builtin returns the rules shipped with the worker.
func Builtin() []Rule {
	rs, err := Parse(builtinYAML, "builtin.yaml")
	if err != nil {
		panic(err)
	}
	return rs
}

// Catalog is a concurrency-safe, replaceable rule set. Base rules are always
// present; rules loaded from a directory are layered on top.
type Catalog struct {
	base []Rule

	mu    sync.RWMutex
	rules []Rule
	byID  map[string]int
}

// NewCatalog builds a catalog seeded with base rules.
func NewCatalog(base ...Rule) (*Catalog, error) {
	c := &Catalog{base: base}
	if err := c.Replace(nil); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace swaps the non-base rules. Duplicate ids are rejected and leave the
// catalog unchanged.
func (c *Catalog) Replace(extra []Rule) error {
	all := make([]Rule, 0, len(c.base)+len(extra))
	all = append(all, c.base...)
	all = append(all, extra...)

	byID := make(map[string]int, len(all))
	for i := range all {
		if all[i].re == nil {
			if err := all[i].compile(); err != nil {
				return err
			}
		}
		if _, dup := byID[all[i].ID]; dup {
			return fmt.Errorf("duplicate rule id %q", all[i].ID)
		}
		byID[all[i].ID] = i
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for i := range all {
		byID[all[i].ID] = i
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = all
	c.byID = byID
	return nil
}

// Load replaces the non-base rules with those found in dir.
func (c *Catalog) Load(dir string) error {
	rs, err := LoadDir(dir)
	if err != nil {
		return err
	}
	return c.Replace(rs)
}

// Rules returns the current rules sorted by id.
func (c *Catalog) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Lookup returns the rule with the given id.
func (c *Catalog) Lookup(id string) (Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i], true
}
