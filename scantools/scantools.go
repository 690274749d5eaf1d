// Package scantools exposes a rules.Catalog to hosts as callable tools:
// scan, list_rules and describe_rule.
package scantools

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ggoodman/toolpipe/rules"
	"github.com/ggoodman/toolpipe/toolserver"
)

// Tool names.
const (
	ToolScan         = "scan"
	ToolListRules    = "list_rules"
	ToolDescribeRule = "describe_rule"
)

// ErrOutsideRoot is reported for scan paths that resolve outside the root.
var ErrOutsideRoot = errors.New("path is outside the scan root")

// Option customizes the tool set.
type Option func(*config)

type config struct {
	root         string
	maxFileBytes int64
}

// WithRoot confines scans to dir. Relative paths are resolved against it.
func WithRoot(dir string) Option {
	return func(c *config) { c.root = dir }
}

// WithMaxFileBytes caps the size of files a scan will read.
func WithMaxFileBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxFileBytes = n
		}
	}
}

// ScanArgs are the arguments of the scan tool.
type ScanArgs struct {
	Paths       []string `json:"paths" jsonschema:"minItems=1,description=Files or directories to scan"`
	Rules       []string `json:"rules,omitempty" jsonschema:"description=Restrict the scan to these rule ids"`
	MinSeverity string   `json:"minSeverity,omitempty" jsonschema:"enum=info,enum=low,enum=medium,enum=high,enum=critical"`
}

// ScanReport is the structured result of the scan tool.
type ScanReport struct {
	Findings []rules.Finding `json:"findings"`
	Counts   map[string]int  `json:"counts"`
	Rules    int             `json:"rulesApplied"`
}

// ListRulesArgs are the arguments of the list_rules tool.
type ListRulesArgs struct {
	Language    string `json:"language,omitempty" jsonschema:"description=Only rules that apply to this language"`
	MinSeverity string `json:"minSeverity,omitempty" jsonschema:"enum=info,enum=low,enum=medium,enum=high,enum=critical"`
}

// DescribeRuleArgs are the arguments of the describe_rule tool.
type DescribeRuleArgs struct {
	ID string `json:"id" jsonschema:"description=Rule id as returned by list_rules"`
}

// Tools returns the scanning tools backed by cat.
func Tools(cat *rules.Catalog, opts ...Option) []toolserver.Tool {
	cfg := config{maxFileBytes: rules.DefaultMaxFileBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.root != "" {
		if abs, err := filepath.Abs(cfg.root); err == nil {
			cfg.root = abs
		}
	}

	return []toolserver.Tool{
		toolserver.NewTool(ToolScan, func(ctx context.Context, a ScanArgs) (*toolserver.CallToolResult, error) {
			return scan(ctx, cat, cfg, a), nil
		}, toolserver.WithToolDescription("Scan source files for vulnerable patterns and report findings by file and line.")),
		toolserver.NewTool(ToolListRules, func(ctx context.Context, a ListRulesArgs) (*toolserver.CallToolResult, error) {
			return listRules(cat, a), nil
		}, toolserver.WithToolDescription("List the detection rules currently loaded.")),
		toolserver.NewTool(ToolDescribeRule, func(ctx context.Context, a DescribeRuleArgs) (*toolserver.CallToolResult, error) {
			r, ok := cat.Lookup(a.ID)
			if !ok {
				return toolserver.Errorf("unknown rule %q", a.ID), nil
			}
			return toolserver.StructuredResult(describe(r), r), nil
		}, toolserver.WithToolDescription("Show the pattern and remediation advice for one rule.")),
	}
}

func scan(ctx context.Context, cat *rules.Catalog, cfg config, a ScanArgs) *toolserver.CallToolResult {
	if len(a.Paths) == 0 {
		return toolserver.Errorf("at least one path is required")
	}
	paths := make([]string, 0, len(a.Paths))
	for _, p := range a.Paths {
		resolved, err := resolve(cfg.root, p)
		if err != nil {
			return toolserver.Errorf("%s: %v", p, err)
		}
		paths = append(paths, resolved)
	}

	selected, err := rules.Select(cat.Rules(), rules.ScanOptions{
		RuleIDs:     a.Rules,
		MinSeverity: rules.Severity(a.MinSeverity),
	})
	if err != nil {
		return toolserver.Errorf("scan failed: %v", err)
	}
	findings, err := rules.Scan(ctx, selected, paths, rules.ScanOptions{MaxFileBytes: cfg.maxFileBytes})
	if err != nil {
		return toolserver.Errorf("scan failed: %v", err)
	}
	if findings == nil {
		findings = []rules.Finding{}
	}

	report := ScanReport{Findings: findings, Counts: map[string]int{}, Rules: len(selected)}
	for _, f := range findings {
		report.Counts[string(f.Severity)]++
	}
	return toolserver.StructuredResult(summarize(findings), report)
}

// resolve joins p onto root and rejects results that escape it. With no root
// p is only cleaned.
func resolve(root, p string) (string, error) {
	if root == "" {
		return filepath.Clean(p), nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return p, nil
}

func summarize(findings []rules.Finding) string {
	if len(findings) == 0 {
		return "No findings."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d finding(s):\n", len(findings))
	for _, f := range findings {
		fmt.Fprintf(&b, "%s:%d:%d [%s] %s: %s\n", f.Path, f.Line, f.Column, f.Severity, f.RuleID, f.Title)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func listRules(cat *rules.Catalog, a ListRulesArgs) *toolserver.CallToolResult {
	floor := rules.Severity(a.MinSeverity)
	if floor != "" && !floor.Valid() {
		return toolserver.Errorf("invalid severity %q", a.MinSeverity)
	}
	out := []rules.Rule{}
	for _, r := range cat.Rules() {
		if !r.Severity.AtLeast(floor) {
			continue
		}
		if a.Language != "" && !r.AppliesTo(a.Language) {
			continue
		}
		out = append(out, r)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d rule(s)", len(out))
	for _, r := range out {
		fmt.Fprintf(&b, "\n%s [%s] %s", r.ID, r.Severity, r.Title)
	}
	return toolserver.StructuredResult(b.String(), map[string]any{"rules": out})
}

func describe(r rules.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", r.ID, r.Severity, r.Title)
	if len(r.Languages) > 0 {
		fmt.Fprintf(&b, "\nlanguages: %s", strings.Join(r.Languages, ", "))
	}
	fmt.Fprintf(&b, "\npattern: %s", r.Pattern)
	if r.Description != "" {
		fmt.Fprintf(&b, "\n%s", r.Description)
	}
	return b.String()
}
