package rules

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxFileBytes is the default per-file size cap for Scan.
const DefaultMaxFileBytes = 2 << 20

// Finding is one rule match.
type Finding struct {
	RuleID   string   `json:"ruleId"`
	Title    string   `json:"title"`
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Snippet  string   `json:"snippet"`
}

// ScanOptions narrows a scan.
type ScanOptions struct {
	// RuleIDs restricts the scan to these rules. Empty means all.
	RuleIDs []string
	// MinSeverity drops findings below this severity.
	MinSeverity Severity
	// MaxFileBytes skips larger files. Zero means DefaultMaxFileBytes.
	MaxFileBytes int64
}

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// Scan applies rules to every file under paths. Directories are walked
// recursively; well-known dependency and VCS directories are skipped.
// Findings are ordered by path, line and rule id.
func Scan(ctx context.Context, rules []Rule, paths []string, opts ScanOptions) ([]Finding, error) {
	selected, err := Select(rules, opts)
	if err != nil {
		return nil, err
	}
	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	var findings []Finding
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				if path != root && skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Size() > maxBytes {
				return nil
			}
			found, err := scanFile(path, selected)
			if err != nil {
				return err
			}
			findings = append(findings, found...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.RuleID < b.RuleID
	})
	return findings, nil
}

// Select returns the rules a scan with opts would apply, compiled. It fails
// on an invalid MinSeverity or when a requested rule id is unknown.
func Select(rules []Rule, opts ScanOptions) ([]Rule, error) {
	if opts.MinSeverity != "" && !opts.MinSeverity.Valid() {
		return nil, fmt.Errorf("invalid severity %q", opts.MinSeverity)
	}
	want := make(map[string]bool, len(opts.RuleIDs))
	for _, id := range opts.RuleIDs {
		want[id] = true
	}
	seen := make(map[string]bool, len(want))
	var out []Rule
	for _, r := range rules {
		if len(want) > 0 && !want[r.ID] {
			continue
		}
		seen[r.ID] = true
		if !r.Severity.AtLeast(opts.MinSeverity) {
			continue
		}
		if r.re == nil {
			if err := r.compile(); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	var missing []string
	for id := range want {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("unknown rules: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func scanFile(path string, rules []Rule) ([]Finding, error) {
	lang := LanguageOf(path)
	var applicable []Rule
	for _, r := range rules {
		if r.AppliesTo(lang) {
			applicable = append(applicable, r)
		}
	}
	if len(applicable) == 0 {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		// binary
		return nil, nil
	}

	var out []Finding
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), max(len(data)+1, 64*1024))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		for _, r := range applicable {
			loc := r.re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			out = append(out, Finding{
				RuleID:   r.ID,
				Title:    r.Title,
				Severity: r.Severity,
				Path:     path,
				Line:     n,
				Column:   loc[0] + 1,
				Snippet:  strings.TrimSpace(line),
			})
		}
	}
	return out, sc.Err()
}
