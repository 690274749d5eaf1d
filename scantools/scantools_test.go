package scantools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggoodman/toolpipe/rules"
	"github.com/ggoodman/toolpipe/toolserver"
)

const leakyGo = `package main

const apiToken = "tok-123456"
`

func setup(t *testing.T, opts ...Option) (map[string]toolserver.Tool, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(leakyGo), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := rules.NewCatalog(rules.Builtin()...)
	if err != nil {
		t.Fatal(err)
	}
	tools := make(map[string]toolserver.Tool)
	for _, tool := range Tools(cat, append([]Option{WithRoot(dir)}, opts...)...) {
		tools[tool.Descriptor.Name] = tool
	}
	return tools, dir
}

func call(t *testing.T, tool toolserver.Tool, args string) *toolserver.CallToolResult {
	t.Helper()
	res, err := tool.Handler(context.Background(), json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s: %v", tool.Descriptor.Name, err)
	}
	return res
}

func TestTools_Names(t *testing.T) {
	tools, _ := setup(t)
	for _, name := range []string{ToolScan, ToolListRules, ToolDescribeRule} {
		if _, ok := tools[name]; !ok {
			t.Fatalf("missing tool %s", name)
		}
	}
}

func TestScan(t *testing.T) {
	tools, dir := setup(t)

	res := call(t, tools[ToolScan], `{"paths":["."]}`)
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content[0].Text)
	}
	report, ok := res.StructuredContent.(ScanReport)
	if !ok {
		t.Fatalf("unexpected structured content %T", res.StructuredContent)
	}
	if len(report.Findings) != 1 || report.Findings[0].RuleID != "hardcoded-password" {
		t.Fatalf("unexpected findings: %+v", report.Findings)
	}
	if report.Findings[0].Path != filepath.Join(dir, "main.go") || report.Findings[0].Line != 3 {
		t.Fatalf("unexpected location: %+v", report.Findings[0])
	}
	if report.Counts["medium"] != 1 {
		t.Fatalf("unexpected counts: %v", report.Counts)
	}
	if !strings.Contains(res.Content[0].Text, "main.go:3:") {
		t.Fatalf("summary should cite the location: %s", res.Content[0].Text)
	}

	res = call(t, tools[ToolScan], `{"paths":["main.go"],"minSeverity":"high"}`)
	if report := res.StructuredContent.(ScanReport); len(report.Findings) != 0 {
		t.Fatalf("severity filter ignored: %+v", report.Findings)
	}
	if res.Content[0].Text != "No findings." {
		t.Fatalf("unexpected summary %q", res.Content[0].Text)
	}
}

func TestScan_RulesApplied(t *testing.T) {
	tools, _ := setup(t)

	var critical int
	for _, r := range rules.Builtin() {
		if r.Severity == rules.SeverityCritical {
			critical++
		}
	}

	for args, want := range map[string]int{
		`{"paths":["."]}`:                                            len(rules.Builtin()),
		`{"paths":["."],"minSeverity":"critical"}`:                   critical,
		`{"paths":["."],"rules":["weak-hash","aws-credentials"]}`:    2,
		`{"paths":["."],"rules":["weak-hash"],"minSeverity":"high"}`: 0,
	} {
		res := call(t, tools[ToolScan], args)
		if res.IsError {
			t.Fatalf("%s: %s", args, res.Content[0].Text)
		}
		if got := res.StructuredContent.(ScanReport).Rules; got != want {
			t.Fatalf("%s: rulesApplied = %d, want %d", args, got, want)
		}
	}
}

func TestScan_Errors(t *testing.T) {
	tools, _ := setup(t)

	for name, args := range map[string]string{
		"escape root":   `{"paths":["../.."]}`,
		"missing path":  `{"paths":["nope"]}`,
		"unknown rule":  `{"paths":["."],"rules":["nope"]}`,
		"no paths":      `{"paths":[]}`,
		"unknown field": `{"paths":["."],"depth":3}`,
	} {
		t.Run(name, func(t *testing.T) {
			if res := call(t, tools[ToolScan], args); !res.IsError {
				t.Fatalf("expected an error result for %s", args)
			}
		})
	}
}

func TestListRules(t *testing.T) {
	tools, _ := setup(t)

	res := call(t, tools[ToolListRules], `{}`)
	all := res.StructuredContent.(map[string]any)["rules"].([]rules.Rule)
	if len(all) != len(rules.Builtin()) {
		t.Fatalf("expected every builtin rule, got %d", len(all))
	}

	res = call(t, tools[ToolListRules], `{"language":"go","minSeverity":"critical"}`)
	filtered := res.StructuredContent.(map[string]any)["rules"].([]rules.Rule)
	for _, r := range filtered {
		if r.Severity != rules.SeverityCritical || !r.AppliesTo("go") {
			t.Fatalf("filter let %s through", r.ID)
		}
	}
	if len(filtered) == 0 {
		t.Fatal("expected aws-credentials to match")
	}

	if res := call(t, tools[ToolListRules], `{"minSeverity":"extreme"}`); !res.IsError {
		t.Fatal("expected an error for an unknown severity")
	}
}

func TestDescribeRule(t *testing.T) {
	tools, _ := setup(t)

	res := call(t, tools[ToolDescribeRule], `{"id":"weak-hash"}`)
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content[0].Text)
	}
	if r := res.StructuredContent.(rules.Rule); r.ID != "weak-hash" {
		t.Fatalf("unexpected rule %+v", r)
	}
	if !strings.Contains(res.Content[0].Text, "pattern: ") {
		t.Fatalf("description should include the pattern: %s", res.Content[0].Text)
	}

	if res := call(t, tools[ToolDescribeRule], `{"id":"nope"}`); !res.IsError {
		t.Fatal("expected an error result for an unknown rule")
	}
}

func TestResolve(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "code")
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "pkg", want: filepath.Join(root, "pkg")},
		{in: ".", want: root},
		{in: filepath.Join(root, "a", "..", "b"), want: filepath.Join(root, "b")},
		{in: "..", err: true},
		{in: filepath.Join("..", "code2"), err: true},
		{in: string(filepath.Separator) + "etc", err: true},
	}
	for _, tc := range cases {
		got, err := resolve(root, tc.in)
		if tc.err {
			if err == nil {
				t.Fatalf("resolve(%q) should fail, got %q", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("resolve(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}
