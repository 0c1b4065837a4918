package reviewer

import (
	"strings"
	"testing"

	"github.com/CosmoTheDev/codeloop-agent/models"
)

func TestParseIssueListStrictJSON(t *testing.T) {
	issues := parseIssueList(`["missing nil check", "off-by-one in paging"]`)
	if len(issues) != 2 || issues[0] != "missing nil check" {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestParseIssueListFencedJSON(t *testing.T) {
	issues := parseIssueList("```json\n[\"one issue\"]\n```")
	if len(issues) != 1 || issues[0] != "one issue" {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestParseIssueListBulletFallback(t *testing.T) {
	out := "Here is what I found:\n- error paths untested\n- config not validated\nhope this helps"
	issues := parseIssueList(out)
	if len(issues) != 2 || issues[0] != "error paths untested" || issues[1] != "config not validated" {
		t.Fatalf("unexpected issues: %v", issues)
	}
}

func TestParseIssueListCapsAtLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < maxModelIssues+5; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`"issue"`)
	}
	b.WriteString("]")
	if got := parseIssueList(b.String()); len(got) != maxModelIssues {
		t.Fatalf("expected cap at %d, got %d", maxModelIssues, len(got))
	}
}

func TestParseIssueListGarbageYieldsNothing(t *testing.T) {
	if got := parseIssueList("no structured content here"); len(got) != 0 {
		t.Fatalf("expected nothing, got %v", got)
	}
	if got := parseIssueList("[]"); len(got) != 0 {
		t.Fatalf("expected empty array to yield nothing, got %v", got)
	}
}

func TestIsMajorTask(t *testing.T) {
	cases := map[string]bool{
		"Refactor the storage layer":       true,
		"MAJOR rework of the gateway":      true,
		"database migration to v2":         true,
		"fix a typo in the readme":         false,
		"add a flag to the status command": false,
	}
	for desc, want := range cases {
		if got := isMajorTask(desc); got != want {
			t.Errorf("isMajorTask(%q) = %v, want %v", desc, got, want)
		}
	}
}

func TestSyntaxIssuesFlagsFailingTests(t *testing.T) {
	result := models.TaskResult{
		Files: []string{"a.go"},
		Tests: models.TestOutcome{OK: false, ExitCode: 2, Stderr: "x.go:3: undefined: Foo"},
	}
	issues := syntaxIssues(result, nil)
	if len(issues) != 2 {
		t.Fatalf("expected failing-tests and undefined findings, got %v", issues)
	}

	clean := models.TaskResult{Tests: models.TestOutcome{OK: true}}
	if got := syntaxIssues(clean, nil); len(got) != 0 {
		t.Fatalf("expected no issues for passing tests, got %v", got)
	}
}

func TestIntegrationIssues(t *testing.T) {
	uncommitted := models.TaskResult{Files: []string{"a.go"}}
	if got := integrationIssues(uncommitted); len(got) != 1 || !strings.Contains(got[0], "not committed") {
		t.Fatalf("unexpected: %v", got)
	}

	empty := models.TaskResult{}
	if got := integrationIssues(empty); len(got) != 1 || !strings.Contains(got[0], "no files") {
		t.Fatalf("unexpected: %v", got)
	}

	committed := models.TaskResult{Files: []string{"a.go"}, Commit: "abc123"}
	if got := integrationIssues(committed); len(got) != 0 {
		t.Fatalf("expected clean, got %v", got)
	}
}

func TestConsistencyIssues(t *testing.T) {
	dup := models.TaskResult{Files: []string{"a.go", "a.go"}}
	if got := consistencyIssues(dup); len(got) != 1 || !strings.Contains(got[0], "duplicate") {
		t.Fatalf("unexpected: %v", got)
	}

	testOnly := models.TaskResult{Files: []string{"a_test.go"}}
	if got := consistencyIssues(testOnly); len(got) != 1 {
		t.Fatalf("expected test-without-implementation finding, got %v", got)
	}

	paired := models.TaskResult{Files: []string{"a.go", "a_test.go"}}
	if got := consistencyIssues(paired); len(got) != 0 {
		t.Fatalf("expected clean, got %v", got)
	}
}

func TestImprovementSuggestions(t *testing.T) {
	untested := models.TaskResult{Files: []string{"a.go"}}
	if got := improvementSuggestions(untested); len(got) != 1 {
		t.Fatalf("expected missing-tests suggestion, got %v", got)
	}
	tested := models.TaskResult{Files: []string{"a.go", "a_test.go"}}
	if got := improvementSuggestions(tested); len(got) != 0 {
		t.Fatalf("expected no suggestions, got %v", got)
	}
}

func TestDeepOnlyChecks(t *testing.T) {
	slow := models.TaskResult{Model: models.CallStats{ElapsedMS: 200_000}}
	if got := performanceIssues(slow); len(got) != 1 {
		t.Fatalf("expected slow-generation finding, got %v", got)
	}

	cred := models.Task{Description: "rotate the API token"}
	if got := securityIssues(cred, models.TaskResult{}); len(got) != 1 {
		t.Fatalf("expected credential finding, got %v", got)
	}
	leaky := models.TaskResult{Files: []string{"prod.env"}}
	if got := securityIssues(models.Task{}, leaky); len(got) != 1 {
		t.Fatalf("expected suspicious-file finding, got %v", got)
	}

	undocumented := models.TaskResult{Files: []string{"a.go", "b.go", "c.go"}}
	if got := documentationIssues(undocumented); len(got) != 1 {
		t.Fatalf("expected documentation finding, got %v", got)
	}
	documented := models.TaskResult{Files: []string{"a.go", "b.go", "README.md"}}
	if got := documentationIssues(documented); len(got) != 0 {
		t.Fatalf("expected clean, got %v", got)
	}

	sprawling := models.TaskResult{Files: make([]string, 11)}
	if got := maintainabilityIssues(sprawling); len(got) != 1 {
		t.Fatalf("expected sprawl finding, got %v", got)
	}
}

func containsIssue(issues []string, substr string) bool {
	for _, issue := range issues {
		if strings.Contains(issue, substr) {
			return true
		}
	}
	return false
}

func TestContentSyntaxIssues(t *testing.T) {
	files := map[string]string{
		"handler.go": "package main\n\nimport \"fmt\"\n\nfunc run() {\n" +
			"\terr := do()\n\tif err != nil {\n\t}\n" +
			"\tfmt.Println(\"done\")\n}\n",
	}
	issues := contentSyntaxIssues(files)
	if !containsIssue(issues, "empty handler") {
		t.Fatalf("swallowed error not flagged: %v", issues)
	}
	if !containsIssue(issues, "prints to stdout") {
		t.Fatalf("fmt.Print not flagged: %v", issues)
	}

	clean := map[string]string{
		"ok.go": "package main\n\n// run does the work.\nfunc run() error {\n" +
			"\tif err := do(); err != nil {\n\t\treturn err\n\t}\n\treturn nil\n}\n",
	}
	if got := contentSyntaxIssues(clean); len(got) != 0 {
		t.Fatalf("expected clean file, got %v", got)
	}
}

func TestContentSecurityIssues(t *testing.T) {
	files := map[string]string{
		"exec.go": "package main\n\nfunc run(input string) {\n" +
			"\t_ = exec.Command(\"sh\", \"-c\", input)\n}\n",
		"eval.py": "result = eval(user_input)\n",
	}
	issues := contentSecurityIssues(files)
	if !containsIssue(issues, "eval.py") || !containsIssue(issues, "exec.go") {
		t.Fatalf("dynamic execution not flagged per file: %v", issues)
	}

	if got := contentSecurityIssues(map[string]string{"ok.go": "package main\n"}); len(got) != 0 {
		t.Fatalf("expected clean file, got %v", got)
	}
}

func TestContentMaintainabilityIssues(t *testing.T) {
	files := map[string]string{
		"client.go": "package main\n\nconst endpoint = \"http://203.0.113.7:9000\"\n",
	}
	if got := contentMaintainabilityIssues(files); !containsIssue(got, "203.0.113.7") {
		t.Fatalf("hard-coded address not flagged: %v", got)
	}

	// Loopback is how the daemon itself binds; it is not deployment-bound.
	local := map[string]string{
		"server.go": "package main\n\nconst addr = \"127.0.0.1:6090\"\n",
	}
	if got := contentMaintainabilityIssues(local); len(got) != 0 {
		t.Fatalf("loopback wrongly flagged: %v", got)
	}

	cluttered := map[string]string{
		"mess.go": strings.Repeat("// TODO: later\n", todoDensityLimit+1),
	}
	if got := contentMaintainabilityIssues(cluttered); !containsIssue(got, "TODO/FIXME") {
		t.Fatalf("marker density not flagged: %v", got)
	}
}

func TestContentImprovementSuggestions(t *testing.T) {
	long := strings.Repeat("var x = 1\n", longFileLines+10)
	files := map[string]string{
		"big.go":  "package main\n// big\n" + long,
		"bare.go": "package main\n\nfunc x() {}\n",
	}
	got := contentImprovementSuggestions(files)
	if !containsIssue(got, "consider splitting") {
		t.Fatalf("long file not flagged: %v", got)
	}
	if !containsIssue(got, "no comments") {
		t.Fatalf("comment-free file not flagged: %v", got)
	}
}

func TestCategoryOrderDeepExtendsPrimary(t *testing.T) {
	primary := categoryOrder(models.ReviewPrimary)
	deep := categoryOrder(models.ReviewDeep)
	if len(primary) != 5 || len(deep) != 9 {
		t.Fatalf("unexpected category counts: %d, %d", len(primary), len(deep))
	}
	for i, cat := range primary {
		if deep[i] != cat {
			t.Fatalf("deep order diverges at %d: %q != %q", i, deep[i], cat)
		}
	}
}
