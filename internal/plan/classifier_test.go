package plan

import (
	"testing"

	"github.com/jszach/conductor/internal/policy"
)

func TestClassifier_ToolCalls(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		tool       string
		want       policy.Category
		classified bool
	}{
		{"shell_exec", policy.CategoryExecuteShell, true},
		{"bash", policy.CategoryExecuteShell, true},
		{"sh", policy.CategoryExecuteShell, true},
		{"terminal_run", policy.CategoryExecuteShell, true},
		{"python_repl", policy.CategoryExecutePython, true},
		{"run_script", policy.CategoryExecutePython, true},
		{"pip_install", policy.CategoryInstallPackages, true},
		{"npm", policy.CategoryInstallPackages, true},
		{"apt_get", policy.CategoryInstallPackages, true},
		{"install_deps", policy.CategoryInstallPackages, true},
		{"make", policy.CategoryCompileCode, true},
		{"go_build", policy.CategoryCompileCode, true},
		{"tsc_compile", policy.CategoryCompileCode, true},
		// Tool names get lowercased before matching.
		{"SHELL_EXEC", policy.CategoryExecuteShell, true},
		// Unclassified tools carry no risk category.
		{"read_file", "", false},
		{"web_search", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			step := &Step{Type: TypeToolCall, Input: map[string]any{"tool": tt.tool}}
			got, ok := c.Classify(step)
			if ok != tt.classified {
				t.Fatalf("classified = %v, want %v", ok, tt.classified)
			}
			if got != tt.want {
				t.Errorf("category = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifier_CodeExecution(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		language string
		want     policy.Category
	}{
		{"python", policy.CategoryExecutePython},
		{"python3", policy.CategoryExecutePython},
		{"bash", policy.CategoryExecuteShell},
		{"shell", policy.CategoryExecuteShell},
		{"go", policy.CategoryCompileCode},
		{"rust", policy.CategoryCompileCode},
		// Unknown languages classify to a synthetic category that no
		// policy recognizes, failing closed at evaluation.
		{"brainfuck", policy.Category("execute_brainfuck")},
		{"", policy.Category("execute_unknown")},
	}

	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			step := &Step{Type: TypeCodeExecution, Input: map[string]any{"language": tt.language}}
			got, ok := c.Classify(step)
			if !ok {
				t.Fatal("code_execution steps must always be classified")
			}
			if got != tt.want {
				t.Errorf("category = %q, want %q", got, tt.want)
			}
			if tt.want == policy.Category("execute_brainfuck") || tt.want == policy.Category("execute_unknown") {
				if got.IsValid() {
					t.Error("synthetic category should not be a valid policy category")
				}
			}
		})
	}
}

func TestClassifier_UnclassifiedTypes(t *testing.T) {
	c := NewClassifier()

	for _, st := range []StepType{TypeWait, TypeMessage, TypeSubPlan} {
		step := &Step{Type: st}
		if _, ok := c.Classify(step); ok {
			t.Errorf("%s steps should not be risk-classified", st)
		}
	}

	// Tool calls without a tool name cannot be classified.
	step := &Step{Type: TypeToolCall}
	if _, ok := c.Classify(step); ok {
		t.Error("tool_call without a tool name should not be classified")
	}
}

func TestClassifier_AddRule(t *testing.T) {
	c := NewClassifier()

	if err := c.AddRule("kubectl*", policy.CategoryExecuteShell); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	step := &Step{Type: TypeToolCall, Input: map[string]any{"tool": "kubectl_apply"}}
	got, ok := c.Classify(step)
	if !ok || got != policy.CategoryExecuteShell {
		t.Errorf("Classify(kubectl_apply) = (%q, %v), want (execute_shell, true)", got, ok)
	}
}

func TestClassifier_AddRuleValidation(t *testing.T) {
	c := NewClassifier()

	if err := c.AddRule("[", policy.CategoryExecuteShell); err == nil {
		t.Error("AddRule with malformed pattern should fail")
	}
	if err := c.AddRule("tool*", policy.Category("bogus")); err == nil {
		t.Error("AddRule with invalid category should fail")
	}
}

func TestClassifier_BuiltinPrecedence(t *testing.T) {
	c := NewClassifier()
	// Custom rules run after built-ins; a custom rule cannot shadow one.
	if err := c.AddRule("bash*", policy.CategoryInstallPackages); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	step := &Step{Type: TypeToolCall, Input: map[string]any{"tool": "bash"}}
	got, _ := c.Classify(step)
	if got != policy.CategoryExecuteShell {
		t.Errorf("built-in rule should win, got %q", got)
	}
}
