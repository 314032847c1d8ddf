package plan

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/jszach/conductor/internal/policy"
)

// Classifier maps steps to the risk category their execution falls under.
// Tool-call steps are matched against glob patterns over the tool name;
// code-execution steps are classified by language. Steps that match no
// rule carry no risk category and bypass the permission gate.
type Classifier struct {
	rules []rule
}

type rule struct {
	pattern  glob.Glob
	source   string
	category policy.Category
}

// defaultRules are the built-in tool-name patterns, checked in order.
// First match wins.
var defaultRules = []struct {
	pattern  string
	category policy.Category
}{
	{"shell*", policy.CategoryExecuteShell},
	{"bash*", policy.CategoryExecuteShell},
	{"sh", policy.CategoryExecuteShell},
	{"exec_command", policy.CategoryExecuteShell},
	{"terminal*", policy.CategoryExecuteShell},
	{"python*", policy.CategoryExecutePython},
	{"run_script", policy.CategoryExecutePython},
	{"pip*", policy.CategoryInstallPackages},
	{"npm*", policy.CategoryInstallPackages},
	{"apt*", policy.CategoryInstallPackages},
	{"*_install", policy.CategoryInstallPackages},
	{"install_*", policy.CategoryInstallPackages},
	{"make", policy.CategoryCompileCode},
	{"gcc*", policy.CategoryCompileCode},
	{"cargo_build", policy.CategoryCompileCode},
	{"go_build", policy.CategoryCompileCode},
	{"*_compile", policy.CategoryCompileCode},
	{"compile_*", policy.CategoryCompileCode},
}

// NewClassifier creates a Classifier with the built-in rules.
func NewClassifier() *Classifier {
	c := &Classifier{}
	for _, r := range defaultRules {
		// Built-in patterns are static and known to compile.
		c.rules = append(c.rules, rule{
			pattern:  glob.MustCompile(r.pattern),
			source:   r.pattern,
			category: r.category,
		})
	}
	return c
}

// AddRule appends a custom tool-name pattern mapping to the classifier.
// Custom rules are checked after the built-in rules.
func (c *Classifier) AddRule(pattern string, category policy.Category) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid classifier pattern %q: %w", pattern, err)
	}
	if !category.IsValid() {
		return fmt.Errorf("invalid risk category %q", category)
	}
	c.rules = append(c.rules, rule{pattern: g, source: pattern, category: category})
	return nil
}

// Classify returns the risk category for a step and whether the step is
// risk-classified at all.
//
// Code-execution steps map by language: python variants to execute_python,
// shell variants to execute_shell. An unrecognized language produces a
// synthetic "execute_<language>" category, which no policy recognizes and
// which therefore fails closed at evaluation.
func (c *Classifier) Classify(step *Step) (policy.Category, bool) {
	switch step.Type {
	case TypeCodeExecution:
		return classifyLanguage(step.InputString("language", "")), true
	case TypeToolCall:
		tool := strings.ToLower(step.InputString("tool", ""))
		if tool == "" {
			return "", false
		}
		for _, r := range c.rules {
			if r.pattern.Match(tool) {
				return r.category, true
			}
		}
		return "", false
	default:
		return "", false
	}
}

// classifyLanguage maps a code-execution language to a risk category.
func classifyLanguage(language string) policy.Category {
	switch strings.ToLower(language) {
	case "python", "python3", "py":
		return policy.CategoryExecutePython
	case "sh", "bash", "zsh", "shell":
		return policy.CategoryExecuteShell
	case "c", "cpp", "go", "rust", "java":
		return policy.CategoryCompileCode
	case "":
		return policy.Category("execute_unknown")
	default:
		return policy.Category("execute_" + strings.ToLower(language))
	}
}
