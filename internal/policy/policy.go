// Package policy implements the per-user permission policy that gates
// risk-classified plan steps. A policy is pure data: a master enable
// switch, an execution mode, and one setting per risk category. Evaluate
// is a pure function over that data and never blocks; the suspension
// machinery for prompted categories lives in the approval package.
package policy

import (
	"time"
)

// -----------------------------------------------------------------------------
// Risk Categories
// -----------------------------------------------------------------------------

// Category classifies a step by the kind of host access it needs.
type Category string

const (
	// CategoryExecutePython covers script execution in the sandbox.
	CategoryExecutePython Category = "execute_python"

	// CategoryExecuteShell covers shell command execution.
	CategoryExecuteShell Category = "execute_shell"

	// CategoryCompileCode covers compilation and build tooling.
	CategoryCompileCode Category = "compile_code"

	// CategoryInstallPackages covers package manager operations.
	CategoryInstallPackages Category = "install_packages"
)

// Categories returns all recognized risk categories.
func Categories() []Category {
	return []Category{
		CategoryExecutePython,
		CategoryExecuteShell,
		CategoryCompileCode,
		CategoryInstallPackages,
	}
}

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsValid returns true if this is a recognized risk category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryExecutePython, CategoryExecuteShell, CategoryCompileCode, CategoryInstallPackages:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Per-Category Settings
// -----------------------------------------------------------------------------

// Setting is a user's standing decision for one risk category.
type Setting string

const (
	// SettingAllowed permits the category without prompting.
	SettingAllowed Setting = "allowed"

	// SettingBlocked denies the category unconditionally.
	SettingBlocked Setting = "blocked"

	// SettingPrompt requires human approval for each use of the category.
	SettingPrompt Setting = "prompt"
)

// String returns the string representation of the setting.
func (s Setting) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized setting value.
func (s Setting) IsValid() bool {
	switch s {
	case SettingAllowed, SettingBlocked, SettingPrompt:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Execution Mode
// -----------------------------------------------------------------------------

// Mode is the environment class in which risky steps run.
type Mode string

const (
	// ModeLocal runs code directly on the host via the local runner.
	ModeLocal Mode = "local"

	// ModeDocker runs code in an isolated container backend.
	ModeDocker Mode = "docker"

	// ModeAuto lets the engine pick based on availability.
	ModeAuto Mode = "auto"
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// IsValid returns true if this is a recognized execution mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeLocal, ModeDocker, ModeAuto:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Policy
// -----------------------------------------------------------------------------

// Policy is one user's permission record.
type Policy struct {
	// UserID identifies the user this policy belongs to.
	UserID string `json:"user_id"`

	// Enabled is the master switch. When false, every category evaluates
	// to denied regardless of its individual setting.
	Enabled bool `json:"enabled"`

	// Mode selects the execution environment for risky steps.
	Mode Mode `json:"mode"`

	// Categories holds the per-category standing decisions.
	Categories map[Category]Setting `json:"categories"`

	// UpdatedAt is when the policy was last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Default returns the default policy for a user: enabled, auto mode,
// script execution allowed, everything else prompted.
func Default(userID string) *Policy {
	return &Policy{
		UserID:  userID,
		Enabled: true,
		Mode:    ModeAuto,
		Categories: map[Category]Setting{
			CategoryExecutePython:   SettingAllowed,
			CategoryExecuteShell:    SettingPrompt,
			CategoryCompileCode:     SettingAllowed,
			CategoryInstallPackages: SettingPrompt,
		},
		UpdatedAt: time.Now(),
	}
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	cp := *p
	cp.Categories = make(map[Category]Setting, len(p.Categories))
	for k, v := range p.Categories {
		cp.Categories[k] = v
	}
	return &cp
}

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// Verdict is the outcome of evaluating a policy for one category.
type Verdict int

const (
	// VerdictDeny rejects the category. Fail closed: unknown categories
	// and disabled policies always deny.
	VerdictDeny Verdict = iota

	// VerdictAllow permits the category immediately.
	VerdictAllow

	// VerdictRequireApproval defers the decision to a human.
	VerdictRequireApproval
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictDeny:
		return "deny"
	case VerdictRequireApproval:
		return "requires_approval"
	default:
		return "unknown"
	}
}

// Deny reasons produced by Evaluate, mirrored into gate denials.
const (
	ReasonDisabled        = "permission system disabled"
	ReasonBlocked         = "category blocked by policy"
	ReasonUnknownCategory = "unrecognized risk category"
)

// Evaluate applies a policy to one risk category. It is pure and never
// blocks. The returned reason is non-empty only for denials.
func Evaluate(p *Policy, category Category) (Verdict, string) {
	if p == nil || !p.Enabled {
		return VerdictDeny, ReasonDisabled
	}

	setting, ok := p.Categories[category]
	if !ok || !category.IsValid() {
		return VerdictDeny, ReasonUnknownCategory
	}

	switch setting {
	case SettingAllowed:
		return VerdictAllow, ""
	case SettingPrompt:
		return VerdictRequireApproval, ""
	default:
		return VerdictDeny, ReasonBlocked
	}
}
