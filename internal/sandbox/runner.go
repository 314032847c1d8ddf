// Package sandbox defines the code execution boundary. The engine talks to
// it only through the Runner interface; the shipped LocalRunner executes on
// the host via subprocesses, and container backends plug in behind the same
// contract.
package sandbox

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// Execution results
// -----------------------------------------------------------------------------

// ExecStatus classifies how an execution finished.
type ExecStatus string

const (
	// ExecSuccess indicates the process exited zero.
	ExecSuccess ExecStatus = "success"

	// ExecError indicates the process exited non-zero or failed to start.
	ExecError ExecStatus = "error"

	// ExecTimeout indicates the per-execution deadline elapsed.
	ExecTimeout ExecStatus = "timeout"

	// ExecCanceled indicates the caller's context was canceled.
	ExecCanceled ExecStatus = "canceled"
)

// String returns the string representation of the status.
func (s ExecStatus) String() string {
	return string(s)
}

// ExecResult is the outcome of one code execution.
type ExecResult struct {
	// Status classifies the outcome.
	Status ExecStatus `json:"status"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr"`

	// ExitCode is the process exit code. -1 when the process never ran or
	// was killed before exiting normally.
	ExitCode int `json:"exit_code"`

	// ExecutionTime is how long the process ran.
	ExecutionTime time.Duration `json:"execution_time"`
}

// -----------------------------------------------------------------------------
// Container state
// -----------------------------------------------------------------------------

// ContainerStatus is the lifecycle state of an execution environment.
type ContainerStatus string

const (
	// ContainerRunning indicates the environment accepts executions.
	ContainerRunning ContainerStatus = "running"

	// ContainerStopped indicates the environment was stopped and its
	// workspace released.
	ContainerStopped ContainerStatus = "stopped"
)

// ResourceUsage is a point-in-time snapshot of an environment's footprint.
type ResourceUsage struct {
	// WorkspaceBytes is the on-disk size of the environment's workspace.
	WorkspaceBytes int64 `json:"workspace_bytes"`

	// Executions is the number of executions run so far.
	Executions int `json:"executions"`

	// TotalCPUTime is the summed wall time of all executions.
	TotalCPUTime time.Duration `json:"total_cpu_time"`
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// ContainerSpec describes the environment a container is provisioned for.
// Backends use what they understand and ignore the rest; the zero value is a
// valid anonymous environment.
type ContainerSpec struct {
	// UserID is the owner the environment runs on behalf of.
	UserID string `json:"user_id,omitempty"`

	// WorkspaceID groups the environment with related work, typically a
	// plan ID.
	WorkspaceID string `json:"workspace_id,omitempty"`

	// StoragePath pins the workspace to a specific directory. Empty lets
	// the backend choose.
	StoragePath string `json:"storage_path,omitempty"`

	// Language pre-warms the environment for a language. Executions may
	// still name any supported language.
	Language string `json:"language,omitempty"`

	// Config carries backend-specific settings, such as image names or
	// resource limits.
	Config map[string]any `json:"config,omitempty"`
}

// Runner is the narrow contract between the engine and a code execution
// backend. Implementations must be safe for concurrent use.
type Runner interface {
	// CreateContainer provisions a fresh execution environment for spec and
	// returns its ID. The environment is isolated from other containers'
	// state.
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// ExecuteInContainer runs code in the named environment and returns the
	// captured result. A non-zero exit is reported in the result, not as an
	// error; errors are reserved for the backend itself failing. A timeout
	// of zero or less falls back to the backend's configured default.
	ExecuteInContainer(ctx context.Context, containerID, language, code string, timeout time.Duration) (*ExecResult, error)

	// StopContainer tears the environment down, canceling in-flight
	// executions.
	StopContainer(ctx context.Context, containerID string) error

	// GetContainerStatus reports the environment's lifecycle state.
	GetContainerStatus(ctx context.Context, containerID string) (ContainerStatus, error)

	// GetResourceUsage reports the environment's current footprint.
	GetResourceUsage(ctx context.Context, containerID string) (*ResourceUsage, error)
}
