package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jszach/conductor/internal/errors"
	"github.com/jszach/conductor/internal/logging"
)

// DefaultExecTimeout bounds a single execution when no timeout is configured.
const DefaultExecTimeout = 2 * time.Minute

// defaultInterpreters maps language tags to the argv that receives the code
// as its final argument.
var defaultInterpreters = map[string][]string{
	"python": {"python3", "-c"},
	"shell":  {"sh", "-c"},
	"bash":   {"bash", "-c"},
	"sh":     {"sh", "-c"},
}

// LocalConfig configures a LocalRunner.
type LocalConfig struct {
	// WorkDir is the parent directory for per-container workspaces.
	// Empty means the OS temp directory.
	WorkDir string

	// ExecTimeout bounds each execution. Zero means DefaultExecTimeout.
	ExecTimeout time.Duration

	// Interpreters overrides or extends the language to argv mapping.
	Interpreters map[string][]string
}

// localContainer is one workspace directory plus its in-flight executions.
type localContainer struct {
	id      string
	dir     string
	status  ContainerStatus
	cancels map[int]context.CancelFunc
	nextRun int

	execs   int
	cpuTime time.Duration
}

// LocalRunner executes code directly on the host in per-container workspace
// directories. It provides process level isolation only; callers needing
// stronger isolation should use a container backend.
type LocalRunner struct {
	mu           sync.Mutex
	containers   map[string]*localContainer
	workDir      string
	execTimeout  time.Duration
	interpreters map[string][]string
	log          *logging.Logger
}

var _ Runner = (*LocalRunner)(nil)

// NewLocalRunner creates a LocalRunner. A nil logger disables logging.
func NewLocalRunner(cfg LocalConfig, log *logging.Logger) *LocalRunner {
	if log == nil {
		log = logging.NopLogger()
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "conductor-sandbox")
	}
	timeout := cfg.ExecTimeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	interpreters := make(map[string][]string, len(defaultInterpreters)+len(cfg.Interpreters))
	for lang, argv := range defaultInterpreters {
		interpreters[lang] = argv
	}
	for lang, argv := range cfg.Interpreters {
		interpreters[strings.ToLower(lang)] = argv
	}
	return &LocalRunner{
		containers:   make(map[string]*localContainer),
		workDir:      workDir,
		execTimeout:  timeout,
		interpreters: interpreters,
		log:          log.WithComponent("sandbox"),
	}
}

// CreateContainer provisions a fresh workspace directory. The spec's
// StoragePath, when set, overrides the runner's workspace parent; the other
// spec fields are recorded for logging only, since process isolation needs
// no image or user mapping.
func (r *LocalRunner) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	parent := r.workDir
	if spec.StoragePath != "" {
		parent = spec.StoragePath
	}
	dir := filepath.Join(parent, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	r.mu.Lock()
	r.containers[id] = &localContainer{
		id:      id,
		dir:     dir,
		status:  ContainerRunning,
		cancels: make(map[int]context.CancelFunc),
	}
	r.mu.Unlock()

	r.log.Debug("container created",
		"container_id", id,
		"dir", dir,
		"user_id", spec.UserID,
		"workspace_id", spec.WorkspaceID)
	return id, nil
}

// ExecuteInContainer runs code through the language's interpreter inside the
// container's workspace. The caller's context and the timeout both bound the
// run; a timeout of zero or less uses the runner's configured default.
func (r *LocalRunner) ExecuteInContainer(ctx context.Context, containerID, language, code string, timeout time.Duration) (*ExecResult, error) {
	argv, ok := r.interpreters[strings.ToLower(language)]
	if !ok {
		return nil, errors.NewValidationError("unsupported language").WithField("language").WithValue(language)
	}
	if timeout <= 0 {
		timeout = r.execTimeout
	}

	r.mu.Lock()
	c, exists := r.containers[containerID]
	if !exists || c.status != ContainerRunning {
		r.mu.Unlock()
		return nil, errors.NewNotFoundError("container", containerID)
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	runID := c.nextRun
	c.nextRun++
	c.cancels[runID] = cancel
	dir := c.dir
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		if c, ok := r.containers[containerID]; ok {
			delete(c.cancels, runID)
		}
		r.mu.Unlock()
	}()

	args := append(argv[1:], code)
	cmd := exec.CommandContext(execCtx, argv[0], args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &ExecResult{
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		ExitCode:      -1,
		ExecutionTime: elapsed,
	}

	switch {
	case runErr == nil:
		result.Status = ExecSuccess
		result.ExitCode = 0
	case execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		result.Status = ExecTimeout
	case ctx.Err() != nil:
		result.Status = ExecCanceled
	default:
		result.Status = ExecError
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
	}

	r.mu.Lock()
	if c, ok := r.containers[containerID]; ok {
		c.execs++
		c.cpuTime += elapsed
	}
	r.mu.Unlock()

	r.log.Debug("execution finished",
		"container_id", containerID,
		"language", language,
		"status", result.Status.String(),
		"exit_code", result.ExitCode,
		"duration", elapsed)
	return result, nil
}

// StopContainer cancels in-flight executions and removes the workspace.
func (r *LocalRunner) StopContainer(ctx context.Context, containerID string) error {
	r.mu.Lock()
	c, exists := r.containers[containerID]
	if !exists {
		r.mu.Unlock()
		return errors.NewNotFoundError("container", containerID)
	}
	c.status = ContainerStopped
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = make(map[int]context.CancelFunc)
	dir := c.dir
	r.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	r.log.Debug("container stopped", "container_id", containerID)
	return nil
}

// GetContainerStatus reports the environment's lifecycle state.
func (r *LocalRunner) GetContainerStatus(ctx context.Context, containerID string) (ContainerStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.containers[containerID]
	if !exists {
		return "", errors.NewNotFoundError("container", containerID)
	}
	return c.status, nil
}

// GetResourceUsage reports workspace size and execution counters.
func (r *LocalRunner) GetResourceUsage(ctx context.Context, containerID string) (*ResourceUsage, error) {
	r.mu.Lock()
	c, exists := r.containers[containerID]
	if !exists {
		r.mu.Unlock()
		return nil, errors.NewNotFoundError("container", containerID)
	}
	usage := &ResourceUsage{
		Executions:   c.execs,
		TotalCPUTime: c.cpuTime,
	}
	dir := c.dir
	status := c.status
	r.mu.Unlock()

	if status == ContainerRunning {
		usage.WorkspaceBytes = dirSize(dir)
	}
	return usage, nil
}

// dirSize sums the regular file sizes under dir. Errors are treated as
// zero-size entries; usage reporting is best effort.
func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
