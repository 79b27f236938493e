package mgmtdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfm/internal/models"
	"github.com/piwi3910/vnfm/internal/observability"
	"github.com/piwi3910/vnfm/internal/vnfpkg"
)

// DefaultTimeout bounds a single hook execution.
const DefaultTimeout = 45 * time.Minute

// Input is the document a hook reads from stdin.
type Input struct {
	// Operation is the hook name, e.g. instantiate_end.
	Operation string `json:"operation"`

	Request       map[string]interface{} `json:"request"`
	VnfInstance   *models.VnfInstance    `json:"vnf_instance"`
	GrantRequest  *models.GrantRequest   `json:"grant_request,omitempty"`
	GrantResponse *models.Grant          `json:"grant_response,omitempty"`
	TmpCsarDir    string                 `json:"tmp_csar_dir"`

	// NewCsarDir is the target package directory of CHANGE_VNFPKG.
	NewCsarDir string `json:"new_csar_dir,omitempty"`

	// UserScriptErrHandlingData is what earlier failed attempts reported.
	UserScriptErrHandlingData map[string]interface{} `json:"user_script_err_handling_data,omitempty"`
}

// Output is the document a hook may print on stdout.
type Output struct {
	// VnfInstance is a fragment merged into the instance on success.
	VnfInstance map[string]interface{} `json:"vnf_instance,omitempty"`

	UserScriptErrHandlingData map[string]interface{} `json:"user_script_err_handling_data,omitempty"`
}

// ExecutionError is returned when a hook exits non-zero or cannot run.
type ExecutionError struct {
	Hook   string
	Stderr string

	// UserScriptErrHandlingData is what the hook printed before failing.
	UserScriptErrHandlingData map[string]interface{}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Hook, e.Stderr)
}

// Invoker runs hooks.
type Invoker interface {
	// Run executes a hook of the flavour. A hook the package does not
	// define is a no-op returning an empty Output.
	Run(ctx context.Context, pkg *vnfpkg.Package, flavourID, hook string, in *Input) (*Output, error)
}

// Runner executes hook scripts as local processes.
type Runner struct {
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		timeout: timeout,
		logger:  logger.With(zap.String("component", "mgmtdriver")),
		metrics: metrics,
	}
}

// Run implements Invoker.
func (r *Runner) Run(ctx context.Context, pkg *vnfpkg.Package, flavourID, hook string, in *Input) (*Output, error) {
	path, ok, err := pkg.HookPath(flavourID, hook)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.logger.Debug("hook not defined, skipping",
			zap.String("hook", hook),
			zap.String("vnfd_id", pkg.VNFD.VnfdID),
		)
		return &Output{}, nil
	}

	in.Operation = hook
	if in.TmpCsarDir == "" {
		in.TmpCsarDir = pkg.Dir
	}
	stdin, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s input: %w", hook, err)
	}

	start := time.Now()
	out, err := r.exec(ctx, path, pkg.Dir, hook, stdin)
	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordHook(hook, duration, err)
	}

	if err != nil {
		r.logger.Warn("hook failed",
			zap.String("hook", hook),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return out, err
	}
	r.logger.Info("hook completed",
		zap.String("hook", hook),
		zap.Duration("duration", duration),
	)
	return out, nil
}

func (r *Runner) exec(ctx context.Context, path, dir, hook string, stdin []byte) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out, parseErr := parseOutput(stdout.Bytes())

	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			msg = fmt.Sprintf("timed out after %s", r.timeout)
		case msg == "":
			msg = runErr.Error()
		}
		execErr := &ExecutionError{Hook: hook, Stderr: msg}
		if out != nil {
			execErr.UserScriptErrHandlingData = out.UserScriptErrHandlingData
		}
		return out, execErr
	}
	if parseErr != nil {
		return nil, &ExecutionError{Hook: hook, Stderr: parseErr.Error()}
	}
	return out, nil
}

// parseOutput decodes the last non-empty line of stdout. Empty output
// yields an empty Output.
func parseOutput(stdout []byte) (*Output, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return &Output{}, nil
	}
	var out Output
	if err := json.Unmarshal([]byte(last), &out); err != nil {
		return nil, fmt.Errorf("invalid hook output: %w", err)
	}
	return &out, nil
}
