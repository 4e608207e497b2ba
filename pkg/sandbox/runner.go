package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

//go:embed harness.py
var harnessSource string

// resultMarker frames the harness's JSON result on stdout. Everything
// before the marker is harness noise (font warnings etc.) and discarded.
const resultMarker = "---FATHOM-RESULT---"

const defaultExecTimeout = 60 * time.Second

// Result is the outcome of one sandbox execution.
type Result struct {
	Success     bool   `json:"success"`
	Output      string `json:"output"`
	Error       string `json:"error,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// Runner executes cleaned, validated code in a python3 subprocess.
type Runner struct {
	pythonBin string
	timeout   time.Duration
}

// NewRunner creates a runner using the given python binary ("python3" if
// empty) and per-execution wall-clock timeout.
func NewRunner(pythonBin string, timeout time.Duration) *Runner {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &Runner{pythonBin: pythonBin, timeout: timeout}
}

// Execute cleans and validates code, then runs it. Forbidden code fails
// fast with the structured forbidden-operations error; execution errors
// are reported in the Result so the caller can attempt a fix. The returned
// error is reserved for harness-level failures (interpreter missing,
// unparseable harness output).
func (r *Runner) Execute(ctx context.Context, code string) (Result, error) {
	cleaned := Clean(code)
	if cleaned == "" {
		return Result{Success: false, Error: "empty code"}, nil
	}
	if err := Validate(cleaned); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.pythonBin, "-c", harnessSource)
	cmd.Stdin = strings.NewReader(cleaned)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return Result{Success: false, Error: fmt.Sprintf("execution timed out after %s", r.timeout)}, nil
	}

	marker := strings.LastIndex(stdout.String(), resultMarker)
	if marker < 0 {
		if runErr != nil {
			return Result{}, fmt.Errorf("sandbox interpreter failed: %w (stderr: %s)",
				runErr, strings.TrimSpace(stderr.String()))
		}
		return Result{}, fmt.Errorf("sandbox produced no result frame")
	}

	framed := strings.TrimSpace(stdout.String()[marker+len(resultMarker):])
	var harness struct {
		OK          bool   `json:"ok"`
		Stdout      string `json:"stdout"`
		Stderr      string `json:"stderr"`
		Error       string `json:"error"`
		ImageBase64 string `json:"image_base64"`
	}
	if err := json.Unmarshal([]byte(framed), &harness); err != nil {
		return Result{}, fmt.Errorf("parsing sandbox result frame: %w", err)
	}

	result := Result{
		Success:     harness.OK,
		Output:      harness.Stdout,
		Error:       harness.Error,
		ImageBase64: harness.ImageBase64,
	}
	if harness.Stderr != "" {
		slog.Debug("Sandbox stderr", "stderr", truncateForLog(harness.Stderr))
	}
	return result, nil
}

func truncateForLog(s string) string {
	if len(s) <= 400 {
		return s
	}
	return s[:400] + "..."
}
