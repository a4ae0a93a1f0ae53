package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	tracerx "github.com/tanpawarit/multiagent-analyst/pkg/tracer"
)

// PythonPrelude loads the dataset into df before the generated code runs.
const PythonPrelude = `import os
import numpy as np
import pandas as pd

df = pd.read_csv(os.environ["DATASET_PATH"]) if os.environ.get("DATASET_PATH") else None
`

const truncatedMarker = "\n...[output truncated]"

type Config struct {
	Command        string        `envconfig:"COMMAND" split_words:"true" default:"python3"`
	FileName       string        `envconfig:"FILE_NAME" split_words:"true" default:"analysis.py"`
	Timeout        time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	MaxOutputBytes int           `envconfig:"MAX_OUTPUT_BYTES" split_words:"true" default:"65536"`
	WorkDir        string        `envconfig:"WORK_DIR" split_words:"true"`
}

type Option func(*ProcessSandbox)

func WithPrelude(prelude string) Option {
	return func(s *ProcessSandbox) {
		s.prelude = prelude
	}
}

// ProcessSandbox runs each request in a fresh temporary directory as a child
// process with a scrubbed environment, a deadline and capped output.
type ProcessSandbox struct {
	cfg     Config
	prelude string
}

var _ contractx.Sandbox = (*ProcessSandbox)(nil)

func NewProcessSandbox(cfg Config, opts ...Option) *ProcessSandbox {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = "python3"
	}
	if strings.TrimSpace(cfg.FileName) == "" {
		cfg.FileName = "analysis.py"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 64 << 10
	}

	s := &ProcessSandbox{cfg: cfg, prelude: PythonPrelude}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Execute runs req.Code. Failures of the code itself (non-zero exit, timeout)
// are reported in the ExecResult; a returned error means the sandbox could not run at all.
func (s *ProcessSandbox) Execute(ctx context.Context, req contractx.ExecRequest) (contractx.ExecResult, error) {
	ctx, span := tracerx.StartSpan(ctx, "sandbox.execute")
	defer span.End()

	if strings.TrimSpace(req.Code) == "" {
		err := fmt.Errorf("%w: empty code", contractx.ErrSandbox)
		tracerx.RecordError(span, err)
		return contractx.ExecResult{}, err
	}

	dir, err := os.MkdirTemp(s.cfg.WorkDir, "sandbox-*")
	if err != nil {
		return contractx.ExecResult{}, fmt.Errorf("%w: create workdir: %v", contractx.ErrSandbox, err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, s.cfg.FileName)
	source := req.Code
	if s.prelude != "" {
		source = s.prelude + "\n" + req.Code
	}
	if err := os.WriteFile(script, []byte(source), 0o600); err != nil {
		return contractx.ExecResult{}, fmt.Errorf("%w: write script: %v", contractx.ErrSandbox, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: s.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{limit: s.cfg.MaxOutputBytes}

	cmd := exec.CommandContext(runCtx, s.cfg.Command, script)
	cmd.Dir = dir
	cmd.Env = sandboxEnv(dir, req.DatasetPath)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	started := time.Now()
	runErr := cmd.Run()
	result := contractx.ExecResult{
		Output:   stdout.String(),
		Duration: time.Since(started),
	}

	switch {
	case runErr == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.ExitCode = -1
		result.Error = fmt.Sprintf("execution timed out after %s", timeout)
	case ctx.Err() != nil:
		tracerx.RecordError(span, ctx.Err())
		return result, ctx.Err()
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			err := fmt.Errorf("%w: start %s: %v", contractx.ErrSandbox, s.cfg.Command, runErr)
			tracerx.RecordError(span, err)
			return result, err
		}
		result.ExitCode = exitErr.ExitCode()
		result.Error = strings.TrimSpace(stderr.String())
		if result.Error == "" {
			result.Error = fmt.Sprintf("exit status %d", result.ExitCode)
		}
	}

	zerolog.Ctx(ctx).Debug().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("sandbox execution finished")

	span.SetAttributes(tracerx.IntAttr("sandbox.exit_code", result.ExitCode))
	if result.OK() {
		tracerx.SetOK(span)
	}
	return result, nil
}

func sandboxEnv(dir, datasetPath string) []string {
	env := []string{
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"MPLBACKEND=Agg",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONUNBUFFERED=1",
	}
	if path, ok := os.LookupEnv("PATH"); ok {
		env = append(env, "PATH="+path)
	}
	if datasetPath != "" {
		if abs, err := filepath.Abs(datasetPath); err == nil {
			datasetPath = abs
		}
		env = append(env, "DATASET_PATH="+datasetPath)
	}
	return env
}

// cappedBuffer keeps the first limit bytes written and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedMarker
	}
	return b.buf.String()
}
