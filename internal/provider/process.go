package provider

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/logger"
)

const (
	// killGracePeriod is how long a process gets after SIGTERM before SIGKILL
	killGracePeriod = 3 * time.Second
	// stderrTailLimit bounds the stderr carried into failure diagnostics
	stderrTailLimit = 4096
)

// Process is one running provider subprocess. The caller owns its lifetime:
// read Stdout to completion (or Kill), then call Exit exactly once.
type Process struct {
	Provider string
	Model    string

	// Stdout is the lazy byte stream over the provider's output
	Stdout io.ReadCloser

	cmd        *exec.Cmd
	stderrTail *tailBuffer

	mu     sync.Mutex
	killed bool
}

// Spawn starts the provider command with the constructed argv and env, writes
// the prompt to stdin, and returns a handle over the running process. stderr
// is captured for diagnostics but never streamed to the client.
func Spawn(ctx context.Context, def *Definition, modelID, prompt string, yolo bool) (*Process, error) {
	args := def.BuildArgs(modelID, yolo)

	cmd := exec.CommandContext(ctx, def.Command, args...)
	cmd.Env = os.Environ()
	for k, v := range def.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "LANG=en_US.UTF-8", "LC_ALL=en_US.UTF-8")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProviderSpawn, "failed to create stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeProviderSpawn, "failed to create stdout pipe", err)
	}

	tail := &tailBuffer{limit: stderrTailLimit}
	cmd.Stderr = tail

	logger.Info("Spawning provider",
		zap.String("provider", def.ID),
		zap.String("model", modelID),
		zap.String("command", def.Command),
		zap.Strings("args", maskSensitiveArgs(args)),
		zap.Bool("yolo", yolo),
	)

	if err := cmd.Start(); err != nil {
		if execErr, ok := err.(*exec.Error); ok && execErr.Err == exec.ErrNotFound {
			return nil, errors.Wrap(errors.ErrCodeProviderSpawn,
				"provider binary not found: "+def.Command, err)
		}
		return nil, errors.Wrap(errors.ErrCodeProviderSpawn, "failed to start "+def.Command, err)
	}

	// Write the prompt off the caller's path so a full pipe cannot deadlock
	// against a provider that produces output before reading all input
	go func() {
		defer stdin.Close()
		if _, writeErr := io.WriteString(stdin, prompt); writeErr != nil {
			logger.Warn("Failed to write prompt to provider stdin",
				zap.String("provider", def.ID), zap.Error(writeErr))
		}
	}()

	return &Process{
		Provider:   def.ID,
		Model:      modelID,
		Stdout:     stdout,
		cmd:        cmd,
		stderrTail: tail,
	}, nil
}

// Kill terminates the process: SIGTERM, a short grace period, then SIGKILL.
// Safe to call more than once and concurrently with Exit.
func (p *Process) Kill() {
	p.mu.Lock()
	if p.killed {
		p.mu.Unlock()
		return
	}
	p.killed = true
	p.mu.Unlock()

	proc := p.cmd.Process
	if proc == nil {
		return
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return
	}
	go func() {
		time.Sleep(killGracePeriod)
		proc.Kill()
	}()
}

// Killed reports whether Kill was invoked
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Exit awaits process termination. A process killed via Kill surfaces
// Cancelled; any other nonzero exit surfaces ProviderFailed carrying the
// stderr tail. A clean exit with no suggestions is not a failure.
func (p *Process) Exit() error {
	err := p.cmd.Wait()
	if err == nil {
		return nil
	}

	if p.Killed() {
		return errors.New(errors.ErrCodeAnalysisCancelled, "provider process cancelled")
	}

	tail := strings.TrimSpace(p.stderrTail.String())
	msg := p.Provider + " exited with error"
	if tail != "" {
		msg += ": " + tail
	}
	return errors.Wrap(errors.ErrCodeProviderFailed, msg, err)
}

// tailBuffer keeps only the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// isSensitiveFlag checks if the given flag is a sensitive parameter flag
func isSensitiveFlag(flag string) bool {
	sensitiveFlags := []string{"--api-key", "--token", "--secret", "--password"}
	for _, sf := range sensitiveFlags {
		if flag == sf {
			return true
		}
	}
	return false
}

// maskSensitiveArgs masks values following sensitive flags for safe logging
func maskSensitiveArgs(args []string) []string {
	masked := make([]string, len(args))
	copy(masked, args)

	for i := 0; i < len(masked)-1; i++ {
		if isSensitiveFlag(masked[i]) {
			value := masked[i+1]
			if len(value) > 8 {
				masked[i+1] = value[:4] + "..." + value[len(value)-4:]
			} else {
				masked[i+1] = "***"
			}
		}
	}
	return masked
}
