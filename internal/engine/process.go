package engine

import (
	"os/exec"
	"syscall"

	"github.com/Iron-Ham/cubic/internal/errors"
)

// osProcess adapts a started exec.Cmd to Process.
type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, err
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return -1, err
	}
	return exitErr.ExitCode(), nil
}
