package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rowjay/site-backup/internal/errs"
)

// RequireBinary verifies the binary is on PATH.
func RequireBinary(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return errs.ToolNotFound(name)
	}
	return nil
}

// Command builds an exec.Cmd whose environment is the current process
// environment plus env.
func Command(ctx context.Context, name string, args []string, env map[string]string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	return cmd
}

// Run executes cmd with stdin attached and stderr captured. A missing binary
// becomes a tool-not-found error; a non-zero exit carries the captured stderr.
func Run(cmd *exec.Cmd, stdin io.Reader) error {
	var stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stderr = &stderr
	tool := cmd.Args[0]
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return errs.ToolNotFound(tool)
		}
		return errs.Tool(tool, strings.TrimSpace(stderr.String()), err)
	}
	return nil
}
