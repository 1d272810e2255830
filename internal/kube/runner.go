// Package kube reaches the control plane and its key-value store through the
// cluster CLI. Every call is read-only; the store is reached with etcdctl
// executed inside a running member pod.
package kube

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const maxStderr = 512

// Runner executes an external command, streaming its standard output to
// stdout. A failed command's error includes what it printed on stderr.
type Runner interface {
	Run(ctx context.Context, stdout io.Writer, name string, args ...string) error
}

// ExecRunner runs commands on the local host.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, stdout io.Writer, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", describe(name, args), ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		if msg == "" {
			return fmt.Errorf("%s: %w", describe(name, args), err)
		}
		return fmt.Errorf("%s: %s: %w", describe(name, args), msg, err)
	}
	return nil
}

// describe names a command by its binary and first verb, e.g. "oc get".
func describe(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + args[0]
}
