// Package testutil provides shared test utilities and fakes for storeaudit tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// TempDir creates a temporary directory for testing and returns a cleanup function.
func TempDir(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "storeaudit-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	return dir, func() {
		_ = os.RemoveAll(dir)
	}
}

// TempFile creates a temporary file with the given content and returns its path.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// Response is the scripted outcome of one command invocation.
type Response struct {
	Stdout string
	Err    error
}

// FakeRunner is a scripted command runner. Responses are matched by the
// longest registered substring of the joined command line.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	Calls     []string
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]Response)}
}

// On registers the response for any command line containing match.
func (f *FakeRunner) On(match, stdout string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[match] = Response{Stdout: stdout}
	return f
}

// Fail registers an error for any command line containing match.
func (f *FakeRunner) Fail(match string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[match] = Response{Err: err}
	return f
}

// Run implements the command runner contract used by the kube client.
func (f *FakeRunner) Run(_ context.Context, stdout io.Writer, name string, args ...string) error {
	line := strings.Join(append([]string{name}, args...), " ")

	f.mu.Lock()
	f.Calls = append(f.Calls, line)
	var (
		best  string
		found bool
	)
	for match := range f.responses {
		if strings.Contains(line, match) && len(match) >= len(best) {
			best, found = match, true
		}
	}
	resp := f.responses[best]
	f.mu.Unlock()

	if !found {
		return fmt.Errorf("unexpected command: %s", line)
	}
	if resp.Err != nil {
		return resp.Err
	}
	_, err := io.WriteString(stdout, resp.Stdout)
	return err
}

// CallsContaining returns how many recorded invocations contain match.
func (f *FakeRunner) CallsContaining(match string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if strings.Contains(c, match) {
			n++
		}
	}
	return n
}
