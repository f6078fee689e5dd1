package workspace

import (
	"context"
	"fmt"
	"strings"
)

// AnyDir matches any directory when registering mock commands. Useful when
// the workspace path is a temp dir the test does not control.
const AnyDir = "*"

// MockGitRunner implements GitRunner for testing purposes.
type MockGitRunner struct {
	// Commands maps command signatures to their outputs
	Commands map[string][]byte
	// Errors maps command signatures to their errors
	Errors map[string]error
	// CallLog tracks all commands that were called
	CallLog []GitCall
}

// GitCall represents a logged git command call.
type GitCall struct {
	Dir  string
	Args []string
}

// NewMockGitRunner creates a new mock git runner.
func NewMockGitRunner() *MockGitRunner {
	return &MockGitRunner{
		Commands: make(map[string][]byte),
		Errors:   make(map[string]error),
		CallLog:  make([]GitCall, 0),
	}
}

// Run implements GitRunner for testing.
func (m *MockGitRunner) Run(_ context.Context, dir string, args ...string) ([]byte, error) {
	m.CallLog = append(m.CallLog, GitCall{
		Dir:  dir,
		Args: append([]string{}, args...),
	})

	for _, sig := range []string{m.buildSignature(dir, args...), m.buildSignature(AnyDir, args...)} {
		if err, exists := m.Errors[sig]; exists {
			return nil, err
		}
		if output, exists := m.Commands[sig]; exists {
			return output, nil
		}
	}

	// Default successful output
	return []byte(""), nil
}

// SetCommand sets the expected output for a specific command.
func (m *MockGitRunner) SetCommand(dir string, output []byte, args ...string) {
	m.Commands[m.buildSignature(dir, args...)] = output
}

// SetError sets an error for a specific command.
func (m *MockGitRunner) SetError(dir string, err error, args ...string) {
	m.Errors[m.buildSignature(dir, args...)] = err
}

// GetCallCount returns the number of times a command was called.
func (m *MockGitRunner) GetCallCount(dir string, args ...string) int {
	count := 0
	for _, call := range m.CallLog {
		if dir != AnyDir && call.Dir != dir {
			continue
		}
		if strings.Join(call.Args, " ") == strings.Join(args, " ") {
			count++
		}
	}
	return count
}

// WasCalled checks if a specific command was called.
func (m *MockGitRunner) WasCalled(dir string, args ...string) bool {
	return m.GetCallCount(dir, args...) > 0
}

// Reset clears all recorded calls and expectations.
func (m *MockGitRunner) Reset() {
	m.Commands = make(map[string][]byte)
	m.Errors = make(map[string]error)
	m.CallLog = make([]GitCall, 0)
}

func (m *MockGitRunner) buildSignature(dir string, args ...string) string {
	return fmt.Sprintf("%s|%s", dir, strings.Join(args, " "))
}
