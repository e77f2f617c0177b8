package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

// CommandBackend pipes the prompt into a local CLI and reads the answer from stdout.
type CommandBackend struct {
	path string
	args []string
}

func NewCommandBackend(command string, allowed []string) (*CommandBackend, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("LLM_COMMAND not configured")
	}
	name := filepath.Base(fields[0])
	if !slices.Contains(allowed, name) {
		return nil, fmt.Errorf("command %q is not in LLM_ALLOWED_COMMANDS", name)
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", fields[0], err)
	}
	return &CommandBackend{path: path, args: fields[1:]}, nil
}

func (c *CommandBackend) Name() string { return "command" }

func (c *CommandBackend) Complete(ctx context.Context, prompt string, _ int) (string, error) {
	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s: %w", filepath.Base(c.path), ctx.Err())
		}
		return "", fmt.Errorf("%s failed: %v: %s", filepath.Base(c.path), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
