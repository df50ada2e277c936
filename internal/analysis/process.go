package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxStderrInError = 512

// ProcessAnalyzer runs an external analysis program with the PDF path as its
// last argument. The program prints one JSON object on stdout: either the
// result fields or {"error": "..."} together with a non-zero exit code.
type ProcessAnalyzer struct {
	command string
	args    []string
	dir     string
	timeout time.Duration
}

// NewProcessAnalyzer builds a ProcessAnalyzer. dir may be empty to inherit the
// working directory of the server.
func NewProcessAnalyzer(command string, args []string, dir string, timeout time.Duration) (*ProcessAnalyzer, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("analysis command required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &ProcessAnalyzer{
		command: command,
		args:    append([]string(nil), args...),
		dir:     dir,
		timeout: timeout,
	}, nil
}

type processOutput struct {
	Result
	Error string `json:"error"`
}

// Analyze implements Analyzer.
func (p *ProcessAnalyzer) Analyze(ctx context.Context, path string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.command, append(append([]string(nil), p.args...), path)...)
	cmd.Dir = p.dir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	out, parseErr := parseProcessOutput(stdout.Bytes())
	if runErr != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("analysis process: %w", ctx.Err())
		}
		if parseErr == nil && out.Error != "" {
			return Result{}, fmt.Errorf("analysis process: %s", out.Error)
		}
		return Result{}, fmt.Errorf("analysis process: %w: %s", runErr, tail(stderr.String(), maxStderrInError))
	}
	if parseErr != nil {
		return Result{}, fmt.Errorf("analysis output: %w", parseErr)
	}
	if out.Error != "" {
		return Result{}, fmt.Errorf("analysis process: %s", out.Error)
	}
	res := out.Result
	if res.ServerFilename == "" {
		res.ServerFilename = filepath.Base(path)
	}
	res.Topics = normalizeTopics(res.Topics)
	return res, nil
}

// parseProcessOutput accepts the whole stdout as JSON, or failing that the
// last line that looks like a JSON object, so stray log lines are tolerated.
func parseProcessOutput(raw []byte) (processOutput, error) {
	var out processOutput
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return out, errors.New("empty output")
	}
	if err := json.Unmarshal(trimmed, &out); err == nil {
		return out, nil
	}
	lines := bytes.Split(trimmed, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		out = processOutput{}
		if err := json.Unmarshal(line, &out); err == nil {
			return out, nil
		}
	}
	return processOutput{}, errors.New("no json object in output")
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
