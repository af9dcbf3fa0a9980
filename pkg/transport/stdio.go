package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// maxStdioLine bounds a single response line read from the tool process.
const maxStdioLine = 4 * 1024 * 1024

// stdioTransport spawns one process per call. Tool calls are comparatively
// rare and side-effect-bearing, so lifecycle correctness wins over the
// throughput a pooled process would buy.
type stdioTransport struct {
	command string
	args    []string
	env     map[string]string
	timeout time.Duration
}

func newStdioTransport(cfg Config) (*stdioTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires a command")
	}
	return &stdioTransport{
		command: cfg.Command,
		args:    cfg.Args,
		env:     cfg.Env,
		timeout: cfg.CallTimeout,
	}, nil
}

func (t *stdioTransport) Kind() Kind { return KindStdio }

func (t *stdioTransport) Close() error { return nil }

// Call writes the initialize handshake followed by the real request to the
// process's stdin, closes it, and reads stdout until the process exits. The
// last newline-delimited JSON object on stdout answers the real request;
// everything before it (the handshake response included) is skipped.
func (t *stdioTransport) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	ctx, cancel := callContext(ctx, t.timeout)
	defer cancel()

	var stdin bytes.Buffer
	enc := json.NewEncoder(&stdin)
	if err := enc.Encode(newRequest("initialize", initializeParams())); err != nil {
		return nil, transportErr(KindStdio, method, "failed to encode handshake", err)
	}
	if err := enc.Encode(newRequest(method, params)); err != nil {
		return nil, transportErr(KindStdio, method, "failed to encode request", err)
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	cmd.Stdin = &stdin
	cmd.Env = t.mergedEnv()

	// Run the tool in its own process group and kill the whole group at the
	// deadline. The default cancel signals only the direct child, so a tool
	// that forks would leave orphans behind.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// A killed process that inherited its pipes could otherwise block Wait
	// past the deadline.
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, transportErr(KindStdio, method,
				fmt.Sprintf("deadline exceeded, killed %s", t.command), ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "process failed"
		}
		return nil, transportErr(KindStdio, method, msg, err)
	}

	line, ok := lastJSONLine(stdout.Bytes())
	if !ok {
		return nil, transportErr(KindStdio, method,
			fmt.Sprintf("%s produced no JSON-RPC response", t.command), nil)
	}
	return decodeResponse(line)
}

// lastJSONLine returns the last newline-delimited line of out that parses
// as a JSON object.
func lastJSONLine(out []byte) ([]byte, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), maxStdioLine)

	var last []byte
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if json.Valid(line) {
			last = append(last[:0], line...)
		}
	}
	return last, len(last) > 0
}

func (t *stdioTransport) mergedEnv() []string {
	if len(t.env) == 0 {
		return nil // inherit the process environment unchanged
	}
	env := os.Environ()
	merged := make([]string, 0, len(env)+len(t.env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		if _, override := t.env[key]; override {
			continue
		}
		merged = append(merged, kv)
	}
	for k, v := range t.env {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}
	return merged
}
