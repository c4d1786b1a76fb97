// Package worker runs the python execution host as a long lived subprocess
// speaking newline-delimited JSON.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/dgnsrekt/PandasTableScraper/internal/relay"
)

const maxLineBytes = 64 << 20

// ErrorCode tags worker failures in ERROR replies.
const ErrorCode = "EXECUTION_ERROR"

// Config describes how to start the execution host.
type Config struct {
	// Python is the interpreter, "python3" when empty.
	Python string
	// ResourceDir receives the runtime scripts and is passed as indexURL.
	ResourceDir string
	// Command overrides the full command line when set.
	Command []string
	Env     []string
}

// Process owns the execution host. Every message the host writes is
// published on the broker; the process is started on first use and again
// after it dies.
type Process struct {
	cfg    Config
	broker *relay.Broker

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	exited  chan struct{}
	started int
}

func New(cfg Config, broker *relay.Broker) *Process {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	return &Process{cfg: cfg, broker: broker}
}

// Broker returns the broker worker messages are published on.
func (p *Process) Broker() *relay.Broker { return p.broker }

// Starts reports how many times the host process has been launched.
func (p *Process) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// Running reports whether the host process is alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aliveLocked()
}

func (p *Process) aliveLocked() bool {
	if p.cmd == nil {
		return false
	}
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Post writes msg to the host, starting it when needed. Replies arrive on
// the broker.
func (p *Process) Post(ctx context.Context, msg relay.Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("worker: marshal: %w", err)
	}
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.aliveLocked() {
		if err := p.startLocked(); err != nil {
			return err
		}
	}
	if _, err := p.stdin.Write(line); err != nil {
		return fmt.Errorf("worker: write: %w", err)
	}
	slog.Debug("worker message posted", "type", msg.Type, "bytes", len(line))
	return nil
}

func (p *Process) command() (string, []string) {
	if len(p.cfg.Command) > 0 {
		return p.cfg.Command[0], p.cfg.Command[1:]
	}
	return p.cfg.Python, []string{"-u", filepath.Join(p.cfg.ResourceDir, RunnerFile)}
}

func (p *Process) startLocked() error {
	if len(p.cfg.Command) == 0 && p.cfg.ResourceDir != "" {
		if _, err := EnsureResources(p.cfg.ResourceDir); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	}

	name, args := p.command()
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker: stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("worker: stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("worker: start %s: %w", name, err)
	}

	exited := make(chan struct{})
	p.cmd = cmd
	p.stdin = stdin
	p.exited = exited
	p.started++
	slog.Info("worker started", "pid", cmd.Process.Pid, "command", name, "starts", p.started)

	go p.readLoop(cmd, stdout, stderr, exited)
	return nil
}

// readLoop publishes every stdout line until the host exits, then resolves
// pending listeners with an ERROR and marks the process exited.
func (p *Process) readLoop(cmd *exec.Cmd, stdout, stderr io.Reader, exited chan struct{}) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logStderr(stderr)
	}()

	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		var msg relay.Reply
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			slog.Warn("worker emitted invalid line", "error", err, "line", truncate(sc.Text(), 200))
			continue
		}
		if msg.Type == relay.TypeLog {
			slog.Info("worker", "message", msg.Message)
		}
		p.broker.Publish(msg)
	}
	scanErr := sc.Err()
	if scanErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}
	wg.Wait()
	waitErr := cmd.Wait()

	reason := "worker exited"
	switch {
	case scanErr != nil:
		reason = fmt.Sprintf("worker output unreadable: %v", scanErr)
	case waitErr != nil:
		reason = fmt.Sprintf("worker exited: %v", waitErr)
	}
	slog.Warn("worker stopped", "reason", reason)
	// Publish before close: Kill and Close return only after the last
	// message of this process is out.
	p.broker.Publish(relay.ErrorReply(ErrorCode, reason))
	close(exited)
}

func logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		slog.Debug("worker stderr", "line", sc.Text())
	}
}

// Close stops the host process.
func (p *Process) Close() error {
	p.mu.Lock()
	stdin, exited := p.stdin, p.exited
	alive := p.aliveLocked()
	p.mu.Unlock()
	if !alive {
		return nil
	}
	_ = stdin.Close()
	<-exited
	return nil
}

// Kill terminates the host process immediately and waits until its output
// has been drained.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	alive := p.aliveLocked()
	exited := p.exited
	p.mu.Unlock()
	if !alive {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-exited
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
