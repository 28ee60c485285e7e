package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
)

const defaultStdioShutdownGrace = 2 * time.Second

// StdioTransportConfig configures a subprocess stdio transport.
type StdioTransportConfig struct {
	Command string
	Args    []string
	Env     map[string]string
	// ShutdownGrace bounds how long Close waits after signaling the process
	// before force-killing it.
	ShutdownGrace time.Duration
}

// StdioTransport implements the tool protocol over a subprocess stdin/stdout
// pipe. The pipe offers no response correlation of its own; the transport
// simply carries newline-delimited JSON-RPC messages in both directions.
type StdioTransport struct {
	mu     sync.Mutex
	cfg    StdioTransportConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	recvCh chan Message
	errCh  chan error
	waitCh chan struct{}
	closed bool
}

// NewStdioTransport spawns the configured command and starts its read loops.
func NewStdioTransport(cfg StdioTransportConfig) (*StdioTransport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("rpc: stdio command is required")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultStdioShutdownGrace
	}

	t := &StdioTransport{
		cfg:    cfg,
		recvCh: make(chan Message, 64),
		errCh:  make(chan error, 1),
		waitCh: make(chan struct{}),
	}
	if err := t.start(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *StdioTransport) start() error {
	args := slices.Clone(t.cfg.Args)
	// #nosec G204 -- command/args come from explicit extension configuration.
	cmd := exec.Command(t.cfg.Command, args...)
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(t.cfg.Env)...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("rpc: stdio open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("rpc: stdio open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("rpc: stdio open stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("rpc: stdio start: %w", err)
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.readLoop(stdout)
	go t.waitLoop(stderr)

	return nil
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	decoder := json.NewDecoder(bufio.NewReader(stdout))
	for {
		var message Message
		if err := decoder.Decode(&message); err != nil {
			t.sendErr(fmt.Errorf("rpc: stdio decode response: %w", err))
			return
		}
		select {
		case t.recvCh <- message:
		default:
			t.sendErr(errors.New("rpc: stdio receive queue is full"))
			return
		}
	}
}

func (t *StdioTransport) waitLoop(stderr io.Reader) {
	defer close(t.waitCh)

	_, _ = io.Copy(io.Discard, stderr)

	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()

	if cmd == nil {
		return
	}
	err := cmd.Wait()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if !closed {
		if err != nil {
			t.sendErr(fmt.Errorf("rpc: stdio process exited: %w", err))
		} else {
			t.sendErr(errors.New("rpc: stdio process exited"))
		}
	}
}

// Send writes a JSON-RPC message to the subprocess stdin.
func (t *StdioTransport) Send(ctx context.Context, message Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("rpc: stdio transport is closed")
	}
	if t.stdin == nil {
		return errors.New("rpc: stdio stdin is not available")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("rpc: write request: %w", err)
	}
	return nil
}

// Receive reads the next JSON-RPC message from subprocess stdout.
func (t *StdioTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case err := <-t.errCh:
		return Message{}, err
	case message := <-t.recvCh:
		return message, nil
	}
}

// Close signals the subprocess and, if it does not exit within the shutdown
// grace period, force-kills it. The caller is never blocked beyond the grace
// period plus ctx.
func (t *StdioTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	stdin := t.stdin
	cmd := t.cmd
	waitCh := t.waitCh
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)

		select {
		case <-waitCh:
			return nil
		case <-time.After(t.cfg.ShutdownGrace):
			_ = cmd.Process.Kill()
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return ctx.Err()
		}
	}
	if waitCh != nil {
		select {
		case <-waitCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Kill force-terminates the subprocess immediately. Used for deadline
// enforcement when a call must be abandoned.
func (t *StdioTransport) Kill() {
	t.mu.Lock()
	cmd := t.cmd
	t.closed = true
	t.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (t *StdioTransport) sendErr(err error) {
	select {
	case t.errCh <- err:
	default:
	}
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
