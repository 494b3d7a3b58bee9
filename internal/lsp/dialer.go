package lsp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dialer opens a byte stream to a language server.
type Dialer interface {
	Dial(ctx context.Context, language string, config ServerConfig) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, language string, config ServerConfig) (io.ReadWriteCloser, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, language string, config ServerConfig) (io.ReadWriteCloser, error) {
	return f(ctx, language, config)
}

// processExitTimeout is how long Close waits for the server to exit after
// its stdin is closed.
const processExitTimeout = 5 * time.Second

// ProcessDialer starts language servers as child processes speaking over
// stdin/stdout. Stderr lines are logged at debug level.
type ProcessDialer struct {
	Logger *zap.Logger
}

// Dial starts the server executable. The process is not tied to ctx; it
// lives until the returned stream is closed.
func (d ProcessDialer) Dial(ctx context.Context, language string, config ServerConfig) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(config.Command, config.Args...)
	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if config.WorkDir != "" {
		cmd.Dir = config.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", config.Command, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	go drainStderr(stderr, logger.With(zap.String("language", language), zap.Int("pid", cmd.Process.Pid)))

	return &processIO{cmd: cmd, reader: stdout, writer: stdin}, nil
}

func drainStderr(r io.Reader, logger *zap.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debug("server stderr", zap.String("line", scanner.Text()))
	}
}

// processIO wraps subprocess stdin/stdout as an io.ReadWriteCloser
// for use with jsonrpc2.NewStream.
type processIO struct {
	cmd    *exec.Cmd
	reader io.ReadCloser
	writer io.WriteCloser

	closeOnce sync.Once
	closeErr  error
}

func (p *processIO) Read(data []byte) (int, error)  { return p.reader.Read(data) }
func (p *processIO) Write(data []byte) (int, error) { return p.writer.Write(data) }

// Close closes stdin and waits for the process, killing it if it does not
// exit in time.
func (p *processIO) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.writer.Close()

		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(processExitTimeout):
			_ = p.cmd.Process.Kill()
			<-done
		}
	})
	return p.closeErr
}
