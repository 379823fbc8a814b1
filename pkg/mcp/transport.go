package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Transport moves framed JSON-RPC payloads to and from a server.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// stdioTransport frames payloads with Content-Length headers over a pair of
// pipes, the MCP stdio convention.
type stdioTransport struct {
	in  *bufio.Reader
	out io.Writer

	writeMu sync.Mutex
	closers []io.Closer
}

// NewStdioTransport wraps an existing pipe pair.
func NewStdioTransport(stdin io.WriteCloser, stdout io.ReadCloser) Transport {
	return &stdioTransport{
		in:      bufio.NewReader(stdout),
		out:     stdin,
		closers: []io.Closer{stdin, stdout},
	}
}

func (t *stdioTransport) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := fmt.Fprintf(t.out, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	_, err := t.out.Write(payload)
	return err
}

func (t *stdioTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	length := -1
	for {
		line, err := t.in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "content-length") {
			length, err = strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
		}
	}
	if length < 0 {
		return nil, errors.New("missing Content-Length header")
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(t.in, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *stdioTransport) Close() error {
	var first error
	for _, c := range t.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SpawnConfig describes an MCP server to launch as a child process.
type SpawnConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string  // appended to the current environment
	Stderr  io.Writer // defaults to os.Stderr
	Options Options
}

// Spawn launches the server process, binds its stdio to a framed transport
// and performs the handshake. Closing the returned client terminates the
// process.
func Spawn(ctx context.Context, cfg SpawnConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("mcp: command is required")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.Stderr = cfg.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: start %s: %w", cfg.Command, err)
	}

	transport := &procTransport{
		Transport: NewStdioTransport(stdin, stdout),
		cmd:       cmd,
	}

	client, err := NewClient(ctx, transport, cfg.Options)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return client, nil
}

// procTransport ties the child process lifetime to the transport: closing it
// closes the pipes, then reaps (or kills) the process.
type procTransport struct {
	Transport
	cmd  *exec.Cmd
	once sync.Once
	err  error
}

func (t *procTransport) Close() error {
	t.once.Do(func() {
		t.err = t.Transport.Close()
		done := make(chan struct{})
		go func() {
			_ = t.cmd.Wait()
			close(done)
		}()
		// Closing stdin makes a well-behaved server exit; if it lingers,
		// kill it.
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			<-done
		}
	})
	return t.err
}
