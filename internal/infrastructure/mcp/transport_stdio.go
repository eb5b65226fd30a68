package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// rpcTimeout is the deadline for every outstanding subprocess request.
const rpcTimeout = 30 * time.Second

// StdioTransport drives one spawned tool server over newline-delimited
// JSON-RPC on its stdin/stdout. The transport owns the child process; Close
// kills it and drains the pending map on every exit path.
type StdioTransport struct {
	cfg    ServerConfig
	logger *zap.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex // outbound writes are serialized

	mu           sync.Mutex
	pending      map[int64]chan *Response
	disconnected bool

	nextID    atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewStdioTransport creates a transport for cfg without starting it.
func NewStdioTransport(cfg ServerConfig, logger *zap.Logger) *StdioTransport {
	return &StdioTransport{
		cfg:     cfg,
		logger:  logger.With(zap.String("server", cfg.Name), zap.String("transport", "stdio")),
		pending: make(map[int64]chan *Response),
		done:    make(chan struct{}),
	}
}

// Name returns the configured server name.
func (t *StdioTransport) Name() string { return t.cfg.Name }

// Connect spawns the child process and starts the stdout framer and the
// stderr pump.
func (t *StdioTransport) Connect(ctx context.Context) error {
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return apperrors.NewTransportError("create stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperrors.NewTransportError("create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return apperrors.NewTransportError("create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return apperrors.NewTransportError("start tool server "+t.cfg.Name, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout

	go t.readLoop()
	go t.stderrLoop(stderr)
	go func() {
		err := cmd.Wait()
		if err != nil {
			t.logger.Warn("Tool server process exited", zap.Error(err))
		}
		t.failAll(apperrors.NewTransportError("tool server "+t.cfg.Name+" disconnected", err))
	}()

	t.logger.Info("Tool server started", zap.String("command", t.cfg.Command))
	return nil
}

// readLoop frames stdout into newline-delimited JSON messages and routes
// responses to their pending continuations. bufio buffers partial chunks
// until a full LF-terminated line arrives.
func (t *StdioTransport) readLoop() {
	reader := bufio.NewReaderSize(t.stdout, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		if len(line) <= 1 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Warn("Discarding unparseable message from tool server",
				zap.ByteString("line", line),
				zap.Error(err),
			)
			continue
		}

		t.mu.Lock()
		ch, exists := t.pending[resp.ID]
		if exists {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()

		if !exists {
			t.logger.Warn("Dropping response with unknown or duplicate id",
				zap.Int64("id", resp.ID),
			)
			continue
		}
		ch <- &resp
	}
}

// stderrLoop logs each stderr line at error level, annotated with the
// server name.
func (t *StdioTransport) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Error("Tool server stderr", zap.String("line", line))
		}
	}
}

// send issues one request and awaits its response within rpcTimeout.
func (t *StdioTransport) send(ctx context.Context, method string, params interface{}) (*Response, error) {
	t.mu.Lock()
	if t.disconnected {
		t.mu.Unlock()
		return nil, apperrors.NewTransportError("tool server "+t.cfg.Name+" is disconnected", nil)
	}
	t.mu.Unlock()

	id := t.nextID.Add(1)
	req, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Response, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.write(req); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, apperrors.NewTransportError("write to tool server "+t.cfg.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.NewTransportError(
				fmt.Sprintf("request %d to %s timed out after %s", id, t.cfg.Name, rpcTimeout), ctx.Err())
		}
		return nil, apperrors.NewTransportError("request cancelled", ctx.Err())
	case <-t.done:
		return nil, apperrors.NewTransportError("transport closed", nil)
	}
}

func (t *StdioTransport) write(req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(data)
	return err
}

// ListTools queries the server's tool manifest.
func (t *StdioTransport) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := t.send(ctx, MethodListTools, struct{}{})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, apperrors.NewTransportError("tools/list on "+t.cfg.Name, resp.Error)
	}

	var result ListToolsResult
	if err := resp.ParseResult(&result); err != nil {
		return nil, apperrors.NewTransportError("parse tools/list result", err)
	}
	if result.Tools == nil {
		return []ToolDescriptor{}, nil
	}
	return result.Tools, nil
}

// CallTool invokes one tool on the server. Server-reported failures come
// back as unsuccessful results so the model can recover; transport faults
// are returned as errors for the executor's retry policy.
func (t *StdioTransport) CallTool(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error) {
	t.logger.Info("Calling external tool", zap.String("tool", name))

	resp, err := t.send(ctx, MethodCallTool, CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		t.logger.Warn("External tool returned error",
			zap.String("tool", name),
			zap.String("error", resp.Error.Message),
		)
		return domaintool.Errorf("%s", resp.Error.Message), nil
	}

	var result CallToolResult
	if err := resp.ParseResult(&result); err != nil {
		return nil, apperrors.NewTransportError("parse tools/call result", err)
	}

	content := serializeContent(result.Content)
	t.logger.Info("External tool result",
		zap.String("tool", name),
		zap.Int("content_len", len(content)),
	)
	return domaintool.Success(content), nil
}

// failAll marks the transport disconnected and fails every outstanding
// request with err.
func (t *StdioTransport) failAll(failure error) {
	t.mu.Lock()
	t.disconnected = true
	pending := t.pending
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	for id, ch := range pending {
		select {
		case ch <- &Response{ID: id, Error: &RPCError{Message: failure.Error()}}:
		default:
		}
	}
}

// Close terminates the child process and drains pending requests with a
// cancellation error. Safe to call more than once.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.failAll(apperrors.NewTransportError("transport closed", nil))
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		t.logger.Info("Tool server stopped")
	})
	return nil
}
