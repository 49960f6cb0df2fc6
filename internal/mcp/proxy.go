package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/roninproxy/ronin/internal/audit"
	"github.com/roninproxy/ronin/internal/frame"
	"github.com/roninproxy/ronin/internal/mcp/jsonrpc"
	"github.com/roninproxy/ronin/internal/mcp/transport"
	"github.com/roninproxy/ronin/internal/pipeline"
)

// Proxy sits between a downstream MCP client and the upstream server.
// tools/call requests run through the defense pipeline; everything else is
// forwarded verbatim, with tools/list responses feeding the catalog.
type Proxy struct {
	pipe    *pipeline.Pipeline
	client  *Client
	catalog *Catalog
	audit   *audit.Logger

	in  transport.MessageReader
	out transport.MessageWriter

	// writeMu serializes downstream writes: tool calls are handled
	// concurrently.
	writeMu sync.Mutex
}

// NewProxy assembles a proxy from its parts.
func NewProxy(pipe *pipeline.Pipeline, client *Client, catalog *Catalog, in transport.MessageReader, out transport.MessageWriter, log *audit.Logger) *Proxy {
	if log == nil {
		log = audit.NewNop()
	}
	return &Proxy{
		pipe:    pipe,
		client:  client,
		catalog: catalog,
		audit:   log,
		in:      in,
		out:     out,
	}
}

// Serve reads downstream requests until EOF or context cancellation. Each
// request is handled on its own goroutine; Serve returns once the reader is
// exhausted and all in-flight handlers finished.
func (p *Proxy) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var handlers sync.WaitGroup
	handlers.Add(1)
	go func() {
		defer handlers.Done()
		p.relayNotifications(ctx)
	}()

	for {
		msg, err := p.in.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("reading client request: %w", err)
		}
		if ctx.Err() != nil {
			break
		}

		var req jsonrpc.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			p.audit.LogError("", "", fmt.Errorf("unparseable client request: %w", err))
			continue
		}

		handlers.Add(1)
		go func() {
			defer handlers.Done()
			p.handle(ctx, &req)
		}()
	}

	cancel()
	handlers.Wait()
	return nil
}

func (p *Proxy) handle(ctx context.Context, req *jsonrpc.Request) {
	if req.Method == jsonrpc.MethodToolsCall {
		p.handleToolCall(ctx, req)
		return
	}
	p.forward(ctx, req)
}

func (p *Proxy) handleToolCall(ctx context.Context, req *jsonrpc.Request) {
	tc, err := jsonrpc.ParseToolCall(req.Params)
	if err != nil {
		p.writeError(req.ID, jsonrpc.CodeInvalidRequest, err.Error())
		return
	}

	result, err := p.pipe.CallTool(ctx, tc.Name, tc.Arguments)
	if err != nil {
		p.writeToolError(req.ID, err)
		return
	}

	raw, err := jsonrpc.MarshalToolResult(result)
	if err != nil {
		p.writeError(req.ID, jsonrpc.CodeInternalError, "encoding tool result: "+err.Error())
		return
	}
	p.write(&jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: raw})
}

// writeToolError maps pipeline failures onto JSON-RPC errors. Policy blocks
// carry the human-readable reason, stamped like every other text Ronin
// emits; upstream errors pass through with their original code.
func (p *Proxy) writeToolError(id json.RawMessage, err error) {
	var policyErr *pipeline.PolicyError
	if errors.As(err, &policyErr) {
		p.writeError(id, jsonrpc.CodePolicyBlocked, frame.Stamp(policyErr.Error()))
		return
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		p.writeError(id, rpcErr.Code, frame.Stamp(rpcErr.Message))
		return
	}

	p.writeError(id, jsonrpc.CodeInternalError, frame.Stamp(err.Error()))
}

func (p *Proxy) forward(ctx context.Context, req *jsonrpc.Request) {
	if req.IsNotification() {
		if err := p.client.Notify(req.Method, req.Params); err != nil {
			p.audit.LogError("", "", fmt.Errorf("forwarding %s notification: %w", req.Method, err))
		}
		return
	}

	resp, err := p.client.Call(ctx, req.Method, req.Params)
	if err != nil {
		p.writeError(req.ID, jsonrpc.CodeInternalError, err.Error())
		return
	}

	if req.Method == jsonrpc.MethodToolsList && resp.Error == nil {
		p.catalog.Observe(resp.Result)
	}

	// Restore the downstream caller's ID; upstream IDs are client-owned.
	resp.ID = req.ID
	p.write(resp)
}

// relayNotifications forwards server-initiated messages downstream.
func (p *Proxy) relayNotifications(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-p.client.Notifications():
			if !ok {
				return
			}
			p.write(n)
		}
	}
}

func (p *Proxy) writeError(id json.RawMessage, code int, message string) {
	p.write(jsonrpc.NewErrorResponse(id, code, message))
}

func (p *Proxy) write(resp *jsonrpc.Response) {
	msg, err := json.Marshal(resp)
	if err != nil {
		p.audit.LogError("", "", fmt.Errorf("encoding response: %w", err))
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.out.WriteMessage(msg); err != nil {
		p.audit.LogError("", "", fmt.Errorf("writing response: %w", err))
	}
}
