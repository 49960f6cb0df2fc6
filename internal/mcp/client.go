// Package mcp implements the upstream MCP client and the proxy loop that
// routes tool calls through the defense pipeline.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/roninproxy/ronin/internal/audit"
	"github.com/roninproxy/ronin/internal/mcp/jsonrpc"
	"github.com/roninproxy/ronin/internal/mcp/transport"
)

// Client correlates JSON-RPC requests and responses over a single upstream
// transport. IDs on the upstream connection are owned by the client; the
// proxy rewrites them back to the downstream caller's IDs.
type Client struct {
	reader transport.MessageReader
	writer transport.MessageWriter
	audit  *audit.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *jsonrpc.Response
	closed  bool
	readErr error

	// notifications carries server-initiated messages (no matching pending
	// ID) for the proxy to relay downstream.
	notifications chan *jsonrpc.Response
	done          chan struct{}
}

// NewClient wraps a transport pair and starts the read loop. The loop ends
// when the reader returns EOF; closing the underlying transport releases the
// client.
func NewClient(r transport.MessageReader, w transport.MessageWriter, log *audit.Logger) *Client {
	if log == nil {
		log = audit.NewNop()
	}
	c := &Client{
		reader:        r,
		writer:        w,
		audit:         log,
		pending:       make(map[int64]chan *jsonrpc.Response),
		notifications: make(chan *jsonrpc.Response, 16),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Notifications returns the channel of server-initiated messages. Closed
// when the upstream connection ends.
func (c *Client) Notifications() <-chan *jsonrpc.Response {
	return c.notifications
}

func (c *Client) readLoop() {
	defer close(c.notifications)
	defer close(c.done)

	for {
		msg, err := c.reader.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closed = true
			if err != io.EOF {
				c.readErr = err
			}
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}

		var resp jsonrpc.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			c.audit.LogError("", "", fmt.Errorf("unparseable upstream message: %w", err))
			continue
		}

		id, ok := parseNumericID(resp.ID)
		if !ok {
			// Notification or server-initiated request: relay downstream.
			select {
			case c.notifications <- &resp:
			default:
				// Slow consumer: drop rather than stall the read loop.
			}
			continue
		}

		c.mu.Lock()
		ch, exists := c.pending[id]
		if exists {
			delete(c.pending, id)
		}
		c.mu.Unlock()

		if exists {
			ch <- &resp
		}
	}
}

func parseNumericID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || string(raw) == jsonrpc.Null {
		return 0, false
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Call sends a request and waits for its response. Params may be nil.
func (c *Client) Call(ctx context.Context, method string, params json.RawMessage) (*jsonrpc.Response, error) {
	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("upstream closed: %w", err)
		}
		return nil, fmt.Errorf("upstream closed")
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *jsonrpc.Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  params,
	}
	msg, err := json.Marshal(req)
	if err != nil {
		c.unregister(id)
		return nil, fmt.Errorf("marshaling %s request: %w", method, err)
	}

	c.writeMu.Lock()
	err = c.writer.WriteMessage(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.unregister(id)
		return nil, fmt.Errorf("sending %s request: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("upstream closed before responding to %s", method)
		}
		return resp, nil
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}
}

func (c *Client) unregister(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Notify sends a notification (no ID, no response expected).
func (c *Client) Notify(method string, params json.RawMessage) error {
	req := jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		Method:  method,
		Params:  params,
	}
	msg, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling %s notification: %w", method, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.WriteMessage(msg)
}

// Execute dispatches a tools/call to the upstream server and parses its
// result. Implements the pipeline's Executor. An upstream error response
// propagates as the *jsonrpc.RPCError itself.
func (c *Client) Execute(ctx context.Context, tool string, args map[string]any) (jsonrpc.ToolResult, error) {
	params, err := json.Marshal(map[string]any{
		"name":      tool,
		"arguments": args,
	})
	if err != nil {
		return jsonrpc.ToolResult{}, fmt.Errorf("marshaling tool arguments: %w", err)
	}

	resp, err := c.Call(ctx, jsonrpc.MethodToolsCall, params)
	if err != nil {
		return jsonrpc.ToolResult{}, err
	}
	if resp.Error != nil {
		return jsonrpc.ToolResult{}, resp.Error
	}
	return jsonrpc.ParseToolResult(resp.Result), nil
}

// ListTools fetches the upstream tool listing.
func (c *Client) ListTools(ctx context.Context) ([]jsonrpc.Tool, json.RawMessage, error) {
	resp, err := c.Call(ctx, jsonrpc.MethodToolsList, nil)
	if err != nil {
		return nil, nil, err
	}
	if resp.Error != nil {
		return nil, nil, resp.Error
	}
	return jsonrpc.ParseToolsList(resp.Result), resp.Result, nil
}
