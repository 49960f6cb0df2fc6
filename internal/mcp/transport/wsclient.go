package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"unicode/utf8"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WSClient implements MessageReader and MessageWriter over a WebSocket
// connection to an upstream MCP server. MCP is JSON-RPC over text frames
// only; binary frames are rejected (fail-closed). Ping/pong and fragment
// reassembly are handled by gobwas/ws/wsutil.
type WSClient struct {
	conn net.Conn

	// writeMu serializes writes. Reads are expected from a single goroutine.
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWSClient establishes a WebSocket connection to the given ws:// or
// wss:// URL using the provided context for timeout/cancellation.
func NewWSClient(ctx context.Context, rawURL string) (*WSClient, error) {
	conn, _, _, err := ws.Dial(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", rawURL, err)
	}
	return &WSClient{conn: conn}, nil
}

// NewWSClientFromConn wraps an already-established connection. Used by tests
// with net.Pipe.
func NewWSClientFromConn(conn net.Conn) *WSClient {
	return &WSClient{conn: conn}
}

// ReadMessage reads the next complete text message from the connection.
// Returns io.EOF on clean close.
func (c *WSClient) ReadMessage() ([]byte, error) {
	data, op, err := wsutil.ReadServerData(c.conn)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading ws message: %w", err)
	}

	if op != ws.OpText {
		c.writeClose(ws.StatusPolicyViolation, "binary frames not allowed")
		return nil, fmt.Errorf("binary frame rejected")
	}
	if len(data) > MaxLineSize {
		c.writeClose(ws.StatusMessageTooBig, "message too large")
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxLineSize)
	}
	// RFC 6455 requires valid UTF-8 in text frames.
	if !utf8.Valid(data) {
		c.writeClose(ws.StatusInvalidFramePayloadData, "invalid UTF-8")
		return nil, fmt.Errorf("invalid UTF-8 in text frame")
	}

	return data, nil
}

// WriteMessage sends a complete JSON-RPC message as a single masked text
// frame.
func (c *WSClient) WriteMessage(msg []byte) error {
	if len(msg) > MaxLineSize {
		return fmt.Errorf("message too large: %d bytes", len(msg))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, msg)
}

// writeClose sends a masked close frame. Best-effort: the connection is
// about to be torn down anyway.
func (c *WSClient) writeClose(code ws.StatusCode, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	frame := ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
	_ = ws.WriteFrame(c.conn, frame)
}

// Close sends a close frame and closes the underlying connection.
// Safe to call from multiple goroutines; the close frame is sent at most once.
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		c.writeClose(ws.StatusNormalClosure, "")
	})
	return c.conn.Close()
}
