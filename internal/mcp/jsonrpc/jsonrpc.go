// Package jsonrpc provides shared JSON-RPC 2.0 types used across the mcp
// sub-packages and the pipeline. Extracting these into a dedicated package
// breaks circular imports between the transport, client, and proxy layers.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version used by MCP.
const Version = "2.0"

// Null is the JSON literal "null", used to detect nil-equivalent
// json.RawMessage values that are non-nil Go slices.
const Null = "null"

// MCP method names Ronin routes on.
const (
	MethodToolsCall = "tools/call"
	MethodToolsList = "tools/list"
)

// JSON-RPC error codes. CodePolicyBlocked is in the server-defined range and
// carries pipeline veto reasons back to the client.
const (
	CodeInvalidRequest = -32600
	CodeInternalError  = -32603
	CodePolicyBlocked  = -32010
)

// Request represents a JSON-RPC 2.0 request envelope. A nil/absent ID marks
// a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no ID.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == Null
}

// Response represents a JSON-RPC 2.0 response envelope.
// Result is json.RawMessage (not a typed struct) so non-standard result
// shapes degrade to "nothing to process" instead of failing the whole parse.
// Method and Params are included because servers also send notifications on
// the same stream.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewErrorResponse builds an error response for the given request ID.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// ContentBlock represents a single content block in an MCP tool result. Only
// the type and text fields are modeled; every other field the server sent
// (image data, mimeType, annotations) rides along in raw and is re-emitted
// verbatim on marshal.
type ContentBlock struct {
	Type string
	Text string

	hasText  bool                       // "text" was present as a JSON string
	raw      map[string]json.RawMessage // original block fields
	verbatim json.RawMessage            // non-object block element, passed through untouched
}

// ToolResult is the parsed result field of a tools/call response. Data
// mirrors the optional structured "data" field some servers attach alongside
// content blocks; HasData distinguishes an absent string field from an empty
// one. Top-level fields outside this model (isError, structuredContent) are
// carried in raw and survive the round trip unchanged.
type ToolResult struct {
	Content []ContentBlock
	Data    string
	HasData bool

	raw map[string]json.RawMessage // original top-level result fields
}

// ToolCall is the parsed params of a tools/call request.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// ParseToolCall parses tools/call params. A missing or empty tool name is an
// error; absent arguments parse to an empty map.
func ParseToolCall(params json.RawMessage) (ToolCall, error) {
	var p struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolCall{}, fmt.Errorf("parsing tools/call params: %w", err)
	}
	if p.Name == "" {
		return ToolCall{}, fmt.Errorf("tools/call params missing tool name")
	}
	if p.Arguments == nil {
		p.Arguments = map[string]any{}
	}
	return ToolCall{Name: p.Name, Arguments: p.Arguments}, nil
}

// ParseToolResult parses a tools/call result field. Malformed or non-standard
// shapes return an empty result rather than an error: there is nothing to
// post-process, and failing the parse would fail a call the backend already
// answered.
func ParseToolResult(raw json.RawMessage) ToolResult {
	if len(raw) == 0 || string(raw) == Null {
		return ToolResult{}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ToolResult{}
	}

	tr := ToolResult{raw: fields}
	if c, ok := fields["content"]; ok {
		var elems []json.RawMessage
		if err := json.Unmarshal(c, &elems); err == nil {
			for _, e := range elems {
				tr.Content = append(tr.Content, parseContentBlock(e))
			}
		}
	}
	if d, ok := fields["data"]; ok && string(d) != Null {
		var s string
		// Only string data is post-processed; other shapes pass untouched
		// via raw.
		if err := json.Unmarshal(d, &s); err == nil {
			tr.Data = s
			tr.HasData = true
		}
	}
	return tr
}

func parseContentBlock(elem json.RawMessage) ContentBlock {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil {
		// Not an object: keep the element byte-for-byte.
		return ContentBlock{verbatim: elem}
	}

	b := ContentBlock{raw: fields}
	if t, ok := fields["type"]; ok {
		_ = json.Unmarshal(t, &b.Type)
	}
	if txt, ok := fields["text"]; ok {
		var s string
		if err := json.Unmarshal(txt, &s); err == nil {
			b.Text = s
			b.hasText = true
		}
	}
	return b
}

// MarshalToolResult re-encodes a processed tool result. Only the text and
// data fields the pipeline rewrites are replaced; everything else the server
// sent comes back out exactly as it went in.
func MarshalToolResult(tr ToolResult) (json.RawMessage, error) {
	m := make(map[string]json.RawMessage, len(tr.raw)+2)
	for k, v := range tr.raw {
		m[k] = v
	}

	blocks := make([]json.RawMessage, 0, len(tr.Content))
	for _, b := range tr.Content {
		enc, err := b.marshal()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, enc)
	}
	content, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	m["content"] = content

	if tr.HasData {
		d, err := json.Marshal(tr.Data)
		if err != nil {
			return nil, err
		}
		m["data"] = d
	}
	return json.Marshal(m)
}

func (b ContentBlock) marshal() (json.RawMessage, error) {
	if b.verbatim != nil {
		return b.verbatim, nil
	}

	m := make(map[string]json.RawMessage, len(b.raw)+2)
	for k, v := range b.raw {
		m[k] = v
	}
	t, err := json.Marshal(b.Type)
	if err != nil {
		return nil, err
	}
	m["type"] = t
	// Synthesized text blocks (b.raw == nil) carry no hasText flag; emit
	// their text whenever the type says so.
	if b.hasText || b.Type == "text" {
		txt, err := json.Marshal(b.Text)
		if err != nil {
			return nil, err
		}
		m["text"] = txt
	}
	return json.Marshal(m)
}

// Tool is one entry of a tools/list result.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ParseToolsList parses a tools/list result field. Malformed shapes return
// nil: the catalog just stays empty.
func ParseToolsList(raw json.RawMessage) []Tool {
	if len(raw) == 0 || string(raw) == Null {
		return nil
	}
	var parsed struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}
	return parsed.Tools
}
