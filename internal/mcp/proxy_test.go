package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/roninproxy/ronin/internal/audit"
	"github.com/roninproxy/ronin/internal/config"
	"github.com/roninproxy/ronin/internal/mcp/jsonrpc"
	"github.com/roninproxy/ronin/internal/pipeline"
)

// proxyHarness wires a full proxy to an in-memory upstream and downstream.
type proxyHarness struct {
	up         *fakeUpstream
	fromProxy  chan []byte // proxy -> downstream client
	toProxy    chan []byte // downstream client -> proxy
	catalog    *Catalog
	serveErr   chan error
	cancelServ context.CancelFunc
}

func newProxyHarness(t *testing.T, cfg *config.Config) *proxyHarness {
	t.Helper()
	if cfg == nil {
		cfg = config.Defaults()
	}

	up := newFakeUpstream()
	client := up.client(t)
	catalog := NewCatalog()

	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Executor:  client,
		Describer: catalog,
		Audit:     audit.NewNop(),
	})
	if err != nil {
		t.Fatalf("pipeline.New() error: %v", err)
	}

	h := &proxyHarness{
		up:        up,
		fromProxy: make(chan []byte, 16),
		toProxy:   make(chan []byte, 16),
		catalog:   catalog,
		serveErr:  make(chan error, 1),
	}

	proxy := NewProxy(pipe, client, catalog,
		&chanReader{ch: h.toProxy}, &chanWriter{ch: h.fromProxy}, audit.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancelServ = cancel
	go func() { h.serveErr <- proxy.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		close(h.toProxy)
	})
	return h
}

func (h *proxyHarness) send(t *testing.T, raw string) {
	t.Helper()
	h.toProxy <- []byte(raw)
}

func (h *proxyHarness) recv(t *testing.T) jsonrpc.Response {
	t.Helper()
	select {
	case msg := <-h.fromProxy:
		var resp jsonrpc.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			t.Fatalf("unmarshal proxy response: %v", err)
		}
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for proxy response")
		return jsonrpc.Response{}
	}
}

func TestProxyToolCallRoundTrip(t *testing.T) {
	h := newProxyHarness(t, nil)

	go h.up.serveOne(t, `{"content":[{"type":"text","text":"The weather in Paris is sunny with light winds today."}]}`, nil)

	h.send(t, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"get_weather","arguments":{"query":"what is the weather forecast in Paris today"}}}`)

	resp := h.recv(t)
	if string(resp.ID) != "7" {
		t.Errorf("response ID = %s, want 7 (downstream ID restored)", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	tr := jsonrpc.ParseToolResult(resp.Result)
	if len(tr.Content) != 1 {
		t.Fatalf("content blocks = %d", len(tr.Content))
	}
	if !strings.Contains(tr.Content[0].Text, "Verified by Ronin") {
		t.Errorf("response not stamped: %q", tr.Content[0].Text)
	}
}

func TestProxyBlocksPolicyViolation(t *testing.T) {
	h := newProxyHarness(t, nil)

	// Catalog knows the tool, so alignment scores against its description.
	h.catalog.Observe(json.RawMessage(`{"tools":[{"name":"get_weather","description":"Get current weather conditions for a location"}]}`))

	// Misaligned arguments: never reaches upstream.
	h.send(t, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"get_weather","arguments":{"query":"please summarize the quarterly financial report"}}}`)

	resp := h.recv(t)
	if resp.Error == nil {
		t.Fatal("expected policy error response")
	}
	if resp.Error.Code != jsonrpc.CodePolicyBlocked {
		t.Errorf("code = %d, want %d", resp.Error.Code, jsonrpc.CodePolicyBlocked)
	}
	if !strings.Contains(resp.Error.Message, "Blocked tool 'get_weather'") {
		t.Errorf("message = %q", resp.Error.Message)
	}
	if !strings.Contains(resp.Error.Message, "Verified by Ronin") {
		t.Errorf("policy error not stamped: %q", resp.Error.Message)
	}

	select {
	case msg := <-h.up.fromClient:
		t.Fatalf("blocked call reached upstream: %s", msg)
	case <-time.After(100 * time.Millisecond):
		// expected: nothing forwarded
	}
}

func TestProxyForwardsToolsList(t *testing.T) {
	h := newProxyHarness(t, nil)

	go h.up.serveOne(t, `{"tools":[{"name":"get_weather","description":"Get current weather conditions"}]}`, nil)

	h.send(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	resp := h.recv(t)
	if string(resp.ID) != "1" {
		t.Errorf("response ID = %s, want 1", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	// The passing tools/list response must have populated the catalog.
	deadline := time.Now().Add(time.Second)
	for h.catalog.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	desc, ok := h.catalog.Describe("get_weather")
	if !ok || desc == "" {
		t.Error("catalog not populated from tools/list response")
	}
}

func TestProxyForwardsOtherMethods(t *testing.T) {
	h := newProxyHarness(t, nil)

	go h.up.serveOne(t, `{"protocolVersion":"2024-11-05"}`, nil)

	h.send(t, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"clientInfo":{"name":"test"}}}`)

	resp := h.recv(t)
	if string(resp.ID) != "2" {
		t.Errorf("response ID = %s, want 2", resp.ID)
	}
	if !strings.Contains(string(resp.Result), "protocolVersion") {
		t.Errorf("result = %s", resp.Result)
	}
}

func TestProxyMalformedToolCall(t *testing.T) {
	h := newProxyHarness(t, nil)

	h.send(t, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"arguments":{}}}`)

	resp := h.recv(t)
	if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidRequest {
		t.Errorf("expected invalid request error, got %+v", resp.Error)
	}
}
