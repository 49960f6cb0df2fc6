package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		wantName string
		wantErr  bool
	}{
		{
			name:     "standard call",
			params:   `{"name":"get_weather","arguments":{"location":"Paris"}}`,
			wantName: "get_weather",
		},
		{
			name:     "absent arguments",
			params:   `{"name":"list_files"}`,
			wantName: "list_files",
		},
		{
			name:    "missing name",
			params:  `{"arguments":{}}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			params:  `{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, err := ParseToolCall(json.RawMessage(tt.params))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseToolCall() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if tc.Name != tt.wantName {
				t.Errorf("name = %q, want %q", tc.Name, tt.wantName)
			}
			if tc.Arguments == nil {
				t.Error("arguments should never be nil")
			}
		})
	}
}

func TestParseToolResult(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantTexts int
		wantData  string
		wantHas   bool
	}{
		{
			name:      "content blocks",
			raw:       `{"content":[{"type":"text","text":"hello"},{"type":"text","text":"world"}]}`,
			wantTexts: 2,
		},
		{
			name:     "string data field",
			raw:      `{"content":[],"data":"payload"}`,
			wantData: "payload",
			wantHas:  true,
		},
		{
			name: "object data field ignored",
			raw:  `{"content":[],"data":{"k":"v"}}`,
		},
		{
			name: "null result",
			raw:  `null`,
		},
		{
			name: "non-object result degrades to empty",
			raw:  `"just a string"`,
		},
		{
			name: "malformed result degrades to empty",
			raw:  `{broken`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := ParseToolResult(json.RawMessage(tt.raw))
			if len(tr.Content) != tt.wantTexts {
				t.Errorf("content blocks = %d, want %d", len(tr.Content), tt.wantTexts)
			}
			if tr.Data != tt.wantData || tr.HasData != tt.wantHas {
				t.Errorf("data = (%q, %v), want (%q, %v)", tr.Data, tr.HasData, tt.wantData, tt.wantHas)
			}
		})
	}
}

func TestMarshalToolResult(t *testing.T) {
	t.Run("data preserved when present", func(t *testing.T) {
		raw, err := MarshalToolResult(ToolResult{Data: "x", HasData: true})
		if err != nil {
			t.Fatalf("MarshalToolResult() error: %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if m["data"] != "x" {
			t.Errorf("data = %v, want x", m["data"])
		}
	})

	t.Run("absent data stays absent", func(t *testing.T) {
		raw, err := MarshalToolResult(ToolResult{Content: []ContentBlock{{Type: "text", Text: "hi"}}})
		if err != nil {
			t.Fatalf("MarshalToolResult() error: %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if _, exists := m["data"]; exists {
			t.Error("data field should be absent")
		}
		if _, exists := m["content"]; !exists {
			t.Error("content field should always be present")
		}
	})
}

func TestToolResultRoundTripPreservesUnknownFields(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"image","data":"iVBORw0KGgo=","mimeType":"image/png"},{"type":"text","text":"caption"}],"isError":true}`)

	tr := ParseToolResult(raw)
	if len(tr.Content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(tr.Content))
	}
	if tr.Content[1].Type != "text" || tr.Content[1].Text != "caption" {
		t.Fatalf("text block = %+v", tr.Content[1])
	}

	// The pipeline only ever touches text fields.
	tr.Content[1].Text = "caption (processed)"

	out, err := MarshalToolResult(tr)
	if err != nil {
		t.Fatalf("MarshalToolResult() error: %v", err)
	}

	var m struct {
		Content []map[string]any `json:"content"`
		IsError bool             `json:"isError"`
	}
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !m.IsError {
		t.Error("isError flag lost in round trip")
	}
	img := m.Content[0]
	if img["data"] != "iVBORw0KGgo=" || img["mimeType"] != "image/png" {
		t.Errorf("image block lost fields: %v", img)
	}
	if _, exists := img["text"]; exists {
		t.Errorf("image block grew a text field: %v", img)
	}
	if m.Content[1]["text"] != "caption (processed)" {
		t.Errorf("rewritten text not emitted: %v", m.Content[1])
	}
}

func TestToolResultRoundTripNonStringData(t *testing.T) {
	raw := json.RawMessage(`{"content":[],"data":{"k":"v"},"structuredContent":{"n":1}}`)

	tr := ParseToolResult(raw)
	if tr.HasData {
		t.Fatal("object data must not be modeled as string data")
	}

	out, err := MarshalToolResult(tr)
	if err != nil {
		t.Fatalf("MarshalToolResult() error: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(m["data"]) != `{"k":"v"}` {
		t.Errorf("object data field not passed through: %s", m["data"])
	}
	if len(m["structuredContent"]) == 0 {
		t.Error("unknown top-level field dropped")
	}
}

func TestToolResultRoundTripNonObjectBlock(t *testing.T) {
	tr := ParseToolResult(json.RawMessage(`{"content":["bare string",{"type":"text","text":"ok"}]}`))
	if len(tr.Content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(tr.Content))
	}

	out, err := MarshalToolResult(tr)
	if err != nil {
		t.Fatalf("MarshalToolResult() error: %v", err)
	}
	var m struct {
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(m.Content[0]) != `"bare string"` {
		t.Errorf("non-object element not passed through verbatim: %s", m.Content[0])
	}
}

func TestParseToolsList(t *testing.T) {
	tools := ParseToolsList(json.RawMessage(`{"tools":[{"name":"get_weather","description":"Get current weather for a location"},{"name":"send_email"}]}`))
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Description == "" {
		t.Error("description lost in parse")
	}
	if tools[1].Description != "" {
		t.Error("absent description should be empty")
	}

	if got := ParseToolsList(json.RawMessage(`"weird"`)); got != nil {
		t.Errorf("non-standard shape should parse to nil, got %v", got)
	}
	if got := ParseToolsList(nil); got != nil {
		t.Errorf("nil raw should parse to nil, got %v", got)
	}
}

func TestIsNotification(t *testing.T) {
	r := &Request{Method: "notifications/initialized"}
	if !r.IsNotification() {
		t.Error("request without ID should be a notification")
	}
	r.ID = json.RawMessage(`1`)
	if r.IsNotification() {
		t.Error("request with ID is not a notification")
	}
	r.ID = json.RawMessage(`null`)
	if !r.IsNotification() {
		t.Error("null ID counts as a notification")
	}
}
