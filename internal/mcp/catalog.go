package mcp

import (
	"encoding/json"
	"sync"

	"github.com/roninproxy/ronin/internal/mcp/jsonrpc"
)

// Catalog maintains the tool name → description map backing the pipeline's
// Describer. It is populated by observing tools/list responses as they pass
// through the proxy; a tool the catalog has never seen is simply absent.
type Catalog struct {
	mu           sync.RWMutex
	descriptions map[string]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{descriptions: make(map[string]string)}
}

// Observe parses a tools/list result and records every listed tool's
// description, replacing the previous snapshot. Malformed results leave the
// catalog untouched.
func (c *Catalog) Observe(result json.RawMessage) {
	tools := jsonrpc.ParseToolsList(result)
	if tools == nil {
		return
	}

	next := make(map[string]string, len(tools))
	for _, t := range tools {
		next[t.Name] = t.Description
	}

	c.mu.Lock()
	c.descriptions = next
	c.mu.Unlock()
}

// Describe returns the recorded description for a tool. Absence is normal,
// never an error.
func (c *Catalog) Describe(tool string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.descriptions[tool]
	return d, ok
}

// Len returns the number of cataloged tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.descriptions)
}
