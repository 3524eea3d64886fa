package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/aegis/pkg/runtime"
	"github.com/jllopis/aegis/pkg/store"
)

const (
	mcpStdioHelperEnv = "AEGIS_MCP_STDIO_HELPER"
	mcpStdioDBEnv     = "AEGIS_MCP_STDIO_DB"
)

// TestHelperMCPStdioServer is not a real test. It is re-executed as a
// subprocess by TestServerStdioRoundTrip and serves the aegis tool
// surface over stdio until EOF.
func TestHelperMCPStdioServer(t *testing.T) {
	if os.Getenv(mcpStdioHelperEnv) != "1" {
		return
	}

	st, err := store.Open(os.Getenv(mcpStdioDBEnv))
	if err != nil {
		os.Exit(1)
	}
	defer st.Close()

	srv := NewServer("aegis-test", "0.0.0", runtime.New(st))
	if err := srv.ServeStdio(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestServerStdioRoundTrip(t *testing.T) {
	t.Setenv(mcpStdioHelperEnv, "1")
	t.Setenv(mcpStdioDBEnv, filepath.Join(t.TempDir(), "aegis.db"))

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	client, err := NewClientWithStdio(exe, []string{"-test.run", "TestHelperMCPStdioServer"})
	if err != nil {
		t.Fatalf("NewClientWithStdio: %v", err)
	}
	defer client.Close()

	ctx := context.Background()

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"identity_create", "identity_show",
		"trust_grant", "trust_verify", "trust_revoke", "trust_list",
		"spawn_child", "spawn_terminate", "spawn_list",
		"lineage_verify", "spawn_authority",
	} {
		if !names[want] {
			t.Errorf("tool %q not registered", want)
		}
	}

	alice := callJSON(t, client, "identity_create", map[string]interface{}{"name": "alice"})
	aliceID, _ := alice["id"].(string)
	if !strings.HasPrefix(aliceID, "aid_") {
		t.Fatalf("identity_create returned id %q", alice["id"])
	}
	bob := callJSON(t, client, "identity_create", map[string]interface{}{"name": "bob"})

	grant := callJSON(t, client, "trust_grant", map[string]interface{}{
		"identity":     "alice",
		"grantee":      bob["id"],
		"capabilities": []interface{}{"email:send", "files:read:*"},
		"max_uses":     float64(5),
	})
	grantID, _ := grant["id"].(string)
	if grantID == "" {
		t.Fatalf("trust_grant returned no id: %v", grant)
	}

	verification := callJSON(t, client, "trust_verify", map[string]interface{}{
		"trust_id":   grantID,
		"capability": "email:send",
	})
	if valid, _ := verification["is_valid"].(bool); !valid {
		t.Fatalf("expected grant to verify, got %v", verification)
	}

	spawned := callJSON(t, client, "spawn_child", map[string]interface{}{
		"identity":  "alice",
		"purpose":   "Sort the inbox",
		"authority": []interface{}{"email:read"},
	})
	childID, _ := spawned["child_id"].(string)
	if childID == "" {
		t.Fatalf("spawn_child returned no child_id: %v", spawned)
	}

	lineage := callJSON(t, client, "lineage_verify", map[string]interface{}{
		"identity": childID,
	})
	if valid, _ := lineage["is_valid"].(bool); !valid {
		t.Fatalf("expected valid lineage, got %v", lineage)
	}

	// Missing required arguments come back as tool errors, not transport errors.
	result, err := client.CallTool(ctx, "trust_verify", map[string]interface{}{})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing trust_id")
	}

	_ = callJSON(t, client, "trust_revoke", map[string]interface{}{
		"trust_id": grantID,
		"identity": "alice",
		"reason":   "manual_revocation",
	})
	verification = callJSON(t, client, "trust_verify", map[string]interface{}{
		"trust_id": grantID,
	})
	if valid, _ := verification["is_valid"].(bool); valid {
		t.Fatal("expected revoked grant to fail verification")
	}
}

func callJSON(t *testing.T, c *Client, name string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, err := c.CallTool(context.Background(), name, args)
	if err != nil {
		t.Fatalf("CallTool %s: %v", name, err)
	}
	if result.IsError {
		t.Fatalf("CallTool %s returned tool error: %+v", name, result.Content)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool %s returned no content", name)
	}
	text, ok := result.Content[0].(mcpgo.TextContent)
	if !ok {
		t.Fatalf("CallTool %s returned non-text content %T", name, result.Content[0])
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("CallTool %s returned invalid JSON: %v", name, err)
	}
	return out
}
