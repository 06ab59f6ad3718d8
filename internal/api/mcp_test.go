package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/remembot/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *mockMemoryAPI) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	memories := &mockMemoryAPI{}
	return MCPDeps{
		Store:     store,
		Memories:  memories,
		LocalUser: "local",
	}, memories
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPRemember(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpRemember(deps)

	result, err := handler(context.Background(), makeCallToolRequest("remember", map[string]interface{}{
		"content": "Passport is in the desk drawer",
		"tags":    []interface{}{"home"},
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.HasPrefix(toolText(t, result), "Stored memory ") {
		t.Errorf("text = %q", toolText(t, result))
	}
}

func TestMCPRememberRequiresContent(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpRemember(deps)

	result, err := handler(context.Background(), makeCallToolRequest("remember", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPRecall(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpRecall(deps)

	result, err := handler(context.Background(), makeCallToolRequest("recall", map[string]interface{}{
		"query": "passport",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if toolText(t, result) != "[]" {
		t.Errorf("text = %q", toolText(t, result))
	}
}

func TestMCPListReminders(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	user, err := deps.Store.GetOrCreateUser("local")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if err := deps.Store.InsertReminder(storage.Reminder{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Message:     "call mom",
		ScheduledAt: time.Now().UTC().Add(time.Hour),
		Timezone:    "UTC",
	}); err != nil {
		t.Fatalf("InsertReminder: %v", err)
	}

	handler := mcpListReminders(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_reminders", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var out []map[string]interface{}
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0]["message"] != "call mom" {
		t.Errorf("out = %+v", out)
	}
}
