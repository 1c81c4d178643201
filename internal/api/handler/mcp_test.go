package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/consts"
	"github.com/pairreview/pairreview/internal/localreview"
	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
)

func setupMCPAPI(t *testing.T) (*gin.Engine, store.Store) {
	t.Helper()
	s, cleanup := store.SetupTestDB(t)
	t.Cleanup(cleanup)

	h := NewMCPHandler(s, localreview.NewManager(s))
	r := SetupTestRouter()
	r.POST("/mcp", h.Handle)
	return r, s
}

// mcpCall posts one JSON-RPC request and decodes the event-stream framed reply
func mcpCall(t *testing.T, r *gin.Engine, method string, params interface{}) map[string]interface{} {
	t.Helper()
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}

	w := PerformRequest(r, CreateTestRequest("POST", "/mcp", req))
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event-stream content type, got %q", ct)
	}

	body := w.Body.String()
	idx := strings.Index(body, "data: ")
	if idx < 0 {
		t.Fatalf("No data frame in response: %q", body)
	}
	payload := strings.TrimSpace(body[idx+len("data: "):])

	var resp map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		t.Fatalf("Frame is not valid JSON: %v\n%s", err, payload)
	}
	return resp
}

// toolResultText extracts the text payload of a tools/call result
func toolResultText(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected a result, got %v", resp)
	}
	content := result["content"].([]interface{})
	text := content[0].(map[string]interface{})["text"].(string)

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		t.Fatalf("Tool text is not valid JSON: %v\n%s", err, text)
	}
	return payload
}

// TestMCPHandler_Initialize tests the handshake
func TestMCPHandler_Initialize(t *testing.T) {
	r, _ := setupMCPAPI(t)

	resp := mcpCall(t, r, "initialize", nil)
	result := resp["result"].(map[string]interface{})
	info := result["serverInfo"].(map[string]interface{})
	if info["name"] != consts.ServiceName {
		t.Errorf("Expected server name %s, got %v", consts.ServiceName, info["name"])
	}
	if result["protocolVersion"] != mcpProtocolVersion {
		t.Errorf("Expected protocol %s, got %v", mcpProtocolVersion, result["protocolVersion"])
	}
}

// TestMCPHandler_ToolsList tests tool discovery
func TestMCPHandler_ToolsList(t *testing.T) {
	r, _ := setupMCPAPI(t)

	resp := mcpCall(t, r, "tools/list", nil)
	tools := resp["result"].(map[string]interface{})["tools"].([]interface{})
	if len(tools) != 4 {
		t.Fatalf("Expected 4 tools, got %d", len(tools))
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.(map[string]interface{})["name"].(string)] = true
	}
	for _, want := range []string{"get_analysis_prompt", "get_user_comments", "get_ai_analysis_runs", "get_ai_suggestions"} {
		if !names[want] {
			t.Errorf("Missing tool %s", want)
		}
	}
}

// TestMCPHandler_UnknownMethod tests the JSON-RPC error path
func TestMCPHandler_UnknownMethod(t *testing.T) {
	r, _ := setupMCPAPI(t)

	resp := mcpCall(t, r, "resources/list", nil)
	rpcErr, ok := resp["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected a JSON-RPC error, got %v", resp)
	}
	if rpcErr["code"] != float64(-32601) {
		t.Errorf("Expected -32601, got %v", rpcErr["code"])
	}
}

// TestMCPHandler_GetUserComments tests a tool call against seeded data
func TestMCPHandler_GetUserComments(t *testing.T) {
	r, s := setupMCPAPI(t)
	review := store.CreateTestLocalReview(t, s)
	comment := store.CreateTestUserComment(t, s, review.ID, func(c *model.Comment) {
		c.Body = "check the lock ordering"
	})

	resp := mcpCall(t, r, "tools/call", map[string]interface{}{
		"name":      "get_user_comments",
		"arguments": map[string]interface{}{"reviewId": review.ID},
	})
	payload := toolResultText(t, resp)
	comments := payload["comments"].([]interface{})
	if len(comments) != 1 {
		t.Fatalf("Expected 1 comment, got %v", comments)
	}
	got := comments[0].(map[string]interface{})
	if got["body"] != "check the lock ordering" || got["id"] != float64(comment.ID) {
		t.Errorf("Unexpected comment payload: %v", got)
	}
	if got["hasChat"] != false {
		t.Errorf("Expected no chat marker, got %v", got["hasChat"])
	}
}

// TestMCPHandler_UnknownTool tests that tool errors ride inside the payload
func TestMCPHandler_UnknownTool(t *testing.T) {
	r, _ := setupMCPAPI(t)

	resp := mcpCall(t, r, "tools/call", map[string]interface{}{
		"name":      "make_coffee",
		"arguments": map[string]interface{}{},
	})
	if resp["error"] != nil {
		t.Fatalf("Tool errors must not be JSON-RPC errors: %v", resp)
	}
	payload := toolResultText(t, resp)
	if !strings.Contains(fmt.Sprint(payload["error"]), "unknown tool") {
		t.Errorf("Expected an unknown-tool error, got %v", payload)
	}
}
