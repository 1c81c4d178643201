package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/consts"
	"github.com/pairreview/pairreview/internal/localreview"
	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/orchestrator"
	"github.com/pairreview/pairreview/internal/store"
)

// mcpProtocolVersion is the protocol revision this endpoint speaks
const mcpProtocolVersion = "2024-11-05"

// MCPHandler serves the machine protocol endpoint: a JSON-RPC dialect over
// POST with event-stream framed responses.
type MCPHandler struct {
	store   store.Store
	manager *localreview.Manager
}

// NewMCPHandler creates the machine protocol handler
func NewMCPHandler(s store.Store, m *localreview.Manager) *MCPHandler {
	return &MCPHandler{store: s, manager: m}
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

// Handle dispatches one JSON-RPC request
// POST /mcp
func (h *MCPHandler) Handle(c *gin.Context) {
	var req jsonRPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEventStream(c, &jsonRPCResponse{
			JSONRPC: "2.0",
			Error:   &jsonRPCError{Code: -32700, Message: "parse error"},
		})
		return
	}

	resp := &jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = gin.H{
			"serverInfo": gin.H{
				"name":    consts.ServiceName,
				"version": consts.Version,
			},
			"protocolVersion": mcpProtocolVersion,
			"capabilities": gin.H{
				"tools": gin.H{},
			},
		}
	case "tools/list":
		resp.Result = gin.H{"tools": toolDefinitions()}
	case "tools/call":
		resp.Result = h.callTool(req.Params)
	case "notifications/initialized", "ping":
		resp.Result = gin.H{}
	default:
		resp.Error = &jsonRPCError{Code: -32601, Message: "method not found: " + req.Method}
	}

	writeEventStream(c, resp)
}

// writeEventStream frames one response as an event stream, even for one-shot
// replies
func writeEventStream(c *gin.Context, resp *jsonRPCResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	_, _ = c.Writer.Write([]byte("event: message\ndata: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
}

func toolDefinitions() []gin.H {
	reviewIDSchema := gin.H{
		"type": "object",
		"properties": gin.H{
			"reviewId": gin.H{"type": "integer", "description": "Local review session id"},
		},
		"required": []string{"reviewId"},
	}
	return []gin.H{
		{
			"name":        "get_analysis_prompt",
			"description": "Compose the analysis prompt for a review session: diff, instructions and output contract",
			"inputSchema": reviewIDSchema,
		},
		{
			"name":        "get_user_comments",
			"description": "List the user comments on a review session, with chat-thread markers",
			"inputSchema": gin.H{
				"type": "object",
				"properties": gin.H{
					"reviewId":         gin.H{"type": "integer"},
					"includeDismissed": gin.H{"type": "boolean"},
				},
				"required": []string{"reviewId"},
			},
		},
		{
			"name":        "get_ai_analysis_runs",
			"description": "List the analysis runs recorded for a review session",
			"inputSchema": reviewIDSchema,
		},
		{
			"name":        "get_ai_suggestions",
			"description": "List AI suggestions for a review session, final set by default",
			"inputSchema": gin.H{
				"type": "object",
				"properties": gin.H{
					"reviewId":   gin.H{"type": "integer"},
					"runId":      gin.H{"type": "string"},
					"includeRaw": gin.H{"type": "boolean"},
				},
				"required": []string{"reviewId"},
			},
		},
	}
}

type toolCallParams struct {
	Name      string `json:"name"`
	Arguments struct {
		ReviewID         int64  `json:"reviewId"`
		RunID            string `json:"runId,omitempty"`
		IncludeRaw       bool   `json:"includeRaw,omitempty"`
		IncludeDismissed bool   `json:"includeDismissed,omitempty"`
	} `json:"arguments"`
}

// callTool answers a tools/call. Tool errors are encoded inside the text
// payload, not as JSON-RPC errors.
func (h *MCPHandler) callTool(params json.RawMessage) gin.H {
	var call toolCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return toolText(gin.H{"error": "invalid tool call parameters"})
	}

	var payload interface{}
	switch call.Name {
	case "get_analysis_prompt":
		payload = h.analysisPrompt(call.Arguments.ReviewID)
	case "get_user_comments":
		payload = h.userComments(call.Arguments.ReviewID, call.Arguments.IncludeDismissed)
	case "get_ai_analysis_runs":
		payload = h.analysisRuns(call.Arguments.ReviewID)
	case "get_ai_suggestions":
		payload = h.aiSuggestions(call.Arguments.ReviewID, call.Arguments.RunID, call.Arguments.IncludeRaw)
	default:
		payload = gin.H{"error": "unknown tool: " + call.Name}
	}
	return toolText(payload)
}

// toolText wraps a payload in the content envelope the protocol expects
func toolText(payload interface{}) gin.H {
	text, err := json.Marshal(payload)
	if err != nil {
		text = []byte(`{"error":"failed to encode tool result"}`)
	}
	return gin.H{
		"content": []gin.H{{"type": "text", "text": string(text)}},
	}
}

func (h *MCPHandler) analysisPrompt(reviewID int64) interface{} {
	review, err := h.store.Review().GetByID(reviewID)
	if err != nil {
		return gin.H{"error": err.Error()}
	}
	diff, err := h.manager.GetDiff(reviewID)
	if err != nil {
		return gin.H{"error": err.Error()}
	}
	prompt := orchestrator.ReviewPrompt(diff.Diff, 1, review.CustomInstructions, "", "", "")
	return gin.H{"prompt": prompt, "reviewId": reviewID}
}

func (h *MCPHandler) userComments(reviewID int64, includeDismissed bool) interface{} {
	comments, err := h.store.Comment().ListUserComments(reviewID, includeDismissed)
	if err != nil {
		return gin.H{"error": err.Error()}
	}

	withChat := map[int64]bool{}
	if ids, err := h.store.Chat().ListCommentIDsWithMessages(reviewID); err == nil {
		for _, id := range ids {
			withChat[id] = true
		}
	}

	out := make([]gin.H, 0, len(comments))
	for _, cm := range comments {
		out = append(out, gin.H{
			"id":            cm.ID,
			"file":          cm.File,
			"line_start":    cm.LineStart,
			"line_end":      cm.LineEnd,
			"side":          cm.Side,
			"is_file_level": cm.IsFileLevel,
			"body":          cm.Body,
			"status":        cm.Status,
			"hasChat":       withChat[cm.ID],
		})
	}
	return gin.H{"comments": out}
}

func (h *MCPHandler) analysisRuns(reviewID int64) interface{} {
	runs, err := h.store.Run().ListByReview(reviewID)
	if err != nil {
		return gin.H{"error": err.Error()}
	}
	if runs == nil {
		runs = []model.AnalysisRun{}
	}
	return gin.H{"runs": runs}
}

func (h *MCPHandler) aiSuggestions(reviewID int64, runID string, includeRaw bool) interface{} {
	var runFilter *string
	if runID != "" {
		runFilter = &runID
	}
	suggestions, err := h.store.Comment().ListSuggestions(reviewID, runFilter, includeRaw)
	if err != nil {
		return gin.H{"error": err.Error()}
	}
	if suggestions == nil {
		suggestions = []model.Comment{}
	}
	return gin.H{"suggestions": suggestions}
}
