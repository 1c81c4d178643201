package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/store"
)

func setupCouncilAPI(t *testing.T) *gin.Engine {
	t.Helper()
	s, cleanup := store.SetupTestDB(t)
	t.Cleanup(cleanup)

	h := NewCouncilHandler(s)
	r := SetupTestRouter()
	councils := r.Group("/api/councils")
	councils.GET("", h.List)
	councils.POST("", h.Create)
	councils.GET("/:councilId", h.Get)
	councils.PUT("/:councilId", h.Update)
	councils.DELETE("/:councilId", h.Delete)
	return r
}

var testCouncilBody = map[string]interface{}{
	"name": "weekday lineup",
	"type": "council",
	"config": map[string]interface{}{
		"1": map[string]interface{}{
			"enabled": true,
			"voices": []map[string]interface{}{
				{"provider": "claude", "model": "sonnet"},
				{"provider": "codex"},
			},
		},
	},
}

// TestCouncilHandler_CRUD tests the saved council lifecycle
func TestCouncilHandler_CRUD(t *testing.T) {
	r := setupCouncilAPI(t)

	w := PerformRequest(r, CreateTestRequest("POST", "/api/councils", testCouncilBody))
	AssertStatus(t, w, http.StatusCreated)
	created := ParseJSONBody(t, w)
	id, ok := created["id"].(string)
	if !ok || id == "" {
		t.Fatalf("Expected a generated council id, got %v", created["id"])
	}

	w = PerformRequest(r, CreateTestRequest("GET", "/api/councils/"+id, nil))
	AssertStatus(t, w, http.StatusOK)
	if got := ParseJSONBody(t, w)["name"]; got != "weekday lineup" {
		t.Errorf("Expected stored name, got %v", got)
	}

	w = PerformRequest(r, CreateTestRequest("GET", "/api/councils", nil))
	AssertStatus(t, w, http.StatusOK)
	if councils := ParseJSONBody(t, w)["councils"].([]interface{}); len(councils) != 1 {
		t.Errorf("Expected 1 council, got %v", councils)
	}

	w = PerformRequest(r, CreateTestRequest("PUT", "/api/councils/"+id, map[string]interface{}{
		"name": "renamed lineup",
	}))
	AssertStatus(t, w, http.StatusOK)
	if got := ParseJSONBody(t, w)["name"]; got != "renamed lineup" {
		t.Errorf("Expected renamed council, got %v", got)
	}

	w = PerformRequest(r, CreateTestRequest("DELETE", "/api/councils/"+id, nil))
	AssertStatus(t, w, http.StatusOK)
	w = PerformRequest(r, CreateTestRequest("GET", "/api/councils/"+id, nil))
	AssertStatus(t, w, http.StatusNotFound)
}

// TestCouncilHandler_Validation tests create rejections
func TestCouncilHandler_Validation(t *testing.T) {
	r := setupCouncilAPI(t)

	w := PerformRequest(r, CreateTestRequest("POST", "/api/councils", map[string]interface{}{
		"config": testCouncilBody["config"],
	}))
	AssertStatus(t, w, http.StatusBadRequest)

	w = PerformRequest(r, CreateTestRequest("POST", "/api/councils", map[string]interface{}{
		"name": "no config",
	}))
	AssertStatus(t, w, http.StatusBadRequest)
}
