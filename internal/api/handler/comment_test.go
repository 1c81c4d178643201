package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
)

// setupCommentAPI wires the comment routes over a real store
func setupCommentAPI(t *testing.T) (*gin.Engine, store.Store, *model.Review) {
	t.Helper()
	s, cleanup := store.SetupTestDB(t)
	t.Cleanup(cleanup)
	review := store.CreateTestLocalReview(t, s)

	h := NewCommentHandler(s)
	r := SetupTestRouter()
	local := r.Group("/api/local")
	local.GET("/:reviewId/user-comments", h.List)
	local.POST("/:reviewId/user-comments", h.Create)
	local.DELETE("/:reviewId/user-comments", h.BulkDelete)
	local.PUT("/:reviewId/user-comments/:commentId", h.Update)
	local.DELETE("/:reviewId/user-comments/:commentId", h.Delete)
	local.POST("/:reviewId/user-comments/:commentId/restore", h.Restore)
	local.POST("/:reviewId/suggestions/:suggestionId/adopt", h.Adopt)
	local.PUT("/:reviewId/suggestions/:suggestionId/status", h.UpdateSuggestionStatus)
	return r, s, review
}

// seedSuggestion inserts one active AI suggestion and returns its id
func seedSuggestion(t *testing.T, s store.Store, review *model.Review) int64 {
	t.Helper()
	run := store.CreateTestRun(t, s, review.ID)
	line := 7
	_, err := s.Comment().BulkInsertSuggestions(review.ID, store.SuggestionProvenance{
		RunID: run.ID,
	}, []store.SuggestionInput{{
		File:        "main.go",
		Type:        "bug",
		Title:       "possible nil deref",
		Description: "x may be nil here",
		Line:        &line,
	}})
	if err != nil {
		t.Fatalf("BulkInsertSuggestions() failed: %v", err)
	}

	suggestions, err := s.Comment().ListSuggestions(review.ID, nil, false)
	if err != nil || len(suggestions) != 1 {
		t.Fatalf("Expected 1 seeded suggestion, got %v (%v)", suggestions, err)
	}
	return suggestions[0].ID
}

// TestCommentHandler_CreateAndList tests comment creation and listing
func TestCommentHandler_CreateAndList(t *testing.T) {
	r, _, review := setupCommentAPI(t)
	base := fmt.Sprintf("/api/local/%d/user-comments", review.ID)

	w := PerformRequest(r, CreateTestRequest("POST", base, map[string]interface{}{
		"file": "main.go",
		"line": 12,
		"body": "rename this",
	}))
	AssertStatus(t, w, http.StatusCreated)
	body := ParseJSONBody(t, w)
	if body["commentId"] == nil {
		t.Error("Expected the new comment id in the response")
	}

	// Missing anchor is rejected by the store
	w = PerformRequest(r, CreateTestRequest("POST", base, map[string]interface{}{
		"file": "main.go",
		"body": "no anchor",
	}))
	AssertStatus(t, w, http.StatusBadRequest)

	w = PerformRequest(r, CreateTestRequest("GET", base, nil))
	AssertStatus(t, w, http.StatusOK)
	body = ParseJSONBody(t, w)
	comments, ok := body["comments"].([]interface{})
	if !ok || len(comments) != 1 {
		t.Fatalf("Expected 1 comment, got %v", body["comments"])
	}
}

// TestCommentHandler_UpdateDeleteRestore tests the comment lifecycle
func TestCommentHandler_UpdateDeleteRestore(t *testing.T) {
	r, s, review := setupCommentAPI(t)
	comment := store.CreateTestUserComment(t, s, review.ID)
	base := fmt.Sprintf("/api/local/%d/user-comments", review.ID)
	one := fmt.Sprintf("%s/%d", base, comment.ID)

	w := PerformRequest(r, CreateTestRequest("PUT", one, map[string]interface{}{"body": "updated text"}))
	AssertStatus(t, w, http.StatusOK)

	w = PerformRequest(r, CreateTestRequest("DELETE", one, nil))
	AssertStatus(t, w, http.StatusOK)

	// Deleted comments drop out of the default listing
	w = PerformRequest(r, CreateTestRequest("GET", base, nil))
	if comments := ParseJSONBody(t, w)["comments"].([]interface{}); len(comments) != 0 {
		t.Errorf("Expected no active comments, got %v", comments)
	}
	w = PerformRequest(r, CreateTestRequest("GET", base+"?includeDismissed=true", nil))
	if comments := ParseJSONBody(t, w)["comments"].([]interface{}); len(comments) != 1 {
		t.Errorf("Expected the deleted comment with includeDismissed, got %v", comments)
	}

	w = PerformRequest(r, CreateTestRequest("POST", one+"/restore", nil))
	AssertStatus(t, w, http.StatusOK)
	w = PerformRequest(r, CreateTestRequest("GET", base, nil))
	if comments := ParseJSONBody(t, w)["comments"].([]interface{}); len(comments) != 1 {
		t.Errorf("Expected the restored comment back, got %v", comments)
	}

	// Unknown comment ids map to not-found
	w = PerformRequest(r, CreateTestRequest("DELETE", base+"/99999", nil))
	AssertStatus(t, w, http.StatusNotFound)
}

// TestCommentHandler_BulkDelete tests clearing all active comments
func TestCommentHandler_BulkDelete(t *testing.T) {
	r, s, review := setupCommentAPI(t)
	store.CreateTestUserComment(t, s, review.ID)
	store.CreateTestUserComment(t, s, review.ID)
	base := fmt.Sprintf("/api/local/%d/user-comments", review.ID)

	w := PerformRequest(r, CreateTestRequest("DELETE", base, nil))
	AssertStatus(t, w, http.StatusOK)
	body := ParseJSONBody(t, w)
	if body["deletedCount"] != float64(2) {
		t.Errorf("Expected 2 deletions, got %v", body["deletedCount"])
	}
	if _, ok := body["dismissedSuggestionIds"].([]interface{}); !ok {
		t.Errorf("Expected dismissedSuggestionIds array, got %v", body["dismissedSuggestionIds"])
	}
}

// TestCommentHandler_AdoptAndDismiss tests the suggestion lifecycle endpoints
func TestCommentHandler_AdoptAndDismiss(t *testing.T) {
	r, s, review := setupCommentAPI(t)
	suggestionID := seedSuggestion(t, s, review)
	base := fmt.Sprintf("/api/local/%d/suggestions/%d", review.ID, suggestionID)

	w := PerformRequest(r, CreateTestRequest("POST", base+"/adopt", nil))
	AssertStatus(t, w, http.StatusOK)
	body := ParseJSONBody(t, w)
	if body["id"] == nil {
		t.Fatal("Expected the adopting comment id")
	}

	// Deleting the adopting comment dismisses the suggestion with it
	commentID := int64(body["id"].(float64))
	w = PerformRequest(r, CreateTestRequest("DELETE",
		fmt.Sprintf("/api/local/%d/user-comments/%d", review.ID, commentID), nil))
	AssertStatus(t, w, http.StatusOK)
	if dismissed := ParseJSONBody(t, w)["dismissedSuggestionId"]; dismissed != float64(suggestionID) {
		t.Errorf("Expected dismissed suggestion %d, got %v", suggestionID, dismissed)
	}

	// Explicit status moves
	w = PerformRequest(r, CreateTestRequest("PUT", base+"/status", map[string]interface{}{"status": "active"}))
	AssertStatus(t, w, http.StatusOK)
	w = PerformRequest(r, CreateTestRequest("PUT", base+"/status", map[string]interface{}{"status": "bogus"}))
	AssertStatus(t, w, http.StatusBadRequest)
}
