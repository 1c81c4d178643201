package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/bus"
	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/orchestrator"
	"github.com/pairreview/pairreview/internal/provider"
	"github.com/pairreview/pairreview/internal/store"
)

func setupIngestAPI(t *testing.T) (*gin.Engine, store.Store) {
	t.Helper()
	s, cleanup := store.SetupTestDB(t)
	t.Cleanup(cleanup)

	engine := orchestrator.NewEngine(s, provider.NewRegistry(nil), bus.New(), orchestrator.Options{})
	h := NewIngestHandler(engine)
	r := SetupTestRouter()
	r.POST("/api/analyses/results", h.Ingest)
	return r, s
}

// TestIngestHandler_LocalTarget tests recording results against a session
func TestIngestHandler_LocalTarget(t *testing.T) {
	r, s := setupIngestAPI(t)
	review := store.CreateTestLocalReview(t, s)

	w := PerformRequest(r, CreateTestRequest("POST", "/api/analyses/results", map[string]interface{}{
		"path":     review.LocalPath,
		"headSha":  review.LocalHeadSHA,
		"provider": "external-tool",
		"summary":  "two findings",
		"suggestions": []map[string]interface{}{
			{"file": "a.go", "type": "bug", "title": "t1", "description": "d1", "line": 4},
		},
		"fileLevelSuggestions": []map[string]interface{}{
			{"file": "b.go", "type": "design", "title": "t2", "description": "d2"},
		},
	}))
	AssertStatus(t, w, http.StatusCreated)
	body := ParseJSONBody(t, w)
	if body["totalSuggestions"] != float64(2) {
		t.Errorf("Expected 2 suggestions recorded, got %v", body["totalSuggestions"])
	}
	if body["status"] != string(model.RunStatusCompleted) {
		t.Errorf("Expected a completed synthetic run, got %v", body["status"])
	}

	// The run and its suggestions are queryable afterwards
	runID := body["runId"].(string)
	run, err := s.Run().GetByID(runID)
	if err != nil {
		t.Fatalf("GetByID(%s) failed: %v", runID, err)
	}
	if run.Provider == nil || *run.Provider != "external-tool" {
		t.Errorf("Expected provider recorded, got %v", run.Provider)
	}
	suggestions, err := s.Comment().ListSuggestions(review.ID, &runID, false)
	if err != nil || len(suggestions) != 2 {
		t.Fatalf("Expected 2 stored suggestions, got %v (%v)", suggestions, err)
	}
}

// TestIngestHandler_PRTarget tests first-sight PR review creation
func TestIngestHandler_PRTarget(t *testing.T) {
	r, s := setupIngestAPI(t)

	w := PerformRequest(r, CreateTestRequest("POST", "/api/analyses/results", map[string]interface{}{
		"repo":     "octo/widgets",
		"prNumber": 12,
		"suggestions": []map[string]interface{}{
			{"file": "a.go", "type": "bug", "title": "t", "description": "d"},
		},
	}))
	AssertStatus(t, w, http.StatusCreated)
	body := ParseJSONBody(t, w)

	reviewID := int64(body["reviewId"].(float64))
	review, err := s.Review().GetByID(reviewID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if review.ReviewType != model.ReviewTypePR || review.Repository != "octo/widgets" {
		t.Errorf("Expected a PR review for octo/widgets, got %+v", review)
	}
}

// TestIngestHandler_FreshLocalTarget tests that an unseen path/headSha pair
// creates the session instead of rejecting the results
func TestIngestHandler_FreshLocalTarget(t *testing.T) {
	r, s := setupIngestAPI(t)

	payload := map[string]interface{}{
		"path":    "/repos/widgets",
		"headSha": "abc123def456",
		"suggestions": []map[string]interface{}{
			{"file": "a.go", "type": "bug", "title": "t", "description": "d"},
		},
	}
	w := PerformRequest(r, CreateTestRequest("POST", "/api/analyses/results", payload))
	AssertStatus(t, w, http.StatusCreated)
	body := ParseJSONBody(t, w)

	reviewID := int64(body["reviewId"].(float64))
	review, err := s.Review().GetByID(reviewID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if review.ReviewType != model.ReviewTypeLocal || review.LocalPath != "/repos/widgets" {
		t.Errorf("Expected a local review for the new session, got %+v", review)
	}

	// A second batch for the same pair lands on the same review, new run
	w = PerformRequest(r, CreateTestRequest("POST", "/api/analyses/results", payload))
	AssertStatus(t, w, http.StatusCreated)
	again := ParseJSONBody(t, w)
	if int64(again["reviewId"].(float64)) != reviewID {
		t.Errorf("Expected the existing review reused, got %v", again["reviewId"])
	}
	if again["runId"] == body["runId"] {
		t.Errorf("Expected a distinct run per batch, got %v twice", again["runId"])
	}
}

// TestIngestHandler_TargetValidation tests the exactly-one-target rule
func TestIngestHandler_TargetValidation(t *testing.T) {
	r, s := setupIngestAPI(t)
	review := store.CreateTestLocalReview(t, s)

	suggestion := []map[string]interface{}{
		{"file": "a.go", "type": "bug", "title": "t", "description": "d"},
	}

	// No target
	w := PerformRequest(r, CreateTestRequest("POST", "/api/analyses/results", map[string]interface{}{
		"suggestions": suggestion,
	}))
	AssertStatus(t, w, http.StatusBadRequest)

	// Both targets
	w = PerformRequest(r, CreateTestRequest("POST", "/api/analyses/results", map[string]interface{}{
		"path":        review.LocalPath,
		"headSha":     review.LocalHeadSHA,
		"repo":        "octo/widgets",
		"prNumber":    1,
		"suggestions": suggestion,
	}))
	AssertStatus(t, w, http.StatusBadRequest)

	// Half a local target
	w = PerformRequest(r, CreateTestRequest("POST", "/api/analyses/results", map[string]interface{}{
		"path":        review.LocalPath,
		"suggestions": suggestion,
	}))
	AssertStatus(t, w, http.StatusBadRequest)

	// Incomplete suggestion
	w = PerformRequest(r, CreateTestRequest("POST", "/api/analyses/results", map[string]interface{}{
		"path":    review.LocalPath,
		"headSha": review.LocalHeadSHA,
		"suggestions": []map[string]interface{}{
			{"file": "a.go", "title": "no type"},
		},
	}))
	AssertStatus(t, w, http.StatusBadRequest)
}
