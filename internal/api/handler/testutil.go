// Test utilities for HTTP handler testing.
package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/pairreview/pairreview/internal/api/middleware"
)

// SetupTestRouter creates a Gin router for testing.
// It sets Gin to test mode and applies the error-rendering middleware so
// handler errors surface with their proper status codes.
func SetupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler(true))
	return r
}

// CreateTestRequest creates an HTTP request for testing.
func CreateTestRequest(method, url string, body interface{}) *http.Request {
	var req *http.Request
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, bytes.NewBuffer(jsonBody))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, url, nil)
	}
	return req
}

// PerformRequest runs a request through the router and records the response.
func PerformRequest(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseJSONBody decodes the recorded response body into a generic map.
func ParseJSONBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Response is not valid JSON: %v\n%s", err, w.Body.String())
	}
	return body
}

// AssertStatus fails the test when the recorded status differs.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("Status code mismatch: got %d, want %d\n%s", w.Code, want, w.Body.String())
	}
}
