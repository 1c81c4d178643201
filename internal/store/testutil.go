// Package store provides test utilities for database testing.
package store

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pairreview/pairreview/internal/database"
	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/idgen"
)

// SetupTestDB creates a temporary SQLite database for testing.
// It returns a Store instance and a cleanup function.
// The cleanup function should be called with defer in tests.
func SetupTestDB(t *testing.T) (Store, func()) {
	// Reset database state to allow re-initialization
	database.ResetForTesting()

	// Create temporary database file
	tmpFile, err := os.CreateTemp("", "test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	// Initialize database with temp path
	if err := database.InitWithPath(tmpPath); err != nil {
		os.Remove(tmpPath)
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	db := database.Get()
	store := NewStore(db)

	// Cleanup function
	cleanup := func() {
		database.Close()
		database.ResetForTesting()
		os.Remove(tmpPath)
	}

	return store, cleanup
}

// CreateTestLocalReview creates a local review session with default values.
// Fields can be overridden by passing a function that modifies the review.
func CreateTestLocalReview(t *testing.T, store Store, overrides ...func(*model.Review)) *model.Review {
	// Unique path+sha per test to avoid UNIQUE constraint violations
	unique := fmt.Sprintf("%s-%s", t.Name(), idgen.NewID())

	review := &model.Review{
		ReviewType:   model.ReviewTypeLocal,
		LocalPath:    "/tmp/" + unique,
		LocalHeadSHA: fmt.Sprintf("%040d", time.Now().UnixNano()%1e18),
		Repository:   "test/repo",
		Status:       model.ReviewStatusDraft,
	}

	for _, override := range overrides {
		override(review)
	}

	if err := store.Review().Create(review); err != nil {
		t.Fatalf("Failed to create test review: %v", err)
	}

	return review
}

// CreateTestRun creates a running analysis run for a review
func CreateTestRun(t *testing.T, store Store, reviewID int64, overrides ...func(*model.AnalysisRun)) *model.AnalysisRun {
	provider := "claude"
	modelID := "sonnet"
	tier := "thorough"
	run := &model.AnalysisRun{
		ID:         idgen.NewRunID(),
		ReviewID:   reviewID,
		Provider:   &provider,
		Model:      &modelID,
		Tier:       &tier,
		Status:     model.RunStatusRunning,
		StartedAt:  time.Now(),
		ConfigType: model.ConfigTypeSingle,
	}

	for _, override := range overrides {
		override(run)
	}

	if err := store.Run().Create(run); err != nil {
		t.Fatalf("Failed to create test run: %v", err)
	}

	return run
}

// CreateTestUserComment creates an active user comment on a review
func CreateTestUserComment(t *testing.T, store Store, reviewID int64, overrides ...func(*model.Comment)) *model.Comment {
	line := 10
	comment := &model.Comment{
		ReviewID:  reviewID,
		Source:    model.CommentSourceUser,
		File:      "main.go",
		LineStart: &line,
		LineEnd:   &line,
		Side:      model.SideRight,
		Body:      "test comment",
		Status:    model.CommentStatusActive,
	}

	for _, override := range overrides {
		override(comment)
	}

	if err := store.Comment().CreateUserComment(comment); err != nil {
		t.Fatalf("Failed to create test comment: %v", err)
	}

	return comment
}
