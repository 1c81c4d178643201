package store

import (
	"testing"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
)

// TestCommentStore_CreateUserComment tests user comment validation and defaults
func TestCommentStore_CreateUserComment(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	review := CreateTestLocalReview(t, store)

	line := 12
	comment := &model.Comment{
		ReviewID:  review.ID,
		File:      "internal/auth/token.go",
		LineStart: &line,
		Body:      "  this lock is held across the RPC  ",
	}
	if err := store.Comment().CreateUserComment(comment); err != nil {
		t.Fatalf("CreateUserComment() failed: %v", err)
	}
	if comment.Body != "this lock is held across the RPC" {
		t.Errorf("Expected trimmed body, got '%s'", comment.Body)
	}
	if comment.Side != model.SideRight {
		t.Errorf("Expected default side RIGHT, got %s", comment.Side)
	}
	if comment.LineEnd == nil || *comment.LineEnd != line {
		t.Errorf("Expected line_end to default to line_start, got %v", comment.LineEnd)
	}

	// Missing line on a non-file-level comment is rejected
	err := store.Comment().CreateUserComment(&model.Comment{
		ReviewID: review.ID, File: "a.go", Body: "x",
	})
	if !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}

	// Inverted ranges are rejected
	start, end := 10, 5
	err = store.Comment().CreateUserComment(&model.Comment{
		ReviewID: review.ID, File: "a.go", Body: "x", LineStart: &start, LineEnd: &end,
	})
	if !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Errorf("Expected validation error for inverted range, got %v", err)
	}

	// File-level comments drop their line anchors
	fl := &model.Comment{
		ReviewID: review.ID, File: "a.go", Body: "x", IsFileLevel: true, LineStart: &start,
	}
	if err := store.Comment().CreateUserComment(fl); err != nil {
		t.Fatalf("CreateUserComment() file-level failed: %v", err)
	}
	if fl.LineStart != nil || fl.LineEnd != nil {
		t.Error("Expected file-level comment to have no line anchors")
	}
}

// TestCommentStore_SoftDeleteAndRestore tests the inactive round trip
func TestCommentStore_SoftDeleteAndRestore(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	review := CreateTestLocalReview(t, store)
	comment := CreateTestUserComment(t, store, review.ID)

	dismissed, err := store.Comment().SoftDelete(review.ID, comment.ID)
	if err != nil {
		t.Fatalf("SoftDelete() failed: %v", err)
	}
	if dismissed != nil {
		t.Errorf("Expected no dismissed suggestion for a plain comment, got %v", *dismissed)
	}

	// Hidden from the default listing, visible with includeDismissed
	visible, err := store.Comment().ListUserComments(review.ID, false)
	if err != nil {
		t.Fatalf("ListUserComments() failed: %v", err)
	}
	if len(visible) != 0 {
		t.Errorf("Expected 0 visible comments, got %d", len(visible))
	}
	all, _ := store.Comment().ListUserComments(review.ID, true)
	if len(all) != 1 || all[0].Status != model.CommentStatusInactive {
		t.Errorf("Expected one inactive comment, got %+v", all)
	}

	if err := store.Comment().Restore(review.ID, comment.ID); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	visible, _ = store.Comment().ListUserComments(review.ID, false)
	if len(visible) != 1 || visible[0].Status != model.CommentStatusActive {
		t.Errorf("Expected one active comment after restore, got %+v", visible)
	}
}

// TestCommentStore_BulkInsertSuggestions tests suggestion normalization
func TestCommentStore_BulkInsertSuggestions(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	review := CreateTestLocalReview(t, store)
	run := CreateTestRun(t, store, review.ID)

	line := 7
	end := 9
	level := 1
	count, err := store.Comment().BulkInsertSuggestions(review.ID,
		SuggestionProvenance{RunID: run.ID, Level: &level},
		[]SuggestionInput{
			{File: "a.go", Type: "bug", Title: "nil deref", Description: "x may be nil", Line: &line},
			{File: "b.go", Type: "style", Title: "naming", Description: "rename", LineStart: &line, LineEnd: &end, OldOrNew: "OLD"},
			{File: "c.go", Type: "design", Title: "layering", Description: "move this up"},
		},
	)
	if err != nil {
		t.Fatalf("BulkInsertSuggestions() failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 inserts, got %d", count)
	}

	suggestions, err := store.Comment().ListSuggestions(review.ID, nil, true)
	if err != nil {
		t.Fatalf("ListSuggestions() failed: %v", err)
	}
	if len(suggestions) != 3 {
		t.Fatalf("Expected 3 suggestions, got %d", len(suggestions))
	}

	// line collapses to line_start=line_end
	first := suggestions[0]
	if first.LineStart == nil || first.LineEnd == nil || *first.LineStart != 7 || *first.LineEnd != 7 {
		t.Errorf("Expected line 7..7, got %v..%v", first.LineStart, first.LineEnd)
	}
	if first.AILevel == nil || *first.AILevel != 1 {
		t.Errorf("Expected ai_level 1, got %v", first.AILevel)
	}

	// OLD maps to LEFT
	if suggestions[1].Side != model.SideLeft {
		t.Errorf("Expected side LEFT for OLD, got %s", suggestions[1].Side)
	}

	// No line means file-level
	if !suggestions[2].IsFileLevel {
		t.Error("Expected file-level suggestion when no line is given")
	}

	// Incomplete inputs are rejected as a batch
	_, err = store.Comment().BulkInsertSuggestions(review.ID,
		SuggestionProvenance{RunID: run.ID},
		[]SuggestionInput{{File: "a.go", Type: "bug", Title: "", Description: "d"}},
	)
	if !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

// TestCommentStore_ListSuggestions_RawFilter tests the raw/final split
func TestCommentStore_ListSuggestions_RawFilter(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	review := CreateTestLocalReview(t, store)
	run := CreateTestRun(t, store, review.ID)

	voice := "L1-claude-0"
	line := 3
	if _, err := store.Comment().BulkInsertSuggestions(review.ID,
		SuggestionProvenance{RunID: run.ID, VoiceID: &voice, IsRaw: true},
		[]SuggestionInput{{File: "a.go", Type: "bug", Title: "raw", Description: "d", Line: &line}},
	); err != nil {
		t.Fatalf("BulkInsertSuggestions() raw failed: %v", err)
	}
	if _, err := store.Comment().BulkInsertSuggestions(review.ID,
		SuggestionProvenance{RunID: run.ID, IsRaw: false},
		[]SuggestionInput{{File: "a.go", Type: "bug", Title: "final", Description: "d", Line: &line}},
	); err != nil {
		t.Fatalf("BulkInsertSuggestions() final failed: %v", err)
	}

	final, err := store.Comment().ListSuggestions(review.ID, &run.ID, false)
	if err != nil {
		t.Fatalf("ListSuggestions() failed: %v", err)
	}
	if len(final) != 1 || final[0].Title != "final" {
		t.Errorf("Expected only the final suggestion, got %+v", final)
	}

	all, _ := store.Comment().ListSuggestions(review.ID, &run.ID, true)
	if len(all) != 2 {
		t.Errorf("Expected 2 suggestions with includeRaw, got %d", len(all))
	}
}

// TestCommentStore_Adopt tests the adoption link in both directions
func TestCommentStore_Adopt(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	review := CreateTestLocalReview(t, store)
	run := CreateTestRun(t, store, review.ID)

	line := 5
	if _, err := store.Comment().BulkInsertSuggestions(review.ID,
		SuggestionProvenance{RunID: run.ID},
		[]SuggestionInput{{File: "a.go", Type: "bug", Title: "t", Description: "d", Line: &line}},
	); err != nil {
		t.Fatalf("BulkInsertSuggestions() failed: %v", err)
	}
	suggestions, _ := store.Comment().ListSuggestions(review.ID, nil, true)
	suggestion := suggestions[0]

	adopted, err := store.Comment().Adopt(review.ID, suggestion.ID, "dev")
	if err != nil {
		t.Fatalf("Adopt() failed: %v", err)
	}
	if adopted.Source != model.CommentSourceUser {
		t.Errorf("Expected adopted comment to be a user comment, got %s", adopted.Source)
	}
	if adopted.ParentID == nil || *adopted.ParentID != suggestion.ID {
		t.Errorf("Expected parent_id %d, got %v", suggestion.ID, adopted.ParentID)
	}

	got, _ := store.Comment().GetByID(review.ID, suggestion.ID)
	if got.Status != model.CommentStatusAdopted {
		t.Errorf("Expected suggestion adopted, got %s", got.Status)
	}
	if got.AdoptedAsID == nil || *got.AdoptedAsID != adopted.ID {
		t.Errorf("Expected adopted_as_id %d, got %v", adopted.ID, got.AdoptedAsID)
	}

	// Deleting the adopting comment dismisses the suggestion
	dismissed, err := store.Comment().SoftDelete(review.ID, adopted.ID)
	if err != nil {
		t.Fatalf("SoftDelete() failed: %v", err)
	}
	if dismissed == nil || *dismissed != suggestion.ID {
		t.Errorf("Expected dismissed suggestion %d, got %v", suggestion.ID, dismissed)
	}
	got, _ = store.Comment().GetByID(review.ID, suggestion.ID)
	if got.Status != model.CommentStatusDismissed {
		t.Errorf("Expected suggestion dismissed, got %s", got.Status)
	}

	// Re-adopting reactivates the prior comment instead of duplicating it
	readopted, err := store.Comment().Adopt(review.ID, suggestion.ID, "dev")
	if err != nil {
		t.Fatalf("Adopt() re-adoption failed: %v", err)
	}
	if readopted.ID != adopted.ID {
		t.Errorf("Expected reactivated comment %d, got %d", adopted.ID, readopted.ID)
	}
	comments, _ := store.Comment().ListUserComments(review.ID, true)
	if len(comments) != 1 {
		t.Errorf("Expected a single user comment after re-adoption, got %d", len(comments))
	}
}

// TestCommentStore_BulkSoftDelete tests bulk dismissal with adoption links
func TestCommentStore_BulkSoftDelete(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	review := CreateTestLocalReview(t, store)
	run := CreateTestRun(t, store, review.ID)
	CreateTestUserComment(t, store, review.ID)

	line := 5
	if _, err := store.Comment().BulkInsertSuggestions(review.ID,
		SuggestionProvenance{RunID: run.ID},
		[]SuggestionInput{{File: "a.go", Type: "bug", Title: "t", Description: "d", Line: &line}},
	); err != nil {
		t.Fatalf("BulkInsertSuggestions() failed: %v", err)
	}
	suggestions, _ := store.Comment().ListSuggestions(review.ID, nil, true)
	if _, err := store.Comment().Adopt(review.ID, suggestions[0].ID, "dev"); err != nil {
		t.Fatalf("Adopt() failed: %v", err)
	}

	deleted, dismissedIDs, err := store.Comment().BulkSoftDelete(review.ID)
	if err != nil {
		t.Fatalf("BulkSoftDelete() failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted comments, got %d", deleted)
	}
	if len(dismissedIDs) != 1 || dismissedIDs[0] != suggestions[0].ID {
		t.Errorf("Expected dismissed suggestion %d, got %v", suggestions[0].ID, dismissedIDs)
	}

	// Second bulk delete finds nothing
	deleted, dismissedIDs, err = store.Comment().BulkSoftDelete(review.ID)
	if err != nil {
		t.Fatalf("BulkSoftDelete() repeat failed: %v", err)
	}
	if deleted != 0 || len(dismissedIDs) != 0 {
		t.Errorf("Expected empty second pass, got %d / %v", deleted, dismissedIDs)
	}
}

// TestCommentStore_UpdateSuggestionStatus tests the manual status endpoint path
func TestCommentStore_UpdateSuggestionStatus(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	review := CreateTestLocalReview(t, store)
	run := CreateTestRun(t, store, review.ID)

	line := 5
	if _, err := store.Comment().BulkInsertSuggestions(review.ID,
		SuggestionProvenance{RunID: run.ID},
		[]SuggestionInput{{File: "a.go", Type: "bug", Title: "t", Description: "d", Line: &line}},
	); err != nil {
		t.Fatalf("BulkInsertSuggestions() failed: %v", err)
	}
	suggestions, _ := store.Comment().ListSuggestions(review.ID, nil, true)
	id := suggestions[0].ID

	if err := store.Comment().UpdateSuggestionStatus(review.ID, id, model.CommentStatusDismissed, nil); err != nil {
		t.Fatalf("UpdateSuggestionStatus() failed: %v", err)
	}
	got, _ := store.Comment().GetByID(review.ID, id)
	if got.Status != model.CommentStatusDismissed {
		t.Errorf("Expected dismissed, got %s", got.Status)
	}

	// Moving back to active clears the adoption link
	if err := store.Comment().UpdateSuggestionStatus(review.ID, id, model.CommentStatusActive, nil); err != nil {
		t.Fatalf("UpdateSuggestionStatus() failed: %v", err)
	}
	got, _ = store.Comment().GetByID(review.ID, id)
	if got.Status != model.CommentStatusActive || got.AdoptedAsID != nil {
		t.Errorf("Expected active with no adoption link, got %s / %v", got.Status, got.AdoptedAsID)
	}

	// Lifecycle statuses outside the suggestion set are rejected
	err := store.Comment().UpdateSuggestionStatus(review.ID, id, model.CommentStatusInactive, nil)
	if !errors.IsCode(err, errors.ErrCodeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}

	// User comments are not reachable through this path
	comment := CreateTestUserComment(t, store, review.ID)
	err = store.Comment().UpdateSuggestionStatus(review.ID, comment.ID, model.CommentStatusDismissed, nil)
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}
