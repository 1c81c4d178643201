package store

import (
	"strings"

	"gorm.io/gorm"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
)

// SuggestionInput is one AI suggestion as produced by a provider or received
// from external ingestion, before normalization into a Comment row.
type SuggestionInput struct {
	File        string   `json:"file"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Line        *int     `json:"line,omitempty"` // shorthand for line_start=line_end
	LineStart   *int     `json:"line_start,omitempty"`
	LineEnd     *int     `json:"line_end,omitempty"`
	OldOrNew    string   `json:"old_or_new,omitempty"` // OLD maps to LEFT, everything else to RIGHT
	Confidence  *float64 `json:"confidence,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
	CommitSHA   string   `json:"commit_sha,omitempty"`
}

// SuggestionProvenance identifies which run and voice produced a batch of suggestions.
type SuggestionProvenance struct {
	RunID   string
	Level   *int
	VoiceID *string
	IsRaw   bool
}

// CommentStore defines operations for the unified comments table.
type CommentStore interface {
	// User comments
	CreateUserComment(comment *model.Comment) error
	GetByID(reviewID, id int64) (*model.Comment, error)
	UpdateBody(reviewID, id int64, body string) error

	// SoftDelete marks a user comment inactive. If the comment was created by
	// adopting an AI suggestion, the suggestion is dismissed and its id returned.
	SoftDelete(reviewID, id int64) (*int64, error)

	// BulkSoftDelete marks all active user comments of a review inactive.
	// Returns the count and the distinct dismissed suggestion ids.
	BulkSoftDelete(reviewID int64) (int64, []int64, error)

	// Restore reactivates an inactive user comment. A linked AI suggestion
	// returns to adopted.
	Restore(reviewID, id int64) error

	// ListUserComments returns user comments for a review; inactive rows are
	// included only when includeDismissed is set.
	ListUserComments(reviewID int64, includeDismissed bool) ([]model.Comment, error)

	// AI suggestions
	BulkInsertSuggestions(reviewID int64, prov SuggestionProvenance, inputs []SuggestionInput) (int, error)
	ListSuggestions(reviewID int64, runID *string, includeRaw bool) ([]model.Comment, error)
	CountSuggestionsByRun(runID string) (int64, error)

	// Adopt converts an AI suggestion into a user comment, recording the link
	// in both directions. Re-adopting reactivates the prior user comment
	// instead of creating a duplicate.
	Adopt(reviewID, suggestionID int64, author string) (*model.Comment, error)

	// UpdateSuggestionStatus moves a suggestion between active, adopted and
	// dismissed with adopted_as_id bookkeeping.
	UpdateSuggestionStatus(reviewID, suggestionID int64, status model.CommentStatus, adoptedAsID *int64) error
}

// commentStore implements CommentStore using GORM.
type commentStore struct {
	db *gorm.DB
}

func newCommentStore(db *gorm.DB) CommentStore {
	return &commentStore{db: db}
}

func (s *commentStore) CreateUserComment(comment *model.Comment) error {
	if comment.File == "" {
		return errors.ErrValidation("file is required")
	}
	comment.Body = strings.TrimSpace(comment.Body)
	if comment.Body == "" {
		return errors.ErrValidation("body is required")
	}

	comment.Source = model.CommentSourceUser
	if comment.Status == "" {
		comment.Status = model.CommentStatusActive
	}
	if comment.Side == "" {
		comment.Side = model.SideRight
	}

	if comment.IsFileLevel {
		comment.LineStart = nil
		comment.LineEnd = nil
	} else {
		if comment.LineStart == nil {
			return errors.ErrValidation("line_start is required for line comments")
		}
		if comment.LineEnd == nil {
			end := *comment.LineStart
			comment.LineEnd = &end
		}
		if *comment.LineEnd < *comment.LineStart {
			return errors.ErrValidation("line_end must not precede line_start")
		}
	}

	return translateError(s.db.Create(comment).Error, "comment")
}

func (s *commentStore) GetByID(reviewID, id int64) (*model.Comment, error) {
	var comment model.Comment
	err := s.db.First(&comment, "id = ? AND review_id = ?", id, reviewID).Error
	if err != nil {
		return nil, translateError(err, "comment")
	}
	return &comment, nil
}

func (s *commentStore) UpdateBody(reviewID, id int64, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return errors.ErrValidation("body is required")
	}
	result := s.db.Model(&model.Comment{}).
		Where("id = ? AND review_id = ? AND source = ?", id, reviewID, model.CommentSourceUser).
		Update("body", body)
	if result.Error != nil {
		return translateError(result.Error, "comment")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("comment")
	}
	return nil
}

func (s *commentStore) SoftDelete(reviewID, id int64) (*int64, error) {
	var dismissedID *int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var comment model.Comment
		if err := tx.First(&comment,
			"id = ? AND review_id = ? AND source = ?", id, reviewID, model.CommentSourceUser,
		).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Comment{}).Where("id = ?", comment.ID).
			Update("status", model.CommentStatusInactive).Error; err != nil {
			return err
		}

		// Dismissing an adopting comment dismisses its AI parent as well
		if comment.ParentID != nil {
			if err := tx.Model(&model.Comment{}).
				Where("id = ? AND source = ?", *comment.ParentID, model.CommentSourceAI).
				Update("status", model.CommentStatusDismissed).Error; err != nil {
				return err
			}
			dismissedID = comment.ParentID
		}
		return nil
	})
	if err != nil {
		return nil, translateError(err, "comment")
	}
	return dismissedID, nil
}

func (s *commentStore) BulkSoftDelete(reviewID int64) (int64, []int64, error) {
	var deleted int64
	var dismissedIDs []int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var comments []model.Comment
		if err := tx.Where(
			"review_id = ? AND source = ? AND status = ?",
			reviewID, model.CommentSourceUser, model.CommentStatusActive,
		).Find(&comments).Error; err != nil {
			return err
		}
		if len(comments) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(comments))
		seen := make(map[int64]bool)
		for _, c := range comments {
			ids = append(ids, c.ID)
			if c.ParentID != nil && !seen[*c.ParentID] {
				seen[*c.ParentID] = true
				dismissedIDs = append(dismissedIDs, *c.ParentID)
			}
		}

		result := tx.Model(&model.Comment{}).Where("id IN ?", ids).
			Update("status", model.CommentStatusInactive)
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected

		if len(dismissedIDs) > 0 {
			if err := tx.Model(&model.Comment{}).
				Where("id IN ? AND source = ?", dismissedIDs, model.CommentSourceAI).
				Update("status", model.CommentStatusDismissed).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, translateError(err, "comment")
	}
	return deleted, dismissedIDs, nil
}

func (s *commentStore) Restore(reviewID, id int64) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var comment model.Comment
		if err := tx.First(&comment,
			"id = ? AND review_id = ? AND source = ?", id, reviewID, model.CommentSourceUser,
		).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Comment{}).Where("id = ?", comment.ID).
			Update("status", model.CommentStatusActive).Error; err != nil {
			return err
		}

		if comment.ParentID != nil {
			if err := tx.Model(&model.Comment{}).
				Where("id = ? AND source = ?", *comment.ParentID, model.CommentSourceAI).
				Update("status", model.CommentStatusAdopted).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return translateError(err, "comment")
}

func (s *commentStore) ListUserComments(reviewID int64, includeDismissed bool) ([]model.Comment, error) {
	query := s.db.Where("review_id = ? AND source = ?", reviewID, model.CommentSourceUser)
	if !includeDismissed {
		query = query.Where("status <> ?", model.CommentStatusInactive)
	}
	var comments []model.Comment
	if err := query.Order("created_at ASC, id ASC").Find(&comments).Error; err != nil {
		return nil, translateError(err, "comment")
	}
	return comments, nil
}

func (s *commentStore) BulkInsertSuggestions(reviewID int64, prov SuggestionProvenance, inputs []SuggestionInput) (int, error) {
	if prov.RunID == "" {
		return 0, errors.ErrValidation("run id is required")
	}
	if len(inputs) == 0 {
		return 0, nil
	}

	comments := make([]model.Comment, 0, len(inputs))
	for _, in := range inputs {
		if in.File == "" || in.Type == "" || in.Title == "" || in.Description == "" {
			return 0, errors.ErrValidation("suggestion requires file, type, title and description")
		}
		comments = append(comments, normalizeSuggestion(reviewID, prov, in))
	}

	if err := s.db.Create(&comments).Error; err != nil {
		return 0, translateError(err, "suggestion")
	}
	return len(comments), nil
}

// normalizeSuggestion maps provider output onto comment columns:
// line collapses to line_start=line_end, a missing line means file-level,
// and OLD maps to the LEFT diff side.
func normalizeSuggestion(reviewID int64, prov SuggestionProvenance, in SuggestionInput) model.Comment {
	runID := prov.RunID
	comment := model.Comment{
		ReviewID:     reviewID,
		Source:       model.CommentSourceAI,
		Status:       model.CommentStatusActive,
		AIRunID:      &runID,
		AILevel:      prov.Level,
		VoiceID:      prov.VoiceID,
		IsRaw:        prov.IsRaw,
		AIConfidence: in.Confidence,
		Reasoning:    in.Reasoning,
		File:         in.File,
		Type:         in.Type,
		Title:        in.Title,
		Body:         in.Description,
		CommitSHA:    in.CommitSHA,
		Side:         model.SideRight,
	}

	if strings.EqualFold(in.OldOrNew, "OLD") {
		comment.Side = model.SideLeft
	}

	start := in.LineStart
	if start == nil {
		start = in.Line
	}
	if start == nil {
		comment.IsFileLevel = true
	} else {
		s := *start
		comment.LineStart = &s
		end := s
		if in.LineEnd != nil && *in.LineEnd >= s {
			end = *in.LineEnd
		}
		comment.LineEnd = &end
	}
	return comment
}

func (s *commentStore) ListSuggestions(reviewID int64, runID *string, includeRaw bool) ([]model.Comment, error) {
	query := s.db.Where("review_id = ? AND source = ?", reviewID, model.CommentSourceAI)
	if runID != nil {
		query = query.Where("ai_run_id = ?", *runID)
	}
	if !includeRaw {
		query = query.Where("is_raw = ?", false)
	}
	var suggestions []model.Comment
	if err := query.Order("created_at ASC, id ASC").Find(&suggestions).Error; err != nil {
		return nil, translateError(err, "suggestion")
	}
	return suggestions, nil
}

func (s *commentStore) CountSuggestionsByRun(runID string) (int64, error) {
	var count int64
	err := s.db.Model(&model.Comment{}).
		Where("ai_run_id = ? AND source = ?", runID, model.CommentSourceAI).
		Count(&count).Error
	if err != nil {
		return 0, translateError(err, "suggestion")
	}
	return count, nil
}

func (s *commentStore) Adopt(reviewID, suggestionID int64, author string) (*model.Comment, error) {
	var adopted *model.Comment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var suggestion model.Comment
		if err := tx.First(&suggestion,
			"id = ? AND review_id = ? AND source = ?", suggestionID, reviewID, model.CommentSourceAI,
		).Error; err != nil {
			return err
		}

		// Re-adoption reactivates the prior user comment instead of
		// creating a duplicate row.
		if suggestion.AdoptedAsID != nil {
			var prior model.Comment
			err := tx.First(&prior,
				"id = ? AND review_id = ?", *suggestion.AdoptedAsID, reviewID,
			).Error
			if err == nil {
				if err := tx.Model(&model.Comment{}).Where("id = ?", prior.ID).
					Update("status", model.CommentStatusActive).Error; err != nil {
					return err
				}
				if err := tx.Model(&model.Comment{}).Where("id = ?", suggestion.ID).
					Update("status", model.CommentStatusAdopted).Error; err != nil {
					return err
				}
				prior.Status = model.CommentStatusActive
				adopted = &prior
				return nil
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
		}

		parentID := suggestion.ID
		comment := model.Comment{
			ReviewID:     reviewID,
			Source:       model.CommentSourceUser,
			Author:       author,
			Status:       model.CommentStatusActive,
			File:         suggestion.File,
			LineStart:    suggestion.LineStart,
			LineEnd:      suggestion.LineEnd,
			Side:         suggestion.Side,
			DiffPosition: suggestion.DiffPosition,
			IsFileLevel:  suggestion.IsFileLevel,
			Type:         suggestion.Type,
			Title:        suggestion.Title,
			Body:         suggestion.Body,
			CommitSHA:    suggestion.CommitSHA,
			ParentID:     &parentID,
		}
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Comment{}).Where("id = ?", suggestion.ID).
			Updates(map[string]interface{}{
				"status":        model.CommentStatusAdopted,
				"adopted_as_id": comment.ID,
			}).Error; err != nil {
			return err
		}

		adopted = &comment
		return nil
	})
	if err != nil {
		return nil, translateError(err, "suggestion")
	}
	return adopted, nil
}

func (s *commentStore) UpdateSuggestionStatus(reviewID, suggestionID int64, status model.CommentStatus, adoptedAsID *int64) error {
	switch status {
	case model.CommentStatusActive, model.CommentStatusAdopted, model.CommentStatusDismissed:
	default:
		return errors.ErrValidation("invalid suggestion status")
	}

	updates := map[string]interface{}{"status": status}
	if status == model.CommentStatusAdopted {
		updates["adopted_as_id"] = adoptedAsID
	} else if status == model.CommentStatusActive {
		updates["adopted_as_id"] = nil
	}

	result := s.db.Model(&model.Comment{}).
		Where("id = ? AND review_id = ? AND source = ?", suggestionID, reviewID, model.CommentSourceAI).
		Updates(updates)
	if result.Error != nil {
		return translateError(result.Error, "suggestion")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("suggestion")
	}
	return nil
}
