package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
)

// ReviewStore defines operations for Review records.
type ReviewStore interface {
	// Review CRUD
	Create(review *model.Review) error
	GetByID(id int64) (*model.Review, error)
	Update(review *model.Review) error
	Delete(id int64) error

	// Lookups by identity tuple
	GetByPR(repository string, prNumber int) (*model.Review, error)
	GetLocal(localPath, headSHA string) (*model.Review, error)

	// UpsertLocal finds the review for (localPath, headSHA) or creates it.
	// Returns the review and whether it was newly created.
	UpsertLocal(localPath, headSHA, repository string) (*model.Review, bool, error)

	// UpsertPR finds the review for (repository, prNumber) or creates it.
	UpsertPR(repository string, prNumber int) (*model.Review, bool, error)

	// Metadata updates
	UpdateStatus(id int64, status model.ReviewStatus) error
	UpdateSummary(id int64, summary string) error
	UpdateName(id int64, name string) error
	UpdateCustomInstructions(id int64, instructions string) error
	MarkSubmitted(id int64, at time.Time) error

	// ListLocalPaged returns local reviews ordered by updated_at descending.
	// The cursor is an updated_at bound; pass nil for the first page.
	// The second return value reports whether more rows exist past the page.
	ListLocalPaged(limit int, before *time.Time) ([]model.Review, bool, error)
}

// reviewStore implements ReviewStore using GORM.
type reviewStore struct {
	db *gorm.DB
}

func newReviewStore(db *gorm.DB) ReviewStore {
	return &reviewStore{db: db}
}

func (s *reviewStore) Create(review *model.Review) error {
	if err := validateReviewIdentity(review); err != nil {
		return err
	}
	return translateError(s.db.Create(review).Error, "review")
}

// validateReviewIdentity enforces the identity tuple per review type
func validateReviewIdentity(review *model.Review) error {
	switch review.ReviewType {
	case model.ReviewTypePR:
		if review.PRNumber == nil || review.Repository == "" {
			return errors.ErrValidation("pr review requires pr_number and repository")
		}
	case model.ReviewTypeLocal:
		if review.LocalPath == "" || review.LocalHeadSHA == "" {
			return errors.ErrValidation("local review requires local_path and local_head_sha")
		}
	default:
		return errors.ErrValidation("invalid review_type")
	}
	return nil
}

func (s *reviewStore) GetByID(id int64) (*model.Review, error) {
	var review model.Review
	if err := s.db.First(&review, "id = ?", id).Error; err != nil {
		return nil, translateError(err, "review")
	}
	return &review, nil
}

func (s *reviewStore) Update(review *model.Review) error {
	return translateError(s.db.Save(review).Error, "review")
}

// Delete removes the review and everything composed under it.
// Cascades are applied explicitly so the delete does not depend on
// foreign-key DDL that older databases may lack.
func (s *reviewStore) Delete(id int64) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var sessionIDs []string
		if err := tx.Model(&model.ChatSession{}).Where("review_id = ?", id).
			Pluck("id", &sessionIDs).Error; err != nil {
			return err
		}
		if len(sessionIDs) > 0 {
			if err := tx.Where("session_id IN ?", sessionIDs).Delete(&model.ChatMessage{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("review_id = ?", id).Delete(&model.ChatSession{}).Error; err != nil {
			return err
		}
		if err := tx.Where("review_id = ?", id).Delete(&model.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("review_id = ?", id).Delete(&model.AnalysisRun{}).Error; err != nil {
			return err
		}
		if err := tx.Where("review_id = ?", id).Delete(&model.LocalDiff{}).Error; err != nil {
			return err
		}
		if err := tx.Where("review_id = ?", id).Delete(&model.ContextFile{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.Review{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return translateError(err, "review")
}

func (s *reviewStore) GetByPR(repository string, prNumber int) (*model.Review, error) {
	var review model.Review
	err := s.db.First(&review,
		"review_type = ? AND repository = ? AND pr_number = ?",
		model.ReviewTypePR, repository, prNumber,
	).Error
	if err != nil {
		return nil, translateError(err, "review")
	}
	return &review, nil
}

func (s *reviewStore) GetLocal(localPath, headSHA string) (*model.Review, error) {
	var review model.Review
	err := s.db.First(&review,
		"review_type = ? AND local_path = ? AND local_head_sha = ?",
		model.ReviewTypeLocal, localPath, headSHA,
	).Error
	if err != nil {
		return nil, translateError(err, "review")
	}
	return &review, nil
}

func (s *reviewStore) UpsertLocal(localPath, headSHA, repository string) (*model.Review, bool, error) {
	if localPath == "" || headSHA == "" {
		return nil, false, errors.ErrValidation("local_path and local_head_sha are required")
	}

	review, err := s.GetLocal(localPath, headSHA)
	if err == nil {
		return review, false, nil
	}
	if appErr, ok := errors.AsAppError(err); !ok || appErr.Code != errors.ErrCodeNotFound {
		return nil, false, err
	}

	review = &model.Review{
		ReviewType:   model.ReviewTypeLocal,
		LocalPath:    localPath,
		LocalHeadSHA: headSHA,
		Repository:   repository,
		Status:       model.ReviewStatusDraft,
	}
	if err := s.db.Create(review).Error; err != nil {
		// Lost a race with a concurrent upsert; the row exists now
		if isUniqueViolation(err) {
			existing, getErr := s.GetLocal(localPath, headSHA)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, translateError(err, "review")
	}
	return review, true, nil
}

func (s *reviewStore) UpsertPR(repository string, prNumber int) (*model.Review, bool, error) {
	if repository == "" {
		return nil, false, errors.ErrValidation("repository is required")
	}

	review, err := s.GetByPR(repository, prNumber)
	if err == nil {
		return review, false, nil
	}
	if appErr, ok := errors.AsAppError(err); !ok || appErr.Code != errors.ErrCodeNotFound {
		return nil, false, err
	}

	review = &model.Review{
		ReviewType: model.ReviewTypePR,
		Repository: repository,
		PRNumber:   &prNumber,
		Status:     model.ReviewStatusDraft,
	}
	if err := s.db.Create(review).Error; err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.GetByPR(repository, prNumber)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, translateError(err, "review")
	}
	return review, true, nil
}

func (s *reviewStore) UpdateStatus(id int64, status model.ReviewStatus) error {
	return s.updateColumns(id, map[string]interface{}{"status": status})
}

func (s *reviewStore) UpdateSummary(id int64, summary string) error {
	return s.updateColumns(id, map[string]interface{}{"summary": summary})
}

func (s *reviewStore) UpdateName(id int64, name string) error {
	return s.updateColumns(id, map[string]interface{}{"name": name})
}

func (s *reviewStore) UpdateCustomInstructions(id int64, instructions string) error {
	return s.updateColumns(id, map[string]interface{}{"custom_instructions": instructions})
}

func (s *reviewStore) MarkSubmitted(id int64, at time.Time) error {
	return s.updateColumns(id, map[string]interface{}{
		"status":       model.ReviewStatusSubmitted,
		"submitted_at": at,
	})
}

func (s *reviewStore) updateColumns(id int64, updates map[string]interface{}) error {
	result := s.db.Model(&model.Review{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return translateError(result.Error, "review")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("review")
	}
	return nil
}

func (s *reviewStore) ListLocalPaged(limit int, before *time.Time) ([]model.Review, bool, error) {
	if limit <= 0 {
		limit = 20
	}

	query := s.db.Where("review_type = ?", model.ReviewTypeLocal)
	if before != nil {
		query = query.Where("updated_at < ?", *before)
	}

	// Fetch one extra row to detect whether more pages exist
	var reviews []model.Review
	err := query.Order("updated_at DESC").Limit(limit + 1).Find(&reviews).Error
	if err != nil {
		return nil, false, translateError(err, "review")
	}

	hasMore := len(reviews) > limit
	if hasMore {
		reviews = reviews[:limit]
	}
	return reviews, hasMore, nil
}
