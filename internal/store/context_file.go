package store

import (
	"gorm.io/gorm"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
)

// ContextFileStore defines operations for user-pinned context ranges.
type ContextFileStore interface {
	Add(cf *model.ContextFile) error
	ListByReview(reviewID int64) ([]model.ContextFile, error)
	ListByReviewAndFile(reviewID int64, file string) ([]model.ContextFile, error)
	UpdateRange(reviewID, id int64, lineStart, lineEnd int) error
	Remove(reviewID, id int64) error
	RemoveAll(reviewID int64) error
}

// contextFileStore implements ContextFileStore using GORM.
type contextFileStore struct {
	db *gorm.DB
}

func newContextFileStore(db *gorm.DB) ContextFileStore {
	return &contextFileStore{db: db}
}

func (s *contextFileStore) Add(cf *model.ContextFile) error {
	if cf.ReviewID == 0 || cf.File == "" {
		return errors.ErrValidation("review_id and file are required")
	}
	if cf.LineStart <= 0 || cf.LineEnd < cf.LineStart {
		return errors.ErrValidation("invalid line range")
	}
	return translateError(s.db.Create(cf).Error, "context file")
}

func (s *contextFileStore) ListByReview(reviewID int64) ([]model.ContextFile, error) {
	var files []model.ContextFile
	err := s.db.Where("review_id = ?", reviewID).
		Order("file ASC, line_start ASC").Find(&files).Error
	if err != nil {
		return nil, translateError(err, "context file")
	}
	return files, nil
}

func (s *contextFileStore) ListByReviewAndFile(reviewID int64, file string) ([]model.ContextFile, error) {
	var files []model.ContextFile
	err := s.db.Where("review_id = ? AND file = ?", reviewID, file).
		Order("line_start ASC").Find(&files).Error
	if err != nil {
		return nil, translateError(err, "context file")
	}
	return files, nil
}

func (s *contextFileStore) UpdateRange(reviewID, id int64, lineStart, lineEnd int) error {
	if lineStart <= 0 || lineEnd < lineStart {
		return errors.ErrValidation("invalid line range")
	}
	result := s.db.Model(&model.ContextFile{}).
		Where("id = ? AND review_id = ?", id, reviewID).
		Updates(map[string]interface{}{"line_start": lineStart, "line_end": lineEnd})
	if result.Error != nil {
		return translateError(result.Error, "context file")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("context file")
	}
	return nil
}

func (s *contextFileStore) Remove(reviewID, id int64) error {
	result := s.db.Delete(&model.ContextFile{}, "id = ? AND review_id = ?", id, reviewID)
	if result.Error != nil {
		return translateError(result.Error, "context file")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("context file")
	}
	return nil
}

func (s *contextFileStore) RemoveAll(reviewID int64) error {
	return translateError(
		s.db.Delete(&model.ContextFile{}, "review_id = ?", reviewID).Error,
		"context file",
	)
}
