package store

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
)

// LocalDiffStore defines operations for cached local diff snapshots.
type LocalDiffStore interface {
	// Save upserts the snapshot for a review
	Save(diff *model.LocalDiff) error
	Load(reviewID int64) (*model.LocalDiff, error)
	Delete(reviewID int64) error
}

// localDiffStore implements LocalDiffStore using GORM.
type localDiffStore struct {
	db *gorm.DB
}

func newLocalDiffStore(db *gorm.DB) LocalDiffStore {
	return &localDiffStore{db: db}
}

func (s *localDiffStore) Save(diff *model.LocalDiff) error {
	if diff.ReviewID == 0 {
		return errors.ErrValidation("review_id is required")
	}
	if diff.CapturedAt.IsZero() {
		diff.CapturedAt = time.Now().UTC()
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "review_id"}},
		UpdateAll: true,
	}).Create(diff).Error
	return translateError(err, "local diff")
}

func (s *localDiffStore) Load(reviewID int64) (*model.LocalDiff, error) {
	var diff model.LocalDiff
	if err := s.db.First(&diff, "review_id = ?", reviewID).Error; err != nil {
		return nil, translateError(err, "local diff")
	}
	return &diff, nil
}

func (s *localDiffStore) Delete(reviewID int64) error {
	return translateError(
		s.db.Delete(&model.LocalDiff{}, "review_id = ?", reviewID).Error,
		"local diff",
	)
}
