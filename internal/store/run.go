package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/idgen"
)

// RunStore defines operations for AnalysisRun records.
type RunStore interface {
	// Create inserts a run. The caller may pre-assign the id; otherwise one is
	// generated. External ingestion inserts runs already in a terminal status.
	Create(run *model.AnalysisRun) error
	GetByID(id string) (*model.AnalysisRun, error)
	Delete(id string) error

	// MarkTerminal stamps a terminal status and completed_at. Returns false if
	// the run was already in the requested status (the guard absorbs races
	// between cancel and natural completion).
	MarkTerminal(id string, status model.RunStatus, errMsg string) (bool, error)

	UpdateSummary(id string, summary string) error
	IncrementTotals(id string, suggestions, files int) error

	// ListByReview returns a review's runs ordered by completion time with
	// parents before their children.
	ListByReview(reviewID int64) ([]model.AnalysisRun, error)
	GetLatest(reviewID int64) (*model.AnalysisRun, error)
	ListChildren(parentID string) ([]model.AnalysisRun, error)

	// GetRunning returns the single non-terminal run for a review, or NotFound.
	GetRunning(reviewID int64) (*model.AnalysisRun, error)
}

// runStore implements RunStore using GORM.
type runStore struct {
	db *gorm.DB
}

func newRunStore(db *gorm.DB) RunStore {
	return &runStore{db: db}
}

func (s *runStore) Create(run *model.AnalysisRun) error {
	if run.ReviewID == 0 {
		return errors.ErrValidation("review_id is required")
	}
	if run.ID == "" {
		run.ID = idgen.NewRunID()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status.IsTerminal() && run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	return translateError(s.db.Create(run).Error, "analysis run")
}

func (s *runStore) GetByID(id string) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		return nil, translateError(err, "analysis run")
	}
	return &run, nil
}

func (s *runStore) Delete(id string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("ai_run_id = ?", id).Delete(&model.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("parent_run_id = ?", id).Delete(&model.AnalysisRun{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.AnalysisRun{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return translateError(err, "analysis run")
}

func (s *runStore) MarkTerminal(id string, status model.RunStatus, errMsg string) (bool, error) {
	if !status.IsTerminal() {
		return false, errors.ErrValidation("status is not terminal")
	}

	updates := map[string]interface{}{
		"status":       status,
		"completed_at": time.Now().UTC(),
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}

	result := s.db.Model(&model.AnalysisRun{}).
		Where("id = ? AND status <> ?", id, status).
		Updates(updates)
	if result.Error != nil {
		return false, translateError(result.Error, "analysis run")
	}
	if result.RowsAffected == 0 {
		// Either the run does not exist or it is already in the target status
		var count int64
		if err := s.db.Model(&model.AnalysisRun{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return false, translateError(err, "analysis run")
		}
		if count == 0 {
			return false, errors.ErrNotFound("analysis run")
		}
		return false, nil
	}
	return true, nil
}

func (s *runStore) UpdateSummary(id string, summary string) error {
	result := s.db.Model(&model.AnalysisRun{}).Where("id = ?", id).Update("summary", summary)
	if result.Error != nil {
		return translateError(result.Error, "analysis run")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("analysis run")
	}
	return nil
}

func (s *runStore) IncrementTotals(id string, suggestions, files int) error {
	result := s.db.Model(&model.AnalysisRun{}).Where("id = ?", id).Updates(map[string]interface{}{
		"total_suggestions": gorm.Expr("total_suggestions + ?", suggestions),
		"files_analyzed":    gorm.Expr("files_analyzed + ?", files),
	})
	if result.Error != nil {
		return translateError(result.Error, "analysis run")
	}
	if result.RowsAffected == 0 {
		return errors.ErrNotFound("analysis run")
	}
	return nil
}

func (s *runStore) ListByReview(reviewID int64) ([]model.AnalysisRun, error) {
	var runs []model.AnalysisRun
	err := s.db.Where("review_id = ?", reviewID).
		Order("completed_at DESC, parent_run_id IS NOT NULL, started_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, translateError(err, "analysis run")
	}
	return runs, nil
}

func (s *runStore) GetLatest(reviewID int64) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	err := s.db.Where("review_id = ? AND parent_run_id IS NULL", reviewID).
		Order("started_at DESC").First(&run).Error
	if err != nil {
		return nil, translateError(err, "analysis run")
	}
	return &run, nil
}

func (s *runStore) ListChildren(parentID string) ([]model.AnalysisRun, error) {
	var runs []model.AnalysisRun
	err := s.db.Where("parent_run_id = ?", parentID).
		Order("started_at ASC, id ASC").Find(&runs).Error
	if err != nil {
		return nil, translateError(err, "analysis run")
	}
	return runs, nil
}

func (s *runStore) GetRunning(reviewID int64) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	err := s.db.Where(
		"review_id = ? AND status = ? AND parent_run_id IS NULL",
		reviewID, model.RunStatusRunning,
	).First(&run).Error
	if err != nil {
		return nil, translateError(err, "analysis run")
	}
	return &run, nil
}
