package server

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/logger"
)

// sweepSchedule runs the retention sweep once a day, off-peak
const sweepSchedule = "0 4 * * *"

// Sweeper prunes aged-out rows on a cron schedule: diff snapshots of long
// submitted reviews and soft-deleted comments past the retention window.
type Sweeper struct {
	store         store.Store
	retentionDays int
	cron          *cron.Cron
}

// NewSweeper creates a retention sweeper
func NewSweeper(s store.Store, retentionDays int) *Sweeper {
	return &Sweeper{
		store:         s,
		retentionDays: retentionDays,
		cron:          cron.New(),
	}
}

// Start schedules the sweep and runs one pass immediately
func (s *Sweeper) Start() {
	if _, err := s.cron.AddFunc(sweepSchedule, s.sweep); err != nil {
		logger.Error("Failed to schedule retention sweep", zap.Error(err))
		return
	}
	s.cron.Start()
	go s.sweep()

	logger.Info("Retention sweeper started",
		zap.Int("retention_days", s.retentionDays),
		zap.String("schedule", sweepSchedule),
	)
}

// Stop halts the schedule; a sweep in progress finishes
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	// Diff snapshots of submitted reviews that have not been touched within
	// the window; the review row itself stays
	aged := s.store.DB().Model(&model.Review{}).
		Select("id").
		Where("review_type = ? AND status = ? AND updated_at < ?",
			model.ReviewTypeLocal, model.ReviewStatusSubmitted, cutoff)
	diffs := s.store.DB().Where("review_id IN (?)", aged).Delete(&model.LocalDiff{})
	if diffs.Error != nil {
		logger.Error("Retention sweep failed on diff snapshots", zap.Error(diffs.Error))
	}

	// Soft-deleted comments past the window. Suggestions adopted into one of
	// them lose the adoption link first so no row is left pointing at a
	// deleted comment.
	doomed := s.store.DB().Model(&model.Comment{}).
		Select("id").
		Where("status = ? AND updated_at < ?", model.CommentStatusInactive, cutoff)
	unlink := s.store.DB().Model(&model.Comment{}).
		Where("adopted_as_id IN (?)", doomed).
		UpdateColumn("adopted_as_id", nil)
	if unlink.Error != nil {
		logger.Error("Retention sweep failed unlinking adoptions", zap.Error(unlink.Error))
	}
	comments := s.store.DB().Where("status = ? AND updated_at < ?", model.CommentStatusInactive, cutoff).
		Delete(&model.Comment{})
	if comments.Error != nil {
		logger.Error("Retention sweep failed on comments", zap.Error(comments.Error))
	}

	logger.Info("Retention sweep complete",
		zap.Int64("diff_snapshots", diffs.RowsAffected),
		zap.Int64("comments", comments.RowsAffected),
	)
}
