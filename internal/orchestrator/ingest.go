package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pairreview/pairreview/internal/bus"
	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/idgen"
	"github.com/pairreview/pairreview/pkg/logger"
)

// IngestRequest carries externally produced analysis results. The target
// review is named by exactly one of (Path, HeadSHA) or (Repo, PRNumber).
type IngestRequest struct {
	Path    string `json:"path,omitempty"`
	HeadSHA string `json:"headSha,omitempty"`

	Repo     string `json:"repo,omitempty"`
	PRNumber int    `json:"prNumber,omitempty"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Summary  string `json:"summary,omitempty"`

	Suggestions          []store.SuggestionInput `json:"suggestions"`
	FileLevelSuggestions []store.SuggestionInput `json:"fileLevelSuggestions,omitempty"`
}

// IngestResult is the created synthetic run
type IngestResult struct {
	RunID            string `json:"runId"`
	ReviewID         int64  `json:"reviewId"`
	TotalSuggestions int    `json:"totalSuggestions"`
	Status           string `json:"status"`
}

// Ingest records results produced outside the orchestrator as a synthetic
// completed run. It never spawns anything, is allowed while another run is in
// flight, and broadcasts only on the review-keyed topic.
func (e *Engine) Ingest(ctx context.Context, req *IngestRequest) (*IngestResult, error) {
	review, err := e.resolveIngestTarget(req)
	if err != nil {
		return nil, err
	}

	inputs := make([]store.SuggestionInput, 0, len(req.Suggestions)+len(req.FileLevelSuggestions))
	inputs = append(inputs, req.Suggestions...)
	for _, s := range req.FileLevelSuggestions {
		// Explicitly file-level: any stray line fields are dropped
		s.Line, s.LineStart, s.LineEnd = nil, nil, nil
		inputs = append(inputs, s)
	}
	for i, s := range inputs {
		if s.File == "" || s.Type == "" || s.Title == "" || s.Description == "" {
			return nil, errors.ErrValidation("suggestion requires file, type, title and description").
				WithDetails(map[string]interface{}{"index": i})
		}
	}

	now := time.Now().UTC()
	run := &model.AnalysisRun{
		ID:          idgen.NewRunID(),
		ReviewID:    review.ID,
		Status:      model.RunStatusCompleted,
		StartedAt:   now,
		CompletedAt: &now,
		Summary:     req.Summary,
		ConfigType:  model.ConfigTypeSingle,
		HeadSHA:     review.LocalHeadSHA,
	}
	if req.Provider != "" {
		run.Provider = &req.Provider
	}
	if req.Model != "" {
		run.Model = &req.Model
	}

	var inserted int
	err = e.store.Transaction(func(tx store.Store) error {
		if txErr := tx.Run().Create(run); txErr != nil {
			return txErr
		}
		n, txErr := tx.Comment().BulkInsertSuggestions(review.ID, store.SuggestionProvenance{
			RunID: run.ID,
			IsRaw: false,
		}, inputs)
		if txErr != nil {
			return txErr
		}
		inserted = n
		return tx.Run().IncrementTotals(run.ID, n, 0)
	})
	if err != nil {
		return nil, err
	}

	e.bus.Publish(bus.ReviewTopic(review.ID), bus.Message{
		"type":             "progress",
		"source":           "external",
		"status":           string(model.RunStatusCompleted),
		"runId":            run.ID,
		"reviewId":         review.ID,
		"totalSuggestions": inserted,
	})

	logger.Info("Ingested external analysis results",
		zap.String("run_id", run.ID),
		zap.Int64("review_id", review.ID),
		zap.Int("suggestions", inserted),
	)

	return &IngestResult{
		RunID:            run.ID,
		ReviewID:         review.ID,
		TotalSuggestions: inserted,
		Status:           string(model.RunStatusCompleted),
	}, nil
}

// resolveIngestTarget enforces the exactly-one-target rule and looks up the
// review, creating it on first sight
func (e *Engine) resolveIngestTarget(req *IngestRequest) (*model.Review, error) {
	localTarget := req.Path != "" || req.HeadSHA != ""
	prTarget := req.Repo != "" || req.PRNumber != 0

	switch {
	case localTarget && prTarget:
		return nil, errors.ErrValidation("specify either (path, headSha) or (repo, prNumber), not both")
	case localTarget:
		if req.Path == "" || req.HeadSHA == "" {
			return nil, errors.ErrValidation("local target requires both path and headSha")
		}
		review, _, err := e.store.Review().UpsertLocal(req.Path, req.HeadSHA, "")
		return review, err
	case prTarget:
		if req.Repo == "" || req.PRNumber <= 0 {
			return nil, errors.ErrValidation("pr target requires both repo and prNumber")
		}
		review, _, err := e.store.Review().UpsertPR(req.Repo, req.PRNumber)
		return review, err
	default:
		return nil, errors.ErrValidation("specify a target: (path, headSha) or (repo, prNumber)")
	}
}
