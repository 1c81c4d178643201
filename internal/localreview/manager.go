// Package localreview manages local working-tree review sessions: capturing
// diffs, tracking staleness against HEAD, and rekeying sessions when HEAD
// moves.
package localreview

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pairreview/pairreview/internal/gitops"
	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/logger"
)

// Manager owns local review sessions. Captured diffs are cached in memory on
// the fast path and persisted to the store for cold reads.
type Manager struct {
	store store.Store

	mu    sync.Mutex
	cache map[int64]*cachedSession
}

type cachedSession struct {
	snapshot *gitops.Snapshot
	digest   string
	branch   string
}

// NewManager creates a session manager over the store
func NewManager(s store.Store) *Manager {
	return &Manager{
		store: s,
		cache: make(map[int64]*cachedSession),
	}
}

// StartResult is the outcome of opening a local session
type StartResult struct {
	Review     *model.Review
	Created    bool
	Repository string
	Branch     string
	Stats      model.DiffStats
}

// Start opens (or reopens) a local review session for a path: discovers the
// git root, reads HEAD, captures the working-tree diff, and upserts the
// review keyed on (local_path, local_head_sha).
func (m *Manager) Start(ctx context.Context, path string) (*StartResult, error) {
	if path == "" {
		return nil, errors.ErrValidation("path is required")
	}

	opCtx, cancel := context.WithTimeout(ctx, gitops.DefaultTimeout)
	defer cancel()

	root, err := gitops.RepoRoot(opCtx, path)
	if err != nil {
		return nil, err
	}
	head, err := gitops.HeadSHA(opCtx, root)
	if err != nil {
		return nil, err
	}
	branch, err := gitops.CurrentBranch(opCtx, root)
	if err != nil {
		branch = ""
	}
	repository := gitops.OriginRepository(opCtx, root)

	snapshot, err := gitops.CaptureDiff(opCtx, root)
	if err != nil {
		return nil, err
	}

	review, created, err := m.store.Review().UpsertLocal(root, head, repository)
	if err != nil {
		return nil, err
	}

	digest := Digest(snapshot.DiffText, snapshot.Stats)
	if err := m.saveSnapshot(review.ID, snapshot, digest, branch); err != nil {
		return nil, err
	}

	logger.Info("Local review session started",
		zap.Int64("review_id", review.ID),
		zap.String("path", root),
		zap.String("head", head),
		zap.Bool("created", created),
	)

	return &StartResult{
		Review:     review,
		Created:    created,
		Repository: repository,
		Branch:     branch,
		Stats:      snapshot.Stats,
	}, nil
}

// saveSnapshot persists the snapshot and primes the in-memory cache
func (m *Manager) saveSnapshot(reviewID int64, snapshot *gitops.Snapshot, digest, branch string) error {
	err := m.store.LocalDiff().Save(&model.LocalDiff{
		ReviewID:   reviewID,
		DiffText:   snapshot.DiffText,
		Stats:      snapshot.Stats.ToJSONMap(),
		Digest:     digest,
		CapturedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cache[reviewID] = &cachedSession{snapshot: snapshot, digest: digest, branch: branch}
	m.mu.Unlock()
	return nil
}

// DiffResult carries the captured diff for a session
type DiffResult struct {
	Diff           string
	Stats          model.DiffStats
	GeneratedFiles []string
}

// GetDiff returns the session's diff, preferring the in-memory cache and
// falling back to the persisted snapshot on cold read.
func (m *Manager) GetDiff(reviewID int64) (*DiffResult, error) {
	m.mu.Lock()
	cached, ok := m.cache[reviewID]
	m.mu.Unlock()
	if ok {
		return &DiffResult{
			Diff:           cached.snapshot.DiffText,
			Stats:          cached.snapshot.Stats,
			GeneratedFiles: cached.snapshot.GeneratedFiles,
		}, nil
	}

	diff, err := m.store.LocalDiff().Load(reviewID)
	if err != nil {
		return nil, err
	}
	return &DiffResult{
		Diff:           diff.DiffText,
		Stats:          model.DiffStatsFromJSONMap(diff.Stats),
		GeneratedFiles: gitops.DetectGeneratedFiles(diff.DiffText),
	}, nil
}

// Branch returns the cached branch name for a session, best-effort
func (m *Manager) Branch(ctx context.Context, review *model.Review) string {
	m.mu.Lock()
	cached, ok := m.cache[review.ID]
	m.mu.Unlock()
	if ok && cached.branch != "" {
		return cached.branch
	}

	opCtx, cancel := context.WithTimeout(ctx, gitops.DefaultTimeout)
	defer cancel()
	branch, err := gitops.CurrentBranch(opCtx, review.LocalPath)
	if err != nil {
		return ""
	}
	return branch
}

// StaleResult reports whether a session's working copy drifted.
// IsStale is nil when the check could not be completed in time.
type StaleResult struct {
	IsStale         *bool  `json:"isStale"`
	Error           string `json:"error,omitempty"`
	OriginalHeadSHA string `json:"originalHeadSha,omitempty"`
	NewHeadSHA      string `json:"newHeadSha,omitempty"`
	DiffChanged     bool   `json:"diffChanged,omitempty"`
}

// CheckStale recomputes the working-tree digest and compares it with the
// stored one. The whole check is bounded so a hung git operation surfaces as
// {isStale: null} instead of blocking.
func (m *Manager) CheckStale(ctx context.Context, reviewID int64) *StaleResult {
	review, err := m.store.Review().GetByID(reviewID)
	if err != nil {
		return &StaleResult{Error: err.Error()}
	}
	if review.ReviewType != model.ReviewTypeLocal {
		return &StaleResult{Error: "not a local review"}
	}

	opCtx, cancel := context.WithTimeout(ctx, gitops.StaleCheckTimeout)
	defer cancel()

	head, err := gitops.HeadSHA(opCtx, review.LocalPath)
	if err != nil {
		return &StaleResult{Error: err.Error()}
	}

	stale := true
	if head != review.LocalHeadSHA {
		return &StaleResult{
			IsStale:         &stale,
			OriginalHeadSHA: review.LocalHeadSHA,
			NewHeadSHA:      head,
		}
	}

	snapshot, err := gitops.CaptureDiff(opCtx, review.LocalPath)
	if err != nil {
		return &StaleResult{Error: err.Error()}
	}
	digest := Digest(snapshot.DiffText, snapshot.Stats)

	stored, err := m.storedDigest(reviewID)
	if err != nil {
		return &StaleResult{Error: err.Error()}
	}

	if digest != stored {
		return &StaleResult{IsStale: &stale, DiffChanged: true}
	}
	fresh := false
	return &StaleResult{IsStale: &fresh}
}

func (m *Manager) storedDigest(reviewID int64) (string, error) {
	m.mu.Lock()
	cached, ok := m.cache[reviewID]
	m.mu.Unlock()
	if ok {
		return cached.digest, nil
	}
	diff, err := m.store.LocalDiff().Load(reviewID)
	if err != nil {
		return "", err
	}
	return diff.Digest, nil
}

// RefreshResult is the outcome of recapturing a session
type RefreshResult struct {
	Stats           model.DiffStats `json:"stats"`
	SessionChanged  bool            `json:"sessionChanged"`
	NewSessionID    int64           `json:"newSessionId,omitempty"`
	OriginalHeadSHA string          `json:"originalHeadSha,omitempty"`
	NewHeadSHA      string          `json:"newHeadSha,omitempty"`
}

// Refresh recaptures the working tree. If HEAD is unchanged the session's
// snapshot is replaced in place. If HEAD moved, a new session is created for
// the new HEAD and the old session (with its comments and suggestions) stays
// bound to the old one.
func (m *Manager) Refresh(ctx context.Context, reviewID int64) (*RefreshResult, error) {
	review, err := m.store.Review().GetByID(reviewID)
	if err != nil {
		return nil, err
	}
	if review.ReviewType != model.ReviewTypeLocal {
		return nil, errors.ErrValidation("not a local review")
	}

	opCtx, cancel := context.WithTimeout(ctx, gitops.DefaultTimeout)
	defer cancel()

	head, err := gitops.HeadSHA(opCtx, review.LocalPath)
	if err != nil {
		return nil, err
	}
	branch, _ := gitops.CurrentBranch(opCtx, review.LocalPath)

	snapshot, err := gitops.CaptureDiff(opCtx, review.LocalPath)
	if err != nil {
		return nil, err
	}
	digest := Digest(snapshot.DiffText, snapshot.Stats)

	if head == review.LocalHeadSHA {
		if err := m.saveSnapshot(review.ID, snapshot, digest, branch); err != nil {
			return nil, err
		}
		return &RefreshResult{Stats: snapshot.Stats}, nil
	}

	// HEAD moved: rekey into a new session bound to the new HEAD
	newReview, _, err := m.store.Review().UpsertLocal(review.LocalPath, head, review.Repository)
	if err != nil {
		return nil, err
	}
	if err := m.saveSnapshot(newReview.ID, snapshot, digest, branch); err != nil {
		return nil, err
	}

	logger.Info("Local review session rekeyed",
		zap.Int64("old_review_id", review.ID),
		zap.Int64("new_review_id", newReview.ID),
		zap.String("old_head", review.LocalHeadSHA),
		zap.String("new_head", head),
	)

	return &RefreshResult{
		Stats:           snapshot.Stats,
		SessionChanged:  true,
		NewSessionID:    newReview.ID,
		OriginalHeadSHA: review.LocalHeadSHA,
		NewHeadSHA:      head,
	}, nil
}

// Evict drops a session's cached snapshot (used when the review is deleted)
func (m *Manager) Evict(reviewID int64) {
	m.mu.Lock()
	delete(m.cache, reviewID)
	m.mu.Unlock()
}

// Digest computes the stable content hash used for the staleness check. It
// covers the diff text and the status counts so pure stage/unstage moves are
// detected even when the combined diff is unchanged.
func Digest(diffText string, stats model.DiffStats) string {
	h := sha256.New()
	h.Write([]byte(diffText))
	fmt.Fprintf(h, "\n%d|%d|%d|%d",
		stats.TrackedChanges, stats.UntrackedFiles, stats.StagedChanges, stats.UnstagedChanges)
	return hex.EncodeToString(h.Sum(nil))
}
