// Package orchestrator drives analysis runs: it resolves voice plans, spawns
// provider subprocesses, streams their output into the store, and broadcasts
// progress on the bus.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pairreview/pairreview/internal/bus"
	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/provider"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/idgen"
	"github.com/pairreview/pairreview/pkg/logger"
	"github.com/pairreview/pairreview/pkg/telemetry"
)

// VoiceProcess is the orchestrator's view of one spawned provider
type VoiceProcess interface {
	Output() io.ReadCloser
	Kill()
	Exit() error
}

// Spawner starts a provider subprocess. Injectable so tests can substitute a
// scripted process for a real binary.
type Spawner func(ctx context.Context, def *provider.Definition, modelID, prompt string, yolo bool) (VoiceProcess, error)

// realProcess adapts provider.Process to VoiceProcess
type realProcess struct {
	*provider.Process
}

func (p realProcess) Output() io.ReadCloser { return p.Stdout }

// DefaultSpawner spawns real provider subprocesses
func DefaultSpawner(ctx context.Context, def *provider.Definition, modelID, prompt string, yolo bool) (VoiceProcess, error) {
	proc, err := provider.Spawn(ctx, def, modelID, prompt, yolo)
	if err != nil {
		return nil, err
	}
	return realProcess{proc}, nil
}

// Engine coordinates analysis runs. It enforces at most one non-terminal run
// per review and owns the lifetime of every provider subprocess it spawns.
type Engine struct {
	store    store.Store
	registry *provider.Registry
	bus      *bus.Bus

	yolo        bool
	maxParallel int
	spawn       Spawner

	mu     sync.Mutex
	active map[int64]*activeRun
}

// activeRun is the in-memory coordinator for one in-flight run
type activeRun struct {
	runID      string
	reviewID   int64
	configType model.ConfigType
	snapshot   model.JSONMap
	cancel     context.CancelFunc

	mu    sync.Mutex
	procs map[VoiceProcess]struct{}
}

func (ar *activeRun) track(p VoiceProcess) {
	ar.mu.Lock()
	ar.procs[p] = struct{}{}
	ar.mu.Unlock()
}

func (ar *activeRun) untrack(p VoiceProcess) {
	ar.mu.Lock()
	delete(ar.procs, p)
	ar.mu.Unlock()
}

func (ar *activeRun) killAll() {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	for p := range ar.procs {
		p.Kill()
	}
}

// Options tune engine behavior
type Options struct {
	// Yolo enables permissive provider argv
	Yolo bool
	// MaxParallelVoices caps in-level fan-out; 0 means unbounded
	MaxParallelVoices int
	// Spawner overrides subprocess creation (tests)
	Spawner Spawner
}

// NewEngine creates a run engine
func NewEngine(s store.Store, registry *provider.Registry, b *bus.Bus, opts Options) *Engine {
	spawn := opts.Spawner
	if spawn == nil {
		spawn = DefaultSpawner
	}
	return &Engine{
		store:       s,
		registry:    registry,
		bus:         b,
		yolo:        opts.Yolo,
		maxParallel: opts.MaxParallelVoices,
		spawn:       spawn,
		active:      make(map[int64]*activeRun),
	}
}

// StartRequest carries everything a run needs up front
type StartRequest struct {
	Review *model.Review
	Plan   *Plan
	// Diff is the text the voices review
	Diff    string
	HeadSHA string

	CustomInstructions  string
	RepoInstructions    string
	RequestInstructions string
}

// Start creates the run record and launches execution in the background. It
// returns immediately with the new run; a second start while one is in flight
// returns Conflict carrying the existing run's id.
func (e *Engine) Start(ctx context.Context, req *StartRequest) (*model.AnalysisRun, error) {
	e.mu.Lock()
	if existing, ok := e.active[req.Review.ID]; ok {
		e.mu.Unlock()
		return nil, errors.ErrConflict("analysis already running").
			WithDetails(map[string]interface{}{"analysisId": existing.runID})
	}
	e.mu.Unlock()

	// A running row with no in-memory coordinator is a leftover from an
	// interrupted process; fail it so the review is not wedged forever
	if stale, err := e.store.Run().GetRunning(req.Review.ID); err == nil && stale != nil {
		if _, markErr := e.store.Run().MarkTerminal(stale.ID, model.RunStatusFailed, "interrupted by restart"); markErr != nil {
			return nil, markErr
		}
		logger.Warn("Failed leftover running analysis",
			zap.String("run_id", stale.ID), zap.Int64("review_id", req.Review.ID))
	}

	run := &model.AnalysisRun{
		ID:                  idgen.NewRunID(),
		ReviewID:            req.Review.ID,
		Status:              model.RunStatusRunning,
		ConfigType:          req.Plan.ConfigType,
		LevelsConfig:        req.Plan.Snapshot,
		HeadSHA:             req.HeadSHA,
		CustomInstructions:  req.CustomInstructions,
		RepoInstructions:    req.RepoInstructions,
		RequestInstructions: req.RequestInstructions,
	}
	if req.Plan.ConfigType == model.ConfigTypeSingle {
		v := req.Plan.Levels[0].Voices[0]
		run.Provider = &v.Provider
		run.Model = &v.Model
		run.Tier = &v.Tier
	}

	if err := e.store.Run().Create(run); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{
		runID:      run.ID,
		reviewID:   req.Review.ID,
		configType: req.Plan.ConfigType,
		snapshot:   req.Plan.Snapshot,
		cancel:     cancel,
		procs:      make(map[VoiceProcess]struct{}),
	}

	e.mu.Lock()
	if _, ok := e.active[req.Review.ID]; ok {
		// Lost the race to another starter
		e.mu.Unlock()
		cancel()
		_, _ = e.store.Run().MarkTerminal(run.ID, model.RunStatusCancelled, "superseded at start")
		return nil, errors.ErrConflict("analysis already running")
	}
	e.active[req.Review.ID] = ar
	e.mu.Unlock()

	e.bus.Reset(bus.RunTopic(run.ID))
	firstVoice := req.Plan.Levels[0].Voices[0]
	telemetry.GetMetrics().RecordRunStarted(ctx, firstVoice.Provider, string(req.Plan.ConfigType))

	logger.Info("Analysis run started",
		zap.String("run_id", run.ID),
		zap.Int64("review_id", req.Review.ID),
		zap.String("config_type", string(req.Plan.ConfigType)),
		zap.Int("voices", req.Plan.VoiceCount()),
	)

	go e.execute(runCtx, ar, run, req)
	return run, nil
}

// Cancel stops a review's in-flight run. It returns once the store records
// the cancelled status; subprocess teardown finishes in the background.
func (e *Engine) Cancel(reviewID int64) error {
	e.mu.Lock()
	ar, ok := e.active[reviewID]
	e.mu.Unlock()
	if !ok {
		return errors.ErrNotFound("running analysis")
	}

	ar.cancel()
	ar.killAll()

	changed, err := e.store.Run().MarkTerminal(ar.runID, model.RunStatusCancelled, "")
	if err != nil {
		return err
	}
	if changed {
		e.publishTerminal(ar, model.RunStatusCancelled, "")
	}
	logger.Info("Analysis run cancelled", zap.String("run_id", ar.runID))
	return nil
}

// RunStatus describes whether a review has an in-flight analysis
type RunStatus struct {
	Running    bool             `json:"running"`
	AnalysisID string           `json:"analysisId,omitempty"`
	IsCouncil  bool             `json:"isCouncil,omitempty"`
	ConfigType model.ConfigType `json:"configType,omitempty"`
	Config     model.JSONMap    `json:"councilConfig,omitempty"`
}

// Status reports the review's in-flight run, if any
func (e *Engine) Status(reviewID int64) *RunStatus {
	e.mu.Lock()
	ar, ok := e.active[reviewID]
	e.mu.Unlock()
	if !ok {
		return &RunStatus{Running: false}
	}
	return &RunStatus{
		Running:    true,
		AnalysisID: ar.runID,
		IsCouncil:  ar.configType == model.ConfigTypeCouncil,
		ConfigType: ar.configType,
		Config:     ar.snapshot,
	}
}

// voiceResult is what one voice execution produced
type voiceResult struct {
	voice       Voice
	suggestions []store.SuggestionInput
	summary     string
	filesSeen   int
	err         error
}

func (e *Engine) execute(ctx context.Context, ar *activeRun, run *model.AnalysisRun, req *StartRequest) {
	started := time.Now()
	defer func() {
		e.mu.Lock()
		if e.active[ar.reviewID] == ar {
			delete(e.active, ar.reviewID)
		}
		e.mu.Unlock()
	}()

	e.publishProgress(ar, bus.Message{"stage": "level_start", "level": req.Plan.Levels[0].Number})

	isCouncil := req.Plan.IsCouncilShaped()
	var allRaw []store.SuggestionInput
	var summaries []string
	var priorDigest string
	totalVoices := req.Plan.VoiceCount()
	doneVoices := 0

	for _, level := range req.Plan.Levels {
		if ctx.Err() != nil {
			e.finish(ar, run.ID, model.RunStatusCancelled, "", started)
			return
		}

		results := e.runLevel(ctx, ar, run, req, level, priorDigest, isCouncil)

		if ctx.Err() != nil {
			e.finish(ar, run.ID, model.RunStatusCancelled, "", started)
			return
		}

		for _, res := range results {
			doneVoices++
			if res.err != nil {
				if !isCouncil {
					// Single and advanced plans have no failure isolation
					e.finish(ar, run.ID, model.RunStatusFailed, res.err.Error(), started)
					return
				}
				continue
			}
			allRaw = append(allRaw, res.suggestions...)
			if res.summary != "" {
				summaries = append(summaries, res.summary)
			}
		}

		priorDigest = SuggestionDigest(allRaw)
		percent := doneVoices * 100 / max(totalVoices, 1)
		if req.Plan.Orchestration != nil && percent > 90 {
			percent = 90
		}
		e.publishProgress(ar, bus.Message{
			"stage": "level_done", "level": level.Number, "percent": percent,
		})
	}

	summary := joinSummaries(summaries)

	if req.Plan.Orchestration != nil {
		e.publishProgress(ar, bus.Message{"stage": "aggregation"})
		aggSummary, err := e.runAggregation(ctx, ar, run, req, allRaw, summaries)
		if err != nil {
			if ctx.Err() != nil {
				e.finish(ar, run.ID, model.RunStatusCancelled, "", started)
				return
			}
			e.finish(ar, run.ID, model.RunStatusFailed, err.Error(), started)
			return
		}
		if aggSummary != "" {
			summary = aggSummary
		}
	}

	if summary != "" {
		if err := e.store.Run().UpdateSummary(run.ID, summary); err != nil {
			logger.Error("Failed to persist run summary",
				zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	e.finish(ar, run.ID, model.RunStatusCompleted, "", started)
}

// runLevel executes one level's voices in parallel, bounded by the fan-out cap
func (e *Engine) runLevel(ctx context.Context, ar *activeRun, run *model.AnalysisRun, req *StartRequest, level Level, priorDigest string, isCouncil bool) []voiceResult {
	results := make([]voiceResult, len(level.Voices))

	sem := make(chan struct{}, fanOut(e.maxParallel, len(level.Voices)))
	var wg sync.WaitGroup
	for i, voice := range level.Voices {
		wg.Add(1)
		go func(i int, voice Voice) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.runVoice(ctx, ar, run, req, level.Number, voice, priorDigest, isCouncil)
		}(i, voice)
	}
	wg.Wait()
	return results
}

// runVoice spawns one provider, streams its output, and persists its
// suggestions on clean exit. Council voices get their own child run row.
func (e *Engine) runVoice(ctx context.Context, ar *activeRun, run *model.AnalysisRun, req *StartRequest, levelNum int, voice Voice, priorDigest string, isCouncil bool) voiceResult {
	res := voiceResult{voice: voice}
	voiceStart := time.Now()

	// Council and advanced plans parent a child run per voice
	var childID *string
	if run.ConfigType != model.ConfigTypeSingle {
		child := &model.AnalysisRun{
			ID:          idgen.NewRunID(),
			ReviewID:    run.ReviewID,
			ParentRunID: &run.ID,
			Provider:    &voice.Provider,
			Model:       &voice.Model,
			Tier:        &voice.Tier,
			Status:      model.RunStatusRunning,
			ConfigType:  run.ConfigType,
			HeadSHA:     run.HeadSHA,
		}
		if err := e.store.Run().Create(child); err != nil {
			res.err = err
			return res
		}
		childID = &child.ID
	}

	prompt := ReviewPrompt(req.Diff, levelNum,
		req.CustomInstructions, req.RepoInstructions, req.RequestInstructions, priorDigest)

	suggestions, summary, filesSeen, err := e.streamVoice(ctx, ar, voice, levelNum, prompt)
	res.summary = summary
	res.filesSeen = filesSeen

	if err != nil {
		res.err = err
		if childID != nil {
			e.markChildFailed(*childID, ctx, err)
		}
		telemetry.GetMetrics().RecordVoiceExecution(context.Background(), voice.Provider, false, time.Since(voiceStart).Seconds())
		logger.Warn("Voice failed",
			zap.String("run_id", run.ID),
			zap.String("provider", voice.Provider),
			zap.Int("level", levelNum),
			zap.Error(err),
		)
		return res
	}

	// Persist this voice's output under the child run when there is one
	targetRunID := run.ID
	if childID != nil {
		targetRunID = *childID
	}
	var voiceID *string
	if isCouncil {
		voiceID = &voice.VoiceID
	}
	lvl := levelNum
	inserted, err := e.store.Comment().BulkInsertSuggestions(run.ReviewID, store.SuggestionProvenance{
		RunID:   targetRunID,
		Level:   &lvl,
		VoiceID: voiceID,
		IsRaw:   isCouncil,
	}, suggestions)
	if err != nil {
		res.err = err
		if childID != nil {
			e.markChildFailed(*childID, ctx, err)
		}
		return res
	}

	if err := e.store.Run().IncrementTotals(run.ID, inserted, filesSeen); err != nil {
		logger.Error("Failed to update run totals", zap.String("run_id", run.ID), zap.Error(err))
	}
	if childID != nil {
		if err := e.store.Run().IncrementTotals(*childID, inserted, filesSeen); err != nil {
			logger.Error("Failed to update child run totals", zap.String("run_id", *childID), zap.Error(err))
		}
		if summary != "" {
			_ = e.store.Run().UpdateSummary(*childID, summary)
		}
		if _, err := e.store.Run().MarkTerminal(*childID, model.RunStatusCompleted, ""); err != nil {
			logger.Error("Failed to complete child run", zap.String("run_id", *childID), zap.Error(err))
		}
	}

	telemetry.GetMetrics().RecordVoiceExecution(context.Background(), voice.Provider, true, time.Since(voiceStart).Seconds())
	telemetry.GetMetrics().RecordSuggestions(context.Background(), voice.Provider, int64(inserted))

	res.suggestions = suggestions
	return res
}

// streamVoice spawns the process and consumes its event stream to completion
func (e *Engine) streamVoice(ctx context.Context, ar *activeRun, voice Voice, levelNum int, prompt string) ([]store.SuggestionInput, string, int, error) {
	def, err := e.registry.Get(voice.Provider)
	if err != nil {
		return nil, "", 0, err
	}

	proc, err := e.spawn(ctx, def, voice.Model, prompt, e.yolo)
	if err != nil {
		return nil, "", 0, err
	}
	ar.track(proc)
	defer ar.untrack(proc)

	// Make sure a context cancel reaches the process even between Kill sweeps
	stop := context.AfterFunc(ctx, proc.Kill)
	defer stop()

	var suggestions []store.SuggestionInput
	var summary string
	filesSeen := 0

	for ev := range provider.Parse(ctx, proc.Output()) {
		switch ev.Kind {
		case provider.EventFileStart:
			filesSeen++
			e.publishProgress(ar, bus.Message{
				"stage": "file_start", "level": levelNum, "voiceId": voice.VoiceID, "file": ev.File,
			})
		case provider.EventFileEnd:
			e.publishProgress(ar, bus.Message{
				"stage": "file_done", "level": levelNum, "voiceId": voice.VoiceID, "file": ev.File,
			})
		case provider.EventSuggestion:
			suggestions = append(suggestions, *ev.Suggestion)
		case provider.EventSummary:
			summary = ev.Summary
		}
	}

	if err := proc.Exit(); err != nil {
		return nil, summary, filesSeen, err
	}
	if ctx.Err() != nil {
		return nil, summary, filesSeen, errors.New(errors.ErrCodeAnalysisCancelled, "analysis cancelled")
	}
	return suggestions, summary, filesSeen, nil
}

// runAggregation executes the orchestration voice over the union of raw
// suggestions and persists the final set on the parent run
func (e *Engine) runAggregation(ctx context.Context, ar *activeRun, run *model.AnalysisRun, req *StartRequest, raw []store.SuggestionInput, summaries []string) (string, error) {
	voice := *req.Plan.Orchestration
	prompt := AggregationPrompt(req.Diff, raw, summaries)

	final, summary, _, err := e.streamVoice(ctx, ar, voice, orchestrationLevel, prompt)
	if err != nil {
		return "", err
	}

	// Final set and totals land in one transaction; raw per-voice inserts
	// stay durable regardless
	err = e.store.Transaction(func(tx store.Store) error {
		inserted, insErr := tx.Comment().BulkInsertSuggestions(run.ReviewID, store.SuggestionProvenance{
			RunID: run.ID,
			IsRaw: false,
		}, final)
		if insErr != nil {
			return insErr
		}
		return tx.Run().IncrementTotals(run.ID, inserted, 0)
	})
	if err != nil {
		return "", err
	}
	return summary, nil
}

func (e *Engine) markChildFailed(childID string, ctx context.Context, cause error) {
	status := model.RunStatusFailed
	if ctx.Err() != nil || errors.IsCode(cause, errors.ErrCodeAnalysisCancelled) {
		status = model.RunStatusCancelled
	}
	if _, err := e.store.Run().MarkTerminal(childID, status, cause.Error()); err != nil {
		logger.Error("Failed to mark child run terminal",
			zap.String("run_id", childID), zap.Error(err))
	}
}

// finish stamps the terminal status and publishes the terminal frame exactly
// once, no matter how many paths race into it
func (e *Engine) finish(ar *activeRun, runID string, status model.RunStatus, errMsg string, started time.Time) {
	changed, err := e.store.Run().MarkTerminal(runID, status, errMsg)
	if err != nil {
		logger.Error("Failed to mark run terminal",
			zap.String("run_id", runID), zap.Error(err))
		return
	}
	if !changed {
		return
	}

	e.publishTerminal(ar, status, errMsg)
	telemetry.GetMetrics().RecordRunCompleted(context.Background(), string(status), time.Since(started).Seconds())
	logger.Info("Analysis run finished",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.Duration("duration", time.Since(started)),
	)
}

func (e *Engine) publishProgress(ar *activeRun, fields bus.Message) {
	msg := bus.Message{
		"type":   "progress",
		"runId":  ar.runID,
		"status": string(model.RunStatusRunning),
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		msg[k] = v
	}
	e.bus.Publish(bus.RunTopic(ar.runID), msg)
}

func (e *Engine) publishTerminal(ar *activeRun, status model.RunStatus, errMsg string) {
	msg := bus.Message{
		"type":    "progress",
		"runId":   ar.runID,
		"status":  string(status),
		"percent": 100,
	}
	if errMsg != "" {
		msg["error"] = errMsg
	}
	e.bus.Publish(bus.RunTopic(ar.runID), msg)
	e.bus.Publish(bus.ReviewTopic(ar.reviewID), msg)
}

func fanOut(cap, voices int) int {
	if cap <= 0 || cap > voices {
		return max(voices, 1)
	}
	return cap
}

func joinSummaries(summaries []string) string {
	switch len(summaries) {
	case 0:
		return ""
	case 1:
		return summaries[0]
	}
	out := ""
	for i, s := range summaries {
		if i > 0 {
			out += "\n\n"
		}
		out += fmt.Sprintf("Reviewer %d: %s", i+1, s)
	}
	return out
}
