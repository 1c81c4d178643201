package orchestrator

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairreview/pairreview/internal/bus"
	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/internal/provider"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/errors"
)

// fakeProcess is a scripted provider subprocess
type fakeProcess struct {
	reader  io.ReadCloser
	exitErr error

	killOnce sync.Once
	killed   chan struct{}
}

func newFakeProcess(output string, exitErr error) *fakeProcess {
	return &fakeProcess{
		reader:  io.NopCloser(strings.NewReader(output)),
		exitErr: exitErr,
		killed:  make(chan struct{}),
	}
}

// newBlockedProcess returns a process whose output only ends when killed
func newBlockedProcess() *fakeProcess {
	pr, pw := io.Pipe()
	p := &fakeProcess{reader: pr, killed: make(chan struct{})}
	go func() {
		<-p.killed
		pw.Close()
	}()
	return p
}

func (p *fakeProcess) Output() io.ReadCloser { return p.reader }
func (p *fakeProcess) Exit() error           { return p.exitErr }
func (p *fakeProcess) Kill() {
	p.killOnce.Do(func() { close(p.killed) })
}

// scriptedSpawner hands out processes keyed by provider id, in spawn order
// within each provider. It records every prompt it saw.
type scriptedSpawner struct {
	mu      sync.Mutex
	scripts map[string][]*fakeProcess
	prompts []string
}

func (s *scriptedSpawner) spawn(ctx context.Context, def *provider.Definition, modelID, prompt string, yolo bool) (VoiceProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	queue := s.scripts[def.ID]
	if len(queue) == 0 {
		return nil, errors.New(errors.ErrCodeProviderSpawn, "no script for "+def.ID)
	}
	proc := queue[0]
	s.scripts[def.ID] = queue[1:]
	return proc, nil
}

func newEngineForTest(t *testing.T, spawner *scriptedSpawner) (*Engine, store.Store, *bus.Bus, func()) {
	t.Helper()
	s, cleanup := store.SetupTestDB(t)
	b := bus.New()
	e := NewEngine(s, provider.NewRegistry(nil), b, Options{Spawner: spawner.spawn})
	return e, s, b, cleanup
}

// waitTerminal polls until the run reaches a terminal status
func waitTerminal(t *testing.T, s store.Store, runID string) *model.AnalysisRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := s.Run().GetByID(runID)
		require.NoError(t, err)
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal status")
	return nil
}

const singleVoiceOutput = `{"kind":"file_start","file":"a.go"}
{"kind":"suggestion","file":"a.go","type":"bug","title":"nil deref","description":"x may be nil","line":12}
{"kind":"suggestion","file":"a.go","type":"style","title":"naming","description":"rename x"}
{"kind":"file_end"}
{"kind":"summary","text":"two findings"}
`

// TestEngine_SingleRunCompletes tests the full single-voice happy path
func TestEngine_SingleRunCompletes(t *testing.T) {
	spawner := &scriptedSpawner{scripts: map[string][]*fakeProcess{
		"claude": {newFakeProcess(singleVoiceOutput, nil)},
	}}
	e, s, _, cleanup := newEngineForTest(t, spawner)
	defer cleanup()

	review := store.CreateTestLocalReview(t, s)
	plan, err := ResolveSingle(e.registry, &SingleRequest{Provider: "claude"})
	require.NoError(t, err)

	run, err := e.Start(context.Background(), &StartRequest{
		Review:             review,
		Plan:               plan,
		Diff:               "diff --git a/a.go b/a.go",
		HeadSHA:            "abc123",
		CustomInstructions: "watch for locking",
	})
	require.NoError(t, err)
	require.NotNil(t, run.Provider)
	assert.Equal(t, "claude", *run.Provider)
	assert.Equal(t, "abc123", run.HeadSHA)

	final := waitTerminal(t, s, run.ID)
	assert.Equal(t, model.RunStatusCompleted, final.Status)
	assert.Equal(t, "two findings", final.Summary)
	assert.Equal(t, 2, final.TotalSuggestions)
	assert.Equal(t, 1, final.FilesAnalyzed)
	require.NotNil(t, final.CompletedAt)

	// Suggestions land as final (non-raw) rows on the parent run
	suggestions, err := s.Comment().ListSuggestions(review.ID, &run.ID, false)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.False(t, suggestions[0].IsRaw)
	require.NotNil(t, suggestions[0].AILevel)
	assert.Equal(t, 1, *suggestions[0].AILevel)
	assert.True(t, suggestions[1].IsFileLevel, "suggestion without line is file-level")

	// The prompt carried the reviewer instructions
	require.Len(t, spawner.prompts, 1)
	assert.Contains(t, spawner.prompts[0], "watch for locking")
	assert.Contains(t, spawner.prompts[0], "diff --git a/a.go")
}

// TestEngine_SingleRunFailure tests that a failing voice fails the run
func TestEngine_SingleRunFailure(t *testing.T) {
	spawner := &scriptedSpawner{scripts: map[string][]*fakeProcess{
		"claude": {newFakeProcess("", errors.New(errors.ErrCodeProviderFailed, "exit status 1"))},
	}}
	e, s, _, cleanup := newEngineForTest(t, spawner)
	defer cleanup()

	review := store.CreateTestLocalReview(t, s)
	plan, err := ResolveSingle(e.registry, &SingleRequest{Provider: "claude"})
	require.NoError(t, err)

	run, err := e.Start(context.Background(), &StartRequest{Review: review, Plan: plan, Diff: "d"})
	require.NoError(t, err)

	final := waitTerminal(t, s, run.ID)
	assert.Equal(t, model.RunStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "exit status 1")
}

// TestEngine_ConflictWhileRunning tests the one-run-per-review guard
func TestEngine_ConflictWhileRunning(t *testing.T) {
	blocked := newBlockedProcess()
	spawner := &scriptedSpawner{scripts: map[string][]*fakeProcess{
		"claude": {blocked},
	}}
	e, s, _, cleanup := newEngineForTest(t, spawner)
	defer cleanup()

	review := store.CreateTestLocalReview(t, s)
	plan, err := ResolveSingle(e.registry, &SingleRequest{Provider: "claude"})
	require.NoError(t, err)

	run, err := e.Start(context.Background(), &StartRequest{Review: review, Plan: plan, Diff: "d"})
	require.NoError(t, err)

	// Second start is rejected with the running analysis id
	_, err = e.Start(context.Background(), &StartRequest{Review: review, Plan: plan, Diff: "d"})
	require.Error(t, err)
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeConflict, appErr.Code)
	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, run.ID, details["analysisId"])

	status := e.Status(review.ID)
	assert.True(t, status.Running)
	assert.Equal(t, run.ID, status.AnalysisID)

	require.NoError(t, e.Cancel(review.ID))
	waitTerminal(t, s, run.ID)
}

// TestEngine_Cancel tests cancellation teardown
func TestEngine_Cancel(t *testing.T) {
	blocked := newBlockedProcess()
	spawner := &scriptedSpawner{scripts: map[string][]*fakeProcess{
		"claude": {blocked},
	}}
	e, s, b, cleanup := newEngineForTest(t, spawner)
	defer cleanup()

	review := store.CreateTestLocalReview(t, s)
	plan, err := ResolveSingle(e.registry, &SingleRequest{Provider: "claude"})
	require.NoError(t, err)

	run, err := e.Start(context.Background(), &StartRequest{Review: review, Plan: plan, Diff: "d"})
	require.NoError(t, err)

	// Give the voice a moment to spawn, then cancel
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Cancel(review.ID))

	select {
	case <-blocked.killed:
	case <-time.After(time.Second):
		t.Fatal("cancel did not kill the subprocess")
	}

	final := waitTerminal(t, s, run.ID)
	assert.Equal(t, model.RunStatusCancelled, final.Status)

	// The review topic carries the terminal frame for later subscribers
	sub := b.Subscribe(bus.RunTopic(run.ID))
	defer b.Unsubscribe(sub)
	<-sub.Frames() // connected marker
	select {
	case msg := <-sub.Frames():
		assert.Equal(t, "cancelled", msg["status"])
		assert.Equal(t, 100, msg["percent"])
	case <-time.After(time.Second):
		t.Fatal("no terminal replay on the run topic")
	}

	// Cancelling with nothing running reports not-found
	deadline := time.Now().Add(2 * time.Second)
	for e.Status(review.ID).Running && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	err = e.Cancel(review.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

const voiceOutputTemplate = `{"kind":"file_start","file":"%FILE%"}
{"kind":"suggestion","file":"%FILE%","type":"bug","title":"%TITLE%","description":"d","line":3}
{"kind":"summary","text":"%SUMMARY%"}
`

func voiceOutput(file, title, summary string) string {
	out := strings.ReplaceAll(voiceOutputTemplate, "%FILE%", file)
	out = strings.ReplaceAll(out, "%TITLE%", title)
	return strings.ReplaceAll(out, "%SUMMARY%", summary)
}

// TestEngine_CouncilRun tests the council fan-out and aggregation pipeline
func TestEngine_CouncilRun(t *testing.T) {
	aggregated := `{"kind":"suggestion","file":"a.go","type":"bug","title":"merged finding","description":"d","line":3}
{"kind":"summary","text":"council verdict"}
`
	spawner := &scriptedSpawner{scripts: map[string][]*fakeProcess{
		// Two level-1 voices, then the claude orchestration pass
		"claude": {newFakeProcess(voiceOutput("a.go", "from claude", "claude summary"), nil), newFakeProcess(aggregated, nil)},
		"codex":  {newFakeProcess(voiceOutput("a.go", "from codex", "codex summary"), nil)},
	}}
	e, s, _, cleanup := newEngineForTest(t, spawner)
	defer cleanup()

	review := store.CreateTestLocalReview(t, s)
	plan, err := ResolveCouncil(e.registry, model.ConfigTypeCouncil, model.CouncilConfig{
		"1": {Enabled: true, Voices: []model.CouncilVoice{
			{Provider: "claude"}, {Provider: "codex"},
		}},
		"4": {Enabled: true, Voices: []model.CouncilVoice{{Provider: "claude", Model: "opus"}}},
	})
	require.NoError(t, err)

	run, err := e.Start(context.Background(), &StartRequest{Review: review, Plan: plan, Diff: "d"})
	require.NoError(t, err)
	assert.Nil(t, run.Provider, "council parent rows carry no provider")

	final := waitTerminal(t, s, run.ID)
	assert.Equal(t, model.RunStatusCompleted, final.Status)
	assert.Equal(t, "council verdict", final.Summary)

	// One child run per voice, all completed
	children, err := s.Run().ListChildren(run.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, child := range children {
		assert.Equal(t, model.RunStatusCompleted, child.Status)
		require.NotNil(t, child.Provider)
	}

	// Raw per-voice rows carry voice ids; the final set hangs off the parent
	raw, err := s.Comment().ListSuggestions(review.ID, nil, true)
	require.NoError(t, err)
	rawCount, finalCount := 0, 0
	for _, c := range raw {
		if c.IsRaw {
			rawCount++
			require.NotNil(t, c.VoiceID)
		} else {
			finalCount++
			assert.Equal(t, "merged finding", c.Title)
			require.NotNil(t, c.AIRunID)
			assert.Equal(t, run.ID, *c.AIRunID)
		}
	}
	assert.Equal(t, 2, rawCount)
	assert.Equal(t, 1, finalCount)

	// Default listing hides the raw rows
	visible, err := s.Comment().ListSuggestions(review.ID, nil, false)
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

// TestEngine_CouncilToleratesVoiceFailure tests council failure isolation
func TestEngine_CouncilToleratesVoiceFailure(t *testing.T) {
	aggregated := `{"kind":"suggestion","file":"a.go","type":"bug","title":"kept","description":"d","line":3}
`
	spawner := &scriptedSpawner{scripts: map[string][]*fakeProcess{
		"claude": {newFakeProcess(voiceOutput("a.go", "ok", "s"), nil), newFakeProcess(aggregated, nil)},
		"codex":  {newFakeProcess("", errors.New(errors.ErrCodeProviderFailed, "crashed"))},
	}}
	e, s, _, cleanup := newEngineForTest(t, spawner)
	defer cleanup()

	review := store.CreateTestLocalReview(t, s)
	plan, err := ResolveCouncil(e.registry, model.ConfigTypeCouncil, model.CouncilConfig{
		"1": {Enabled: true, Voices: []model.CouncilVoice{
			{Provider: "claude"}, {Provider: "codex"},
		}},
		"4": {Enabled: true, Voices: []model.CouncilVoice{{Provider: "claude"}}},
	})
	require.NoError(t, err)

	run, err := e.Start(context.Background(), &StartRequest{Review: review, Plan: plan, Diff: "d"})
	require.NoError(t, err)

	final := waitTerminal(t, s, run.ID)
	assert.Equal(t, model.RunStatusCompleted, final.Status,
		"a failed council voice must not fail the run")

	children, err := s.Run().ListChildren(run.ID)
	require.NoError(t, err)
	statuses := map[model.RunStatus]int{}
	for _, child := range children {
		statuses[child.Status]++
	}
	assert.Equal(t, 1, statuses[model.RunStatusCompleted])
	assert.Equal(t, 1, statuses[model.RunStatusFailed])
}

// TestEngine_StaleRunningRowFailedOnStart tests crash-leftover recovery
func TestEngine_StaleRunningRowFailedOnStart(t *testing.T) {
	spawner := &scriptedSpawner{scripts: map[string][]*fakeProcess{
		"claude": {newFakeProcess(singleVoiceOutput, nil)},
	}}
	e, s, _, cleanup := newEngineForTest(t, spawner)
	defer cleanup()

	review := store.CreateTestLocalReview(t, s)
	stale := store.CreateTestRun(t, s, review.ID)

	plan, err := ResolveSingle(e.registry, &SingleRequest{Provider: "claude"})
	require.NoError(t, err)
	run, err := e.Start(context.Background(), &StartRequest{Review: review, Plan: plan, Diff: "d"})
	require.NoError(t, err)

	staleRow, err := s.Run().GetByID(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, staleRow.Status)
	assert.Contains(t, staleRow.ErrorMessage, "interrupted by restart")

	waitTerminal(t, s, run.ID)
}

// TestEngine_MultiLevelPriorDigest tests that later levels see earlier findings
func TestEngine_MultiLevelPriorDigest(t *testing.T) {
	spawner := &scriptedSpawner{scripts: map[string][]*fakeProcess{
		"claude": {
			newFakeProcess(voiceOutput("a.go", "level one finding", "s1"), nil),
			newFakeProcess(voiceOutput("b.go", "level two finding", "s2"), nil),
		},
	}}
	e, s, _, cleanup := newEngineForTest(t, spawner)
	defer cleanup()

	review := store.CreateTestLocalReview(t, s)
	plan, err := ResolveSingle(e.registry, &SingleRequest{
		Provider:      "claude",
		EnabledLevels: []int{1, 2},
	})
	require.NoError(t, err)

	run, err := e.Start(context.Background(), &StartRequest{Review: review, Plan: plan, Diff: "d"})
	require.NoError(t, err)
	waitTerminal(t, s, run.ID)

	require.Len(t, spawner.prompts, 2)
	assert.NotContains(t, spawner.prompts[0], "level one finding")
	assert.Contains(t, spawner.prompts[1], "level one finding",
		"the second level prompt must carry the first level's digest")
}
