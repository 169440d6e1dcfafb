package examauditor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu        sync.Mutex
	questions map[string]Question
	insertErr error
	deleteErr error
}

func newFakeStore(questions ...Question) *fakeStore {
	s := &fakeStore{questions: make(map[string]Question)}
	for _, q := range questions {
		s.questions[q.ID] = q
	}
	return s
}

func (s *fakeStore) FetchAll(context.Context, StoreFilter) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Question, 0, len(s.questions))
	for _, q := range s.questions {
		out = append(out, q)
	}
	return out, nil
}

func (s *fakeStore) Update(_ context.Context, id string, _ map[string]interface{}) error {
	return nil
}

func (s *fakeStore) Insert(_ context.Context, q Question) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return "", s.insertErr
	}
	s.questions[q.ID] = q
	return q.ID, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.questions, id)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.questions[id]
	return ok
}

func (s *fakeStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions)
}

type testPipeline struct {
	pipeline  *Pipeline
	store     *fakeStore
	manifest  *Manifest
	genClient *fakeCompleter
	summary   *Summary
}

func newTestPipeline(t *testing.T, store *fakeStore, gateClient, genClient, judgeClient *fakeCompleter, maxAttempts int) *testPipeline {
	t.Helper()
	dir := t.TempDir()
	manifest, err := LoadManifest(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	attempts, err := OpenAttemptLog(filepath.Join(dir, "attempts.log"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { attempts.Close() })

	var gate *ReviewGate
	if gateClient != nil {
		gate = NewReviewGate(gateClient, "gpt-4o", nil)
	}
	summary := NewSummary("test-run")
	p := NewPipeline(PipelineDeps{
		Store:     store,
		Gate:      gate,
		Generator: NewCandidateGenerator(genClient, "gpt-4o", nil),
		Validator: NewConsensusValidator(
			[]Judge{{Name: "j1", Client: judgeClient, Model: "gpt-4o"}},
			fixedScorer{"fr": 0.99}, 0.60, nil),
		Manifest:  manifest,
		Attempts:  attempts,
		Summary:   summary,
		ReportDir: dir,
		Retry: RetryPolicy{
			MaxAttempts: maxAttempts,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
		Language: func(string) string { return "fr" },
		Log:      zap.NewNop().Sugar(),
	})
	p.sleep = func(time.Duration) {}
	return &testPipeline{pipeline: p, store: store, manifest: manifest, genClient: genClient, summary: summary}
}

func flaggedItem(q Question) FlaggedQuestion {
	return FlaggedQuestion{
		Question: q,
		Findings: []Finding{{
			QuestionID: q.ID,
			Kind:       FindingWeakExplanation,
			Message:    "explanation has 3 words, minimum is 12",
			Severity:   SeverityWarning,
		}},
	}
}

func approveArgs() string { return verdictArgs(true, true, true, true) }
func rejectArgs() string  { return verdictArgs(true, true, false, true) }

func TestPipelineCommitsApprovedReplacement(t *testing.T) {
	q := goodQuestion("q1")
	store := newFakeStore(q)
	gen := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("submit_question", goodDraftArgs),
	}}
	judge := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", approveArgs()),
	}}
	tp := newTestPipeline(t, store, nil, gen, judge, 3)

	if err := tp.pipeline.Run(context.Background(), []FlaggedQuestion{flaggedItem(q)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entry := tp.manifest.Entry("q1")
	if entry.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", entry)
	}
	if entry.GeneratedEntry == nil || entry.GeneratedEntry.Category != q.Category {
		t.Errorf("generated entry missing or wrong category: %+v", entry.GeneratedEntry)
	}
	if store.has("q1") {
		t.Error("original question should be deleted after commit")
	}
	if store.size() != 1 {
		t.Errorf("expected exactly the replacement in store, got %d questions", store.size())
	}
	if snap := tp.summary.Snapshot(); snap.Committed != 1 || snap.Failed != 0 {
		t.Errorf("unexpected summary: %+v", snap)
	}
}

func TestPipelineRegeneratesFreshDraftAfterRejection(t *testing.T) {
	q := goodQuestion("q1")
	store := newFakeStore(q)
	gen := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("submit_question", goodDraftArgs),
		toolResponse("submit_question", goodDraftArgs),
	}}
	judge := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", rejectArgs()),
		toolResponse("evaluate_replacement", approveArgs()),
	}}
	tp := newTestPipeline(t, store, nil, gen, judge, 3)

	if err := tp.pipeline.Run(context.Background(), []FlaggedQuestion{flaggedItem(q)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if gen.callCount() != 2 {
		t.Errorf("rejection must trigger a fresh draft, got %d generate calls", gen.callCount())
	}
	if entry := tp.manifest.Entry("q1"); entry.Status != StatusSuccess || entry.Attempts != 2 {
		t.Errorf("expected success after 2 attempts, got %+v", entry)
	}
	if snap := tp.summary.Snapshot(); snap.Retries != 1 {
		t.Errorf("expected 1 retry, got %d", snap.Retries)
	}
}

func TestPipelineFailsAfterAttemptsExhausted(t *testing.T) {
	q := goodQuestion("q1")
	store := newFakeStore(q)
	gen := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("submit_question", goodDraftArgs),
	}}
	judge := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", rejectArgs()),
	}}
	tp := newTestPipeline(t, store, nil, gen, judge, 2)

	if err := tp.pipeline.Run(context.Background(), []FlaggedQuestion{flaggedItem(q)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entry := tp.manifest.Entry("q1")
	if entry.Status != StatusFailed {
		t.Fatalf("expected failed, got %+v", entry)
	}
	if entry.LastError == "" {
		t.Error("failed entry must record the last error")
	}
	if entry.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", entry.Attempts)
	}
	if store.has("q1") == false {
		t.Error("original must survive when no replacement was committed")
	}
}

func TestPipelineResumeSkipsCommittedItems(t *testing.T) {
	q := goodQuestion("q1")
	store := newFakeStore(q)
	gen := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("submit_question", goodDraftArgs),
	}}
	judge := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", approveArgs()),
	}}
	tp := newTestPipeline(t, store, nil, gen, judge, 3)

	items := []FlaggedQuestion{flaggedItem(q)}
	if err := tp.pipeline.Run(context.Background(), items); err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := gen.callCount()

	if err := tp.pipeline.Run(context.Background(), items); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if gen.callCount() != callsAfterFirst {
		t.Errorf("successful item must not be reprocessed on resume")
	}
}

func TestPipelineClearedByReviewGate(t *testing.T) {
	q := goodQuestion("q1")
	store := newFakeStore(q)
	gate := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("review_findings", `{"confirmed":false,"rationale":"false positive"}`),
	}}
	gen := &fakeCompleter{}
	judge := &fakeCompleter{}
	tp := newTestPipeline(t, store, gate, gen, judge, 3)

	if err := tp.pipeline.Run(context.Background(), []FlaggedQuestion{flaggedItem(q)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if entry := tp.manifest.Entry("q1"); entry.Status != StatusCleared {
		t.Fatalf("expected cleared, got %+v", entry)
	}
	if gen.callCount() != 0 {
		t.Error("cleared findings must not trigger generation")
	}
	if !store.has("q1") {
		t.Error("cleared question must stay in the store")
	}
}

func TestPipelineReviewErrorFailsWithoutGeneration(t *testing.T) {
	q := goodQuestion("q1")
	store := newFakeStore(q)
	gate := &fakeCompleter{errs: []error{errors.New("judge unavailable")}}
	gen := &fakeCompleter{}
	tp := newTestPipeline(t, store, gate, gen, &fakeCompleter{}, 3)

	if err := tp.pipeline.Run(context.Background(), []FlaggedQuestion{flaggedItem(q)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entry := tp.manifest.Entry("q1")
	if entry.Status != StatusFailed || entry.LastError == "" {
		t.Fatalf("expected recorded failure, got %+v", entry)
	}
	if gen.callCount() != 0 {
		t.Error("review error must not trigger generation within the run")
	}
}

func TestPipelineStructuralRejectionNeverReachesJudges(t *testing.T) {
	q := goodQuestion("q1")
	store := newFakeStore(q)
	gen := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("submit_question", `{"question":{"text":"Q?","options":["seule"],"correct_answer":0,"explanation":"Une explication."}}`),
	}}
	judge := &fakeCompleter{}
	tp := newTestPipeline(t, store, nil, gen, judge, 2)

	if err := tp.pipeline.Run(context.Background(), []FlaggedQuestion{flaggedItem(q)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if judge.callCount() != 0 {
		t.Errorf("structurally invalid drafts must be rejected locally, judge saw %d calls", judge.callCount())
	}
	if entry := tp.manifest.Entry("q1"); entry.Status != StatusFailed {
		t.Fatalf("expected failed after exhausting invalid drafts, got %+v", entry)
	}
}

func TestPipelineStoreFailureIsTerminal(t *testing.T) {
	q := goodQuestion("q1")
	store := newFakeStore(q)
	store.insertErr = errors.New("disk full")
	gen := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("submit_question", goodDraftArgs),
	}}
	judge := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", approveArgs()),
	}}
	tp := newTestPipeline(t, store, nil, gen, judge, 3)

	if err := tp.pipeline.Run(context.Background(), []FlaggedQuestion{flaggedItem(q)}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entry := tp.manifest.Entry("q1")
	if entry.Status != StatusFailed {
		t.Fatalf("expected failed after store error, got %+v", entry)
	}
	if gen.callCount() != 1 {
		t.Errorf("store failure must not regenerate, got %d generate calls", gen.callCount())
	}
}

func TestRetryPolicyDelayBoundedAndCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		if d < 0 {
			t.Fatalf("negative delay at attempt %d", attempt)
		}
		if d > p.MaxDelay+p.BaseDelay {
			t.Errorf("delay %v at attempt %d exceeds cap plus jitter", d, attempt)
		}
	}
}

func TestPipelineFatalCredentialErrorAbortsRun(t *testing.T) {
	q1 := goodQuestion("q1")
	q2 := goodQuestion("q2")
	store := newFakeStore(q1, q2)
	gen := &fakeCompleter{errs: []error{
		&openai.APIError{HTTPStatusCode: 401, Message: "Incorrect API key provided"},
	}}
	judge := &fakeCompleter{}
	tp := newTestPipeline(t, store, nil, gen, judge, 3)

	err := tp.pipeline.Run(context.Background(), []FlaggedQuestion{flaggedItem(q1), flaggedItem(q2)})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError from Run, got %v", err)
	}
	if gen.callCount() != 1 {
		t.Errorf("a dead key must not be retried, got %d generate calls", gen.callCount())
	}
	if entry := tp.manifest.Entry("q1"); entry.Status != StatusPending {
		t.Errorf("aborted item must stay pending for resume, got %+v", entry)
	}
	if entry := tp.manifest.Entry("q2"); entry.Status != StatusPending || entry.Attempts != 0 {
		t.Errorf("items after the abort must be untouched, got %+v", entry)
	}
}

func TestPipelineInterruptFinishesItemInFlight(t *testing.T) {
	q1 := goodQuestion("q1")
	q2 := goodQuestion("q2")
	store := newFakeStore(q1, q2)
	gen := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("submit_question", goodDraftArgs),
	}}
	judge := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", approveArgs()),
	}}
	tp := newTestPipeline(t, store, nil, gen, judge, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancel during the pause between items, after the first item committed.
	tp.pipeline.itemPause = time.Millisecond
	tp.pipeline.sleep = func(time.Duration) { cancel() }

	err := tp.pipeline.Run(ctx, []FlaggedQuestion{flaggedItem(q1), flaggedItem(q2)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if entry := tp.manifest.Entry("q1"); entry.Status != StatusSuccess {
		t.Fatalf("in-flight item must finish before the run stops, got %+v", entry)
	}
	if entry := tp.manifest.Entry("q2"); entry.Status != StatusPending || entry.Attempts != 0 {
		t.Errorf("remaining items must be left pending, got %+v", entry)
	}
	if !store.has("q2") {
		t.Error("unprocessed originals must stay in the store")
	}

	// The flushed manifest on disk carries the same state, so -resume picks up
	// exactly where the interrupt left off.
	reloaded, err := LoadManifest(tp.manifest.path)
	if err != nil {
		t.Fatalf("LoadManifest after interrupt: %v", err)
	}
	if entry := reloaded.Entry("q1"); entry.Status != StatusSuccess {
		t.Errorf("flushed manifest must record the committed item, got %+v", entry)
	}
	if reloaded.IsDone("q2") {
		t.Error("interrupted item must not be marked done on disk")
	}

	if err := tp.pipeline.Run(context.Background(), []FlaggedQuestion{flaggedItem(q1), flaggedItem(q2)}); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if gen.callCount() != 2 {
		t.Errorf("resume must process only the interrupted item, got %d generate calls", gen.callCount())
	}
	if entry := tp.manifest.Entry("q2"); entry.Status != StatusSuccess {
		t.Errorf("resumed run must finish the remaining item, got %+v", entry)
	}
}
