package examauditor

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryPolicy bounds attempts and computes the jittered backoff between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the sleep before retrying after the given 1-based attempt:
// BaseDelay doubled per attempt, capped at MaxDelay, plus uniform jitter of up
// to half the base so sequential retries against the same provider
// desynchronize.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(p.BaseDelay)/2 + 1))
	return delay + jitter
}

// FlaggedQuestion pairs a question with the findings that flagged it.
type FlaggedQuestion struct {
	Question Question
	Findings []Finding
}

// Pipeline replaces flagged questions one at a time: review, generate,
// validate, commit, with checkpointed progress after every item. Items are
// processed strictly sequentially.
type Pipeline struct {
	store     QuestionStore
	gate      *ReviewGate // nil disables the review stage
	generator *CandidateGenerator
	validator *ConsensusValidator
	manifest  *Manifest
	attempts  *AttemptLog
	summary   *Summary
	reportDir string
	retry     RetryPolicy
	language  func(category string) string
	itemPause time.Duration
	callTO    time.Duration
	log       *zap.SugaredLogger

	sleep func(time.Duration) // test seam
}

// PipelineDeps collects everything a Pipeline needs; all model access comes in
// as constructed components, never as globals.
type PipelineDeps struct {
	Store     QuestionStore
	Gate      *ReviewGate
	Generator *CandidateGenerator
	Validator *ConsensusValidator
	Manifest  *Manifest
	Attempts  *AttemptLog
	Summary   *Summary
	ReportDir string
	Retry     RetryPolicy
	// Language maps a category to the expected language code for generation
	// prompts and the local language check. May return "".
	Language  func(category string) string
	ItemPause time.Duration
	CallTO    time.Duration
	Log       *zap.SugaredLogger
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	lang := deps.Language
	if lang == nil {
		lang = func(string) string { return "" }
	}
	callTO := deps.CallTO
	if callTO <= 0 {
		callTO = 2 * time.Minute
	}
	return &Pipeline{
		store:     deps.Store,
		gate:      deps.Gate,
		generator: deps.Generator,
		validator: deps.Validator,
		manifest:  deps.Manifest,
		attempts:  deps.Attempts,
		summary:   deps.Summary,
		reportDir: deps.ReportDir,
		retry:     deps.Retry,
		language:  lang,
		itemPause: deps.ItemPause,
		callTO:    callTO,
		log:       deps.Log,
		sleep:     time.Sleep,
	}
}

// Run processes the flagged questions in order. Cancellation of ctx is honored
// between items only: the item in flight always finishes and its state is
// flushed before Run returns, so re-invocation with the same manifest resumes
// cleanly. Fatal configuration errors abort immediately.
func (p *Pipeline) Run(ctx context.Context, flagged []FlaggedQuestion) error {
	p.summary.Bump(func(s *Summary) { s.Flagged = len(flagged) })
	p.flushProgress()

	for i, item := range flagged {
		if err := ctx.Err(); err != nil {
			p.log.Infow("run interrupted, state flushed", "remaining", len(flagged)-i)
			p.flushProgress()
			return err
		}

		id := item.Question.ID
		if p.manifest.IsDone(id) {
			p.log.Debugw("skipping already-processed question", "question_id", id)
			continue
		}

		p.summary.Bump(func(s *Summary) { s.Processed++ })
		if err := p.processItem(item); err != nil {
			// Only fatal errors escape processItem.
			p.flushProgress()
			return err
		}
		p.flushProgress()

		snap := p.summary.Snapshot()
		p.log.Infow("progress",
			"processed", snap.Processed,
			"committed", snap.Committed,
			"failed", snap.Failed,
			"cleared", snap.Cleared,
			"retries", snap.Retries)

		if p.itemPause > 0 && i < len(flagged)-1 {
			p.sleep(p.itemPause)
		}
	}
	return nil
}

// flushProgress persists the manifest and summary. Flush failures are logged,
// not fatal.
func (p *Pipeline) flushProgress() {
	if err := p.manifest.Flush(); err != nil {
		p.log.Errorw("failed to flush manifest", "error", err)
	}
	if err := p.summary.Write(filepath.Join(p.reportDir, "summary.json")); err != nil {
		p.log.Errorw("failed to write summary", "error", err)
	}
}

// processItem runs the full state machine for one question. Its return value
// is nil unless the run must abort (ConfigError); item-level failures are
// recorded in the manifest instead.
func (p *Pipeline) processItem(item FlaggedQuestion) error {
	q := item.Question
	fsm, err := newItemMachine(q.ID)
	if err != nil {
		return &ConfigError{Reason: err.Error()}
	}
	log := p.log.With("question_id", q.ID)

	// Review stage.
	if p.gate != nil {
		fsm.fire(eventFlag)
		ctx, cancel := p.callContext()
		review := p.gate.Review(ctx, q, item.Findings)
		cancel()
		p.logAttempt(AttemptRecord{
			QuestionID: q.ID, Stage: "review",
			Outcome: string(review.Outcome), Detail: review.Rationale,
		})

		switch review.Outcome {
		case ReviewCleared:
			fsm.fire(eventClear)
			p.manifest.Update(q.ID, func(e *ManifestEntry) {
				e.Status = StatusCleared
				e.LastError = ""
			})
			p.summary.Bump(func(s *Summary) { s.Cleared++ })
			log.Infow("findings cleared by review gate", "rationale", review.Rationale)
			return nil
		case ReviewError:
			if IsFatal(review.Err) {
				// Abort without marking the item, so a resumed run with
				// working credentials starts it from scratch.
				fsm.fire(eventFail)
				return review.Err
			}
			// Not retried within this run; a resumed run picks it up again.
			fsm.fire(eventFail)
			p.manifest.Update(q.ID, func(e *ManifestEntry) {
				e.Status = StatusFailed
				e.LastError = "review gate error: " + review.Rationale
			})
			p.summary.Bump(func(s *Summary) { s.Failed++ })
			log.Warnw("review gate error", "error", review.Rationale)
			return nil
		default:
			fsm.fire(eventConfirm)
		}
	} else {
		fsm.fire(eventSkip)
	}

	target := p.buildTarget(item)
	var lastErr string

	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		p.manifest.Update(q.ID, func(e *ManifestEntry) { e.Attempts = attempt })

		outcome, err := p.attemptOnce(fsm, q, target, attempt)
		if err != nil {
			if IsFatal(err) {
				// The run aborts; the item stays pending in the manifest so a
				// resumed run retries it.
				fsm.fire(eventFail)
				return err
			}
			lastErr = err.Error()
		}
		if outcome == StateCommitted || outcome == StateFailed {
			// Committed, or terminally failed inside the attempt (store
			// errors exhaust their own bounded retry).
			return nil
		}
		if attempt < p.retry.MaxAttempts {
			p.summary.Bump(func(s *Summary) { s.Retries++ })
			fsm.fire(eventRetry)
			delay := p.retry.Delay(attempt)
			log.Debugw("retrying after backoff", "attempt", attempt, "delay", delay, "error", lastErr)
			p.sleep(delay)
		}
	}

	fsm.fire(eventFail)
	p.manifest.Update(q.ID, func(e *ManifestEntry) {
		e.Status = StatusFailed
		e.LastError = lastErr
	})
	p.summary.Bump(func(s *Summary) { s.Failed++ })
	log.Warnw("attempts exhausted", "attempts", p.retry.MaxAttempts, "last_error", lastErr)
	return nil
}

// attemptOnce performs one generate-validate-commit cycle. It returns the
// reached state and, when short of Committed, the error that stopped it.
func (p *Pipeline) attemptOnce(fsm *itemMachine, q Question, target ReplacementTarget, attempt int) (string, error) {
	log := p.log.With("question_id", q.ID, "attempt", attempt)

	ctx, cancel := p.callContext()
	candidate, err := p.generator.Generate(ctx, target)
	cancel()
	if err != nil {
		p.logAttempt(AttemptRecord{
			QuestionID: q.ID, Attempt: attempt, Stage: "generate",
			Outcome: "error", Error: err.Error(),
		})
		return fsm.current(), err
	}
	p.logAttempt(AttemptRecord{
		QuestionID: q.ID, Attempt: attempt, Stage: "generate", Outcome: "draft",
	})
	fsm.fire(eventDraft)

	ctx, cancel = p.callContext()
	result, err := p.validator.Validate(ctx, candidate, target)
	cancel()
	if err != nil {
		p.logAttempt(AttemptRecord{
			QuestionID: q.ID, Attempt: attempt, Stage: "validate",
			Outcome: "error", Error: err.Error(),
		})
		return fsm.current(), err
	}
	if !result.Approved {
		p.logAttempt(AttemptRecord{
			QuestionID: q.ID, Attempt: attempt, Stage: "validate",
			Outcome: "rejected", Detail: result.Reason,
		})
		return fsm.current(), &ValidationRejectedError{Reason: result.Reason}
	}
	p.logAttempt(AttemptRecord{
		QuestionID: q.ID, Attempt: attempt, Stage: "validate", Outcome: "approved",
	})

	replacement := candidate.AsQuestion(uuid.NewString(), q, time.Now())
	if err := p.commit(q, replacement); err != nil {
		p.logAttempt(AttemptRecord{
			QuestionID: q.ID, Attempt: attempt, Stage: "commit",
			Outcome: "error", Error: err.Error(),
		})
		p.manifest.Update(q.ID, func(e *ManifestEntry) {
			e.Status = StatusFailed
			e.LastError = err.Error()
		})
		p.summary.Bump(func(s *Summary) { s.Failed++ })
		fsm.fire(eventFail)
		log.Errorw("commit failed", "error", err)
		// Store errors are not retried with a new draft; they already went
		// through their own bounded retry inside commit.
		return StateFailed, nil
	}
	p.logAttempt(AttemptRecord{
		QuestionID: q.ID, Attempt: attempt, Stage: "commit",
		Outcome: "committed", Detail: replacement.ID,
	})

	fsm.fire(eventCommit)
	p.manifest.Update(q.ID, func(e *ManifestEntry) {
		e.Status = StatusSuccess
		e.LastError = ""
		e.GeneratedEntry = &replacement
	})
	p.summary.Bump(func(s *Summary) { s.Committed++ })
	log.Infow("replacement committed", "replacement_id", replacement.ID)
	return StateCommitted, nil
}

// commit replaces the original wholesale: insert the replacement, then delete
// the original. Each store call gets a small bounded retry. A failed delete
// triggers a best-effort compensating delete of the fresh insert so the
// catalog is not left with both questions.
func (p *Pipeline) commit(original, replacement Question) error {
	ctx, cancel := p.callContext()
	defer cancel()

	ins := retry.New[string](retry.Config{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		BackoffPolicy: retry.BackoffExponential,
	})
	insertedID, err := ins.Do(ctx, func(ctx context.Context) (string, error) {
		return p.store.Insert(ctx, replacement)
	})
	if err != nil {
		return &StoreError{Op: "insert", QuestionID: original.ID, Err: err}
	}

	del := retry.New[struct{}](retry.Config{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		BackoffPolicy: retry.BackoffExponential,
	})
	_, err = del.Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.store.Delete(ctx, original.ID)
	})
	if err != nil {
		if _, compErr := del.Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.store.Delete(ctx, insertedID)
		}); compErr != nil {
			p.log.Errorw("manual reconciliation required: replacement inserted, original not deleted, compensation failed",
				"original_id", original.ID,
				"replacement_id", insertedID,
				"delete_error", err,
				"compensation_error", compErr)
		}
		return &StoreError{Op: "delete", QuestionID: original.ID, Err: err}
	}
	return nil
}

func (p *Pipeline) buildTarget(item FlaggedQuestion) ReplacementTarget {
	q := item.Question
	reasons := make([]string, 0, len(item.Findings))
	for _, f := range item.Findings {
		reasons = append(reasons, fmt.Sprintf("%s: %s", f.Kind, f.Message))
	}
	return ReplacementTarget{
		QuestionID:  q.ID,
		ExamType:    q.ExamType,
		Category:    q.Category,
		SubCategory: q.SubCategory,
		Difficulty:  q.Difficulty,
		Language:    p.language(q.Category),
		Reasons:     reasons,
	}
}

// callContext bounds one external call. It deliberately does not inherit the
// run's cancellation: an interrupt must let the in-flight item finish.
func (p *Pipeline) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.callTO)
}

func (p *Pipeline) logAttempt(rec AttemptRecord) {
	rec.Time = time.Now()
	rec.RunID = p.summary.RunID
	if err := p.attempts.Append(rec); err != nil {
		p.log.Errorw("failed to append attempt record", "error", err)
	}
}
