package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"examauditor"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("regen: %v", err)
	}
}

func run() error {
	var (
		dbPath     = flag.String("db", "", "Path to the question database (default: from config)")
		configPath = flag.String("config", "", "Path to YAML config file")
		apiKey     = flag.String("api-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		category   = flag.String("category", "", "Only process questions in this category")
		examType   = flag.String("exam-type", "", "Only process questions for this exam type")
		maxItems   = flag.Int("max-items", 0, "Stop after this many flagged questions (0 = all)")
		resume     = flag.Bool("resume", false, "Resume from the existing manifest instead of starting fresh")
		skipReview = flag.Bool("skip-review", false, "Disable the model-backed review gate")
		verbose    = flag.Bool("verbose", false, "Enable verbose debugging output")
	)
	flag.Parse()

	cfg, err := examauditor.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *dbPath != "" {
		cfg.StorePath = *dbPath
	}

	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
		if *apiKey == "" {
			return errors.New("OpenAI API key is required: use -api-key or set OPENAI_API_KEY")
		}
	}

	logger, err := examauditor.NewLogger(*verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := examauditor.OpenSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open question store %s: %w", cfg.StorePath, err)
	}
	defer store.Close()

	questions, err := store.FetchAll(ctx, examauditor.StoreFilter{
		Category: *category,
		ExamType: *examType,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch questions: %w", err)
	}

	builder := &examauditor.ClusterBuilder{
		DuplicateThreshold: cfg.DuplicateThreshold,
		Prefilter: &examauditor.TopicPrefilter{
			SharedKeyTerms:    cfg.SharedKeyTerms,
			GroupingThreshold: cfg.GroupingThreshold,
		},
	}
	clusters := builder.Build(questions)

	scorer := examauditor.NewLinguaScorer()
	runner := examauditor.NewAuditRunner(cfg.AuditConfig(), scorer, logger)
	grouped := examauditor.GroupFindings(runner.Run(questions, clusters))

	var flagged []examauditor.FlaggedQuestion
	for _, q := range questions {
		findings, ok := grouped[q.ID]
		if !ok {
			continue
		}
		flagged = append(flagged, examauditor.FlaggedQuestion{Question: q, Findings: findings})
	}
	if *maxItems > 0 && len(flagged) > *maxItems {
		flagged = flagged[:*maxItems]
	}
	logger.Infow("audit pass complete", "questions", len(questions), "flagged", len(flagged))
	if len(flagged) == 0 {
		logger.Info("nothing to do")
		return nil
	}

	manifestPath := filepath.Join(cfg.ReportDir, "manifest.json")
	if !*resume {
		if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to reset manifest: %w", err)
		}
	}
	manifest, err := examauditor.LoadManifest(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	attempts, err := examauditor.OpenAttemptLog(filepath.Join(cfg.ReportDir, "attempts.log"))
	if err != nil {
		return fmt.Errorf("failed to open attempt log: %w", err)
	}
	defer attempts.Close()

	runID := uuid.NewString()
	transcript, err := examauditor.NewTranscriptLog(cfg.ReportDir, runID)
	if err != nil {
		return fmt.Errorf("failed to open transcript log: %w", err)
	}
	defer transcript.Close()

	client := openai.NewClient(*apiKey)
	var gate *examauditor.ReviewGate
	if !*skipReview {
		gate = examauditor.NewReviewGate(client, cfg.ReviewModel, transcript)
	}
	judges := make([]examauditor.Judge, 0, len(cfg.JudgeModels))
	for _, model := range cfg.JudgeModels {
		judges = append(judges, examauditor.Judge{Name: model, Client: client, Model: model})
	}

	pipeline := examauditor.NewPipeline(examauditor.PipelineDeps{
		Store:     store,
		Gate:      gate,
		Generator: examauditor.NewCandidateGenerator(client, cfg.GeneratorModel, transcript),
		Validator: examauditor.NewConsensusValidator(judges, scorer, cfg.LanguageThreshold, transcript),
		Manifest:  manifest,
		Attempts:  attempts,
		Summary:   examauditor.NewSummary(runID),
		ReportDir: cfg.ReportDir,
		Retry:     cfg.RetryPolicy(),
		Language:  cfg.ExpectedLanguage,
		ItemPause: cfg.ItemPause.Std(),
		CallTO:    cfg.CallTimeout.Std(),
		Log:       logger,
	})

	if err := pipeline.Run(ctx, flagged); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Infow("run interrupted; re-run with -resume to continue", "run_id", runID)
			return nil
		}
		return fmt.Errorf("run aborted: %w", err)
	}

	counts := manifest.Counts()
	logger.Infow("run complete",
		"run_id", runID,
		"success", counts[examauditor.StatusSuccess],
		"failed", counts[examauditor.StatusFailed],
		"cleared", counts[examauditor.StatusCleared])
	if failed := manifest.FailedIDs(); len(failed) > 0 {
		logger.Warnw("failed items need triage", "ids", failed)
	}
	return nil
}
