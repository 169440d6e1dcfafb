package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"examauditor"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("audit: %v", err)
	}
}

func run() error {
	var (
		dbPath     = flag.String("db", "", "Path to the question database (default: from config)")
		configPath = flag.String("config", "", "Path to YAML config file")
		category   = flag.String("category", "", "Only audit questions in this category")
		examType   = flag.String("exam-type", "", "Only audit questions for this exam type")
		limit      = flag.Int("limit", 0, "Maximum number of questions to audit (0 = all)")
		outDir     = flag.String("out", "", "Report directory (default: from config)")
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
	if *outDir != "" {
		cfg.ReportDir = *outDir
	}

	logger, err := examauditor.NewLogger(*verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	store, err := examauditor.OpenSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open question store %s: %w", cfg.StorePath, err)
	}
	defer store.Close()

	ctx := context.Background()
	questions, err := store.FetchAll(ctx, examauditor.StoreFilter{
		Category: *category,
		ExamType: *examType,
		Limit:    *limit,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch questions: %w", err)
	}
	logger.Infow("loaded catalog", "questions", len(questions))

	builder := &examauditor.ClusterBuilder{
		DuplicateThreshold: cfg.DuplicateThreshold,
		Prefilter: &examauditor.TopicPrefilter{
			SharedKeyTerms:    cfg.SharedKeyTerms,
			GroupingThreshold: cfg.GroupingThreshold,
		},
	}
	clusters := builder.Build(questions)

	runner := examauditor.NewAuditRunner(cfg.AuditConfig(), examauditor.NewLinguaScorer(), logger)
	findings := runner.Run(questions, clusters)

	reportPath := filepath.Join(cfg.ReportDir, "duplicates_report.json")
	err = examauditor.WriteDuplicateReport(reportPath, examauditor.DuplicateReport{
		GeneratedAt:        time.Now(),
		QuestionCount:      len(questions),
		DuplicateThreshold: cfg.DuplicateThreshold,
		GroupingThreshold:  cfg.GroupingThreshold,
		Clusters:           clusters,
	})
	if err != nil {
		return fmt.Errorf("failed to write duplicates report: %w", err)
	}
	logger.Infow("wrote duplicates report", "path", reportPath, "clusters", len(clusters))

	tally := examauditor.TallyFindings(findings)
	fmt.Printf("Audited %d questions: %d clusters, %d findings\n", len(questions), len(clusters), len(findings))
	for _, kind := range examauditor.SortedKinds(tally) {
		fmt.Printf("  %-28s %d\n", kind, tally[kind])
	}
	if len(findings) == 0 {
		fmt.Println("No defects found.")
	}
	return nil
}
