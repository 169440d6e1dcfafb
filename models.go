package examauditor

import (
	"fmt"
	"strings"
	"time"
)

// Question represents a single multiple-choice question in the catalog
type Question struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Options      []string  `json:"options"`
	CorrectIndex int       `json:"correct_index"` // 0-based index
	Explanation  string    `json:"explanation,omitempty"`
	Category     string    `json:"category"`
	ExamType     string    `json:"exam_type"`
	TestType     string    `json:"test_type"`
	SubCategory  string    `json:"sub_category,omitempty"`
	Difficulty   string    `json:"difficulty"`
	CreatedAt    time.Time `json:"created_at"`
}

// FindingKind identifies what kind of defect an audit check detected
type FindingKind string

const (
	FindingDuplicateQuestion      FindingKind = "duplicate_question"
	FindingCategoryMismatch       FindingKind = "category_mismatch"
	FindingMissingExplanation     FindingKind = "missing_explanation"
	FindingWeakExplanation        FindingKind = "weak_explanation"
	FindingBoilerplateExplanation FindingKind = "boilerplate_explanation"
	FindingInvalidCorrectAnswer   FindingKind = "invalid_correct_answer"
	FindingAmbiguousAnswers       FindingKind = "ambiguous_answers"
)

// Severity ranks how urgently a finding needs action
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding is a typed audit result attached to a question
type Finding struct {
	QuestionID string            `json:"question_id"`
	Kind       FindingKind       `json:"kind"`
	Message    string            `json:"message"`
	Severity   Severity          `json:"severity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Cluster is a maximal group of questions connected by exact-signature or
// fuzzy-similarity edges. Exactly one member survives.
type Cluster struct {
	Members   []string `json:"members"`
	KeepID    string   `json:"keep_id"`
	RemoveIDs []string `json:"remove_ids"`
}

// ReplacementTarget bundles the metadata a generated replacement must match,
// plus the audit reasons that triggered regeneration.
type ReplacementTarget struct {
	QuestionID  string   `json:"question_id"`
	ExamType    string   `json:"exam_type"`
	Category    string   `json:"category"`
	SubCategory string   `json:"sub_category,omitempty"`
	Difficulty  string   `json:"difficulty"`
	Language    string   `json:"language"`
	Reasons     []string `json:"reasons"`
}

// ReplacementCandidate is an unverified draft produced by the generator for a
// specific question. It must pass Structural before it reaches any judge.
type ReplacementCandidate struct {
	QuestionID        string   `json:"question_id"`
	DraftText         string   `json:"draft_text"`
	DraftOptions      []string `json:"draft_options"`
	DraftCorrectIndex int      `json:"draft_correct_index"`
	DraftExplanation  string   `json:"draft_explanation"`
	TargetCategory    string   `json:"target_category"`
	TargetDifficulty  string   `json:"target_difficulty"`
}

// Structural checks the local invariants a draft must satisfy before it is
// allowed anywhere near a judge model: at least 2 options, none empty, no two
// equal, correct index in range, non-empty explanation.
func (c *ReplacementCandidate) Structural() error {
	if strings.TrimSpace(c.DraftText) == "" {
		return &StructuralInvalidError{Reason: "empty question text"}
	}
	if len(c.DraftOptions) < 2 {
		return &StructuralInvalidError{Reason: fmt.Sprintf("need at least 2 options, got %d", len(c.DraftOptions))}
	}
	seen := make(map[string]int, len(c.DraftOptions))
	for i, opt := range c.DraftOptions {
		trimmed := strings.TrimSpace(opt)
		if trimmed == "" {
			return &StructuralInvalidError{Reason: fmt.Sprintf("option %d is empty", i)}
		}
		if prev, ok := seen[trimmed]; ok {
			return &StructuralInvalidError{Reason: fmt.Sprintf("options %d and %d are identical", prev, i)}
		}
		seen[trimmed] = i
	}
	if c.DraftCorrectIndex < 0 || c.DraftCorrectIndex >= len(c.DraftOptions) {
		return &StructuralInvalidError{Reason: fmt.Sprintf("correct index %d out of range for %d options", c.DraftCorrectIndex, len(c.DraftOptions))}
	}
	if strings.TrimSpace(c.DraftExplanation) == "" {
		return &StructuralInvalidError{Reason: "empty explanation"}
	}
	return nil
}

// AsQuestion promotes an approved draft to a catalog question, inheriting the
// original's exam metadata.
func (c *ReplacementCandidate) AsQuestion(id string, original Question, now time.Time) Question {
	return Question{
		ID:           id,
		Text:         c.DraftText,
		Options:      c.DraftOptions,
		CorrectIndex: c.DraftCorrectIndex,
		Explanation:  c.DraftExplanation,
		Category:     original.Category,
		ExamType:     original.ExamType,
		TestType:     original.TestType,
		SubCategory:  original.SubCategory,
		Difficulty:   original.Difficulty,
		CreatedAt:    now,
	}
}
