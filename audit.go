package examauditor

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// AuditConfig holds the tunable knobs of the local audit battery.
type AuditConfig struct {
	// LanguageThreshold is the minimum probability the declared category's
	// language must reach before the question is considered in-language.
	LanguageThreshold float64
	// MinExplanationWords is the minimum word count of a usable explanation.
	MinExplanationWords int
	// CategoryLanguages maps a category (lowercased) to its expected language
	// code. Categories not in the map fall back to DefaultLanguage.
	CategoryLanguages map[string]string
	// DefaultLanguage is the expected language for unmapped categories. Empty
	// disables the language check for those categories.
	DefaultLanguage string
}

// boilerplatePhrases are the generic explanation templates worth flagging.
// Matched on the canonicalized explanation prefix.
var boilerplatePhrases = []string{
	"la bonne reponse est",
	"la reponse correcte est",
	"the correct answer is",
	"the answer is",
	"la reponse est",
}

// AuditRunner runs local, deterministic checks over the catalog. It performs
// no network calls; model-backed review happens later, in the ReviewGate.
type AuditRunner struct {
	cfg    AuditConfig
	scorer LanguageScorer
	log    *zap.SugaredLogger
}

func NewAuditRunner(cfg AuditConfig, scorer LanguageScorer, log *zap.SugaredLogger) *AuditRunner {
	return &AuditRunner{cfg: cfg, scorer: scorer, log: log}
}

// Run audits every question against the precomputed clusters and returns all
// findings, grouped per question in input order within each question.
func (r *AuditRunner) Run(questions []Question, clusters []Cluster) []Finding {
	removeIn := make(map[string]*Cluster)
	for i := range clusters {
		for _, id := range clusters[i].RemoveIDs {
			removeIn[id] = &clusters[i]
		}
	}

	var findings []Finding
	for i := range questions {
		qf := r.auditOne(&questions[i], removeIn)
		findings = append(findings, qf...)
	}
	r.log.Infow("audit complete",
		"questions", len(questions),
		"clusters", len(clusters),
		"findings", len(findings))
	return findings
}

func (r *AuditRunner) auditOne(q *Question, removeIn map[string]*Cluster) []Finding {
	var out []Finding
	add := func(kind FindingKind, severity Severity, msg string, meta map[string]string) {
		out = append(out, Finding{
			QuestionID: q.ID,
			Kind:       kind,
			Message:    msg,
			Severity:   severity,
			Metadata:   meta,
		})
	}

	if cluster, ok := removeIn[q.ID]; ok {
		meta := map[string]string{
			"keep_id":    cluster.KeepID,
			"duplicates": strings.Join(cluster.Members, ","),
		}
		add(FindingDuplicateQuestion, SeverityCritical,
			fmt.Sprintf("duplicate of question %s", cluster.KeepID), meta)
	}

	if lang, ok := r.expectedLanguage(q.Category); ok {
		prose := questionProse(q.Text, q.Options, q.Explanation)
		prob := r.scorer.ScoreLanguages(prose)[lang]
		if prob < r.cfg.LanguageThreshold {
			add(FindingCategoryMismatch, SeverityCritical,
				fmt.Sprintf("category %q expects language %q but probability is %.2f", q.Category, lang, prob),
				map[string]string{"expected_language": lang, "probability": fmt.Sprintf("%.4f", prob)})
		}
	}

	expl := strings.TrimSpace(q.Explanation)
	switch {
	case expl == "":
		add(FindingMissingExplanation, SeverityWarning, "explanation is empty", nil)
	case len(strings.Fields(expl)) < r.cfg.MinExplanationWords:
		add(FindingWeakExplanation, SeverityWarning,
			fmt.Sprintf("explanation has %d words, minimum is %d", len(strings.Fields(expl)), r.cfg.MinExplanationWords), nil)
	}
	if expl != "" && r.isBoilerplate(q) {
		add(FindingBoilerplateExplanation, SeverityWarning, "explanation is a generic template phrase", nil)
	}

	switch {
	case q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options):
		add(FindingInvalidCorrectAnswer, SeverityCritical,
			fmt.Sprintf("correct index %d out of range for %d options", q.CorrectIndex, len(q.Options)), nil)
	case strings.TrimSpace(q.Options[q.CorrectIndex]) == "":
		add(FindingInvalidCorrectAnswer, SeverityCritical,
			fmt.Sprintf("correct option %d is empty", q.CorrectIndex), nil)
	}

	seen := make(map[string]int)
	for i, opt := range q.Options {
		trimmed := strings.TrimSpace(opt)
		if trimmed == "" {
			continue
		}
		if prev, dup := seen[trimmed]; dup {
			add(FindingAmbiguousAnswers, SeverityCritical,
				fmt.Sprintf("options %d and %d contain identical text", prev, i),
				map[string]string{"option_text": trimmed})
			break
		}
		seen[trimmed] = i
	}

	return out
}

func (r *AuditRunner) expectedLanguage(category string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(category))
	if lang, ok := r.cfg.CategoryLanguages[key]; ok {
		return lang, lang != ""
	}
	return r.cfg.DefaultLanguage, r.cfg.DefaultLanguage != ""
}

// isBoilerplate reports whether the explanation is a template phrase that at
// most restates the correct option.
func (r *AuditRunner) isBoilerplate(q *Question) bool {
	canon := Canonical(q.Explanation)
	for _, phrase := range boilerplatePhrases {
		if !strings.HasPrefix(canon, phrase) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(canon, phrase))
		if rest == "" {
			return true
		}
		if q.CorrectIndex >= 0 && q.CorrectIndex < len(q.Options) &&
			rest == Canonical(q.Options[q.CorrectIndex]) {
			return true
		}
	}
	return false
}

// GroupFindings indexes findings by question id, preserving per-question order.
func GroupFindings(findings []Finding) map[string][]Finding {
	grouped := make(map[string][]Finding)
	for _, f := range findings {
		grouped[f.QuestionID] = append(grouped[f.QuestionID], f)
	}
	return grouped
}

// TallyFindings counts findings per kind, for the run summary and logs.
func TallyFindings(findings []Finding) map[FindingKind]int {
	tally := make(map[FindingKind]int)
	for _, f := range findings {
		tally[f.Kind]++
	}
	return tally
}

// SortedKinds returns the tally keys in stable order for printing.
func SortedKinds(tally map[FindingKind]int) []FindingKind {
	kinds := make([]FindingKind, 0, len(tally))
	for k := range tally {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
