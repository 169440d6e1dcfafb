package examauditor

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// LanguageScorer computes per-language probabilities for a text. Codes are
// lowercase ISO 639-1 ("en", "fr").
type LanguageScorer interface {
	ScoreLanguages(text string) map[string]float64
}

// LinguaScorer scores languages locally with the lingua detector. It is the
// cheap check that runs before any model call.
type LinguaScorer struct {
	detector lingua.LanguageDetector
}

// NewLinguaScorer builds a scorer restricted to the catalog's languages.
// Restricting the candidate set keeps the confidence values meaningful for
// short question texts.
func NewLinguaScorer() *LinguaScorer {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(lingua.English, lingua.French).
		Build()
	return &LinguaScorer{detector: detector}
}

func (s *LinguaScorer) ScoreLanguages(text string) map[string]float64 {
	scores := make(map[string]float64)
	for _, cv := range s.detector.ComputeLanguageConfidenceValues(text) {
		code := strings.ToLower(cv.Language().IsoCode639_1().String())
		scores[code] = cv.Value()
	}
	return scores
}

// questionProse concatenates the text a language check should look at.
func questionProse(text string, options []string, explanation string) string {
	parts := make([]string, 0, len(options)+2)
	parts = append(parts, text)
	parts = append(parts, options...)
	if explanation != "" {
		parts = append(parts, explanation)
	}
	return strings.Join(parts, " ")
}
