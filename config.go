package examauditor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can say "2s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config carries every tunable of the audit and regeneration runs. The
// similarity and language thresholds are deliberately configuration, not
// constants.
type Config struct {
	StorePath string `yaml:"store_path"`
	ReportDir string `yaml:"report_dir"`

	GeneratorModel string   `yaml:"generator_model"`
	ReviewModel    string   `yaml:"review_model"`
	JudgeModels    []string `yaml:"judge_models"`

	DuplicateThreshold  float64 `yaml:"duplicate_threshold"`
	GroupingThreshold   float64 `yaml:"grouping_threshold"`
	SharedKeyTerms      int     `yaml:"shared_key_terms"`
	LanguageThreshold   float64 `yaml:"language_threshold"`
	MinExplanationWords int     `yaml:"min_explanation_words"`

	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	ItemPause   Duration `yaml:"item_pause"`
	CallTimeout Duration `yaml:"call_timeout"`

	// CategoryLanguages maps lowercased category names to expected language
	// codes; unmapped categories use DefaultLanguage.
	CategoryLanguages map[string]string `yaml:"category_languages"`
	DefaultLanguage   string            `yaml:"default_language"`
}

// DefaultConfig returns a configuration that works without any config file.
func DefaultConfig() Config {
	return Config{
		StorePath: "questions.db",
		ReportDir: "reports",

		GeneratorModel: "gpt-4o",
		ReviewModel:    "gpt-4o",
		JudgeModels:    []string{"gpt-4o", "gpt-4o-mini"},

		DuplicateThreshold:  0.92,
		GroupingThreshold:   0.40,
		SharedKeyTerms:      3,
		LanguageThreshold:   0.60,
		MinExplanationWords: 12,

		MaxAttempts: 3,
		BaseDelay:   Duration(2 * time.Second),
		MaxDelay:    Duration(30 * time.Second),
		ItemPause:   Duration(1 * time.Second),
		CallTimeout: Duration(2 * time.Minute),

		CategoryLanguages: map[string]string{
			"anglais": "en",
			"english": "en",
		},
		DefaultLanguage: "fr",
	}
}

// LoadConfig reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot produce a sane run.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"duplicate_threshold": c.DuplicateThreshold,
		"grouping_threshold":  c.GroupingThreshold,
		"language_threshold":  c.LanguageThreshold,
	} {
		if v < 0 || v > 1 {
			return &ConfigError{Reason: fmt.Sprintf("%s must be in [0,1], got %v", name, v)}
		}
	}
	if c.GroupingThreshold > c.DuplicateThreshold {
		return &ConfigError{Reason: "grouping_threshold must not exceed duplicate_threshold"}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Reason: "max_attempts must be at least 1"}
	}
	if len(c.JudgeModels) == 0 {
		return &ConfigError{Reason: "at least one judge model is required"}
	}
	return nil
}

// AuditConfig projects the audit-relevant knobs.
func (c Config) AuditConfig() AuditConfig {
	return AuditConfig{
		LanguageThreshold:   c.LanguageThreshold,
		MinExplanationWords: c.MinExplanationWords,
		CategoryLanguages:   c.CategoryLanguages,
		DefaultLanguage:     c.DefaultLanguage,
	}
}

// ExpectedLanguage resolves the language a category's questions must be in.
// Empty means no expectation.
func (c Config) ExpectedLanguage(category string) string {
	key := strings.ToLower(strings.TrimSpace(category))
	if lang, ok := c.CategoryLanguages[key]; ok {
		return lang
	}
	return c.DefaultLanguage
}

// RetryPolicy projects the retry knobs.
func (c Config) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay.Std(),
		MaxDelay:    c.MaxDelay.Std(),
	}
}
