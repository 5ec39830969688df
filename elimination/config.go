package elimination

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Weights struct {
	Overlap     float64 `yaml:"overlap"`
	Specificity float64 `yaml:"specificity"`
	Attribute   float64 `yaml:"attribute"`
}

// Config carries the business-tuned parameters of the engine. The defaults
// reproduce the tuned production values; none of them is a derived invariant,
// so deployments may override them from a YAML file.
type Config struct {
	Weights Weights `yaml:"weights"`

	// RelativeCutoff eliminates candidates scoring in the bottom fraction
	// relative to the best: score < (1-RelativeCutoff)*best is out.
	RelativeCutoff float64 `yaml:"relative_cutoff"`

	// TieEpsilon bounds the score distance from the best candidate within
	// which candidates are considered tied for the tie-break resolver.
	TieEpsilon float64 `yaml:"tie_epsilon"`

	// MinSpecificOverlap is the keyword-overlap count a heading must reach
	// before the most-specific-description tie-break rule may declare it the
	// unique winner.
	MinSpecificOverlap int `yaml:"min_specific_overlap"`

	// AdvisoryTrigger: consultation runs iff more than this many candidates
	// remain alive after the deterministic stages.
	AdvisoryTrigger    int `yaml:"advisory_trigger"`
	AdvisoryTimeoutSec int `yaml:"advisory_timeout_sec"`

	// Token caps for keyword extraction. Reference texts (section scope
	// statements, chapter preambles) get the larger cap so broad legal text
	// is not truncated prematurely; product-side extraction stays tight.
	ProductTokenCap   int `yaml:"product_token_cap"`
	ReferenceTokenCap int `yaml:"reference_token_cap"`

	// Score boosts applied by the chapter-notes filter.
	InclusionBoost float64 `yaml:"inclusion_boost"`
	RedirectBoost  float64 `yaml:"redirect_boost"`
	DefinitionBoost float64 `yaml:"definition_boost"`

	// StripPrefixes lists single-character prefixes stripped from tokens
	// during normalization. Deployment-specific: source languages with
	// single-character noun-class prefixes set this; it defaults empty.
	StripPrefixes []string `yaml:"strip_prefixes,omitempty"`

	// ExtraStopWords extends the built-in bilingual stop-word lists.
	ExtraStopWords []string `yaml:"extra_stop_words,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Weights:            Weights{Overlap: 0.5, Specificity: 0.25, Attribute: 0.25},
		RelativeCutoff:     0.30,
		TieEpsilon:         0.15,
		MinSpecificOverlap: 4,
		AdvisoryTrigger:    3,
		AdvisoryTimeoutSec: 30,
		ProductTokenCap:    12,
		ReferenceTokenCap:  40,
		InclusionBoost:     0.05,
		RedirectBoost:      0.05,
		DefinitionBoost:    0.05,
	}
}

// LoadConfig reads a YAML file over the defaults, so partial files only
// override what they name.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	sum := c.Weights.Overlap + c.Weights.Specificity + c.Weights.Attribute
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("config: score weights must sum to 1.0, got %.3f", sum)
	}
	if c.RelativeCutoff < 0 || c.RelativeCutoff >= 1 {
		return fmt.Errorf("config: relative_cutoff must be in [0,1), got %.3f", c.RelativeCutoff)
	}
	if c.TieEpsilon < 0 {
		return fmt.Errorf("config: tie_epsilon must be >= 0")
	}
	if c.AdvisoryTrigger < 1 {
		return fmt.Errorf("config: advisory_trigger must be >= 1")
	}
	if c.ProductTokenCap < 1 || c.ReferenceTokenCap < 1 {
		return fmt.Errorf("config: token caps must be >= 1")
	}
	if c.ReferenceTokenCap < c.ProductTokenCap {
		return fmt.Errorf("config: reference_token_cap must be >= product_token_cap")
	}
	for _, p := range c.StripPrefixes {
		if len([]rune(p)) != 1 {
			return fmt.Errorf("config: strip_prefixes entries must be single characters, got %q", p)
		}
	}
	return nil
}

func (c Config) advisoryTimeout() time.Duration {
	if c.AdvisoryTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AdvisoryTimeoutSec) * time.Second
}
