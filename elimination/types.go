// Package elimination implements the rule-based decision procedure that
// narrows a set of candidate classification codes for a product down to one
// or a small surviving set. Stages apply legally-defined interpretive rules,
// reference-data exclusions, and scoring heuristics in a fixed order; every
// stage records its effect in an ordered step log.
package elimination

import "time"

// MaterialShare is one component of a composite product's declared or
// inferred composition. Percent is 0-100.
type MaterialShare struct {
	Material string  `json:"material"`
	Percent  float64 `json:"percent"`
}

// ProductInfo describes the item being classified. It is created once per
// line item by an external extractor and is read-only for the engine's
// lifetime. Description carries the source-language text; DescriptionEN an
// optional second-language rendering.
type ProductInfo struct {
	ID            string          `json:"id,omitempty"`
	Description   string          `json:"description"`
	DescriptionEN string          `json:"description_en,omitempty"`
	Material      string          `json:"material,omitempty"`
	Form          string          `json:"form,omitempty"`
	IntendedUse   string          `json:"intended_use,omitempty"`
	Origin        string          `json:"origin,omitempty"`
	Composition   []MaterialShare `json:"composition,omitempty"`
}

// Candidate is one hierarchical code path under consideration. Score, Alive,
// and Reasons are run-scoped and mutated only by engine stages; the struct is
// discarded after the run with only the final result persisted.
type Candidate struct {
	Section     string `json:"section"`
	Chapter     string `json:"chapter"`
	Heading     string `json:"heading"`
	Subheading  string `json:"subheading,omitempty"`
	HeadingText string `json:"heading_text,omitempty"`

	Score   float64  `json:"score"`
	Alive   bool     `json:"alive"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Code returns the candidate's identifier: the subheading when present,
// otherwise the heading.
func (c *Candidate) Code() string {
	if c.Subheading != "" {
		return c.Subheading
	}
	return c.Heading
}

type ReasonCode string

const (
	ReasonSectionScopeMismatch     ReasonCode = "section_scope_mismatch"
	ReasonChapterScopeMismatch     ReasonCode = "chapter_scope_mismatch"
	ReasonChapterNoteExclusion     ReasonCode = "chapter_note_exclusion"
	ReasonDefinitionMismatch       ReasonCode = "definition_mismatch"
	ReasonLowHeadingScore          ReasonCode = "low_heading_score"
	ReasonSubheadingNoteExclusion  ReasonCode = "subheading_note_exclusion"
	ReasonTieBreakSpecificity      ReasonCode = "tie_break_specificity"
	ReasonTieBreakEssentialChar    ReasonCode = "tie_break_essential_character"
	ReasonTieBreakNumericalOrder   ReasonCode = "tie_break_numerical_order"
	ReasonCatchAllSuppressed       ReasonCode = "catch_all_suppressed"
	ReasonPrincipalCompUnsupported ReasonCode = "principal_composition_unsupported"
	ReasonAdvisoryRejected         ReasonCode = "advisory_rejected"
)

// Reason records why a stage eliminated a candidate.
type Reason struct {
	Stage  string     `json:"stage"`
	Code   ReasonCode `json:"code"`
	Detail string     `json:"detail,omitempty"`
}

type StepOutcome string

const (
	OutcomeApplied StepOutcome = "applied"
	OutcomeSkipped StepOutcome = "skipped"
	OutcomeFailed  StepOutcome = "failed"
)

const (
	SkipNoReferenceData      = "no_reference_data"
	SkipWouldEmptySurvivors  = "would_empty_survivor_set"
	SkipNotTriggered         = "not_triggered"
	SkipNoTie                = "no_tie"
	SkipAdvisoryUnavailable  = "advisory_unavailable"
	SkipNothingToEliminate   = "nothing_to_eliminate"
	SkipSingleCandidateAlive = "single_candidate_alive"
)

// Step records one stage's effect. The eliminated set across consecutive
// steps is monotonic: a step's eliminated candidates are always a superset of
// the previous step's.
type Step struct {
	Stage      string      `json:"stage"`
	Outcome    StepOutcome `json:"outcome"`
	SkipReason string      `json:"skip_reason,omitempty"`
	Before     []string    `json:"before"`
	After      []string    `json:"after"`
	Eliminated []string    `json:"eliminated,omitempty"`
	Rationale  string      `json:"rationale,omitempty"`
}

// Survivor is a candidate that remains alive at the end of the run, with a
// normalized confidence share.
type Survivor struct {
	Candidate  Candidate `json:"candidate"`
	Confidence float64   `json:"confidence"`
}

// CounterArgument is a devil's-advocate annotation for one survivor: the
// strongest competing candidate and the specific risk factor that could
// invalidate the chosen classification. Advisory only; never alters the
// survivor set.
type CounterArgument struct {
	SurvivorCode   string `json:"survivor_code"`
	CompetitorCode string `json:"competitor_code"`
	RiskFactor     string `json:"risk_factor"`
	Rationale      string `json:"rationale"`
}

// Result is the terminal artifact of one run. The engine keeps no reference
// to it after returning.
type Result struct {
	RunID            string            `json:"run_id"`
	ProductID        string            `json:"product_id,omitempty"`
	Survivors        []Survivor        `json:"survivors"`
	Eliminated       []Candidate       `json:"eliminated"`
	Steps            []Step            `json:"steps"`
	NeedsAI          bool              `json:"needs_ai"`
	NeedsReview      bool              `json:"needs_review"`
	CounterArguments []CounterArgument `json:"counter_arguments,omitempty"`
	Advisory         *AdvisoryOutcome  `json:"advisory,omitempty"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      time.Time         `json:"completed_at"`
}
