package elimination

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/tariffline/refdata"
)

// StageProgressFn receives each step as soon as it is committed. Callbacks
// run on the classify goroutine and should return quickly.
type StageProgressFn func(Step)

// AuditRecord is what the engine hands to the audit sink after every run,
// successful or not.
type AuditRecord struct {
	RunID     string    `json:"run_id"`
	ProductID string    `json:"product_id,omitempty"`
	Result    Result    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditSink persists audit records off the classification path. Enqueue must
// never block; sinks drop and count when saturated.
type AuditSink interface {
	Enqueue(rec AuditRecord)
}

// Engine runs the elimination pipeline. Construct once and share; Classify is
// safe for concurrent use.
type Engine struct {
	cfg      Config
	provider refdata.Provider
	primary  Advisor
	fallback Advisor
	sink     AuditSink
	tracer   trace.Tracer

	stopwords map[string]struct{}
	prefixes  map[rune]struct{}
}

func NewEngine(cfg Config, provider refdata.Provider) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New("elimination: reference data provider is required")
	}
	e := &Engine{
		cfg:       cfg,
		provider:  provider,
		tracer:    otel.Tracer("tariffline/elimination"),
		stopwords: make(map[string]struct{}, len(stopwords)+len(cfg.ExtraStopWords)),
		prefixes:  make(map[rune]struct{}, len(cfg.StripPrefixes)),
	}
	for w := range stopwords {
		e.stopwords[w] = struct{}{}
	}
	for _, w := range cfg.ExtraStopWords {
		e.stopwords[lowerToken(strings.TrimSpace(w))] = struct{}{}
	}
	for _, p := range cfg.StripPrefixes {
		for _, r := range p {
			e.prefixes[r] = struct{}{}
		}
	}
	return e, nil
}

// WithAdvisors sets the primary and fallback consultation providers. Either
// may be nil.
func (e *Engine) WithAdvisors(primary, fallback Advisor) *Engine {
	e.primary = primary
	e.fallback = fallback
	return e
}

// WithAuditSink sets the audit destination. Records are enqueued after the
// result is assembled and never delay the caller.
func (e *Engine) WithAuditSink(sink AuditSink) *Engine {
	e.sink = sink
	return e
}

func (e *Engine) logf(format string, args ...any) {
	log.Printf("[elimination] "+format, args...)
}

// Classify runs the full pipeline over the candidate set and returns the
// surviving classification(s) with the complete step log.
func (e *Engine) Classify(ctx context.Context, product ProductInfo, candidates []Candidate) (Result, error) {
	return e.ClassifyWithProgress(ctx, product, candidates, nil)
}

// ClassifyWithProgress is Classify with a per-stage callback.
func (e *Engine) ClassifyWithProgress(ctx context.Context, product ProductInfo, candidates []Candidate, progress StageProgressFn) (Result, error) {
	if strings.TrimSpace(product.Description) == "" && strings.TrimSpace(product.DescriptionEN) == "" {
		return Result{}, errors.New("classify: product description is empty")
	}
	if len(candidates) == 0 {
		return Result{}, errors.New("classify: candidate set is empty")
	}
	for i := range candidates {
		if candidates[i].Heading == "" {
			return Result{}, fmt.Errorf("classify: candidate %d has no heading", i)
		}
	}

	ctx, span := e.tracer.Start(ctx, "elimination.classify")
	defer span.End()

	r := &run{
		e:           e,
		cache:       refdata.NewCache(e.provider),
		product:     product,
		cands:       make([]*Candidate, 0, len(candidates)),
		headingText: map[string]string{},
		headingKeys: map[string][]string{},
	}
	for _, c := range candidates {
		cc := c
		cc.Score = 0
		cc.Alive = true
		cc.Reasons = nil
		r.cands = append(r.cands, &cc)
	}
	r.pkeys = e.productKeywords(product)
	r.pset = toSet(r.pkeys)

	result := Result{
		RunID:     uuid.NewString(),
		ProductID: product.ID,
		StartedAt: time.Now().UTC(),
	}

	r.cache.Preload(ctx, candidateRefs(r.cands))

	record := func(step Step) {
		result.Steps = append(result.Steps, step)
		if progress != nil {
			progress(step)
		}
	}

	for _, stage := range []struct {
		name string
		fn   func(context.Context) Step
	}{
		{StageSectionScope, r.sectionScope},
		{StageChapterNotes, r.chapterNotes},
		{StageHeadingMatch, r.headingMatch},
		{StageSubheadingNotes, r.subheadingNotes},
		{StageTieBreak, r.tieBreak},
		{StageOthersGate, r.othersGate},
	} {
		sctx, sspan := e.tracer.Start(ctx, "elimination."+stage.name)
		step := stage.fn(sctx)
		sspan.SetAttributes(
			attribute.String("elimination.outcome", string(step.Outcome)),
			attribute.Int("elimination.alive", len(step.After)),
		)
		sspan.End()
		record(step)
	}

	actx, aspan := e.tracer.Start(ctx, "elimination."+StageAdvisory)
	advStep, advOutcome := r.consultAdvisory(actx, result.Steps)
	aspan.SetAttributes(
		attribute.String("elimination.outcome", string(advStep.Outcome)),
		attribute.Int("elimination.alive", len(advStep.After)),
	)
	aspan.End()
	record(advStep)
	result.Advisory = advOutcome

	e.assemble(ctx, r, &result)
	result.CompletedAt = time.Now().UTC()

	if e.sink != nil {
		e.sink.Enqueue(AuditRecord{
			RunID:     result.RunID,
			ProductID: result.ProductID,
			Result:    result,
			CreatedAt: result.CompletedAt,
		})
	}
	return result, nil
}

// assemble fills survivors, confidences, the review annotations, and the
// escalation flags.
func (e *Engine) assemble(ctx context.Context, r *run, result *Result) {
	alive := r.alive()
	total := 0.0
	for _, c := range alive {
		if c.Score > 0 {
			total += c.Score
		}
	}
	for _, c := range alive {
		conf := 1.0 / float64(len(alive))
		if total > 0 && c.Score > 0 {
			conf = c.Score / total
		}
		result.Survivors = append(result.Survivors, Survivor{Candidate: *c, Confidence: conf})
	}
	for _, c := range r.cands {
		if !c.Alive {
			result.Eliminated = append(result.Eliminated, *c)
		}
	}

	// Skipped with an error means the consultation was wanted but could not
	// happen: unconfigured, or every provider failed.
	advisoryDenied := result.Advisory != nil &&
		result.Advisory.State == AdvisorySkipped && result.Advisory.Err != ""
	result.NeedsAI = advisoryDenied || (r.unresolvedTie && len(alive) > 1)
	result.NeedsReview = result.NeedsAI || len(alive) > 1 ||
		(result.Advisory != nil && result.Advisory.State == AdvisoryFallback)

	if len(alive) > 0 && len(r.cands) > 1 {
		result.CounterArguments = r.counterArguments(ctx)
	}
}

// candidateRefs collects every reference record the run can touch so the
// cache can warm concurrently.
func candidateRefs(cands []*Candidate) []refdata.Ref {
	refs := make([]refdata.Ref, 0, len(cands)*3)
	for _, c := range cands {
		if c.Section != "" {
			refs = append(refs, refdata.Ref{Kind: refdata.KindSection, ID: c.Section})
		}
		if c.Chapter != "" {
			refs = append(refs, refdata.Ref{Kind: refdata.KindChapter, ID: c.Chapter})
		}
		if c.Heading != "" {
			refs = append(refs, refdata.Ref{Kind: refdata.KindHeading, ID: c.Heading})
		}
	}
	return refs
}
