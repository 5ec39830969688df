package elimination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/joelkehle/tariffline/refdata"
)

const (
	StageSectionScope    = "section_scope"
	StageChapterNotes    = "chapter_notes"
	StageHeadingMatch    = "heading_match"
	StageSubheadingNotes = "subheading_notes"
	StageTieBreak        = "tie_break"
	StageOthersGate      = "others_gate"
	StageAdvisory        = "advisory"
)

// run carries the mutable state of a single classification run. It is built
// fresh per call and discarded when the result is assembled.
type run struct {
	e       *Engine
	cache   *refdata.Cache
	product ProductInfo
	pkeys   []string
	pset    map[string]struct{}
	cands   []*Candidate

	headingText map[string]string
	headingKeys map[string][]string

	unresolvedTie bool
}

type pendingElim struct {
	cand   *Candidate
	reason Reason
}

func (r *run) alive() []*Candidate {
	out := make([]*Candidate, 0, len(r.cands))
	for _, c := range r.cands {
		if c.Alive {
			out = append(out, c)
		}
	}
	return out
}

func (r *run) aliveCodes() []string {
	alive := r.alive()
	out := make([]string, 0, len(alive))
	for _, c := range alive {
		out = append(out, c.Code())
	}
	sort.Strings(out)
	return out
}

// commit applies pending eliminations unless doing so would leave zero alive
// candidates, in which case the whole stage is rolled back and recorded as
// skipped.
func (r *run) commit(stage string, pend []pendingElim, rationale string) Step {
	before := r.aliveCodes()
	if len(pend) > 0 && len(pend) >= len(before) {
		return Step{
			Stage:      stage,
			Outcome:    OutcomeSkipped,
			SkipReason: SkipWouldEmptySurvivors,
			Before:     before,
			After:      before,
			Rationale:  fmt.Sprintf("stage would eliminate all %d remaining candidates; rolled back", len(before)),
		}
	}
	eliminated := make([]string, 0, len(pend))
	for _, p := range pend {
		p.cand.Alive = false
		p.cand.Reasons = append(p.cand.Reasons, p.reason)
		eliminated = append(eliminated, p.cand.Code())
	}
	sort.Strings(eliminated)
	return Step{
		Stage:      stage,
		Outcome:    OutcomeApplied,
		Before:     before,
		After:      r.aliveCodes(),
		Eliminated: eliminated,
		Rationale:  rationale,
	}
}

func skippedStep(stage string, codes []string, reason, rationale string) Step {
	return Step{
		Stage:      stage,
		Outcome:    OutcomeSkipped,
		SkipReason: reason,
		Before:     codes,
		After:      codes,
		Rationale:  rationale,
	}
}

// resolveHeading returns the heading text and keyword list for a candidate,
// preferring the reference record and falling back to the text supplied by
// the candidate generator.
func (r *run) resolveHeading(ctx context.Context, c *Candidate) (string, []string, bool) {
	code := c.Code()
	if t, ok := r.headingText[code]; ok {
		return t, r.headingKeys[code], t != ""
	}
	text := ""
	if h, err := r.cache.Heading(ctx, c.Heading); err == nil {
		text = h.Description
	}
	if text == "" {
		text = c.HeadingText
	}
	keys := r.e.keywords(text, r.e.cfg.ReferenceTokenCap)
	r.headingText[code] = text
	r.headingKeys[code] = keys
	return text, keys, text != ""
}

// noteMatches reports whether an exclusion/inclusion note positively names
// the product: at least two shared keywords, or one when the note itself is
// only one or two keywords long.
func (r *run) noteMatches(noteText string) bool {
	keys := r.e.keywords(noteText, r.e.cfg.ReferenceTokenCap)
	n := overlapCount(keys, r.pset)
	if n >= 2 {
		return true
	}
	return n == 1 && len(keys) <= 2
}

// attrTokens returns the normalized tokens of the declared attributes.
func (r *run) attrTokens() map[string]struct{} {
	out := map[string]struct{}{}
	for _, attr := range []string{r.product.Material, r.product.Form, r.product.IntendedUse} {
		if strings.TrimSpace(attr) == "" {
			continue
		}
		for _, tok := range r.e.keywords(attr, r.e.cfg.ProductTokenCap) {
			out[tok] = struct{}{}
		}
	}
	return out
}

// sectionScope removes candidates whose top-level grouping cannot possibly
// apply: the section's scope statement shares no keywords with the product.
func (r *run) sectionScope(ctx context.Context) Step {
	alive := r.alive()
	var pend []pendingElim
	missing := 0
	for _, c := range alive {
		sec, err := r.cache.Section(ctx, c.Section)
		if err != nil {
			missing++
			continue
		}
		scopeKeys := r.e.keywords(sec.Scope, r.e.cfg.ReferenceTokenCap)
		if len(scopeKeys) == 0 {
			missing++
			continue
		}
		if overlapCount(r.pkeys, toSet(scopeKeys)) == 0 {
			pend = append(pend, pendingElim{cand: c, reason: Reason{
				Stage:  StageSectionScope,
				Code:   ReasonSectionScopeMismatch,
				Detail: fmt.Sprintf("section %s scope shares no terms with the product", c.Section),
			}})
		}
	}
	if missing == len(alive) {
		return skippedStep(StageSectionScope, r.aliveCodes(), SkipNoReferenceData, "no section records available")
	}
	rationale := fmt.Sprintf("checked %d candidates against section scope text", len(alive)-missing)
	if missing > 0 {
		rationale += fmt.Sprintf("; %d skipped: no_reference_data", missing)
	}
	return r.commit(StageSectionScope, pend, rationale)
}

// chapterNotes applies the four chapter-level sub-checks: preamble scope,
// exclusion/inclusion notes, cross-chapter redirects, and definitional
// matching. Each sub-check is independently skippable when its data is
// absent.
func (r *run) chapterNotes(ctx context.Context) Step {
	alive := r.alive()
	chapters := map[string]*refdata.Chapter{}
	for _, c := range alive {
		if _, seen := chapters[c.Chapter]; seen {
			continue
		}
		rec, err := r.cache.Chapter(ctx, c.Chapter)
		if err != nil {
			if !errors.Is(err, refdata.ErrNotFound) {
				r.e.logf("chapter %s lookup failed: %v", c.Chapter, err)
			}
			chapters[c.Chapter] = nil
			continue
		}
		chapters[c.Chapter] = &rec
	}

	var pend []pendingElim
	var notes []string
	missing := 0
	attrs := r.attrTokens()

	for _, c := range alive {
		ch := chapters[c.Chapter]
		if ch == nil {
			missing++
			continue
		}

		if ch.Preamble != "" {
			preKeys := r.e.keywords(ch.Preamble, r.e.cfg.ReferenceTokenCap)
			if len(preKeys) > 0 && overlapCount(r.pkeys, toSet(preKeys)) == 0 {
				pend = append(pend, pendingElim{cand: c, reason: Reason{
					Stage:  StageChapterNotes,
					Code:   ReasonChapterScopeMismatch,
					Detail: fmt.Sprintf("chapter %s scope statement does not cover the product", c.Chapter),
				}})
				continue
			}
		}

		excluded := false
		for _, n := range ch.Exclusions {
			if r.noteMatches(n.Text) {
				pend = append(pend, pendingElim{cand: c, reason: Reason{
					Stage:  StageChapterNotes,
					Code:   ReasonChapterNoteExclusion,
					Detail: n.Text,
				}})
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}

		for _, n := range ch.Inclusions {
			if r.noteMatches(n.Text) {
				c.Score += r.e.cfg.InclusionBoost
				notes = append(notes, fmt.Sprintf("%s: inclusion boost", c.Code()))
				break
			}
		}

		for _, otherID := range sortedChapterIDs(chapters) {
			other := chapters[otherID]
			if otherID == c.Chapter || other == nil {
				continue
			}
			redirected := false
			for _, n := range other.Exclusions {
				if n.RedirectChapter == c.Chapter {
					c.Score += r.e.cfg.RedirectBoost
					notes = append(notes, fmt.Sprintf("%s: redirect boost from chapter %s", c.Code(), otherID))
					redirected = true
					break
				}
			}
			if redirected {
				break
			}
		}

		for _, d := range ch.Definitions {
			termTokens := r.e.keywords(d.Term, r.e.cfg.ProductTokenCap)
			if overlapCount(termTokens, attrs) == 0 {
				continue
			}
			meaningKeys := r.e.keywords(d.Meaning, r.e.cfg.ReferenceTokenCap)
			supported := overlapCount(meaningKeys, r.pset) > 0 || overlapCount(meaningKeys, attrs) > 0
			if supported {
				c.Score += r.e.cfg.DefinitionBoost
				notes = append(notes, fmt.Sprintf("%s: definition match for %q", c.Code(), d.Term))
			} else {
				pend = append(pend, pendingElim{cand: c, reason: Reason{
					Stage:  StageChapterNotes,
					Code:   ReasonDefinitionMismatch,
					Detail: fmt.Sprintf("chapter defines %q but the product does not satisfy the definition", d.Term),
				}})
			}
			break
		}
	}

	if missing == len(alive) {
		return skippedStep(StageChapterNotes, r.aliveCodes(), SkipNoReferenceData, "no chapter records available")
	}
	rationale := fmt.Sprintf("applied chapter notes to %d candidates", len(alive)-missing)
	if missing > 0 {
		rationale += fmt.Sprintf("; %d skipped: no_reference_data", missing)
	}
	if len(notes) > 0 {
		rationale += "; " + strings.Join(notes, "; ")
	}
	return r.commit(StageChapterNotes, pend, rationale)
}

func sortedChapterIDs(chapters map[string]*refdata.Chapter) []string {
	ids := make([]string, 0, len(chapters))
	for id := range chapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// headingMatch computes the composite relevance score per candidate and
// removes the weakest fraction relative to the best scorer.
func (r *run) headingMatch(ctx context.Context) Step {
	alive := r.alive()
	// Candidates without heading text are never scored; they pass through
	// rather than falling to a cutoff their zero score cannot meet.
	unscored := map[*Candidate]struct{}{}
	for _, c := range alive {
		text, keys, ok := r.resolveHeading(ctx, c)
		if !ok {
			unscored[c] = struct{}{}
			continue
		}
		ov := overlapFraction(r.pkeys, keys)
		spec := specificity(text, keys)
		attr := r.e.attributeMatch(r.product, toSet(keys))
		w := r.e.cfg.Weights
		c.Score += w.Overlap*ov + w.Specificity*spec + w.Attribute*attr
	}
	if len(unscored) == len(alive) {
		return skippedStep(StageHeadingMatch, r.aliveCodes(), SkipNoReferenceData, "no heading text available")
	}

	best := 0.0
	for _, c := range alive {
		if _, skip := unscored[c]; skip {
			continue
		}
		if c.Score > best {
			best = c.Score
		}
	}
	threshold := (1 - r.e.cfg.RelativeCutoff) * best
	var pend []pendingElim
	for _, c := range alive {
		if _, skip := unscored[c]; skip {
			continue
		}
		if c.Score < threshold {
			pend = append(pend, pendingElim{cand: c, reason: Reason{
				Stage:  StageHeadingMatch,
				Code:   ReasonLowHeadingScore,
				Detail: fmt.Sprintf("score %.3f below cutoff %.3f", c.Score, threshold),
			}})
		}
	}
	rationale := fmt.Sprintf("best score %.3f, cutoff %.3f", best, threshold)
	if len(unscored) > 0 {
		rationale += fmt.Sprintf("; %d candidates skipped: no_reference_data", len(unscored))
	}
	return r.commit(StageHeadingMatch, pend, rationale)
}

// subheadingNotes applies finer-grained notes attached below the heading
// level to the heading-match survivors.
func (r *run) subheadingNotes(ctx context.Context) Step {
	alive := r.alive()
	var pend []pendingElim
	missing := 0
	for _, c := range alive {
		h, err := r.cache.Heading(ctx, c.Heading)
		if err != nil || len(h.SubheadingNotes) == 0 || c.Subheading == "" {
			missing++
			continue
		}
		for _, n := range h.SubheadingNotes {
			if n.Prefix != "" && !strings.HasPrefix(c.Subheading, n.Prefix) {
				continue
			}
			if !r.noteMatches(n.Text) {
				continue
			}
			if n.Exclude {
				pend = append(pend, pendingElim{cand: c, reason: Reason{
					Stage:  StageSubheadingNotes,
					Code:   ReasonSubheadingNoteExclusion,
					Detail: n.Text,
				}})
			} else {
				c.Score += r.e.cfg.InclusionBoost
			}
			break
		}
	}
	if missing == len(alive) {
		return skippedStep(StageSubheadingNotes, r.aliveCodes(), SkipNoReferenceData, "no subheading notes available")
	}
	return r.commit(StageSubheadingNotes, pend, fmt.Sprintf("checked subheading notes for %d candidates", len(alive)-missing))
}
