package elimination

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// tieBreak applies the ordered tie-breaking rules to candidates whose scores
// sit within TieEpsilon of the best. Each sub-rule runs only if the previous
// one did not resolve the tie, and any of them may leave more than one
// survivor; an unresolved near-tie marks the run as ambiguous.
func (r *run) tieBreak(ctx context.Context) Step {
	alive := r.alive()
	if len(alive) < 2 {
		return skippedStep(StageTieBreak, r.aliveCodes(), SkipNoTie, "single candidate alive")
	}

	best := 0.0
	for _, c := range alive {
		if c.Score > best {
			best = c.Score
		}
	}
	tied := make([]*Candidate, 0, len(alive))
	for _, c := range alive {
		if best-c.Score <= r.e.cfg.TieEpsilon {
			tied = append(tied, c)
		}
	}
	if len(tied) < 2 {
		return skippedStep(StageTieBreak, r.aliveCodes(), SkipNoTie,
			fmt.Sprintf("no candidates within %.2f of best score %.3f", r.e.cfg.TieEpsilon, best))
	}

	var pend []pendingElim
	var applied []string
	resolved := false

	// Rule 1: most-specific description. A heading wins outright only when
	// it names the product with a unique, sufficiently large keyword overlap.
	counts := make(map[*Candidate]int, len(tied))
	maxCount := 0
	for _, c := range tied {
		_, keys, _ := r.resolveHeading(ctx, c)
		counts[c] = overlapCount(keys, r.pset)
		if counts[c] > maxCount {
			maxCount = counts[c]
		}
	}
	winners := filterTied(tied, func(c *Candidate) bool { return counts[c] == maxCount })
	if len(winners) == 1 && maxCount >= r.e.cfg.MinSpecificOverlap {
		pend = eliminateOthers(pend, tied, winners, Reason{
			Stage:  StageTieBreak,
			Code:   ReasonTieBreakSpecificity,
			Detail: fmt.Sprintf("heading %s names the product most precisely (%d matched terms)", winners[0].Code(), maxCount),
		})
		tied = winners
		applied = append(applied, "most_specific_description")
		resolved = true
	}

	// Rule 2: essential character. Classify by the material declared or
	// scored as dominating the product's composition.
	if !resolved {
		dominant := r.dominantMaterial()
		if len(dominant) > 0 {
			charScores := make(map[*Candidate]int, len(tied))
			maxChar := math.MinInt
			for _, c := range tied {
				charScores[c] = r.characterScore(ctx, c, dominant)
				if charScores[c] > maxChar {
					maxChar = charScores[c]
				}
			}
			winners := filterTied(tied, func(c *Candidate) bool { return charScores[c] == maxChar })
			if len(winners) < len(tied) && len(winners) >= 1 {
				pend = eliminateOthers(pend, tied, winners, Reason{
					Stage:  StageTieBreak,
					Code:   ReasonTieBreakEssentialChar,
					Detail: fmt.Sprintf("essential character is %s; heading does not reflect it", dominantLabel(dominant)),
				})
				tied = winners
				applied = append(applied, "essential_character")
				resolved = len(tied) == 1
			}
		}
	}

	// Rule 3: last in numerical order, the legally-conventional deterministic
	// fallback. It only settles exact score ties; near-ties stay unresolved
	// for advisory or human review.
	if !resolved && len(tied) > 1 && allScoresEqual(tied) {
		highest := tied[0]
		for _, c := range tied[1:] {
			if c.Code() > highest.Code() {
				highest = c
			}
		}
		pend = eliminateOthers(pend, tied, []*Candidate{highest}, Reason{
			Stage:  StageTieBreak,
			Code:   ReasonTieBreakNumericalOrder,
			Detail: fmt.Sprintf("tied on score; %s occurs last in numerical order", highest.Code()),
		})
		tied = []*Candidate{highest}
		applied = append(applied, "last_in_numerical_order")
	}

	if len(tied) > 1 {
		r.unresolvedTie = true
	}

	rationale := fmt.Sprintf("%d candidates tied within %.2f of best", len(counts), r.e.cfg.TieEpsilon)
	if len(applied) > 0 {
		rationale += "; rules applied: " + strings.Join(applied, ", ")
	} else {
		rationale += "; no rule could separate them"
	}
	return r.commit(StageTieBreak, pend, rationale)
}

// dominantMaterial returns the normalized tokens of the material judged to
// give the product its essential character: the declared material, or the
// largest declared composition share.
func (r *run) dominantMaterial() map[string]struct{} {
	if strings.TrimSpace(r.product.Material) != "" {
		return toSet(r.e.keywords(r.product.Material, r.e.cfg.ProductTokenCap))
	}
	bestPct := 0.0
	bestMat := ""
	for _, share := range r.product.Composition {
		if share.Percent > bestPct {
			bestPct = share.Percent
			bestMat = share.Material
		}
	}
	if bestMat == "" {
		return nil
	}
	return toSet(r.e.keywords(bestMat, r.e.cfg.ProductTokenCap))
}

// characterScore rewards headings naming the dominant material and penalizes
// every specific requirement in the heading text that the product does not
// exhibit.
func (r *run) characterScore(ctx context.Context, c *Candidate, dominant map[string]struct{}) int {
	_, keys, _ := r.resolveHeading(ctx, c)
	score := 0
	for _, k := range keys {
		if _, ok := dominant[k]; ok {
			score += 2
			break
		}
	}
	for _, k := range keys {
		if _, ok := r.pset[k]; ok {
			continue
		}
		if _, ok := materialTerms[k]; ok {
			continue
		}
		if _, ok := genericTerms[k]; ok {
			continue
		}
		score--
	}
	return score
}

func filterTied(tied []*Candidate, keep func(*Candidate) bool) []*Candidate {
	out := make([]*Candidate, 0, len(tied))
	for _, c := range tied {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func eliminateOthers(pend []pendingElim, tied, winners []*Candidate, reason Reason) []pendingElim {
	keep := map[*Candidate]struct{}{}
	for _, w := range winners {
		keep[w] = struct{}{}
	}
	for _, c := range tied {
		if _, ok := keep[c]; ok {
			continue
		}
		pend = append(pend, pendingElim{cand: c, reason: reason})
	}
	return pend
}

func allScoresEqual(tied []*Candidate) bool {
	for _, c := range tied[1:] {
		if math.Abs(c.Score-tied[0].Score) > 1e-9 {
			return false
		}
	}
	return true
}

func dominantLabel(dominant map[string]struct{}) string {
	out := make([]string, 0, len(dominant))
	for k := range dominant {
		out = append(out, k)
	}
	if len(out) == 0 {
		return "unknown"
	}
	sort.Strings(out)
	return strings.Join(out, "/")
}
