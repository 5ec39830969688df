package elimination

import (
	"context"
	"fmt"
	"strings"
)

// othersGate suppresses residual "other" headings when a specific heading is
// still alive, and rejects headings that legally require the product to be
// principally composed of a material the declared composition cannot support.
func (r *run) othersGate(ctx context.Context) Step {
	alive := r.alive()
	if len(alive) < 2 {
		return skippedStep(StageOthersGate, r.aliveCodes(), SkipSingleCandidateAlive, "single candidate alive")
	}

	texts := make(map[*Candidate]string, len(alive))
	specificAlive := false
	for _, c := range alive {
		text, _, _ := r.resolveHeading(ctx, c)
		texts[c] = text
		if text != "" && !isCatchAll(text) {
			specificAlive = true
		}
	}

	var pend []pendingElim
	for _, c := range alive {
		text := texts[c]
		if text == "" {
			continue
		}
		if specificAlive && isCatchAll(text) {
			pend = append(pend, pendingElim{cand: c, reason: Reason{
				Stage:  StageOthersGate,
				Code:   ReasonCatchAllSuppressed,
				Detail: fmt.Sprintf("residual heading %s suppressed while specific headings remain", c.Code()),
			}})
			continue
		}
		if hasPrincipalMarker(text) {
			_, keys, _ := r.resolveHeading(ctx, c)
			if mat, ok := r.principalMaterial(keys); ok && !r.compositionSupports(mat) {
				pend = append(pend, pendingElim{cand: c, reason: Reason{
					Stage:  StageOthersGate,
					Code:   ReasonPrincipalCompUnsupported,
					Detail: fmt.Sprintf("heading requires principal composition of %s, not supported by declared composition", mat),
				}})
			}
		}
	}

	if len(pend) == 0 {
		return skippedStep(StageOthersGate, r.aliveCodes(), SkipNothingToEliminate, "no residual or composition conflicts")
	}
	return r.commit(StageOthersGate, pend, "residual and principal-composition gate")
}

// principalMaterial returns the material term named by a principally-composed
// heading, if any.
func (r *run) principalMaterial(keys []string) (string, bool) {
	for _, k := range keys {
		if _, ok := materialTerms[k]; ok {
			return k, true
		}
	}
	return "", false
}

// compositionSupports reports whether the declared product data can justify
// the product being principally composed of mat: either the declared material
// names it, or a composition share of at least half does.
func (r *run) compositionSupports(mat string) bool {
	if strings.TrimSpace(r.product.Material) != "" {
		declared := toSet(r.e.keywords(r.product.Material, r.e.cfg.ProductTokenCap))
		if _, ok := declared[mat]; ok {
			return true
		}
	}
	for _, share := range r.product.Composition {
		if share.Percent < 50 {
			continue
		}
		terms := toSet(r.e.keywords(share.Material, r.e.cfg.ProductTokenCap))
		if _, ok := terms[mat]; ok {
			return true
		}
	}
	return false
}
