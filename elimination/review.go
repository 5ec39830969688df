package elimination

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// counterArguments builds a devil's-advocate annotation for each survivor: the
// strongest eliminated or surviving competitor and the concrete factor that
// could overturn the chosen classification. Advisory only; the survivor set is
// final by the time this runs.
func (r *run) counterArguments(ctx context.Context) []CounterArgument {
	alive := r.alive()
	if len(alive) == 0 {
		return nil
	}

	var args []CounterArgument
	for _, s := range alive {
		comp := r.strongestCompetitor(s)
		if comp == nil {
			continue
		}
		args = append(args, CounterArgument{
			SurvivorCode:   s.Code(),
			CompetitorCode: comp.Code(),
			RiskFactor:     r.riskFactor(ctx, s, comp),
			Rationale:      competitorRationale(comp),
		})
	}
	sort.Slice(args, func(i, j int) bool { return args[i].SurvivorCode < args[j].SurvivorCode })
	return args
}

// strongestCompetitor is the highest-scoring other candidate, alive or not.
// Ties go to the numerically lower code so the choice is stable.
func (r *run) strongestCompetitor(s *Candidate) *Candidate {
	var best *Candidate
	for _, c := range r.cands {
		if c == s {
			continue
		}
		if best == nil || c.Score > best.Score || (c.Score == best.Score && c.Code() < best.Code()) {
			best = c
		}
	}
	return best
}

// riskFactor names what makes the competitor plausible: shared product terms
// in its heading, or raw score proximity when no terms overlap.
func (r *run) riskFactor(ctx context.Context, s, comp *Candidate) string {
	_, keys, _ := r.resolveHeading(ctx, comp)
	shared := make([]string, 0, 4)
	for _, k := range keys {
		if _, ok := r.pset[k]; ok {
			shared = append(shared, k)
			if len(shared) == 4 {
				break
			}
		}
	}
	if len(shared) > 0 {
		return fmt.Sprintf("competing heading also matches product terms: %s", strings.Join(shared, ", "))
	}
	gap := s.Score - comp.Score
	if gap < 0 {
		gap = -gap
	}
	return fmt.Sprintf("competing heading scored within %.3f of the survivor", gap)
}

func competitorRationale(comp *Candidate) string {
	if len(comp.Reasons) == 0 {
		return fmt.Sprintf("%s remains a live alternative", comp.Code())
	}
	last := comp.Reasons[len(comp.Reasons)-1]
	return fmt.Sprintf("%s was eliminated at %s (%s); that judgement is the weakest link", comp.Code(), last.Stage, last.Code)
}
