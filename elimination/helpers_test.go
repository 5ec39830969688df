package elimination

import (
	"math"
	"testing"

	"github.com/joelkehle/tariffline/refdata"
)

func mustEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, refdata.NewMemProvider())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func mustEngineWith(t *testing.T, cfg Config, provider refdata.Provider) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, provider)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// newTestRun builds run state directly so stage logic can be exercised
// without replaying the earlier pipeline stages.
func newTestRun(e *Engine, p ProductInfo, cands ...*Candidate) *run {
	r := &run{
		e:           e,
		cache:       refdata.NewCache(e.provider),
		product:     p,
		cands:       cands,
		headingText: map[string]string{},
		headingKeys: map[string][]string{},
	}
	r.pkeys = e.productKeywords(p)
	r.pset = toSet(r.pkeys)
	return r
}

// injectHeading bypasses reference lookups for one candidate.
func (r *run) injectHeading(c *Candidate, text string) {
	code := c.Code()
	r.headingText[code] = text
	r.headingKeys[code] = r.e.keywords(text, r.e.cfg.ReferenceTokenCap)
}

func aliveCodesOf(cands []*Candidate) []string {
	out := []string{}
	for _, c := range cands {
		if c.Alive {
			out = append(out, c.Code())
		}
	}
	return out
}
