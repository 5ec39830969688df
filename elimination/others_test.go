package elimination

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOthersGateSuppressesCatchAll(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	a := &Candidate{Section: "XV", Chapter: "73", Heading: "7318", Alive: true, Score: 0.8}
	b := &Candidate{Section: "XV", Chapter: "73", Heading: "7326", Alive: true, Score: 0.7}
	r := newTestRun(e, ProductInfo{Description: "steel widget"}, a, b)
	r.injectHeading(a, "Widgets of steel")
	r.injectHeading(b, "Other articles of iron or steel")

	step := r.othersGate(context.Background())

	if step.Outcome != OutcomeApplied {
		t.Fatalf("outcome=%s want=applied", step.Outcome)
	}
	if diff := cmp.Diff([]string{"7326"}, step.Eliminated); diff != "" {
		t.Errorf("eliminated mismatch (-want +got):\n%s", diff)
	}
	if got := b.Reasons[len(b.Reasons)-1].Code; got != ReasonCatchAllSuppressed {
		t.Errorf("reason=%s want=%s", got, ReasonCatchAllSuppressed)
	}
}

func TestOthersGateKeepsCatchAllWhenNothingSpecificRemains(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	a := &Candidate{Section: "XV", Chapter: "73", Heading: "7326", Alive: true, Score: 0.6}
	b := &Candidate{Section: "XX", Chapter: "96", Heading: "9602", Alive: true, Score: 0.5}
	r := newTestRun(e, ProductInfo{Description: "steel widget"}, a, b)
	r.injectHeading(a, "Other articles of iron or steel")
	r.injectHeading(b, "Other moulded or carved articles")

	step := r.othersGate(context.Background())

	if step.Outcome != OutcomeSkipped || step.SkipReason != SkipNothingToEliminate {
		t.Errorf("step=%+v want skipped/nothing_to_eliminate", step)
	}
	if !a.Alive || !b.Alive {
		t.Error("catch-all candidates must survive when no specific heading remains")
	}
}

func TestOthersGatePrincipalCompositionUnsupported(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	a := &Candidate{Section: "XI", Chapter: "50", Heading: "5007", Alive: true, Score: 0.6}
	b := &Candidate{Section: "XI", Chapter: "62", Heading: "6214", Alive: true, Score: 0.7}
	r := newTestRun(e, ProductInfo{Description: "cotton scarf", Material: "cotton"}, a, b)
	r.injectHeading(a, "Scarves wholly or principally of silk")
	r.injectHeading(b, "Shawls, scarves and mufflers of cotton")

	step := r.othersGate(context.Background())

	if step.Outcome != OutcomeApplied {
		t.Fatalf("outcome=%s want=applied", step.Outcome)
	}
	if a.Alive {
		t.Fatal("silk-principal heading should be rejected for a cotton product")
	}
	if got := a.Reasons[len(a.Reasons)-1].Code; got != ReasonPrincipalCompUnsupported {
		t.Errorf("reason=%s want=%s", got, ReasonPrincipalCompUnsupported)
	}
}

func TestOthersGatePrincipalCompositionSupportedByShare(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	a := &Candidate{Section: "XI", Chapter: "50", Heading: "5007", Alive: true, Score: 0.6}
	b := &Candidate{Section: "XI", Chapter: "62", Heading: "6214", Alive: true, Score: 0.7}
	p := ProductInfo{
		Description: "silk blend scarf",
		Composition: []MaterialShare{{Material: "silk", Percent: 60}, {Material: "cotton", Percent: 40}},
	}
	r := newTestRun(e, p, a, b)
	r.injectHeading(a, "Scarves wholly or principally of silk")
	r.injectHeading(b, "Shawls, scarves and mufflers of cotton")

	step := r.othersGate(context.Background())

	if step.Outcome != OutcomeSkipped || step.SkipReason != SkipNothingToEliminate {
		t.Errorf("step=%+v want skipped/nothing_to_eliminate", step)
	}
	if !a.Alive {
		t.Error("60% silk supports the principally-of-silk heading")
	}
}

func TestOthersGateSkipsWithSingleCandidate(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	a := &Candidate{Section: "XV", Chapter: "73", Heading: "7326", Alive: true, Score: 0.6}
	r := newTestRun(e, ProductInfo{Description: "steel widget"}, a)

	step := r.othersGate(context.Background())

	if step.Outcome != OutcomeSkipped || step.SkipReason != SkipSingleCandidateAlive {
		t.Errorf("step=%+v want skipped/single_candidate_alive", step)
	}
}
