package elimination

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/joelkehle/tariffline/refdata"
)

type captureSink struct {
	records []AuditRecord
}

func (s *captureSink) Enqueue(rec AuditRecord) {
	s.records = append(s.records, rec)
}

// fastenerFixture models a steel bolt classified against a fastener heading,
// a residual steel heading and an unrelated textile heading.
func fastenerFixture(t *testing.T) (*refdata.MemProvider, ProductInfo, []Candidate) {
	t.Helper()
	provider := refdata.NewMemProvider()
	for _, s := range []refdata.Section{
		{ID: "XV", Title: "Base metals", Scope: "Base metals and articles of base metal, including steel fasteners"},
		{ID: "XI", Title: "Textiles", Scope: "Textiles and textile articles, yarn, fabric and apparel"},
	} {
		if err := provider.AddSection(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := provider.AddChapter(refdata.Chapter{
		ID: "73", SectionID: "XV", Title: "Articles of iron or steel",
		Preamble:   "Articles of iron or steel",
		Inclusions: []refdata.Note{{Text: "bolts, screws, nuts and washers of iron or steel"}},
	}); err != nil {
		t.Fatal(err)
	}
	for _, h := range []refdata.Heading{
		{ID: "7318", ChapterID: "73", Description: "Screws, bolts, nuts, coach screws, screw hooks, rivets, cotters, cotter pins, washers and similar articles, of iron or steel"},
		{ID: "7326", ChapterID: "73", Description: "Other articles of iron or steel"},
		{ID: "6117", ChapterID: "61", Description: "Other made-up clothing accessories, knitted"},
	} {
		if err := provider.AddHeading(h); err != nil {
			t.Fatal(err)
		}
	}

	product := ProductInfo{ID: "p-1", Description: "Hexagonal steel bolt with washer", Material: "steel"}
	candidates := []Candidate{
		{Section: "XV", Chapter: "73", Heading: "7318"},
		{Section: "XV", Chapter: "73", Heading: "7326"},
		{Section: "XI", Chapter: "61", Heading: "6117"},
	}
	return provider, product, candidates
}

func TestClassifySteelBolt(t *testing.T) {
	provider, product, candidates := fastenerFixture(t)
	e := mustEngineWith(t, DefaultConfig(), provider)

	result, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Survivors) != 1 || result.Survivors[0].Candidate.Code() != "7318" {
		t.Fatalf("survivors=%+v want single 7318", result.Survivors)
	}
	if !almost(result.Survivors[0].Confidence, 1.0) {
		t.Errorf("confidence=%v want=1.0", result.Survivors[0].Confidence)
	}
	if result.NeedsAI || result.NeedsReview {
		t.Errorf("needs_ai=%v needs_review=%v, want neither for a clean single survivor", result.NeedsAI, result.NeedsReview)
	}

	wantStages := []string{
		StageSectionScope, StageChapterNotes, StageHeadingMatch,
		StageSubheadingNotes, StageTieBreak, StageOthersGate, StageAdvisory,
	}
	var gotStages []string
	for _, s := range result.Steps {
		gotStages = append(gotStages, s.Stage)
	}
	if diff := cmp.Diff(wantStages, gotStages); diff != "" {
		t.Errorf("stage order mismatch (-want +got):\n%s", diff)
	}

	byStage := map[string]Step{}
	for _, s := range result.Steps {
		byStage[s.Stage] = s
	}
	if diff := cmp.Diff([]string{"6117"}, byStage[StageSectionScope].Eliminated); diff != "" {
		t.Errorf("section scope eliminated (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"7326"}, byStage[StageHeadingMatch].Eliminated); diff != "" {
		t.Errorf("heading match eliminated (-want +got):\n%s", diff)
	}
	if s := byStage[StageSubheadingNotes]; s.Outcome != OutcomeSkipped || s.SkipReason != SkipNoReferenceData {
		t.Errorf("subheading step=%+v want skipped/no_reference_data", s)
	}
	if s := byStage[StageAdvisory]; s.Outcome != OutcomeSkipped || s.SkipReason != SkipNotTriggered {
		t.Errorf("advisory step=%+v want skipped/not_triggered", s)
	}

	reasons := map[string]ReasonCode{}
	for _, c := range result.Eliminated {
		reasons[c.Code()] = c.Reasons[len(c.Reasons)-1].Code
	}
	if reasons["6117"] != ReasonSectionScopeMismatch || reasons["7326"] != ReasonLowHeadingScore {
		t.Errorf("elimination reasons=%v", reasons)
	}

	if len(result.CounterArguments) != 1 {
		t.Fatalf("counter arguments=%+v want exactly one", result.CounterArguments)
	}
	ca := result.CounterArguments[0]
	if ca.SurvivorCode != "7318" || ca.CompetitorCode != "7326" {
		t.Errorf("counter argument pairing=%+v", ca)
	}
	if !strings.Contains(ca.RiskFactor, "steel") {
		t.Errorf("risk factor %q should name the shared term", ca.RiskFactor)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	provider, product, candidates := fastenerFixture(t)
	e := mustEngineWith(t, DefaultConfig(), provider)

	first, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatal(err)
	}

	ignore := cmpopts.IgnoreFields(Result{}, "RunID", "StartedAt", "CompletedAt")
	if diff := cmp.Diff(first, second, ignore); diff != "" {
		t.Errorf("results differ between identical runs (-first +second):\n%s", diff)
	}
}

func TestClassifyStepsAreMonotonic(t *testing.T) {
	provider, product, candidates := fastenerFixture(t)
	e := mustEngineWith(t, DefaultConfig(), provider)

	result, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range result.Steps {
		if len(s.After) == 0 {
			t.Fatalf("step %d (%s) left no survivors", i, s.Stage)
		}
		before := toSet(s.Before)
		for _, code := range s.After {
			if _, ok := before[code]; !ok {
				t.Errorf("step %d (%s): %s appeared in the after set", i, s.Stage, code)
			}
		}
		if i > 0 {
			prev := toSet(result.Steps[i-1].After)
			for _, code := range s.Before {
				if _, ok := prev[code]; !ok {
					t.Errorf("step %d (%s): before set does not chain from previous step", i, s.Stage)
				}
			}
		}
	}
}

func TestClassifyDegradesWithoutReferenceData(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	product := ProductInfo{Description: "mixed kit"}
	candidates := []Candidate{
		{Section: "XVI", Chapter: "85", Heading: "8501"},
		{Section: "XVI", Chapter: "85", Heading: "8503"},
	}

	result, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byStage := map[string]Step{}
	for _, s := range result.Steps {
		byStage[s.Stage] = s
	}
	for _, stage := range []string{StageSectionScope, StageChapterNotes, StageHeadingMatch, StageSubheadingNotes} {
		if s := byStage[stage]; s.Outcome != OutcomeSkipped || s.SkipReason != SkipNoReferenceData {
			t.Errorf("%s step=%+v want skipped/no_reference_data", stage, s)
		}
	}
	if len(result.Survivors) == 0 {
		t.Fatal("a result must always carry at least one survivor")
	}
}

func TestClassifyAdvisoryNarrowsLargeSurvivorSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelativeCutoff = 0.9
	cfg.TieEpsilon = 0.0001
	primary := &stubAdvisor{name: "primary", resp: AdvisoryResponse{SelectedCodes: []string{"8413", "8414"}}}
	e := mustEngine(t, cfg).WithAdvisors(primary, nil)

	product := ProductInfo{Description: "rotary pump"}
	candidates := []Candidate{
		{Section: "XVI", Chapter: "84", Heading: "8413", HeadingText: "Rotary pumps for liquids"},
		{Section: "XVI", Chapter: "84", Heading: "8414", HeadingText: "Air pumps and compressors"},
		{Section: "XVI", Chapter: "84", Heading: "8481", HeadingText: "Taps, cocks and valves"},
		{Section: "XVI", Chapter: "85", Heading: "8501", HeadingText: "Electric generator sets"},
	}

	result, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatal(err)
	}
	var codes []string
	for _, s := range result.Survivors {
		codes = append(codes, s.Candidate.Code())
	}
	if diff := cmp.Diff([]string{"8413", "8414"}, codes); diff != "" {
		t.Errorf("survivors mismatch (-want +got):\n%s", diff)
	}
	if result.Advisory == nil || result.Advisory.State != AdvisoryResolved {
		t.Errorf("advisory outcome=%+v want resolved", result.Advisory)
	}
	if result.NeedsAI {
		t.Error("needs_ai should be false after a resolved consultation")
	}
	if !result.NeedsReview {
		t.Error("needs_review should be true with multiple survivors")
	}
}

func TestClassifyFlagsNeedsAIWhenAdvisoryExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RelativeCutoff = 0.9
	cfg.TieEpsilon = 0.0001
	primary := &stubAdvisor{name: "primary", err: errors.New("boom")}
	fallback := &stubAdvisor{name: "fallback", err: errors.New("also boom")}
	e := mustEngine(t, cfg).WithAdvisors(primary, fallback)

	product := ProductInfo{Description: "rotary pump"}
	candidates := []Candidate{
		{Section: "XVI", Chapter: "84", Heading: "8413", HeadingText: "Rotary pumps for liquids"},
		{Section: "XVI", Chapter: "84", Heading: "8414", HeadingText: "Air pumps and compressors"},
		{Section: "XVI", Chapter: "84", Heading: "8481", HeadingText: "Taps, cocks and valves"},
		{Section: "XVI", Chapter: "85", Heading: "8501", HeadingText: "Electric generator sets"},
	}

	result, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Survivors) != 4 {
		t.Fatalf("survivors=%d want=4, failed advisory must not eliminate", len(result.Survivors))
	}
	if !result.NeedsAI || !result.NeedsReview {
		t.Errorf("needs_ai=%v needs_review=%v want both true", result.NeedsAI, result.NeedsReview)
	}
}

func TestClassifySteelStorageContainer(t *testing.T) {
	provider := refdata.NewMemProvider()
	for _, s := range []refdata.Section{
		{ID: "XV", Title: "Base metals", Scope: "Base metals and articles of base metal, including containers and tools of steel"},
		{ID: "IX", Title: "Wood", Scope: "Wood and articles of wood, cork, straw and basketware"},
		{ID: "XX", Title: "Miscellaneous", Scope: "Miscellaneous manufactured articles, furniture, bedding, lamps and prefabricated buildings"},
	} {
		if err := provider.AddSection(s); err != nil {
			t.Fatal(err)
		}
	}
	e := mustEngineWith(t, DefaultConfig(), provider)

	product := ProductInfo{Description: "Foldable steel storage container with open top", Material: "steel"}
	candidates := []Candidate{
		{Section: "XX", Chapter: "94", Heading: "9403", HeadingText: "Furniture of metal, of a kind used in offices"},
		{Section: "IX", Chapter: "44", Heading: "4415", HeadingText: "Packing cases, boxes and crates of wood"},
		{Section: "XV", Chapter: "83", Heading: "8310", HeadingText: "Sign plates, name plates, address plates and similar plates, of base metal"},
		{Section: "XV", Chapter: "73", Heading: "7310", HeadingText: "Tanks, casks, drums, cans, boxes and similar sealed containers, of iron or steel"},
		{Section: "XV", Chapter: "73", Heading: "7326", HeadingText: "Other articles of iron or steel, including storage containers"},
	}

	result, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Survivors) != 1 || result.Survivors[0].Candidate.Code() != "7326" {
		t.Fatalf("survivors=%+v want single 7326", result.Survivors)
	}
	if result.NeedsAI || result.NeedsReview {
		t.Errorf("needs_ai=%v needs_review=%v, want neither", result.NeedsAI, result.NeedsReview)
	}

	byStage := map[string]Step{}
	for _, s := range result.Steps {
		byStage[s.Stage] = s
	}
	if diff := cmp.Diff([]string{"4415", "9403"}, byStage[StageSectionScope].Eliminated); diff != "" {
		t.Errorf("section scope eliminated (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"8310"}, byStage[StageHeadingMatch].Eliminated); diff != "" {
		t.Errorf("heading match eliminated (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"7310"}, byStage[StageTieBreak].Eliminated); diff != "" {
		t.Errorf("tie break eliminated (-want +got):\n%s", diff)
	}

	reasons := map[string]ReasonCode{}
	for _, c := range result.Eliminated {
		reasons[c.Code()] = c.Reasons[len(c.Reasons)-1].Code
	}
	want := map[string]ReasonCode{
		"9403": ReasonSectionScopeMismatch,
		"4415": ReasonSectionScopeMismatch,
		"8310": ReasonLowHeadingScore,
		"7310": ReasonTieBreakEssentialChar,
	}
	if diff := cmp.Diff(want, reasons); diff != "" {
		t.Errorf("elimination reasons (-want +got):\n%s", diff)
	}
}

func TestClassifyRubberGloves(t *testing.T) {
	provider := refdata.NewMemProvider()
	for _, s := range []refdata.Section{
		{ID: "VII", Title: "Plastics and rubber", Scope: "Plastics and articles thereof; rubber and articles thereof"},
		{ID: "XI", Title: "Textiles", Scope: "Textiles and textile articles, yarn, fabric and knitted apparel"},
		{ID: "XVIII", Title: "Instruments", Scope: "Optical, photographic, measuring, checking, precision, medical or surgical instruments"},
	} {
		if err := provider.AddSection(s); err != nil {
			t.Fatal(err)
		}
	}
	e := mustEngineWith(t, DefaultConfig(), provider)

	product := ProductInfo{
		Description: "Medical examination gloves of vulcanised rubber",
		Material:    "rubber",
		IntendedUse: "medical examination",
	}
	candidates := []Candidate{
		{Section: "XI", Chapter: "61", Heading: "6116", HeadingText: "Gloves, mittens and mitts, knitted or crocheted"},
		{Section: "XI", Chapter: "62", Heading: "6216", HeadingText: "Gloves, mittens and mitts, not knitted"},
		{Section: "VII", Chapter: "39", Heading: "3926", HeadingText: "Articles of apparel and clothing accessories, of plastics"},
		{Section: "XVIII", Chapter: "90", Heading: "9018", HeadingText: "Instruments and appliances used in medical, surgical or dental examination"},
		{Section: "VII", Chapter: "40", Heading: "4015", HeadingText: "Articles of apparel and clothing accessories, including gloves, of vulcanised rubber"},
	}

	result, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Survivors) != 1 || result.Survivors[0].Candidate.Code() != "4015" {
		t.Fatalf("survivors=%+v want single 4015", result.Survivors)
	}
	if !almost(result.Survivors[0].Confidence, 1.0) {
		t.Errorf("confidence=%v want=1.0", result.Survivors[0].Confidence)
	}
	if result.NeedsAI || result.NeedsReview {
		t.Errorf("needs_ai=%v needs_review=%v, want neither", result.NeedsAI, result.NeedsReview)
	}

	byStage := map[string]Step{}
	for _, s := range result.Steps {
		byStage[s.Stage] = s
	}
	if diff := cmp.Diff([]string{"6116", "6216"}, byStage[StageSectionScope].Eliminated); diff != "" {
		t.Errorf("section scope eliminated (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"3926"}, byStage[StageHeadingMatch].Eliminated); diff != "" {
		t.Errorf("heading match eliminated (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"9018"}, byStage[StageTieBreak].Eliminated); diff != "" {
		t.Errorf("tie break eliminated (-want +got):\n%s", diff)
	}

	var instrument *Candidate
	for i := range result.Eliminated {
		if result.Eliminated[i].Code() == "9018" {
			instrument = &result.Eliminated[i]
		}
	}
	if instrument == nil {
		t.Fatal("9018 missing from the eliminated set")
	}
	if got := instrument.Reasons[len(instrument.Reasons)-1]; got.Code != ReasonTieBreakEssentialChar || !strings.Contains(got.Detail, "rubber") {
		t.Errorf("reason=%+v want essential character naming rubber", got)
	}
}

func TestClassifyVehicleBatteryUnresolvedTie(t *testing.T) {
	e := mustEngine(t, DefaultConfig())
	product := ProductInfo{Description: "Rechargeable lithium ion battery pack for electric vehicles"}
	candidates := []Candidate{
		{Section: "XVI", Chapter: "85", Heading: "8507", HeadingText: "Lithium ion electric storage accumulators"},
		{Section: "XVI", Chapter: "85", Heading: "8501", HeadingText: "Electric motors for vehicle propulsion"},
		{Section: "XVII", Chapter: "87", Heading: "8703", HeadingText: "Electric vehicles and battery powered cars for transport"},
		{Section: "XVI", Chapter: "85", Heading: "8541", HeadingText: "Semiconductor devices and diodes"},
		{Section: "XVII", Chapter: "87", Heading: "8708", HeadingText: "Parts and accessories of motor vehicles"},
	}

	result, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Survivors) != 3 {
		t.Fatalf("survivors=%+v want the battery, motor and vehicle headings", result.Survivors)
	}
	reasons := map[string]ReasonCode{}
	for _, c := range result.Eliminated {
		reasons[c.Code()] = c.Reasons[len(c.Reasons)-1].Code
	}
	if reasons["8541"] != ReasonLowHeadingScore || reasons["8708"] != ReasonLowHeadingScore {
		t.Errorf("elimination reasons=%v want low_heading_score for 8541 and 8708", reasons)
	}

	if !result.NeedsAI {
		t.Error("needs_ai should be set when the tie-break cannot separate the survivors")
	}
	best := result.Survivors[0]
	for _, s := range result.Survivors[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	if best.Candidate.Code() != "8507" {
		t.Errorf("highest confidence=%s want the battery heading", best.Candidate.Code())
	}
}

func TestClassifyInputValidation(t *testing.T) {
	e := mustEngine(t, DefaultConfig())

	if _, err := e.Classify(context.Background(), ProductInfo{}, []Candidate{{Heading: "7318"}}); err == nil {
		t.Error("expected error for empty description")
	}
	if _, err := e.Classify(context.Background(), ProductInfo{Description: "bolt"}, nil); err == nil {
		t.Error("expected error for empty candidate set")
	}
	if _, err := e.Classify(context.Background(), ProductInfo{Description: "bolt"}, []Candidate{{Section: "XV"}}); err == nil {
		t.Error("expected error for candidate without heading")
	}
}

func TestClassifyEnqueuesAuditRecord(t *testing.T) {
	provider, product, candidates := fastenerFixture(t)
	sink := &captureSink{}
	e := mustEngineWith(t, DefaultConfig(), provider).WithAuditSink(sink)

	result, err := e.Classify(context.Background(), product, candidates)
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.records) != 1 {
		t.Fatalf("audit records=%d want=1", len(sink.records))
	}
	rec := sink.records[0]
	if rec.RunID != result.RunID || rec.ProductID != "p-1" {
		t.Errorf("audit record=%+v does not match result", rec)
	}
}

func TestClassifyReportsProgress(t *testing.T) {
	provider, product, candidates := fastenerFixture(t)
	e := mustEngineWith(t, DefaultConfig(), provider)

	var seen []string
	_, err := e.ClassifyWithProgress(context.Background(), product, candidates, func(s Step) {
		seen = append(seen, s.Stage)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 7 {
		t.Errorf("progress callbacks=%d want=7 (%v)", len(seen), seen)
	}
}

func TestClassifyDoesNotMutateCallerCandidates(t *testing.T) {
	provider, product, candidates := fastenerFixture(t)
	e := mustEngineWith(t, DefaultConfig(), provider)

	if _, err := e.Classify(context.Background(), product, candidates); err != nil {
		t.Fatal(err)
	}
	for i, c := range candidates {
		if c.Score != 0 || c.Alive || c.Reasons != nil {
			t.Errorf("candidate %d mutated: %+v", i, c)
		}
	}
}
