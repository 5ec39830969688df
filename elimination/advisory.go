package elimination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrAdvisoryUnavailable is returned by advisors that cannot serve requests,
// for instance when no API credentials are configured.
var ErrAdvisoryUnavailable = errors.New("advisory provider unavailable")

type AdvisoryState string

const (
	AdvisoryIdle      AdvisoryState = "idle"
	AdvisoryRequested AdvisoryState = "requested"
	AdvisoryResolved  AdvisoryState = "resolved"
	AdvisoryFallback  AdvisoryState = "fallback"
	AdvisorySkipped   AdvisoryState = "skipped"
)

// AdvisoryCandidate is the advisor-facing view of one surviving candidate.
type AdvisoryCandidate struct {
	Code        string  `json:"code"`
	HeadingText string  `json:"heading_text,omitempty"`
	Score       float64 `json:"score"`
}

// AdvisoryRequest carries everything an advisor may use: the product, the
// surviving candidates, and the step log accumulated so far.
type AdvisoryRequest struct {
	Product    ProductInfo         `json:"product"`
	Candidates []AdvisoryCandidate `json:"candidates"`
	Steps      []Step              `json:"steps"`
}

// AdvisoryResponse is the advisor's narrowing verdict. SelectedCodes must be a
// non-empty subset of the request's candidate codes.
type AdvisoryResponse struct {
	SelectedCodes []string `json:"selected_codes"`
	Rationale     string   `json:"rationale,omitempty"`
}

// AdvisoryOutcome records what happened to the consultation, whatever its
// terminal state.
type AdvisoryOutcome struct {
	State         AdvisoryState `json:"state"`
	Provider      string        `json:"provider,omitempty"`
	SelectedCodes []string      `json:"selected_codes,omitempty"`
	Rationale     string        `json:"rationale,omitempty"`
	Err           string        `json:"error,omitempty"`
}

// Advisor narrows an ambiguous survivor set. Implementations must be safe for
// concurrent use.
type Advisor interface {
	Name() string
	Consult(ctx context.Context, req AdvisoryRequest) (AdvisoryResponse, error)
}

// NoopAdvisor always reports itself unavailable. Useful for deployments that
// run the deterministic stages only.
type NoopAdvisor struct{}

func (NoopAdvisor) Name() string { return "noop" }

func (NoopAdvisor) Consult(ctx context.Context, req AdvisoryRequest) (AdvisoryResponse, error) {
	return AdvisoryResponse{}, ErrAdvisoryUnavailable
}

// consultAdvisory runs the consultation lifecycle. It triggers only when the
// deterministic stages leave more than the configured number of candidates
// alive. The primary advisor is tried first, then the fallback once; when
// both fail the survivor set is untouched and the outcome records the error.
func (r *run) consultAdvisory(ctx context.Context, steps []Step) (Step, *AdvisoryOutcome) {
	alive := r.alive()
	outcome := &AdvisoryOutcome{State: AdvisoryIdle}

	if len(alive) <= r.e.cfg.AdvisoryTrigger {
		outcome.State = AdvisorySkipped
		return skippedStep(StageAdvisory, r.aliveCodes(), SkipNotTriggered,
			fmt.Sprintf("%d candidates alive, trigger is >%d", len(alive), r.e.cfg.AdvisoryTrigger)), outcome
	}
	if r.e.primary == nil && r.e.fallback == nil {
		outcome.State = AdvisorySkipped
		outcome.Err = ErrAdvisoryUnavailable.Error()
		return skippedStep(StageAdvisory, r.aliveCodes(), SkipAdvisoryUnavailable, "no advisory provider configured"), outcome
	}

	req := AdvisoryRequest{
		Product:    r.product,
		Candidates: make([]AdvisoryCandidate, 0, len(alive)),
		Steps:      steps,
	}
	aliveCodes := make(map[string]*Candidate, len(alive))
	for _, c := range alive {
		text, _, _ := r.resolveHeading(ctx, c)
		req.Candidates = append(req.Candidates, AdvisoryCandidate{Code: c.Code(), HeadingText: text, Score: c.Score})
		aliveCodes[c.Code()] = c
	}
	sort.Slice(req.Candidates, func(i, j int) bool { return req.Candidates[i].Code < req.Candidates[j].Code })

	outcome.State = AdvisoryRequested

	var lastErr error
	for i, adv := range []Advisor{r.e.primary, r.e.fallback} {
		if adv == nil {
			continue
		}
		resp, err := r.callAdvisor(ctx, adv, req, aliveCodes)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", adv.Name(), err)
			r.e.logf("advisory %s failed: %v", adv.Name(), err)
			continue
		}
		outcome.Provider = adv.Name()
		outcome.SelectedCodes = resp.SelectedCodes
		outcome.Rationale = resp.Rationale
		if i == 0 {
			outcome.State = AdvisoryResolved
		} else {
			outcome.State = AdvisoryFallback
		}

		selected := toSet(resp.SelectedCodes)
		var pend []pendingElim
		for _, c := range alive {
			if _, ok := selected[c.Code()]; ok {
				continue
			}
			pend = append(pend, pendingElim{cand: c, reason: Reason{
				Stage:  StageAdvisory,
				Code:   ReasonAdvisoryRejected,
				Detail: fmt.Sprintf("not selected by %s", adv.Name()),
			}})
		}
		return r.commit(StageAdvisory, pend, fmt.Sprintf("%s selected %s", adv.Name(), strings.Join(resp.SelectedCodes, ", "))), outcome
	}

	outcome.State = AdvisorySkipped
	if lastErr != nil {
		outcome.Err = lastErr.Error()
	}
	step := skippedStep(StageAdvisory, r.aliveCodes(), SkipAdvisoryUnavailable, "all advisory providers failed")
	step.Outcome = OutcomeFailed
	step.SkipReason = ""
	return step, outcome
}

// callAdvisor wraps one consultation in the configured timeout and validates
// the response: selections must be a non-empty subset of the alive codes.
func (r *run) callAdvisor(ctx context.Context, adv Advisor, req AdvisoryRequest, alive map[string]*Candidate) (AdvisoryResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, r.e.cfg.advisoryTimeout())
	defer cancel()

	resp, err := adv.Consult(cctx, req)
	if err != nil {
		return AdvisoryResponse{}, err
	}
	valid := make([]string, 0, len(resp.SelectedCodes))
	seen := map[string]struct{}{}
	for _, code := range resp.SelectedCodes {
		code = strings.TrimSpace(code)
		if _, ok := alive[code]; !ok {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		valid = append(valid, code)
	}
	if len(valid) == 0 {
		return AdvisoryResponse{}, fmt.Errorf("advisor selected no live candidate codes")
	}
	sort.Strings(valid)
	resp.SelectedCodes = valid
	return resp, nil
}
