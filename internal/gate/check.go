package gate

import (
	"context"
)

// evaluate runs a gate's requirements and reports which were evaluated
// plus whether a mandatory requirement failed. In strict mode a mandatory
// failure aborts the remaining checks: sequential evaluation simply stops,
// and parallel evaluation cancels the in-flight siblings; whatever they
// return after the abort is discarded.
func (e *Engine) evaluate(ctx context.Context, g *Gate) ([]RequirementResult, bool) {
	if e.cfg.ParallelChecks {
		return e.evaluateParallel(ctx, g)
	}
	return e.evaluateSequential(ctx, g)
}

func (e *Engine) evaluateSequential(ctx context.Context, g *Gate) ([]RequirementResult, bool) {
	var results []RequirementResult
	mandatoryFailed := false
	for _, req := range g.Requirements {
		rr := e.runCheck(ctx, req)
		results = append(results, rr)
		if !rr.Passed && req.Mandatory {
			mandatoryFailed = true
			if e.cfg.Strict {
				break
			}
		}
	}
	return results, mandatoryFailed
}

func (e *Engine) evaluateParallel(ctx context.Context, g *Gate) ([]RequirementResult, bool) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexed struct {
		i  int
		rr RequirementResult
	}
	ch := make(chan indexed, len(g.Requirements))
	for i, req := range g.Requirements {
		go func(i int, req Requirement) {
			ch <- indexed{i, e.runCheck(cctx, req)}
		}(i, req)
	}

	results := make([]RequirementResult, 0, len(g.Requirements))
	mandatoryFailed := false
	for range g.Requirements {
		out := <-ch
		if mandatoryFailed && e.cfg.Strict {
			// Post-abort stragglers: discarded, not recorded.
			continue
		}
		results = append(results, out.rr)
		if !out.rr.Passed && g.Requirements[out.i].Mandatory {
			mandatoryFailed = true
			if e.cfg.Strict {
				cancel()
			}
		}
	}
	return results, mandatoryFailed
}

// runCheck evaluates one requirement under its timeout. The timeout
// rejects independently of the check's own logic: a late result is
// discarded, not awaited.
func (e *Engine) runCheck(ctx context.Context, req Requirement) RequirementResult {
	start := e.now()
	rr := RequirementResult{ID: req.ID}

	if req.Check == nil {
		rr.Error = "no check bound"
		rr.Duration = e.now().Sub(start)
		return rr
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		ok  bool
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		ok, err := req.Check(cctx, e.gctx)
		ch <- outcome{ok, err}
	}()

	select {
	case <-cctx.Done():
		if ctx.Err() != nil {
			rr.Error = "check cancelled"
		} else {
			rr.Error = "check timed out"
		}
	case out := <-ch:
		rr.Passed = out.ok && out.err == nil
		if out.err != nil {
			rr.Error = out.err.Error()
		}
	}
	rr.Duration = e.now().Sub(start)
	return rr
}
