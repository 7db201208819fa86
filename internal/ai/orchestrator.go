package ai

import (
	"context"
	"encoding/json"
	"time"

	"github.com/serenomind/sereno/internal/extract"
	"github.com/serenomind/sereno/internal/logger"
)

const (
	maxAttempts        = 3
	defaultBackoffBase = 500 * time.Millisecond
)

// Orchestrator issues generation calls and applies the retry, backoff
// and model-fallback policy. It holds no mutable per-request state:
// the effective model travels through call parameters, so concurrent
// requests and fallback sequences never interfere.
type Orchestrator struct {
	provider      Provider
	defaultModel  string
	fallbackModel string
	backoffBase   time.Duration
}

func NewOrchestrator(provider Provider, defaultModel, fallbackModel string) *Orchestrator {
	return &Orchestrator{
		provider:      provider,
		defaultModel:  defaultModel,
		fallbackModel: fallbackModel,
		backoffBase:   defaultBackoffBase,
	}
}

// SetBackoffBase overrides the exponential backoff base delay. Tests
// use this to avoid real sleeps.
func (o *Orchestrator) SetBackoffBase(d time.Duration) {
	if d > 0 {
		o.backoffBase = d
	}
}

// Issue performs the attempt loop for one generation request and
// returns the raw (unparsed) response text. Parsing is the extractor's
// job. A nil error guarantees non-empty text.
func (o *Orchestrator) Issue(ctx context.Context, req GenerationRequest) (*RawResult, error) {
	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	fallback := req.FallbackModel
	if fallback == "" {
		fallback = o.fallbackModel
	}
	return o.issueModel(ctx, req, model, fallback, true)
}

func (o *Orchestrator) issueModel(ctx context.Context, req GenerationRequest, model, fallback string, allowFallback bool) (*RawResult, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		gen, err := o.provider.Generate(ctx, req, model)
		if err == nil && gen.Text != "" {
			return o.finish(req, gen, attempt)
		}
		if err == nil {
			// 2xx but nothing usable came back; retrying the same
			// prompt rarely helps and fallback is for rejections only.
			return nil, &UpstreamError{Status: 200, Model: model, Message: "empty completion"}
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ue, ok := AsUpstream(err)
		if !ok {
			return nil, err
		}
		lastErr = ue

		if ue.Rejected() {
			if allowFallback && fallback != "" && model != fallback {
				if req.Debug {
					logger.Warnf("model %s rejected (status=%d), retrying on fallback %s", model, ue.Status, fallback)
				}
				// Nested attempt sequence on the fallback model. On
				// failure the fallback's error is surfaced; the caller
				// keeps its own model identifier untouched.
				return o.issueModel(ctx, req, fallback, fallback, false)
			}
			return nil, ue
		}

		if !ue.Transient() {
			return nil, ue
		}
		if attempt == maxAttempts {
			break
		}

		if err := o.backoff(ctx, ue, attempt); err != nil {
			return nil, err
		}
	}

	return nil, &RetriesExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

// backoff sleeps before the next attempt: the server-supplied
// Retry-After when present, otherwise exponential starting at the base
// delay. The sleep is per-request and aborts on cancellation.
func (o *Orchestrator) backoff(ctx context.Context, ue *UpstreamError, attempt int) error {
	var d time.Duration
	if ue.RetryAfter > 0 {
		d = time.Duration(ue.RetryAfter) * time.Second
	} else {
		d = o.backoffBase << uint(attempt-1)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish handles the truncation path: when generation stopped on the
// token limit and the payload is not already recoverable JSON, the
// partial text is routed through the truncation repairer.
func (o *Orchestrator) finish(req GenerationRequest, gen *Generation, attempts int) (*RawResult, error) {
	res := &RawResult{Text: gen.Text, Model: gen.Model, Attempts: attempts}
	if gen.FinishReason != FinishMaxTokens {
		return res, nil
	}
	if candidate, ok := extract.ScanObject(extract.StripFences(gen.Text)); ok && json.Valid([]byte(candidate)) {
		return res, nil
	}

	repaired, err := extract.RepairTruncated(gen.Text)
	if err != nil {
		return nil, err
	}
	if req.Debug {
		logger.Debugf("repaired truncated completion: model=%s len=%d->%d", gen.Model, len(gen.Text), len(repaired))
	}
	res.Text = repaired
	res.Repaired = true
	return res, nil
}
