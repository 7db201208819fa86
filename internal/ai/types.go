package ai

import "context"

// Attachment is an optional inline binary part for multimodal calls.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// GenerationParams control sampling and output size.
type GenerationParams struct {
	Temperature     float64
	TopK            int
	TopP            float64
	MaxOutputTokens int
}

// GenerationRequest describes one generation call. It is immutable once
// issued: model and debug settings travel with the request so concurrent
// requests can never contaminate each other.
type GenerationRequest struct {
	Prompt        string
	System        string
	Model         string
	FallbackModel string
	Params        GenerationParams
	Attachment    *Attachment
	Debug         bool
}

// Generation is one raw completion from the provider.
type Generation struct {
	Text         string
	FinishReason string
	Model        string
}

// FinishMaxTokens is the provider's token-limit stop signal.
const FinishMaxTokens = "MAX_TOKENS"

// Provider performs a single generation attempt against the upstream
// service with the given model. Retry and fallback policy live in the
// Orchestrator, not here.
type Provider interface {
	Generate(ctx context.Context, req GenerationRequest, model string) (*Generation, error)
}

// RawResult is the orchestrator's output: unparsed text plus provenance.
type RawResult struct {
	Text     string
	Model    string
	Attempts int
	Repaired bool
}
