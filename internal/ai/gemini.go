package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/serenomind/sereno/internal/logger"
)

// GeminiProvider calls the Gemini generateContent REST API. One Generate
// call is exactly one HTTP attempt; the Orchestrator layers retry,
// backoff and model fallback on top.
type GeminiProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewGeminiProvider(baseURL, apiKey string, timeout time.Duration) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &GeminiProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Generate performs one generateContent call with the given model.
func (p *GeminiProvider) Generate(ctx context.Context, req GenerationRequest, model string) (*Generation, error) {
	if p.Client == nil {
		return nil, errors.New("gemini: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("gemini: model is required")
	}

	parts := []geminiPart{{Text: req.Prompt}}
	if req.Attachment != nil && len(req.Attachment.Data) > 0 {
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{
				MIMEType: req.Attachment.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(req.Attachment.Data),
			},
		})
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Params.Temperature,
			TopK:            req.Params.TopK,
			TopP:            req.Params.TopP,
			MaxOutputTokens: req.Params.MaxOutputTokens,
		},
	}
	if strings.TrimSpace(req.System) != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(p.BaseURL, "/"), model, p.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if req.Debug {
		logger.Debugf("gemini request: model=%s prompt_len=%d attachment=%t",
			model, len(req.Prompt), req.Attachment != nil)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Model: model, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, &UpstreamError{Model: model, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ue := &UpstreamError{
			Status:  resp.StatusCode,
			Model:   model,
			Message: Preview(strings.TrimSpace(string(body))),
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			if v := resp.Header.Get("Retry-After"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n >= 0 {
					ue.RetryAfter = n
				}
			}
		}
		return nil, ue
	}

	var decoded geminiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Model:   model,
			Message: "unparseable response body: " + Preview(string(body)),
		}
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, &UpstreamError{
			Status:  resp.StatusCode,
			Model:   model,
			Message: Preview(decoded.Error.Message),
		}
	}
	if len(decoded.Candidates) == 0 {
		return nil, &UpstreamError{Status: resp.StatusCode, Model: model, Message: "no candidates returned"}
	}

	cand := decoded.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())

	if req.Debug {
		logger.Debugf("gemini response: model=%s finish=%s text_len=%d",
			model, cand.FinishReason, len(text))
	}

	return &Generation{Text: text, FinishReason: cand.FinishReason, Model: model}, nil
}
