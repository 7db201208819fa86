package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func geminiOKBody(text, finish string) string {
	return `{"candidates":[{"content":{"parts":[{"text":` + mustJSON(text) + `}],"role":"model"},"finishReason":"` + finish + `"}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestGenerate_SendsWireFormat(t *testing.T) {
	var gotPath string
	var gotBody geminiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geminiOKBody("hello", "STOP")))
	}))
	defer srv.Close()

	p := NewGeminiProvider(srv.URL, "test-key", 5*time.Second)
	gen, err := p.Generate(context.Background(), GenerationRequest{
		Prompt: "analyze this",
		System: "be strict",
		Params: GenerationParams{Temperature: 0.7, MaxOutputTokens: 100},
		Attachment: &Attachment{
			MIMEType: "application/pdf",
			Data:     []byte{1, 2, 3},
		},
	}, "gemini-test")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if !strings.Contains(gotPath, "/models/gemini-test:generateContent") {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "be strict" {
		t.Fatalf("system instruction not sent: %+v", gotBody.SystemInstruction)
	}
	if len(gotBody.Contents) != 1 || len(gotBody.Contents[0].Parts) != 2 {
		t.Fatalf("expected one content with prompt and attachment parts: %+v", gotBody.Contents)
	}
	if gotBody.Contents[0].Parts[1].InlineData == nil {
		t.Fatalf("attachment not inlined")
	}
	if gotBody.GenerationConfig.MaxOutputTokens != 100 {
		t.Fatalf("generation config not sent: %+v", gotBody.GenerationConfig)
	}

	if gen.Text != "hello" || gen.FinishReason != "STOP" {
		t.Fatalf("unexpected generation: %+v", gen)
	}
}

func TestGenerate_JoinsMultipleParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"a\":"},{"text":"1}"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(srv.URL, "test-key", 5*time.Second)
	gen, err := p.Generate(context.Background(), GenerationRequest{Prompt: "x"}, "m")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.Text != `{"a":1}` {
		t.Fatalf("parts not joined: %q", gen.Text)
	}
}

func TestGenerate_RateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(srv.URL, "test-key", 5*time.Second)
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "x"}, "m")

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusTooManyRequests || ue.RetryAfter != 7 {
		t.Fatalf("retry-after not captured: %+v", ue)
	}
	if !ue.Transient() {
		t.Fatalf("429 must be transient")
	}
}

func TestGenerate_NotFoundIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"model not found"}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(srv.URL, "test-key", 5*time.Second)
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "x"}, "nope")

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !ue.Rejected() || ue.Transient() {
		t.Fatalf("404 must be a rejection: %+v", ue)
	}
}

func TestGenerate_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(srv.URL, "test-key", 5*time.Second)
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "x"}, "m")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
}
