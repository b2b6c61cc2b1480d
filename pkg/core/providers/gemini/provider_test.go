package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func candidateBody(text string) string {
	b, _ := json.Marshal(geminiResponse{
		Candidates: []geminiCandidate{{
			Content: geminiContent{Role: "model", Parts: []geminiPart{{Text: text}}},
		}},
	})
	return string(b)
}

func TestGenerateReply_RequestShape(t *testing.T) {
	var captured geminiRequest
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(candidateBody("Hello from Rev")))
	}))
	defer srv.Close()

	p := New("test-key", "gemini-2.0-flash-exp", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	reply, err := p.GenerateReply(context.Background(), &ReplyRequest{
		System: "You are Rev.",
		Exchanges: []Exchange{
			{User: "User spoke", Assistant: "Hi there!"},
			{User: "User spoke", Assistant: "The RV400 tops out at 85 km/h."},
		},
		Audio: Audio{Data: []byte("fake-audio-bytes"), MIMEType: "audio/webm"},
	})
	if err != nil {
		t.Fatalf("GenerateReply error: %v", err)
	}
	if reply.Text != "Hello from Rev" {
		t.Fatalf("text=%q, want %q", reply.Text, "Hello from Rev")
	}
	if gotPath != "/models/gemini-2.0-flash-exp:generateContent" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header=%q", gotKey)
	}

	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "You are Rev." {
		t.Fatalf("system instruction not forwarded: %#v", captured.SystemInstruction)
	}
	// Two exchanges become four text turns, oldest first, then the audio turn.
	if len(captured.Contents) != 5 {
		t.Fatalf("contents len=%d, want 5", len(captured.Contents))
	}
	if captured.Contents[0].Role != "user" || captured.Contents[0].Parts[0].Text != "User spoke" {
		t.Fatalf("contents[0]=%#v", captured.Contents[0])
	}
	if captured.Contents[1].Role != "model" || captured.Contents[1].Parts[0].Text != "Hi there!" {
		t.Fatalf("contents[1]=%#v", captured.Contents[1])
	}
	if captured.Contents[3].Parts[0].Text != "The RV400 tops out at 85 km/h." {
		t.Fatalf("contents[3]=%#v", captured.Contents[3])
	}
	last := captured.Contents[4]
	if last.Role != "user" || last.Parts[0].InlineData == nil {
		t.Fatalf("audio turn=%#v", last)
	}
	if last.Parts[0].InlineData.MIMEType != "audio/webm" {
		t.Fatalf("audio mime=%q", last.Parts[0].InlineData.MIMEType)
	}
	wantData := base64.StdEncoding.EncodeToString([]byte("fake-audio-bytes"))
	if last.Parts[0].InlineData.Data != wantData {
		t.Fatalf("audio data=%q, want %q", last.Parts[0].InlineData.Data, wantData)
	}
	if captured.GenerationConfig == nil || *captured.GenerationConfig.Temperature != 0.8 ||
		*captured.GenerationConfig.TopP != 0.9 || *captured.GenerationConfig.TopK != 40 {
		t.Fatalf("generation config=%#v", captured.GenerationConfig)
	}
}

func TestGenerateReply_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType ErrorType
	}{
		{"rate limit", 429, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, ErrRateLimit},
		{"auth", 401, `{"error":{"code":401,"message":"bad key","status":"UNAUTHENTICATED"}}`, ErrAuthentication},
		{"invalid", 400, `{"error":{"code":400,"message":"bad audio","status":"INVALID_ARGUMENT"}}`, ErrInvalidRequest},
		{"overloaded", 503, `{"error":{"code":503,"message":"busy","status":"UNAVAILABLE"}}`, ErrOverloaded},
		{"unparseable", 500, `not json`, ErrProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := New("k", "m", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
			_, err := p.GenerateReply(context.Background(), &ReplyRequest{Audio: Audio{Data: []byte("x"), MIMEType: "audio/webm"}})
			if err == nil {
				t.Fatalf("want error")
			}
			var gerr *Error
			if !errors.As(err, &gerr) {
				t.Fatalf("error type %T, want *Error", err)
			}
			if gerr.Type != tt.wantType {
				t.Fatalf("type=%q, want %q", gerr.Type, tt.wantType)
			}
		})
	}
}

func TestGenerateReply_MalformedAndEmptyBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"no candidates", `{"candidates":[]}`},
		{"empty text", candidateBody("   ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := New("k", "m", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
			_, err := p.GenerateReply(context.Background(), &ReplyRequest{Audio: Audio{Data: []byte("x"), MIMEType: "audio/webm"}})
			var gerr *Error
			if !errors.As(err, &gerr) || gerr.Type != ErrProvider {
				t.Fatalf("err=%v, want provider error", err)
			}
		})
	}
}

func TestGenerateReply_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := New("k", "m", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.GenerateReply(ctx, &ReplyRequest{Audio: Audio{Data: []byte("x"), MIMEType: "audio/webm"}})
	if err == nil {
		t.Fatalf("want deadline error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want context.DeadlineExceeded", err)
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p := New("k", "")
	if p.Model() != DefaultModel {
		t.Fatalf("model=%q, want %q", p.Model(), DefaultModel)
	}
	if p.Name() != "gemini" {
		t.Fatalf("name=%q", p.Name())
	}
}
