package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// geminiRequest is the Gemini API request format.
// Note: Gemini API uses camelCase for JSON field names.
type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

// geminiContent represents a content object in Gemini format.
type geminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

// geminiPart represents a single part within content.
type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *geminiBlob `json:"inlineData,omitempty"`
}

// geminiBlob represents inline binary data.
type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

// geminiGenConfig contains generation configuration.
type geminiGenConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
	TopK        *int     `json:"topK,omitempty"`
}

// Generation defaults tuned for short conversational replies.
var (
	defaultTemperature = 0.8
	defaultTopP        = 0.9
	defaultTopK        = 40
)

// buildRequest converts a ReplyRequest to the Gemini wire format. Prior
// exchanges are emitted oldest first, followed by the user turn carrying
// the audio payload.
func (p *Provider) buildRequest(req *ReplyRequest) *geminiRequest {
	geminiReq := &geminiRequest{}

	if req.System != "" {
		geminiReq.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.System}},
		}
	}

	contents := make([]geminiContent, 0, 2*len(req.Exchanges)+1)
	for _, ex := range req.Exchanges {
		contents = append(contents, geminiContent{
			Role:  "user",
			Parts: []geminiPart{{Text: ex.User}},
		})
		contents = append(contents, geminiContent{
			Role:  "model",
			Parts: []geminiPart{{Text: ex.Assistant}},
		})
	}
	contents = append(contents, geminiContent{
		Role: "user",
		Parts: []geminiPart{{
			InlineData: &geminiBlob{
				MIMEType: req.Audio.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(req.Audio.Data),
			},
		}},
	})
	geminiReq.Contents = contents

	geminiReq.GenerationConfig = &geminiGenConfig{
		Temperature: orDefault(req.Temperature, &defaultTemperature),
		TopP:        orDefault(req.TopP, &defaultTopP),
		TopK:        orDefaultInt(req.TopK, &defaultTopK),
	}

	return geminiReq
}

func orDefault(v, def *float64) *float64 {
	if v != nil {
		return v
	}
	return def
}

func orDefaultInt(v, def *int) *int {
	if v != nil {
		return v
	}
	return def
}

// doRequest sends a non-streaming request to Gemini.
func (p *Provider) doRequest(ctx context.Context, req *geminiRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, p.parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, nil
}
