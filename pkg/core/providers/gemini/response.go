package gemini

import (
	"encoding/json"
	"strings"
)

// geminiResponse is the Gemini API response format.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
}

// geminiCandidate represents a single candidate response.
type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

// geminiUsage contains token usage information.
type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// parseResponse extracts the reply text from a Gemini response. A body that
// does not parse, has no candidates, or carries no text is a provider error:
// the caller has nothing to speak.
func (p *Provider) parseResponse(body []byte) (*Reply, error) {
	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, &Error{Type: ErrProvider, Message: "malformed response body"}
	}

	if len(geminiResp.Candidates) == 0 {
		return nil, &Error{Type: ErrProvider, Message: "no candidates in response"}
	}

	var text strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return nil, &Error{Type: ErrProvider, Message: "empty response text"}
	}

	return &Reply{Text: reply}, nil
}
