// Package gemini implements the Google Gemini completion gateway used for
// voice turns. One utterance in, one reply text out: it sends a blocking
// generateContent request carrying the system instruction, the recent
// conversation context and the raw audio payload, and returns the generated
// text.
package gemini

import (
	"context"
	"net/http"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.0-flash-exp"
)

// Exchange is one prior user/assistant turn pair supplied as context.
type Exchange struct {
	User      string
	Assistant string
}

// Audio is one recorded utterance.
type Audio struct {
	Data     []byte
	MIMEType string
}

// ReplyRequest is the input contract of the completion gateway.
type ReplyRequest struct {
	System    string
	Exchanges []Exchange
	Audio     Audio

	Temperature *float64
	TopP        *float64
	TopK        *int
}

// Reply is the gateway output. Transcript carries the provider's transcript
// of the user utterance when the API returns one; it is empty otherwise.
type Reply struct {
	Text       string
	Transcript string
}

// Provider calls the Gemini generateContent API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Gemini provider.
func New(apiKey, model string, opts ...Option) *Provider {
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Model returns the configured model identifier.
func (p *Provider) Model() string {
	return p.model
}

// GenerateReply sends one utterance with its context to Gemini and returns
// the reply text. The call blocks until the provider answers, the context
// is canceled, or its deadline expires.
func (p *Provider) GenerateReply(ctx context.Context, req *ReplyRequest) (*Reply, error) {
	geminiReq := p.buildRequest(req)

	respBody, err := p.doRequest(ctx, geminiReq)
	if err != nil {
		return nil, err
	}

	return p.parseResponse(respBody)
}
