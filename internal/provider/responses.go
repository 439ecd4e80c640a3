package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// ResponsesProvider implements Provider for the OpenAI Responses API dialect.
type ResponsesProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	model      string
	opts       Options
}

// NewResponses creates a new OpenAI Responses API provider.
func NewResponses(name, apiKey, baseURL, model string, opts Options) *ResponsesProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &ResponsesProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		model:      model,
		opts:       opts,
	}
}

func (p *ResponsesProvider) Name() string {
	return p.name
}

// ChatStream sends messages to the Responses API and streams the result as
// provider-agnostic StreamEvents.
func (p *ResponsesProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	var temp *float32
	if p.opts.Temperature != 0 {
		t := float32(p.opts.Temperature)
		temp = &t
	}

	req := responsesRequest{
		Model:       p.model,
		Input:       toResponsesInput(messages),
		Tools:       toResponsesTools(tools),
		Temperature: temp,
		Stream:      true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL + "/responses",
		body:     body,
		headers:  p.authHeaders(),
		provider: p.name,
		model:    p.model,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer reader.Close()
		parseResponsesSSEStream(ctx, reader, ch)
	}()

	return ch, nil
}

// ListModels returns the statically known Responses-capable model roster.
func (p *ResponsesProvider) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{
		{Name: "gpt-5.2"},
		{Name: "gpt-5.2-mini"},
	}, nil
}

// Close closes idle HTTP connections.
func (p *ResponsesProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

func (p *ResponsesProvider) authHeaders() map[string]string {
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	return headers
}

// ResponsesFactory constructs ResponsesProvider instances for the registry.
type ResponsesFactory struct {
	name    string
	apiKey  string
	baseURL string
}

func NewResponsesFactory(name, apiKey, baseURL string) *ResponsesFactory {
	return &ResponsesFactory{name: name, apiKey: apiKey, baseURL: baseURL}
}

func (f *ResponsesFactory) Name() string { return f.name }

func (f *ResponsesFactory) Create(model string, opts Options) Provider {
	log.Debug().Str("factory", f.name).Str("model", model).Msg("ResponsesFactory.Create")
	return NewResponses(f.name, f.apiKey, f.baseURL, model, opts)
}
