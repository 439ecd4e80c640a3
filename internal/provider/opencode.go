package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// openCodeRequest ensures stream is always serialized explicitly — the
// openai.ChatCompletionRequest's omitempty on Stream would drop false/true
// ambiguously for this endpoint.
type openCodeRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Tools       []openai.Tool                  `json:"tools,omitempty"`
	Temperature float32                        `json:"temperature,omitempty"`
	Stream      bool                           `json:"stream"`
	StreamOpts  *chatStreamOptions             `json:"stream_options,omitempty"`
}

// OpenCodeProvider implements Provider for OpenCode Zen's chat/completions dialect.
type OpenCodeProvider struct {
	name        string
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	model       string
	temperature float64
}

const (
	opencodeChatCompletionsEndpoint = "/chat/completions"
	opencodeMessagesEndpoint        = "/messages"
	opencodeResponsesEndpoint       = "/responses"
)

var opencodeModelEndpoints = map[string]string{
	"big-pickle":                 opencodeChatCompletionsEndpoint,
	"gemini-3-pro":               "/models/gemini-3-pro",
	"gemini-3-flash":             "/models/gemini-3-flash",
	"glm-4.7-free":               opencodeChatCompletionsEndpoint,
	"gpt-5-nano":                 opencodeChatCompletionsEndpoint, // chat/completions despite docs saying /responses (500s)
	"kimi-k2.5-free":             opencodeChatCompletionsEndpoint,
	"minimax-m2.1-free":          opencodeMessagesEndpoint,
	"trinity-large-preview-free": opencodeChatCompletionsEndpoint,
}

// NewOpenCode creates a new OpenCode Zen provider.
func NewOpenCode(endpoint, model, apiKey string) *OpenCodeProvider {
	return NewOpenCodeWithTemp("opencode_zen", endpoint, model, apiKey, 0.7)
}

func NewOpenCodeWithTemp(name string, endpoint, model, apiKey string, temperature float64) *OpenCodeProvider {
	return &OpenCodeProvider{
		name:        name,
		baseURL:     strings.TrimRight(endpoint, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		model:       model,
		temperature: temperature,
	}
}

func (p *OpenCodeProvider) Name() string {
	return p.name
}

// ChatStream streams a chat completion from the OpenCode Zen endpoint matching
// the configured model. Models routed to a non-chat-completions endpoint don't
// support streaming and return an error immediately.
func (p *OpenCodeProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	if opencodeEndpointForModel(p.model) != opencodeChatCompletionsEndpoint {
		return nil, fmt.Errorf("opencode model %q does not support streaming via chat completions endpoint", p.model)
	}

	req := openCodeRequest{
		Model:       p.model,
		Messages:    mergeSystemMessagesOpenAI(toOpenAIMessages(messages)),
		Tools:       toOpenAITools(tools),
		Temperature: float32(p.temperature),
		Stream:      true,
		StreamOpts:  &chatStreamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL + opencodeChatCompletionsEndpoint,
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
		parseSSEStream(ctx, reader, ch)
	}()

	return ch, nil
}

// ListModels returns the statically known OpenCode Zen model roster; the
// endpoint has no models-listing API.
func (p *OpenCodeProvider) ListModels(ctx context.Context) ([]Model, error) {
	models := make([]Model, 0, len(opencodeModelEndpoints))
	for name := range opencodeModelEndpoints {
		models = append(models, Model{Name: name})
	}
	return models, nil
}

func (p *OpenCodeProvider) authHeaders() map[string]string {
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func opencodeEndpointForModel(model string) string {
	if endpoint, ok := opencodeModelEndpoints[model]; ok {
		return endpoint
	}
	switch {
	case strings.HasPrefix(model, "gpt-"):
		return opencodeResponsesEndpoint
	case strings.HasPrefix(model, "claude-"):
		return opencodeMessagesEndpoint
	default:
		return opencodeChatCompletionsEndpoint
	}
}

// Close closes idle HTTP connections.
func (p *OpenCodeProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

// OpenCodeFactory constructs OpenCodeProvider instances for the registry.
type OpenCodeFactory struct {
	name    string
	apiKey  string
	baseURL string
}

func NewOpenCodeFactory(name, apiKey, baseURL string) *OpenCodeFactory {
	return &OpenCodeFactory{name: name, apiKey: apiKey, baseURL: baseURL}
}

func (f *OpenCodeFactory) Name() string { return f.name }

func (f *OpenCodeFactory) Create(model string, opts Options) Provider {
	baseURL := f.baseURL
	if baseURL == "" {
		baseURL = "https://opencode.ai/zen/v1"
	}
	log.Info().Str("factory", f.name).Str("model", model).Msg("OpenCodeFactory.Create")
	return NewOpenCodeWithTemp(f.name, baseURL, model, f.apiKey, opts.Temperature)
}
