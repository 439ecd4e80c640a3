package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Gemini generateContent request/response types. Gemini has no native SSE
// streaming dialect in the unary generateContent endpoint this provider
// targets, so ChatStream issues one POST and synthesizes a StreamEvent
// sequence from the complete response.

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	InlineData       *geminiInlineData   `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64, no data: prefix
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiFuncResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// GeminiProvider implements Provider for the Gemini generateContent dialect.
type GeminiProvider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	model      string
	opts       Options
}

// NewGemini creates a new Gemini provider.
func NewGemini(name, apiKey, baseURL, model string, opts Options) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GeminiProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		model:      model,
		opts:       opts,
	}
}

func (p *GeminiProvider) Name() string {
	return p.name
}

// toGeminiContents converts provider-agnostic messages to Gemini's contents
// array. System messages are hoisted into a separate systemInstruction block.
// Assistant becomes "model"; tool results become functionResponse parts.
func toGeminiContents(messages []Message) (*geminiContent, []geminiContent) {
	var systemParts []string
	var contents []geminiContent

	for _, m := range messages {
		switch m.Role {
		case roleSystem:
			systemParts = append(systemParts, m.Content)
		case "tool":
			result, _ := json.Marshal(struct {
				Result string `json:"result"`
			}{Result: m.Content})
			contents = append(contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{
					FunctionResponse: &geminiFuncResponse{
						Name:     m.FunctionName,
						Response: result,
					},
				}},
			})
		case "assistant":
			var parts []geminiPart
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: args},
				})
			}
			contents = append(contents, geminiContent{Role: "model", Parts: parts})
		default:
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
	}

	var system *geminiContent
	if len(systemParts) > 0 {
		system = &geminiContent{Parts: []geminiPart{{Text: strings.Join(systemParts, "\n\n")}}}
	}
	return system, contents
}

func toGeminiTools(tools []Tool) []geminiTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]geminiFunctionDecl, len(tools))
	for i, t := range tools {
		decls[i] = geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return []geminiTool{{FunctionDeclarations: decls}}
}

// ChatStream issues a single generateContent request and synthesizes a
// StreamEvent sequence from the complete response — Gemini's public
// generateContent endpoint returns the whole candidate at once.
func (p *GeminiProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	system, contents := toGeminiContents(messages)

	var temp *float32
	if p.opts.Temperature != 0 {
		t := float32(p.opts.Temperature)
		temp = &t
	}

	req := geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		Tools:             toGeminiTools(tools),
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     temp,
			MaxOutputTokens: p.opts.MaxTokens,
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gemini generateContent status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var gr geminiResponse
	if err := json.Unmarshal(payload, &gr); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}

	ch := make(chan StreamEvent, 8)
	go func() {
		defer close(ch)
		synthesizeGeminiStream(ctx, ch, gr)
	}()
	return ch, nil
}

// synthesizeGeminiStream emits the unary response as a StreamEvent sequence,
// treating total usage as prompt+candidates+thoughts when the API omits
// totalTokenCount (observed on some preview models).
func synthesizeGeminiStream(ctx context.Context, ch chan<- StreamEvent, gr geminiResponse) {
	if len(gr.Candidates) == 0 {
		trySend(ctx, ch, StreamEvent{Type: EventError, Err: fmt.Errorf("gemini: no candidates in response")})
		return
	}

	toolIdx := 0
	for _, part := range gr.Candidates[0].Content.Parts {
		if part.Text != "" {
			if !trySend(ctx, ch, StreamEvent{Type: EventContentDelta, Content: part.Text}) {
				return
			}
		}
		if part.FunctionCall != nil {
			id := fmt.Sprintf("gemini-call-%d", toolIdx)
			if !trySend(ctx, ch, StreamEvent{
				Type: EventToolCallBegin, ToolCallIndex: toolIdx,
				ToolCallID: id, ToolCallName: part.FunctionCall.Name,
			}) {
				return
			}
			args := part.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			if !trySend(ctx, ch, StreamEvent{
				Type: EventToolCallDelta, ToolCallIndex: toolIdx, ToolCallArgs: string(args),
			}) {
				return
			}
			toolIdx++
		}
	}

	usage := gr.UsageMetadata
	total := usage.TotalTokenCount
	if total == 0 {
		total = usage.PromptTokenCount + usage.CandidatesTokenCount + usage.ThoughtsTokenCount
	}
	if total > 0 {
		if !trySend(ctx, ch, StreamEvent{
			Type:         EventUsage,
			InputTokens:  usage.PromptTokenCount,
			OutputTokens: total - usage.PromptTokenCount,
		}) {
			return
		}
	}

	trySend(ctx, ch, StreamEvent{Type: EventDone})
}

// ListModels returns the statically known Gemini model roster; the public
// API's ListModels endpoint requires a separate quota class this provider
// doesn't assume access to.
func (p *GeminiProvider) ListModels(ctx context.Context) ([]Model, error) {
	return []Model{
		{Name: "gemini-3-pro"},
		{Name: "gemini-3-flash"},
	}, nil
}

// Close releases the HTTP client's idle keep-alive connections.
func (p *GeminiProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

// GeminiFactory constructs GeminiProvider instances for the registry.
type GeminiFactory struct {
	name    string
	apiKey  string
	baseURL string
}

func NewGeminiFactory(name, apiKey, baseURL string) *GeminiFactory {
	return &GeminiFactory{name: name, apiKey: apiKey, baseURL: baseURL}
}

func (f *GeminiFactory) Name() string { return f.name }

func (f *GeminiFactory) Create(model string, opts Options) Provider {
	log.Debug().Str("factory", f.name).Str("model", model).Msg("GeminiFactory.Create")
	return NewGemini(f.name, f.apiKey, f.baseURL, model, opts)
}
