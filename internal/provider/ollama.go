package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const roleSystem = "system"

type OllamaProvider struct {
	name        string
	baseURL     string
	httpClient  *http.Client
	model       string
	temperature float64
}

func NewOllama(endpoint, model string) *OllamaProvider {
	return NewOllamaWithTemp("ollama", endpoint, model, 0.7)
}

func NewOllamaWithTemp(name string, endpoint, model string, temperature float64) *OllamaProvider {
	baseURL := strings.TrimRight(endpoint, "/") + "/v1"

	return &OllamaProvider{
		name:        name,
		baseURL:     baseURL,
		httpClient:  &http.Client{},
		model:       model,
		temperature: temperature,
	}
}

func (p *OllamaProvider) Name() string {
	return p.name
}

func (p *OllamaProvider) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	req := ollamaChatRequest{
		Model:         p.model,
		Messages:      mergeConsecutiveSystemMessages(toOllamaMessages(messages)),
		Tools:         toOllamaTools(tools),
		Temperature:   float32(p.temperature),
		Stream:        true,
		StreamOptions: &chatStreamOptions{IncludeUsage: true},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reader, err := httpDoSSE(ctx, httpRequestConfig{
		client:   p.httpClient,
		url:      p.baseURL + "/chat/completions",
		body:     body,
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

func (p *OllamaProvider) ListModels(ctx context.Context) ([]Model, error) {
	baseURL := strings.TrimRight(p.baseURL, "/v1")
	url := baseURL + "/api/tags"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list models status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var listResp ollamaListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, err
	}

	models := make([]Model, len(listResp.Models))
	for i, m := range listResp.Models {
		models[i] = Model{
			Name:       m.Name,
			Size:       m.Size,
			Digest:     m.Digest,
			ModifiedAt: m.ModifiedAt,
			Format:     m.Details.Format,
			Family:     m.Details.Family,
			ParamSize:  m.Details.ParamSize,
			QuantLevel: m.Details.QuantLevel,
		}
	}
	return models, nil
}

func (p *OllamaProvider) Close() error {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
	}
	return nil
}

type ollamaListResponse struct {
	Models []ollamaModel `json:"models"`
}

type ollamaModel struct {
	Name       string             `json:"name"`
	Size       int64              `json:"size"`
	Digest     string             `json:"digest"`
	ModifiedAt time.Time          `json:"modified_at"`
	Details    ollamaModelDetails `json:"details"`
}

type ollamaModelDetails struct {
	Format     string `json:"format"`
	Family     string `json:"family"`
	ParamSize  string `json:"parameter_size"`
	QuantLevel string `json:"quantization_level"`
}

type ollamaChatRequest struct {
	Model         string             `json:"model"`
	Messages      []ollamaReqMessage `json:"messages"`
	Tools         []ollamaReqTool    `json:"tools,omitempty"`
	Temperature   float32            `json:"temperature,omitempty"`
	Stream        bool               `json:"stream"`
	StreamOptions *chatStreamOptions `json:"stream_options,omitempty"`
}

type ollamaReqMessage struct {
	Role       string              `json:"role"`
	Content    string              `json:"content"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	ToolCalls  []ollamaReqToolCall `json:"tool_calls,omitempty"`
}

type ollamaReqTool struct {
	Type     string            `json:"type"`
	Function ollamaReqFunction `json:"function"`
}

type ollamaReqFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ollamaReqToolCall struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Function ollamaReqFuncCall `json:"function"`
}

type ollamaReqFuncCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func toOllamaMessages(messages []Message) []ollamaReqMessage {
	result := make([]ollamaReqMessage, len(messages))
	for i, m := range messages {
		msg := ollamaReqMessage{
			Role:    m.Role,
			Content: m.Content,
		}

		if m.ToolCallID != "" {
			msg.ToolCallID = m.ToolCallID
		}

		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]ollamaReqToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				msg.ToolCalls[j] = ollamaReqToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ollamaReqFuncCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				}
			}
		}

		result[i] = msg
	}
	return result
}

func toOllamaTools(tools []Tool) []ollamaReqTool {
	emptyParams := json.RawMessage(`{"type":"object","properties":{}}`)
	result := make([]ollamaReqTool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = emptyParams
		}

		result[i] = ollamaReqTool{
			Type: "function",
			Function: ollamaReqFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

func mergeConsecutiveSystemMessages(messages []ollamaReqMessage) []ollamaReqMessage {
	if len(messages) == 0 {
		return messages
	}

	result := make([]ollamaReqMessage, 0, len(messages))
	var systemBuffer strings.Builder
	inSystemRun := false

	for i, msg := range messages {
		if msg.Role == roleSystem {
			if inSystemRun {
				systemBuffer.WriteString("\n\n")
			} else {
				inSystemRun = true
			}
			systemBuffer.WriteString(msg.Content)
		} else {
			if inSystemRun {
				result = append(result, ollamaReqMessage{
					Role:    roleSystem,
					Content: systemBuffer.String(),
				})
				systemBuffer.Reset()
				inSystemRun = false
			}
			result = append(result, msg)
		}

		if i == len(messages)-1 && inSystemRun {
			result = append(result, ollamaReqMessage{
				Role:    roleSystem,
				Content: systemBuffer.String(),
			})
		}
	}

	log.Debug().
		Int("original_count", len(messages)).
		Int("merged_count", len(result)).
		Msg("Merged consecutive system messages")

	return result
}

