// Package gemini implements llm.Provider for the Google Gemini API.
//
// It wraps the google.golang.org/genai SDK and translates transcript turns to
// genai contents and back.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/scenario-coach/internal/domain"
	"github.com/ashureev/scenario-coach/internal/llm"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

const (
	// DefaultModel is used when neither the request nor the client name a model.
	DefaultModel     = "gemini-2.5-flash"
	defaultMaxTokens = 1024
	providerName     = "gemini"
)

// Interface compliance check.
var _ llm.Provider = (*Client)(nil)

// Client implements llm.Provider for Gemini.
type Client struct {
	client *genai.Client
	model  string
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model used when a request carries none.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// New creates a Gemini Client with the given API key.
func New(ctx context.Context, apiKey string, httpClient *http.Client, opts ...Option) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	c := &Client{client: gc, model: DefaultModel}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Complete sends one GenerateContent call.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, ConvertTurns(req.Turns), BuildConfig(req))
	if err != nil {
		return nil, wrapError(err)
	}
	return ReplyFromResponse(resp)
}

// BuildConfig maps request parameters onto a genai config.
func BuildConfig(req llm.Request) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools:           ConvertTools(req.Tools),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}
	return config
}

// ConvertTurns converts transcript turns to genai contents. Consecutive
// turns with the same role are folded together.
func ConvertTurns(turns []domain.Turn) []*genai.Content {
	var result []*genai.Content
	for _, t := range turns {
		parts := convertParts(t.Segments)
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if t.Speaker == domain.SpeakerPersona {
			role = "model"
		}
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Parts = append(result[n-1].Parts, parts...)
			continue
		}
		result = append(result, &genai.Content{Role: role, Parts: parts})
	}
	return result
}

func convertParts(segments []domain.Segment) []*genai.Part {
	var parts []*genai.Part
	for _, s := range segments {
		switch seg := s.(type) {
		case domain.TextSegment:
			if seg.Text == "" {
				continue
			}
			parts = append(parts, &genai.Part{Text: seg.Text})
		case domain.ToolUseSegment:
			var args map[string]any
			_ = json.Unmarshal(seg.Input, &args)
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: seg.ID, Name: seg.Name, Args: args},
			})
		case domain.ToolResultSegment:
			response := map[string]any{"output": seg.Content}
			if seg.IsError {
				response = map[string]any{"error": seg.Content}
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{ID: seg.ToolUseID, Name: seg.Name, Response: response},
			})
		}
	}
	return parts
}

// ConvertTools converts tool definitions to a single genai tool.
func ConvertTools(tools []llm.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.InputSchema, &schema)
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// ReplyFromResponse converts the first candidate into a reply. Function calls
// without an ID get a generated one so tool results can be correlated.
func ReplyFromResponse(resp *genai.GenerateContentResponse) (*llm.Reply, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, errors.New("gemini: response has no candidates")
	}
	cand := resp.Candidates[0]

	reply := &llm.Reply{
		ID:         resp.ResponseID,
		Model:      resp.ModelVersion,
		StopReason: string(cand.FinishReason),
	}
	if resp.UsageMetadata != nil {
		reply.Usage = llm.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if cand.Content == nil {
		return reply, nil
	}

	for _, p := range cand.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			input, err := json.Marshal(p.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("gemini: encode function args: %w", err)
			}
			id := p.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			reply.Segments = append(reply.Segments, domain.ToolUseSegment{ID: id, Name: p.FunctionCall.Name, Input: input})
		case p.Text != "":
			reply.Segments = append(reply.Segments, domain.TextSegment{Text: p.Text})
		}
	}
	return reply, nil
}

func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: providerName, StatusCode: apiErr.Code, Type: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &llm.APIError{Provider: providerName, StatusCode: apiErrPtr.Code, Type: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini: %w", err)
}
