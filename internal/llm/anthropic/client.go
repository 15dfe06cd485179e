package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ashureev/scenario-coach/internal/domain"
	"github.com/ashureev/scenario-coach/internal/llm"
)

// Interface compliance check.
var _ llm.Provider = (*Client)(nil)

// Client implements llm.Provider for the Anthropic Messages API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API base URL. Useful for testing with httptest.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client with the given API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete sends a Messages API request and decodes the reply.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	return convertResponse(apiResp)
}

func buildRequest(req llm.Request) apiRequest {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return apiRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    convertTurns(req.Turns),
		Tools:       convertTools(req.Tools),
		Temperature: req.Temperature,
	}
}

func convertTurns(turns []domain.Turn) []apiMessage {
	var result []apiMessage
	for _, t := range turns {
		blocks := convertSegments(t.Segments)
		if len(blocks) == 0 {
			continue
		}
		role := t.Speaker.Role()
		// Merge consecutive same-role turns so roles alternate on the wire.
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, blocks...)
			continue
		}
		result = append(result, apiMessage{Role: role, Content: blocks})
	}
	return result
}

func convertSegments(segments []domain.Segment) []apiContentBlock {
	blocks := make([]apiContentBlock, 0, len(segments))
	for _, s := range segments {
		switch seg := s.(type) {
		case domain.TextSegment:
			if seg.Text == "" {
				continue
			}
			blocks = append(blocks, apiContentBlock{Type: "text", Text: seg.Text})
		case domain.ToolUseSegment:
			input := seg.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, apiContentBlock{Type: "tool_use", ID: seg.ID, Name: seg.Name, Input: input})
		case domain.ToolResultSegment:
			blocks = append(blocks, apiContentBlock{
				Type:      "tool_result",
				ToolUseID: seg.ToolUseID,
				Content:   seg.Content,
				IsError:   seg.IsError,
			})
		}
	}
	return blocks
}

func convertTools(tools []llm.Tool) []apiTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]apiTool, len(tools))
	for i, t := range tools {
		result[i] = apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return result
}

func convertResponse(resp apiResponse) (*llm.Reply, error) {
	reply := &llm.Reply{
		ID:         resp.ID,
		Model:      resp.Model,
		StopReason: resp.StopReason,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			reply.Segments = append(reply.Segments, domain.TextSegment{Text: b.Text})
		case "tool_use":
			if b.ID == "" {
				return nil, fmt.Errorf("anthropic: tool_use block %q without id", b.Name)
			}
			reply.Segments = append(reply.Segments, domain.ToolUseSegment{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return reply, nil
}

func parseHTTPError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &llm.APIError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read body: %v", err),
		}
	}
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error.Type == "" {
		return &llm.APIError{Provider: providerName, StatusCode: resp.StatusCode, Message: string(body)}
	}
	return &llm.APIError{
		Provider:   providerName,
		StatusCode: resp.StatusCode,
		Type:       apiErr.Error.Type,
		Message:    apiErr.Error.Message,
	}
}
