package claude

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docmeta/internal/config"
	"docmeta/internal/parser"
	"docmeta/internal/port"
	"docmeta/internal/resilience"
)

const (
	apiURL       = "https://api.anthropic.com/v1/messages"
	apiVersion   = "2023-06-01"
	providerName = "claude"
)

func init() {
	parser.RegisterProvider(providerName, func(cfg *config.ParserProviderConfig) (port.DocumentExtractor, error) {
		return NewClient(cfg), nil
	})
}

// Client implements port.DocumentExtractor using the Anthropic Messages API.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewClient creates a Claude-based extractor from a provider config.
func NewClient(cfg *config.ParserProviderConfig) *Client {
	return newClient(cfg, apiURL)
}

// NewClientWithEndpoint creates a client pointing at a custom API endpoint (for testing).
func NewClientWithEndpoint(cfg *config.ParserProviderConfig, endpoint string) *Client {
	return newClient(cfg, endpoint)
}

func newClient(cfg *config.ParserProviderConfig, endpoint string) *Client {
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:   cfg.APIKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) Categorize(ctx context.Context, input port.CategorizeInput) (*port.CategorizeOutput, error) {
	model := c.modelFor(input.Model)
	text, err := c.complete(ctx, model, input.FileBytes, input.ContentType, parser.BuildCategorizePrompt(input.Categories), 1024)
	if err != nil {
		return nil, err
	}
	return parser.ParseCategorizeText(providerName, text, model, input.Categories)
}

func (c *Client) Extract(ctx context.Context, input port.ExtractInput) (*port.ExtractOutput, error) {
	model := c.modelFor(input.Model)
	prompt := parser.BuildExtractPrompt(input.DocumentType, input.Fields)
	text, err := c.complete(ctx, model, input.FileBytes, input.ContentType, prompt, 8192)
	if err != nil {
		return nil, err
	}
	fields, err := parser.ParseExtractText(providerName, text)
	if err != nil {
		return nil, err
	}
	return &port.ExtractOutput{Fields: fields, ModelUsed: model, PromptUsed: prompt}, nil
}

func (c *Client) modelFor(override string) string {
	if override != "" {
		return override
	}
	return c.model
}

func (c *Client) complete(ctx context.Context, model string, file []byte, contentType, prompt string, maxTokens int) (string, error) {
	contentBlocks, err := buildContentBlocks(file, contentType, prompt)
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("building content blocks: %w", err))
	}

	reqBody := map[string]interface{}{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": contentBlocks,
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling anthropic API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if err := parser.CheckResponse(providerName, resp, respBody); err != nil {
		return "", err
	}
	return parseResponse(respBody)
}

func buildContentBlocks(file []byte, contentType, prompt string) ([]map[string]interface{}, error) {
	var blocks []map[string]interface{}

	switch contentType {
	case "application/pdf":
		blocks = append(blocks, map[string]interface{}{
			"type": "document",
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": "application/pdf",
				"data":       base64.StdEncoding.EncodeToString(file),
			},
		})
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		blocks = append(blocks, map[string]interface{}{
			"type": "image",
			"source": map[string]interface{}{
				"type":       "base64",
				"media_type": contentType,
				"data":       base64.StdEncoding.EncodeToString(file),
			},
		})
	case "text/plain", "text/csv", "text/markdown", "application/json":
		blocks = append(blocks, map[string]interface{}{
			"type": "text",
			"text": "Document content:\n\n" + string(file),
		})
	default:
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "text",
		"text": prompt,
	})

	return blocks, nil
}

// apiResponse models the Anthropic Messages API response.
type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func parseResponse(body []byte) (string, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &parser.MalformedError{Provider: providerName, Err: fmt.Errorf("unmarshaling response: %w", err)}
	}
	if len(resp.Content) == 0 {
		return "", &parser.MalformedError{Provider: providerName, Err: fmt.Errorf("empty response from API")}
	}
	if resp.StopReason == "max_tokens" {
		return "", &parser.MalformedError{Provider: providerName, Err: fmt.Errorf("output truncated (stop_reason: max_tokens)")}
	}
	return resp.Content[0].Text, nil
}
