package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docmeta/internal/config"
	"docmeta/internal/parser"
	"docmeta/internal/port"
	"docmeta/internal/resilience"
)

const (
	apiBaseURL   = "https://generativelanguage.googleapis.com/v1beta/models"
	providerName = "gemini"
)

func init() {
	parser.RegisterProvider(providerName, func(cfg *config.ParserProviderConfig) (port.DocumentExtractor, error) {
		return NewClient(cfg), nil
	})
}

// Client implements port.DocumentExtractor using Google's Gemini API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewClient creates a Gemini-based extractor from a provider config.
func NewClient(cfg *config.ParserProviderConfig) *Client {
	return newClient(cfg, apiBaseURL)
}

// NewClientWithBaseURL creates a client pointing at a custom models URL (for testing).
func NewClientWithBaseURL(cfg *config.ParserProviderConfig, baseURL string) *Client {
	return newClient(cfg, baseURL)
}

func newClient(cfg *config.ParserProviderConfig, baseURL string) *Client {
	model := cfg.DefaultModel
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Categorize(ctx context.Context, input port.CategorizeInput) (*port.CategorizeOutput, error) {
	model := c.modelFor(input.Model)
	text, err := c.generate(ctx, model, input.FileBytes, input.ContentType, parser.BuildCategorizePrompt(input.Categories), 1024)
	if err != nil {
		return nil, err
	}
	return parser.ParseCategorizeText(providerName, text, model, input.Categories)
}

func (c *Client) Extract(ctx context.Context, input port.ExtractInput) (*port.ExtractOutput, error) {
	model := c.modelFor(input.Model)
	prompt := parser.BuildExtractPrompt(input.DocumentType, input.Fields)
	text, err := c.generate(ctx, model, input.FileBytes, input.ContentType, prompt, 16384)
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

func (c *Client) generate(ctx context.Context, model string, file []byte, contentType, prompt string, maxTokens int) (string, error) {
	docPart, err := documentPart(file, contentType)
	if err != nil {
		return "", resilience.Permanent(err)
	}

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role":  "user",
				"parts": []map[string]interface{}{docPart, {"text": prompt}},
			},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"maxOutputTokens":  maxTokens,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling gemini API: %w", err)
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

// documentPart inlines binary documents and passes text documents as text.
func documentPart(file []byte, contentType string) (map[string]interface{}, error) {
	switch contentType {
	case "application/pdf", "image/jpeg", "image/png", "image/webp":
		return map[string]interface{}{
			"inline_data": map[string]interface{}{
				"mime_type": contentType,
				"data":      base64.StdEncoding.EncodeToString(file),
			},
		}, nil
	case "text/plain", "text/csv", "text/markdown", "application/json":
		return map[string]interface{}{"text": "Document content:\n\n" + string(file)}, nil
	default:
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}
}

// apiResponse models the Gemini generateContent response.
type apiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func parseResponse(body []byte) (string, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &parser.MalformedError{Provider: providerName, Err: fmt.Errorf("unmarshaling response: %w", err)}
	}
	if len(resp.Candidates) == 0 {
		return "", &parser.MalformedError{Provider: providerName, Err: fmt.Errorf("empty response from API: no candidates")}
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == "MAX_TOKENS" {
		return "", &parser.MalformedError{Provider: providerName, Err: fmt.Errorf("output truncated (finishReason: MAX_TOKENS)")}
	}
	if len(cand.Content.Parts) == 0 {
		return "", &parser.MalformedError{Provider: providerName, Err: fmt.Errorf("empty response from API: no parts")}
	}
	return cand.Content.Parts[0].Text, nil
}
