package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"teamshots/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("gemini: api key is required")

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a thin REST client for Gemini generateContent, used for both
// image generation and vision judging.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     infra.Logger
}

// InlineImage is an image attached to a request.
type InlineImage struct {
	MimeType string
	Base64   string
	Label    string
}

// ImageRequest asks the model for one edited or generated image.
type ImageRequest struct {
	Prompt            string
	SystemInstruction string
	References        []InlineImage
	AspectRatio       string
}

// TextRequest asks for a text answer, optionally constrained to JSON.
type TextRequest struct {
	Prompt            string
	SystemInstruction string
	Images            []InlineImage
	JSON              bool
	Temperature       float64
}

// Usage is the token accounting Gemini reports per call.
type Usage struct {
	PromptTokens    int
	CandidateTokens int
}

// ImageResponse holds decoded inline images.
type ImageResponse struct {
	Images   [][]byte
	MimeType string
	Text     string
	Usage    Usage
}

// TextResponse holds the concatenated text parts.
type TextResponse struct {
	Text  string
	Usage Usage
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini status %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini status %d: %s", e.StatusCode, e.Message)
}

// BlockedError means the request or its output was withheld by safety filters.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "gemini: content blocked: " + e.Reason
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ResponseMimeType   string             `json:"responseMimeType,omitempty"`
	Temperature        *float64           `json:"temperature,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client. A nil HTTP client gets a default
// with a generous timeout; callers bound each call with their context.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash-image"
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     infra.OrNop(opts.Logger),
	}, nil
}

// Model returns the configured Gemini model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// WithModel returns a copy of the client bound to another model.
func (c *Client) WithModel(model string) *Client {
	clone := *c
	if m := strings.TrimSpace(model); m != "" {
		clone.model = m
	}
	return &clone
}

// GenerateImage sends the prompt and references and returns the inline images.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: buildParts(req.Prompt, req.References)}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}
	if aspect := strings.TrimSpace(req.AspectRatio); aspect != "" {
		payload.GenerationConfig.ImageConfig = &geminiImageConfig{AspectRatio: aspect}
	}
	if sys := strings.TrimSpace(req.SystemInstruction); sys != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, payload, &response); err != nil {
		return nil, err
	}
	out := &ImageResponse{Usage: usageFrom(response)}
	if reason := blockReason(response); reason != "" {
		return out, &BlockedError{Reason: reason}
	}
	var text strings.Builder
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return out, fmt.Errorf("gemini: decode inline data: %w", err)
				}
				out.Images = append(out.Images, data)
				if out.MimeType == "" {
					out.MimeType = part.InlineData.MimeType
				}
				continue
			}
			text.WriteString(part.Text)
		}
	}
	out.Text = strings.TrimSpace(text.String())

	c.logger.Debug().
		Str("model", c.model).
		Int("images", len(out.Images)).
		Int("prompt_tokens", out.Usage.PromptTokens).
		Msg("genai: image response")

	if len(out.Images) == 0 {
		return out, fmt.Errorf("gemini: response contained no image: %s", truncate(out.Text, 200))
	}
	if out.MimeType == "" {
		out.MimeType = "image/png"
	}
	return out, nil
}

// GenerateText sends a text (and optional image) prompt and returns the text answer.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (*TextResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	cfg := &geminiGenerationConfig{}
	if req.JSON {
		cfg.ResponseMimeType = "application/json"
	}
	temperature := req.Temperature
	cfg.Temperature = &temperature
	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: buildParts(req.Prompt, req.Images)}},
		GenerationConfig: cfg,
	}
	if sys := strings.TrimSpace(req.SystemInstruction); sys != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, payload, &response); err != nil {
		return nil, err
	}
	out := &TextResponse{Usage: usageFrom(response)}
	if reason := blockReason(response); reason != "" {
		return out, &BlockedError{Reason: reason}
	}
	var text strings.Builder
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
	}
	out.Text = strings.TrimSpace(text.String())
	if out.Text == "" {
		return out, errors.New("gemini: empty text response")
	}
	return out, nil
}

func (c *Client) invokeGemini(ctx context.Context, payload any, out any) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var decoded geminiErrorResponse
		if err := json.Unmarshal(data, &decoded); err == nil && decoded.Error.Message != "" {
			apiErr.Message = decoded.Error.Message
			apiErr.Status = decoded.Error.Status
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func buildParts(prompt string, images []InlineImage) []geminiPart {
	parts := []geminiPart{{Text: strings.TrimSpace(prompt)}}
	for _, img := range images {
		if img.Base64 == "" {
			continue
		}
		if label := strings.TrimSpace(img.Label); label != "" {
			parts = append(parts, geminiPart{Text: label})
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: img.MimeType, Data: img.Base64}})
	}
	return parts
}

func blockReason(resp geminiGenerateContentResponse) string {
	if r := resp.PromptFeedback.BlockReason; r != "" {
		return r
	}
	for _, candidate := range resp.Candidates {
		switch candidate.FinishReason {
		case "SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII", "RECITATION":
			return candidate.FinishReason
		}
	}
	return ""
}

func usageFrom(resp geminiGenerateContentResponse) Usage {
	return Usage{
		PromptTokens:    resp.UsageMetadata.PromptTokenCount,
		CandidateTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
