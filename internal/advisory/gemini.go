package advisory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/"
	DefaultAPIVersion = "v1beta"
	DefaultModel      = "gemini-2.5-flash"
)

type Config struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GeminiClient generates advisories through the Gemini API.
type GeminiClient struct {
	models *genai.Models
	model  string
}

func NewGeminiClient(ctx context.Context, httpClient *http.Client, config Config) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key configured", ErrProviderUnavailable)
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: DefaultAPIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &GeminiClient{models: client.Models, model: model}, nil
}

// GenerateAdvisory sends the fleet context and the task as parts of one
// user turn and returns the text of the first candidate.
func (c *GeminiClient) GenerateAdvisory(ctx context.Context, prompt Prompt) (string, error) {
	var parts []*genai.Part
	if prompt.System != "" {
		parts = append(parts, genai.NewPartFromText(prompt.System))
	}
	parts = append(parts, genai.NewPartFromText(prompt.Task))

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", providerError(err)
	}
	return resp.Text(), nil
}

func providerError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{StatusCode: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	return fmt.Errorf("gemini: %w", err)
}
