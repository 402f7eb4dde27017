package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moltagent/moltagent/pkg/config"
)

// Provider is the single entry point for model inference. Stateless per
// call; transient failures surface as errors for the caller to absorb.
type Provider interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenRouterProvider speaks the OpenRouter chat-completions API.
type OpenRouterProvider struct {
	apiKey     string
	apiBase    string
	model      string
	httpClient *http.Client
}

func NewOpenRouterProvider(cfg config.OpenRouterConfig) (*OpenRouterProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OpenRouter API key is required (set providers.openrouter.api_key or MOLTAGENT_PROVIDERS_OPENROUTER_API_KEY)")
	}

	client := &http.Client{Timeout: 120 * time.Second}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &OpenRouterProvider{
		apiKey:     cfg.APIKey,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		model:      cfg.Model,
		httpClient: client,
	}, nil
}

func (p *OpenRouterProvider) Chat(ctx context.Context, system, user string) (string, error) {
	requestBody := map[string]interface{}{
		"model": p.model,
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("OpenRouter request failed:\n  Status: %d\n  Body:   %s", resp.StatusCode, string(body))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("OpenRouter returned no choices")
	}
	return apiResponse.Choices[0].Message.Content, nil
}
