package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTP adapts a remote completion endpoint (an inference runtime
// speaking the common /v1/completions shape) to the Backend interface.
type HTTP struct {
	id        string
	name      string
	baseURL   string
	apiKey    string
	sizeClass SizeClass
	weights   []string
	preloader Preloader
	client    *http.Client
}

// NewHTTP creates an HTTP backend. preloader may be nil; when set, Load
// pulls the backend's weight URLs through it so the asset cache is warm
// before the runtime initializes.
func NewHTTP(id, name, baseURL, apiKey string, size SizeClass, weights []string, preloader Preloader) *HTTP {
	return &HTTP{
		id:        id,
		name:      name,
		baseURL:   baseURL,
		apiKey:    apiKey,
		sizeClass: size,
		weights:   weights,
		preloader: preloader,
		client:    &http.Client{},
	}
}

func (h *HTTP) ID() string           { return h.id }
func (h *HTTP) Name() string         { return h.name }
func (h *HTTP) SizeClass() SizeClass { return h.sizeClass }

// loadedState is the serialized blob kept in the model cache.
type loadedState struct {
	Loaded    bool      `json:"loaded"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Load warms the asset cache with the backend's weights and verifies the
// runtime answers. The returned state marks the backend loaded for the
// model cache.
func (h *HTTP) Load(ctx context.Context) ([]byte, error) {
	if h.preloader != nil {
		for _, url := range h.weights {
			if err := h.preloader.Preload(ctx, url); err != nil {
				return nil, fmt.Errorf("warm weights: %w", err)
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create load request: %w", err)
	}
	h.authorize(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", h.id, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load %s: runtime answered %d", h.id, resp.StatusCode)
	}

	state, err := json.Marshal(loadedState{Loaded: true, Timestamp: time.Now().UTC(), Version: "1.0"})
	if err != nil {
		return nil, fmt.Errorf("serialize state: %w", err)
	}
	return state, nil
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// Generate posts the question to the runtime and streams the answer
// through onChunk rune by rune.
func (h *HTTP) Generate(ctx context.Context, question string, onChunk func(string)) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       h.id,
		Prompt:      fmt.Sprintf("作为一个专业的金融技术分析师，请回答以下问题：%s\n\n回答：", question),
		MaxTokens:   150,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	h.authorize(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", h.id, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate %s: runtime answered %d", h.id, resp.StatusCode)
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse completion: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Text == "" {
		return "", fmt.Errorf("generate %s: empty completion", h.id)
	}

	text := parsed.Choices[0].Text
	stream(text, onChunk)
	return text, nil
}

func (h *HTTP) authorize(req *http.Request) {
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
}
