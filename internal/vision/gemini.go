// File: internal/vision/gemini.go
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/itslolan/TravelAgent-sub001/internal/captcha"
	"github.com/itslolan/TravelAgent-sub001/internal/config"
)

// GeminiClient implements captcha.VisionModel against the Gemini
// generateContent API using vision input plus function calling.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.VisionConfig
}

// -- Gemini API request/response structures (internal to this package) --

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	InlineData   *geminiInlineData   `json:"inline_data,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"function_declarations"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents         []geminiContent        `json:"contents"`
	Tools            []geminiTool           `json:"tools,omitempty"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient initializes the client.
func NewGeminiClient(cfg config.VisionConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	return &GeminiClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("vision.gemini"),
	}, nil
}

// Model reports the configured model identifier for the mode query.
func (c *GeminiClient) Model() string { return c.config.Model }

// AnalyzeStrategy runs a plan-only turn: no tools are offered, so the model
// can only answer with text.
func (c *GeminiClient) AnalyzeStrategy(ctx context.Context, req captcha.TurnRequest) (string, error) {
	payload := c.buildRequestPayload(req, nil)

	resp, err := c.generate(ctx, payload)
	if err != nil {
		return "", err
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			return part.Text, nil
		}
	}
	return "", fmt.Errorf("gemini returned no strategy text")
}

// NextTurn submits the screenshot plus task and decodes the model's function
// calls into one AgentTurn. A response with no function calls means the model
// considers the challenge resolved.
func (c *GeminiClient) NextTurn(ctx context.Context, req captcha.TurnRequest) (*captcha.AgentTurn, error) {
	payload := c.buildRequestPayload(req, []geminiTool{{FunctionDeclarations: computerUseFunctions}})

	resp, err := c.generate(ctx, payload)
	if err != nil {
		return nil, err
	}

	turn := &captcha.AgentTurn{}
	sawCall := false
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && turn.Message == "" {
			turn.Message = part.Text
		}
		if part.FunctionCall == nil {
			continue
		}
		sawCall = true
		action, err := decodeFunctionCall(part.FunctionCall)
		if err != nil {
			// Drop the bad call; the rest of the turn still runs.
			c.logger.Warn("Dropping malformed function call",
				zap.String("function", part.FunctionCall.Name), zap.Error(err))
			continue
		}
		turn.Actions = append(turn.Actions, action)
	}

	// No function calls at all means the model considers the challenge
	// resolved, or there is nothing left for it to do.
	if !sawCall {
		turn.Complete = true
		if turn.Message == "" {
			turn.Message = "no actions needed"
		}
	}
	return turn, nil
}

// generate sends one generateContent request with retries for transient
// failures. Malformed responses fail permanently: the endpoint must never
// silently return empty.
func (c *GeminiClient) generate(ctx context.Context, payload geminiRequestPayload) (*geminiResponsePayload, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.config.APITimeout
	b.MaxInterval = 10 * time.Second

	var response *geminiResponsePayload

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during vision request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason))
			}
			return fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason)
		}

		c.logger.Info("Vision turn complete",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
		)

		response = &responsePayload
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *GeminiClient) buildRequestPayload(req captcha.TurnRequest, tools []geminiTool) geminiRequestPayload {
	task := req.Task
	if req.CurrentURL != "" {
		task = fmt.Sprintf("%s\n\nCurrent page: %s\nViewport: %dx%d", task, req.CurrentURL, req.Width, req.Height)
	}

	return geminiRequestPayload{
		Contents: []geminiContent{
			{
				Role: "user",
				Parts: []geminiPart{
					{Text: task},
					{InlineData: &geminiInlineData{
						MimeType: "image/png",
						Data:     base64.StdEncoding.EncodeToString(req.Screenshot),
					}},
				},
			},
		},
		Tools: tools,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     float64(c.config.Temperature),
			MaxOutputTokens: c.config.MaxTokens,
		},
	}
}

func (c *GeminiClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Gemini API returned error status", zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err)
	}
}
