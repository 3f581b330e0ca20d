// File: internal/vision/gemini_test.go
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/itslolan/TravelAgent-sub001/internal/captcha"
	"github.com/itslolan/TravelAgent-sub001/internal/config"
)

// -- Test Setup Helpers --

// setupGeminiClient rigs up a GeminiClient pointed at a mock HTTP server.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	logger := zap.New(loggerCore)

	cfg := config.VisionConfig{
		Model:      "gemini-2.0-flash-exp",
		APIKey:     "test-api-key",
		Endpoint:   server.URL,
		APITimeout: 5 * time.Second,
		MaxTokens:  2048,
	}

	client, err := NewGeminiClient(cfg, logger)
	require.NoError(t, err, "NewGeminiClient initialization failed")
	return client, observedLogs
}

func testTurnRequest() captcha.TurnRequest {
	return captcha.TurnRequest{
		Screenshot: []byte("fake-png-bytes"),
		Task:       "Solve the challenge.",
		Width:      1440,
		Height:     900,
		CurrentURL: "https://example.com/flights",
	}
}

// respondWith writes a generateContent response whose single candidate
// carries the given parts.
func respondWith(t *testing.T, w http.ResponseWriter, parts ...map[string]any) {
	t.Helper()
	payload := map[string]any{
		"candidates": []any{
			map[string]any{
				"content":      map[string]any{"role": "model", "parts": parts},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]any{"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}

func textPart(text string) map[string]any {
	return map[string]any{"text": text}
}

func callPart(name string, args map[string]any) map[string]any {
	return map[string]any{"functionCall": map[string]any{"name": name, "args": args}}
}

// -- Constructor --

func TestNewGeminiClient_RequiresAPIKey(t *testing.T) {
	_, err := NewGeminiClient(config.VisionConfig{Model: "gemini-2.0-flash-exp"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestNewGeminiClient_DefaultEndpointFromModel(t *testing.T) {
	client, err := NewGeminiClient(config.VisionConfig{Model: "gemini-2.0-flash-exp", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	assert.Contains(t, client.endpoint, "models/gemini-2.0-flash-exp:generateContent")
}

// -- NextTurn --

func TestNextTurn_DecodesFunctionCalls(t *testing.T) {
	var captured geminiRequestPayload
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		respondWith(t, w,
			textPart("Clicking the checkbox."),
			callPart("click_at", map[string]any{"x": 500, "y": 500}),
			callPart("type_text_at", map[string]any{"x": 120, "y": 340, "text": "seven", "press_enter": true}),
		)
	})

	turn, err := client.NextTurn(context.Background(), testTurnRequest())
	require.NoError(t, err)

	assert.False(t, turn.Complete)
	assert.Equal(t, "Clicking the checkbox.", turn.Message)
	require.Len(t, turn.Actions, 2)
	assert.Equal(t, captcha.AgentAction{Type: captcha.ActionClickAt, Point: captcha.Point{X: 500, Y: 500}}, turn.Actions[0])
	assert.Equal(t, captcha.AgentAction{
		Type:       captcha.ActionTypeTextAt,
		Point:      captcha.Point{X: 120, Y: 340},
		Text:       "seven",
		PressEnter: true,
	}, turn.Actions[1])

	// The request must carry the screenshot inline and offer the tool surface.
	require.Len(t, captured.Contents, 1)
	require.Len(t, captured.Contents[0].Parts, 2)
	assert.Contains(t, captured.Contents[0].Parts[0].Text, "Solve the challenge.")
	assert.Contains(t, captured.Contents[0].Parts[0].Text, "https://example.com/flights")
	require.NotNil(t, captured.Contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/png", captured.Contents[0].Parts[1].InlineData.MimeType)
	require.Len(t, captured.Tools, 1)
	assert.Len(t, captured.Tools[0].FunctionDeclarations, len(computerUseFunctions))
}

func TestNextTurn_NoFunctionCallsMeansComplete(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		respondWith(t, w, textPart("The challenge is already solved."))
	})

	turn, err := client.NextTurn(context.Background(), testTurnRequest())
	require.NoError(t, err)
	assert.True(t, turn.Complete)
	assert.Empty(t, turn.Actions)
	assert.Equal(t, "The challenge is already solved.", turn.Message)
}

func TestNextTurn_DragBackfillsDestinationY(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		respondWith(t, w,
			callPart("drag_and_drop", map[string]any{"x": 100, "y": 480, "destination_x": 850}),
		)
	})

	turn, err := client.NextTurn(context.Background(), testTurnRequest())
	require.NoError(t, err)
	require.Len(t, turn.Actions, 1)
	assert.Equal(t, captcha.AgentAction{
		Type:  captcha.ActionDragAndDrop,
		Point: captcha.Point{X: 100, Y: 480},
		Dest:  captcha.Point{X: 850, Y: 480},
	}, turn.Actions[0])
}

func TestNextTurn_DropsMalformedCallKeepsRest(t *testing.T) {
	client, logs := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		respondWith(t, w,
			callPart("click_at", map[string]any{"x": 10}), // missing y
			callPart("wait_5_seconds", nil),
		)
	})

	turn, err := client.NextTurn(context.Background(), testTurnRequest())
	require.NoError(t, err)
	assert.False(t, turn.Complete, "a turn that attempted calls is not complete")
	require.Len(t, turn.Actions, 1)
	assert.Equal(t, captcha.ActionWait, turn.Actions[0].Type)
	assert.Equal(t, 1, logs.FilterMessage("Dropping malformed function call").Len())
}

func TestNextTurn_UnknownFunctionPassesThrough(t *testing.T) {
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		respondWith(t, w, callPart("teleport_mouse", map[string]any{"x": 1, "y": 2}))
	})

	turn, err := client.NextTurn(context.Background(), testTurnRequest())
	require.NoError(t, err)
	require.Len(t, turn.Actions, 1)
	assert.Equal(t, captcha.ActionType("teleport_mouse"), turn.Actions[0].Type)
}

// -- AnalyzeStrategy --

func TestAnalyzeStrategy_ReturnsTextWithoutTools(t *testing.T) {
	var captured geminiRequestPayload
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		respondWith(t, w, textPart("This is a slider puzzle. Drag the piece right."))
	})

	strategy, err := client.AnalyzeStrategy(context.Background(), testTurnRequest())
	require.NoError(t, err)
	assert.Equal(t, "This is a slider puzzle. Drag the piece right.", strategy)
	assert.Empty(t, captured.Tools, "plan-only turns must not offer tools")
}

// -- Retry behavior --

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error": "overloaded"}`)
			return
		}
		respondWith(t, w, textPart("done"))
	})

	turn, err := client.NextTurn(context.Background(), testTurnRequest())
	require.NoError(t, err)
	assert.True(t, turn.Complete)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestGenerate_ClientErrorIsPermanent(t *testing.T) {
	var attempts atomic.Int32
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid request"}`)
	})

	_, err := client.NextTurn(context.Background(), testTurnRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), attempts.Load(), "4xx responses must not be retried")
}

func TestGenerate_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.NextTurn(ctx, testTurnRequest())
	require.Error(t, err)
}
