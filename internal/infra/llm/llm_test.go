package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repohawk/scanner/internal/config"
	"github.com/repohawk/scanner/pkg/crypto"
	"github.com/repohawk/scanner/pkg/domain/credential"
	"github.com/repohawk/scanner/pkg/domain/shared"
	"github.com/repohawk/scanner/pkg/logger"
)

func TestClaudeChatToolUse(t *testing.T) {
	var captured claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "Let me look at that file."},
				{"type": "tool_use", "id": "tu_1", "name": "read_file", "input": map[string]string{"path": "main.go"}},
			},
			"model":       "claude-sonnet-4-20250514",
			"stop_reason": "tool_use",
			"usage":       map[string]int{"input_tokens": 100, "output_tokens": 20},
		})
	}))
	defer srv.Close()

	p, err := NewClaudeProvider(ClaudeConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), ChatRequest{
		System: "You triage findings.",
		Messages: []Message{
			{Role: RoleUser, Content: "Triage these findings."},
		},
		Tools: []ToolDefinition{
			{Name: "read_file", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"path":"main.go"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, "Let me look at that file.", resp.Content)

	// request carried system prompt and tool definitions
	assert.Equal(t, "You triage findings.", captured.System)
	require.Len(t, captured.Tools, 1)
	assert.Equal(t, "read_file", captured.Tools[0].Name)
}

func TestClaudeJSONModePrefill(t *testing.T) {
	var captured claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		// the completion continues from the prefilled opener
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": `{"title":"sqli"}]`}},
			"model":       "claude-sonnet-4-20250514",
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
	}))
	defer srv.Close()

	p, err := NewClaudeProvider(ClaudeConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "emit the findings"}},
		JSONMode: true,
	})
	require.NoError(t, err)

	// the request ends with an assistant turn holding only the array opener
	require.Len(t, captured.Messages, 2)
	prefill := captured.Messages[1]
	assert.Equal(t, RoleAssistant, prefill.Role)
	require.Len(t, prefill.Content, 1)
	assert.Equal(t, "[", prefill.Content[0].Text)

	// the opener is restored on the way back out
	assert.Equal(t, `[{"title":"sqli"}]`, resp.Content)
}

func TestClaudeToolResultRoundTrip(t *testing.T) {
	msgs := toClaudeMessages([]Message{
		{Role: RoleAssistant, Content: "checking", ToolCalls: []ToolCall{
			{ID: "tu_1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)},
		}},
		{Role: RoleUser, ToolResults: []ToolResult{
			{CallID: "tu_1", Content: "package main", IsError: false},
		}},
	})

	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].Content, 2)
	assert.Equal(t, "tool_use", msgs[0].Content[1].Type)
	require.Len(t, msgs[1].Content, 1)
	assert.Equal(t, "tool_result", msgs[1].Content[0].Type)
	assert.Equal(t, "tu_1", msgs[1].Content[0].ToolUseID)
}

func TestOpenAIChatFunctionCalling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o",
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role": "assistant",
						"tool_calls": []map[string]any{
							{"id": "call_1", "type": "function", "function": map[string]string{
								"name":      "search_code",
								"arguments": `{"pattern":"exec.Command"}`,
							}},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
			"usage": map[string]int{"prompt_tokens": 50, "completion_tokens": 10},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "go"}},
	})
	require.NoError(t, err)

	// finish_reason tool_calls is normalized to tool_use
	assert.Equal(t, "tool_use", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search_code", resp.ToolCalls[0].Name)
}

func TestDoWithRetryRetriesRateLimit(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, err := doWithRetry(context.Background(), srv.Client(), 2, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, 2, attempts)
}

type staticCredRepo struct {
	cred *credential.Credential
}

func (s *staticCredRepo) Upsert(context.Context, *credential.Credential) error { return nil }

func (s *staticCredRepo) GetByUserAndKind(_ context.Context, _ shared.ID, _ credential.Kind, _ string) (*credential.Credential, error) {
	if s.cred == nil {
		return nil, shared.NewDomainError("NOT_FOUND", "credential not found", shared.ErrNotFound)
	}
	return s.cred, nil
}

func (s *staticCredRepo) Delete(context.Context, shared.ID, credential.Kind, string) error {
	return nil
}

func triageConfig() *config.TriageConfig {
	return &config.TriageConfig{
		Enabled:        true,
		Provider:       "claude",
		MaxIterations:  25,
		RequestTimeout: time.Minute,
	}
}

func TestFactoryForUser(t *testing.T) {
	userID := shared.NewID()
	enc := crypto.NewNoOpEncryptor()

	t.Run("builds provider from stored key", func(t *testing.T) {
		cred, err := credential.New(userID, credential.KindLLMAPIKey, "claude", "sk-ant-test")
		require.NoError(t, err)

		f := NewFactory(triageConfig(), &staticCredRepo{cred: cred}, enc, logger.NewNop())
		p, err := f.ForUser(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "claude", p.Name())
	})

	t.Run("no key means not configured", func(t *testing.T) {
		f := NewFactory(triageConfig(), &staticCredRepo{}, enc, logger.NewNop())
		_, err := f.ForUser(context.Background(), userID)
		assert.ErrorIs(t, err, ErrProviderNotConfigured)
	})

	t.Run("disabled triage means not configured", func(t *testing.T) {
		cfg := triageConfig()
		cfg.Enabled = false
		f := NewFactory(cfg, &staticCredRepo{}, enc, logger.NewNop())
		_, err := f.ForUser(context.Background(), userID)
		assert.ErrorIs(t, err, ErrProviderNotConfigured)
	})

	t.Run("unknown provider is invalid", func(t *testing.T) {
		cfg := triageConfig()
		cfg.Provider = "bard"
		f := NewFactory(cfg, &staticCredRepo{}, enc, logger.NewNop())
		_, err := f.ForUser(context.Background(), userID)
		assert.ErrorIs(t, err, ErrInvalidProvider)
	})
}
