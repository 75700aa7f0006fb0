package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirikou/kirikou/internal/models"
)

// fakeOpenAI serves canned SSE chat completion streams and records request bodies
type fakeOpenAI struct {
	mu       sync.Mutex
	bodies   []map[string]interface{}
	chunks   []string
	status   int
	requests int
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests++
	var body map[string]interface{}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)
	f.bodies = append(f.bodies, body)
	status, chunks := f.status, f.chunks
	f.mu.Unlock()

	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func (f *fakeOpenAI) body(i int) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[i]
}

func (f *fakeOpenAI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func contentChunk(text string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":%q},"finish_reason":null}]}`, text)
}

func toolChunk(id, name, args string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":%q,"type":"function","function":{"name":%q,"arguments":%q}}]},"finish_reason":null}]}`, id, name, args)
}

const stopChunk = `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`

func newTestOpenAI(t *testing.T, fake *fakeOpenAI) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.OpenAIKey = "test-key"
	config.OpenAIURL = server.URL + "/v1"
	return NewOpenAIClient(config)
}

func TestOpenAIStreamsTokens(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{contentChunk("Dear"), contentChunk(" student,"), contentChunk(" ..."), stopChunk}}
	client := newTestOpenAI(t, fake)

	var tokens []string
	result, err := client.StreamChat(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}, func(token string) error {
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Dear", " student,", " ..."}, tokens)
	assert.Equal(t, "Dear student, ...", result.Content)
	assert.Empty(t, result.ToolCalls)
	assert.Equal(t, "ChatOpenAI", client.Name())
}

func TestOpenAIAccumulatesToolCalls(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{
		toolChunk("call_1", "search_latest_knowledge", `{"query":`),
		toolChunk("", "", `"fees"}`),
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}}
	client := newTestOpenAI(t, fake)

	result, err := client.StreamChat(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "fees?"}},
		Tools: []ToolSpec{{
			Name:        "search_latest_knowledge",
			Description: "Searches and returns up-to-date general information.",
			Parameters:  map[string]interface{}{"type": "object"},
		}},
	}, nil)
	require.NoError(t, err)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "call_1", result.ToolCalls[0].ID)
	assert.Equal(t, "search_latest_knowledge", result.ToolCalls[0].Name)
	assert.Equal(t, map[string]interface{}{"query": "fees"}, result.ToolCalls[0].Arguments)

	body := fake.body(0)
	assert.Equal(t, "gpt-3.5-turbo-1106", body["model"])
	assert.InDelta(t, 0.2, body["temperature"], 1e-9)
	assert.Equal(t, true, body["stream"])
	tools, ok := body["tools"].([]interface{})
	require.True(t, ok)
	assert.Len(t, tools, 1)
}

func TestOpenAISendsScratchpadMessages(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{contentChunk("ok"), stopChunk}}
	client := newTestOpenAI(t, fake)

	_, err := client.StreamChat(context.Background(), &ChatRequest{Messages: []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "fees?"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "call_1", Name: "search_latest_knowledge", Arguments: map[string]interface{}{"query": "fees"}}}},
		{Role: models.RoleTool, Content: "obs", ToolCallID: "call_1"},
	}}, nil)
	require.NoError(t, err)

	msgs := fake.body(0)["messages"].([]interface{})
	require.Len(t, msgs, 4)

	assistant := msgs[2].(map[string]interface{})
	assert.Equal(t, "assistant", assistant["role"])
	calls := assistant["tool_calls"].([]interface{})
	fn := calls[0].(map[string]interface{})["function"].(map[string]interface{})
	assert.Equal(t, `{"query":"fees"}`, fn["arguments"])

	tool := msgs[3].(map[string]interface{})
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
}

func TestOpenAIErrorIsNotRetried(t *testing.T) {
	fake := &fakeOpenAI{status: http.StatusInternalServerError}
	client := newTestOpenAI(t, fake)

	_, err := client.StreamChat(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, fake.count())
}

func TestOpenAITokenCallbackAborts(t *testing.T) {
	fake := &fakeOpenAI{chunks: []string{contentChunk("a"), contentChunk("b"), stopChunk}}
	client := newTestOpenAI(t, fake)

	calls := 0
	_, err := client.StreamChat(context.Background(), &ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	}, func(string) error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestNewChatModel(t *testing.T) {
	_, err := NewChatModel(&Config{Provider: "openai"})
	assert.Error(t, err)

	model, err := NewChatModel(&Config{Provider: "openai", OpenAIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ChatOpenAI", model.Name())

	model, err = NewChatModel(&Config{Provider: "ollama", Model: "llama3.1"})
	require.NoError(t, err)
	assert.Equal(t, "ChatOllama", model.Name())

	_, err = NewChatModel(&Config{Provider: "bard"})
	assert.Error(t, err)
}
