package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirikou/kirikou/internal/agent"
	"github.com/kirikou/kirikou/internal/inference"
	"github.com/kirikou/kirikou/internal/models"
	"github.com/kirikou/kirikou/internal/ratelimit"
)

type modelTurn struct {
	tokens    []string
	toolCalls []models.ToolCall
	err       error
}

// fakeModel replays canned turns and records the messages it was sent
type fakeModel struct {
	mu       sync.Mutex
	turns    []modelTurn
	requests [][]models.Message
}

func (m *fakeModel) Name() string { return "ChatOpenAI" }

func (m *fakeModel) StreamChat(ctx context.Context, req *inference.ChatRequest, onToken inference.TokenFunc) (*inference.ChatResult, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, append([]models.Message(nil), req.Messages...))
	m.mu.Unlock()

	if idx >= len(m.turns) {
		return nil, fmt.Errorf("unexpected model call %d", idx+1)
	}
	turn := m.turns[idx]

	result := &inference.ChatResult{ToolCalls: turn.toolCalls}
	for _, tok := range turn.tokens {
		if err := onToken(tok); err != nil {
			return nil, err
		}
		result.Content += tok
	}
	if turn.err != nil {
		return nil, turn.err
	}
	return result, nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *fakeModel) request(i int) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

type fixedRetriever struct{ docs []*models.Document }

func (r fixedRetriever) Retrieve(ctx context.Context, query string) ([]*models.Document, error) {
	return r.docs, nil
}

type failingLimiter struct{}

func (failingLimiter) Limit(ctx context.Context, identity string) (*ratelimit.Result, error) {
	return nil, errors.New("redis: connection refused")
}

func generousLimiter() ratelimit.Limiter {
	return ratelimit.NewLocalLimiter(&ratelimit.Config{Limit: 100, Window: 10 * time.Second})
}

func newTestServer(t *testing.T, model *fakeModel, limiter ratelimit.Limiter, config *Config) *httptest.Server {
	t.Helper()
	retriever := fixedRetriever{docs: []*models.Document{
		{Content: "Fees are paid per semester.", Metadata: map[string]interface{}{"url": "https://idl.knust.edu.gh/fees", "title": "Fees"}},
	}}
	exec := agent.NewExecutor(model, []agent.Tool{agent.NewRetrieverTool(retriever)}, nil, nil)
	if config == nil {
		config = DefaultConfig()
	}
	ts := httptest.NewServer(NewServer(config, exec, limiter).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(url+"/api/chat", "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func userMessage(content string) ChatRequest {
	return ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: content}}}
}

func TestChatStreamsAnswerTokens(t *testing.T) {
	model := &fakeModel{turns: []modelTurn{
		{toolCalls: []models.ToolCall{{ID: "call_1", Name: agent.RetrieverToolName, Arguments: map[string]interface{}{"query": "fees"}}}},
		{tokens: []string{"Dear", " student,", " fees are paid per semester."}},
	}}
	ts := newTestServer(t, model, generousLimiter(), nil)

	resp := postChat(t, ts.URL, ChatRequest{Messages: []models.Message{
		{Role: models.RoleUser, Content: "Hi"},
		{Role: models.RoleAssistant, Content: "Hello, how can I help?"},
		{Role: models.RoleSystem, Content: "display only"},
		{Role: models.RoleUser, Content: "How are fees paid?"},
	}})

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "Dear student, fees are paid per semester.", string(body))

	require.Equal(t, 2, model.calls())
	first := model.request(0)
	require.Len(t, first, 4)
	assert.Equal(t, models.RoleSystem, first[0].Role)
	assert.Equal(t, "Hi", first[1].Content)
	assert.Equal(t, "Hello, how can I help?", first[2].Content)
	assert.Equal(t, "How are fees paid?", first[3].Content)
}

func TestChatGuruRouteIsAnAlias(t *testing.T) {
	model := &fakeModel{turns: []modelTurn{{tokens: []string{"Akwaaba"}}}}
	ts := newTestServer(t, model, generousLimiter(), nil)

	resp, err := http.Post(ts.URL+"/api/guru", "application/json", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Akwaaba", string(body))
}

func TestChatThrottledSkipsModel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	now := time.UnixMilli(1_700_000_000_000)
	limiter := ratelimit.NewRedisLimiter(client, ratelimit.DefaultConfig()).WithClock(func() time.Time { return now })

	model := &fakeModel{turns: []modelTurn{{tokens: []string{"first answer"}}}}
	ts := newTestServer(t, model, limiter, nil)

	first := postChat(t, ts.URL, userMessage("hello"))
	body, err := io.ReadAll(first.Body)
	require.NoError(t, err)
	assert.Equal(t, "first answer", string(body))

	second := postChat(t, ts.URL, userMessage("hello again"))
	body, err = io.ReadAll(second.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, ratelimit.ThrottledMessage, string(body))
	assert.Equal(t, "0", second.Header.Get("X-RateLimit-Remaining"))

	assert.Equal(t, 1, model.calls())
}

func TestChatStructuredMode(t *testing.T) {
	newModel := func() *fakeModel {
		return &fakeModel{turns: []modelTurn{
			{toolCalls: []models.ToolCall{{ID: "call_1", Name: agent.RetrieverToolName, Arguments: map[string]interface{}{"query": "fees"}}}},
			{tokens: []string{"Fees are paid per semester."}},
		}}
	}

	check := func(t *testing.T, resp *http.Response) {
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var out StructuredResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.True(t, out.NoStreamingResponse)
		assert.Equal(t, "Fees are paid per semester.", out.Output)
		assert.Equal(t, []string{"https://idl.knust.edu.gh/fees"}, out.Sources)
	}

	t.Run("request field", func(t *testing.T) {
		ts := newTestServer(t, newModel(), generousLimiter(), nil)
		req := userMessage("How are fees paid?")
		req.ReturnIntermediateSteps = true
		check(t, postChat(t, ts.URL, req))
	})

	t.Run("server flag", func(t *testing.T) {
		config := DefaultConfig()
		config.ReturnIntermediateSteps = true
		ts := newTestServer(t, newModel(), generousLimiter(), config)
		check(t, postChat(t, ts.URL, userMessage("How are fees paid?")))
	})
}

func TestChatStructuredWithoutToolCallFails(t *testing.T) {
	model := &fakeModel{turns: []modelTurn{{tokens: []string{"Hello!"}}}}
	ts := newTestServer(t, model, generousLimiter(), nil)

	req := userMessage("hi")
	req.ReturnIntermediateSteps = true
	resp := postChat(t, ts.URL, req)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, agent.ErrNoIntermediateSteps.Error(), out["error"])
}

func TestChatErrorBeforeFirstToken(t *testing.T) {
	model := &fakeModel{turns: []modelTurn{{err: errors.New("upstream unavailable")}}}
	ts := newTestServer(t, model, generousLimiter(), nil)

	resp := postChat(t, ts.URL, userMessage("hello"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out["error"], "upstream unavailable")
}

func TestChatErrorMidStreamAbortsConnection(t *testing.T) {
	model := &fakeModel{turns: []modelTurn{{tokens: []string{"Dear", " student"}, err: errors.New("connection reset")}}}
	ts := newTestServer(t, model, generousLimiter(), nil)

	resp := postChat(t, ts.URL, userMessage("hello"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err)
	assert.True(t, strings.HasPrefix("Dear student", string(body)))
}

func TestChatLimiterFailureIsServerError(t *testing.T) {
	model := &fakeModel{}
	ts := newTestServer(t, model, failingLimiter{}, nil)

	resp := postChat(t, ts.URL, userMessage("hello"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, 0, model.calls())
}

func TestChatRejectsBadInput(t *testing.T) {
	model := &fakeModel{}
	ts := newTestServer(t, model, generousLimiter(), nil)

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{"messages":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	empty := postChat(t, ts.URL, ChatRequest{Messages: []models.Message{{Role: models.RoleSystem, Content: "only a banner"}}})
	assert.Equal(t, http.StatusInternalServerError, empty.StatusCode)

	assert.Equal(t, 0, model.calls())
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &fakeModel{}, generousLimiter(), nil)

	resp, err := http.Get(ts.URL + "/api/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	exec := agent.NewExecutor(&fakeModel{}, nil, nil, nil)

	healthy := httptest.NewRecorder()
	NewServer(nil, exec, generousLimiter()).Handler().ServeHTTP(healthy, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, healthy.Code)
	assert.Contains(t, healthy.Body.String(), `"healthy"`)

	probe := WithHealthCheck(func(ctx context.Context) error { return errors.New("redis down") })
	sick := httptest.NewRecorder()
	NewServer(nil, exec, generousLimiter(), probe).Handler().ServeHTTP(sick, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, sick.Code)
	assert.Contains(t, sick.Body.String(), "redis down")
}

func TestShutdownBeforeListenStops(t *testing.T) {
	exec := agent.NewExecutor(&fakeModel{}, nil, nil, nil)

	for i := 0; i < 3; i++ {
		config := DefaultConfig()
		config.ListenAddr = "127.0.0.1:0"
		srv := NewServer(config, exec, generousLimiter())

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		require.NoError(t, srv.Shutdown(context.Background()))

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("ListenAndServe still running after Shutdown")
		}
	}
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"peer address", false, "192.0.2.10:5123", "", "192.0.2.10"},
		{"forwarded ignored without trust", false, "192.0.2.10:5123", "203.0.113.7", "192.0.2.10"},
		{"first forwarded entry", true, "10.0.0.2:80", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"blank forwarded falls back", true, "10.0.0.2:80", " ,10.0.0.1", "10.0.0.2"},
		{"address without port", false, "198.51.100.4", "", "198.51.100.4"},
		{"unknown peer", false, "", "", ratelimit.DefaultIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{config: &Config{TrustProxy: tt.trustProxy}}
			r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, s.identity(r))
		})
	}
}
