package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAssistant emulates the provider endpoints Generate walks through.
type stubAssistant struct {
	runStatus string
	reply     string

	gotAuth   string
	gotPrompt string
}

func (s *stubAssistant) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		s.gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
	})

	mux.HandleFunc("POST /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.gotPrompt = body.Content
		json.NewEncoder(w).Encode(map[string]string{"id": "msg_1"})
	})

	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": "queued"})
	})

	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": s.runStatus})
	})

	mux.HandleFunc("GET /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"role": "assistant",
					"content": []map[string]interface{}{
						{"type": "text", "text": map[string]string{"value": s.reply}},
					},
				},
				{
					"role": "user",
					"content": []map[string]interface{}{
						{"type": "text", "text": map[string]string{"value": "ignored"}},
					},
				},
			},
		})
	})

	return mux
}

func TestGenerate(t *testing.T) {
	stub := &stubAssistant{runStatus: "completed", reply: "Article 12 requires annual reporting."}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := New(srv.Client(), srv.URL, "sk-test", "asst_test")
	reply, err := client.Generate(context.Background(), "What does article 12 require?")
	require.NoError(t, err)
	assert.Equal(t, "Article 12 requires annual reporting.", reply)
	assert.Equal(t, "Bearer sk-test", stub.gotAuth)
	assert.Equal(t, "What does article 12 require?", stub.gotPrompt)
}

func TestGenerateRunFailed(t *testing.T) {
	stub := &stubAssistant{runStatus: "failed"}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := New(srv.Client(), srv.URL, "sk-test", "asst_test")
	_, err := client.Generate(context.Background(), "hello")
	require.ErrorIs(t, err, ErrRunFailed)
}

func TestGenerateEmptyPrompt(t *testing.T) {
	client := New(nil, "http://unused", "sk-test", "asst_test")
	_, err := client.Generate(context.Background(), "")
	require.Error(t, err)
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(srv.Client(), srv.URL, "sk-test", "asst_test")
	_, err := client.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "create thread"))
}
