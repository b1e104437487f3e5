package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tiny", req.Model)
		assert.False(t, req.Stream)
		assert.Len(t, req.Messages, 1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ollamaChatResp{Message: Message{Role: "assistant", Content: "hi there"}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "tiny")
	out, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "tiny").Chat(context.Background(), nil)
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry("http://ollama:11434")
	p, err := reg.Get(context.Background(), " Ollama ", "")
	require.NoError(t, err)
	assert.Equal(t, "llama3:latest", p.(*OllamaProvider).Model)

	_, err = reg.Get(context.Background(), "openai", "gpt")
	require.Error(t, err)
}
