package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-control-plane/backend/pkg/apperr"
	"github.com/medical-control-plane/backend/pkg/retry"
)

// embeddingServer answers each input with a one-dimensional vector holding
// the input's length, returning the data in reverse order.
func embeddingServer(t *testing.T, calls *int32, maxBatch *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		atomic.AddInt32(calls, 1)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if int32(len(req.Input)) > atomic.LoadInt32(maxBatch) {
			atomic.StoreInt32(maxBatch, int32(len(req.Input)))
		}

		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(req.Input[i]))},
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
}

func noRetry() retry.Config {
	return retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond}
}

func TestEmbedBatchPreservesOrderAcrossBatches(t *testing.T) {
	var calls, maxBatch int32
	server := embeddingServer(t, &calls, &maxBatch)
	defer server.Close()

	p := NewProvider(Config{
		APIKey:     "sk-test",
		BaseURL:    server.URL + "/v1",
		Model:      "text-embedding-3-small",
		BatchSize:  2,
		BatchDelay: time.Millisecond,
		Retry:      noRetry(),
	})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	out, err := p.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))

	for i, text := range texts {
		assert.Equal(t, float32(len(text)), out[i][0])
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxBatch))
}

func TestEmbedSingle(t *testing.T) {
	var calls, maxBatch int32
	server := embeddingServer(t, &calls, &maxBatch)
	defer server.Close()

	p := NewProvider(Config{APIKey: "sk-test", BaseURL: server.URL + "/v1", Model: "m", Retry: noRetry()})

	emb, err := p.Embed(context.Background(), "chest")
	require.NoError(t, err)
	assert.Equal(t, []float32{5}, emb)
}

func TestEmbedWithoutKeyIsNotConfigured(t *testing.T) {
	p := NewProvider(Config{Model: "m"})
	assert.False(t, p.Configured())

	_, err := p.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.NotConfigured))

	_, err = p.EmbedBatch(context.Background(), []string{"x", "y"})
	assert.Equal(t, apperr.KindNotConfigured, apperr.KindOf(err))
}

func TestEmbedServerErrorIsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewProvider(Config{APIKey: "sk-test", BaseURL: server.URL + "/v1", Model: "m", Retry: noRetry()})

	_, err := p.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamFailure, apperr.KindOf(err))
}

func TestEmbedClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"input too long","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	p := NewProvider(Config{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1",
		Model:   "m",
		Retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
	})

	_, err := p.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamFailure, apperr.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
