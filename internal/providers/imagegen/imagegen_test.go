package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, generationsPath, r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dall-e-3", req.Model)
		assert.Contains(t, req.Prompt, "a fox")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString([]byte("png-bytes"))}},
		})
	}))
	defer srv.Close()

	gen := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "dall-e-3"}, srv.Client())
	res, err := gen.Generate(context.Background(), Request{Prompt: "a fox", SizeCM: 10})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), res.Image)
	assert.Equal(t, "image/png", res.ContentType)
}

func TestOpenAIGenerateProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"content policy","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	gen := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL}, srv.Client())
	_, err := gen.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGenerationFailed))
	assert.Contains(t, err.Error(), "content policy")
}

func TestStaticGenerateIsDeterministic(t *testing.T) {
	gen := NewStatic()
	a, err := gen.Generate(context.Background(), Request{Prompt: "rose"})
	require.NoError(t, err)
	b, err := gen.Generate(context.Background(), Request{Prompt: "rose"})
	require.NoError(t, err)
	assert.Equal(t, a.Image, b.Image)
	assert.Less(t, len(a.Preview), len(a.Image))

	_, err = gen.Generate(context.Background(), Request{Prompt: " "})
	assert.True(t, errors.Is(err, ErrGenerationFailed))
}
