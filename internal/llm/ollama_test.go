package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	ollama "github.com/ollama/ollama/api"
)

type fakeOllama struct {
	chunks []string
	err    error
	req    *ollama.GenerateRequest
}

func (f *fakeOllama) Generate(_ context.Context, req *ollama.GenerateRequest, fn ollama.GenerateResponseFunc) error {
	f.req = req
	for _, c := range f.chunks {
		if err := fn(ollama.GenerateResponse{Response: c}); err != nil {
			return err
		}
	}
	return f.err
}

func TestOllamaBackendConcatenatesChunks(t *testing.T) {
	fake := &fakeOllama{chunks: []string{"说明", "书"}}
	b := &OllamaBackend{client: fake, model: "qwen-test"}

	got, err := b.Complete(context.Background(), "prompt", 128)
	if err != nil || got != "说明书" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if fake.req.Model != "qwen-test" || fake.req.Stream == nil || *fake.req.Stream {
		t.Fatalf("unexpected request: %+v", fake.req)
	}
	if fake.req.Options["num_predict"] != 128 {
		t.Fatalf("num_predict = %v", fake.req.Options["num_predict"])
	}
}

func TestOllamaBackendEmptyAndError(t *testing.T) {
	b := &OllamaBackend{client: &fakeOllama{}, model: "m"}
	if got, err := b.Complete(context.Background(), "prompt", 16); err != nil || got != "" {
		t.Fatalf("expected empty text, got %q %v", got, err)
	}
	want := errors.New("connection refused")
	b = &OllamaBackend{client: &fakeOllama{chunks: []string{"partial"}, err: want}, model: "m"}
	if got, err := b.Complete(context.Background(), "prompt", 16); !errors.Is(err, want) || got != "" {
		t.Fatalf("expected backend error and no text, got %q %v", got, err)
	}
}

func TestOllamaBackendOverHTTP(t *testing.T) {
	t.Setenv("OLLAMA_AUTH", "")
	var seen ollama.GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&seen)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"qwen-test","response":"技术领域","done":true}` + "\n"))
	}))
	defer srv.Close()

	b, err := NewOllamaBackend(srv.URL, "qwen-test")
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	got, err := b.Complete(context.Background(), "写一份专利", 64)
	if err != nil || got != "技术领域" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if seen.Prompt != "写一份专利" || seen.Stream == nil || *seen.Stream {
		t.Fatalf("unexpected request: %+v", seen)
	}
}
