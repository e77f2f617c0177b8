package llm

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"
)

type OllamaGenerator interface {
	Generate(ctx context.Context, req *ollama.GenerateRequest, fn ollama.GenerateResponseFunc) error
}

type OllamaBackend struct {
	client OllamaGenerator
	model  string
}

// NewOllamaBackend uses OLLAMA_HOST unless baseURL is given.
func NewOllamaBackend(baseURL, model string) (*OllamaBackend, error) {
	if baseURL == "" {
		client, err := ollama.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
		return &OllamaBackend{client: client, model: model}, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &OllamaBackend{client: ollama.NewClient(u, http.DefaultClient), model: model}, nil
}

func (o *OllamaBackend) Name() string { return "ollama" }

func (o *OllamaBackend) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	stream := false
	var sb strings.Builder
	err := o.client.Generate(ctx, &ollama.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: map[string]any{"num_predict": maxTokens},
	}, func(r ollama.GenerateResponse) error {
		sb.WriteString(r.Response)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
